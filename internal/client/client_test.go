package client

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ianremillard/cmx/internal/cmxproto"
	"github.com/ianremillard/cmx/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPathsLayout(t *testing.T) {
	p := New("/home/u/.config/cmx")
	assert.Equal(t, "/home/u/.config/cmx/cmx.sock", p.SocketPath)
	assert.Equal(t, "/home/u/.config/cmx/cmx.pid", p.PidPath)
	assert.Equal(t, "/home/u/.config/cmx/cmx.lock", p.LockPath)
	assert.Equal(t, "/home/u/.config/cmx/daemon.log", p.LogPath)
}

func serveOnce(t *testing.T, socketPath string, resp cmxproto.Response) {
	t.Helper()
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	go func() {
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var cmd cmxproto.Command
		if frame.ReadJSON(conn, &cmd) != nil {
			return
		}
		frame.WriteJSON(conn, resp)
	}()
}

func TestExecuteRemoteFastPath(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "cmx.sock")
	serveOnce(t, socketPath, cmxproto.Success("fine"))

	p := New(dir)
	p.SocketPath = socketPath

	resp, err := ExecuteRemote(p, cmxproto.Command{Command: cmxproto.CmdStatus}, 1000)
	require.NoError(t, err)
	assert.True(t, resp.IsOk())
	assert.Equal(t, "fine", resp.Ok.Output)
}

func TestWaitForReadySucceedsImmediately(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "cmx.sock")
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	require.NoError(t, waitForReady(socketPath, time.Second, 10*time.Millisecond, 50*time.Millisecond))
}

func TestWaitForReadyTimesOutWithNoSocket(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "cmx.sock")

	err := waitForReady(socketPath, 30*time.Millisecond, 10*time.Millisecond, 20*time.Millisecond)
	assert.Error(t, err)
}

func TestReapStaleRemovesPidAndSocketFiles(t *testing.T) {
	dir := t.TempDir()
	p := New(dir)

	require.NoError(t, os.WriteFile(p.PidPath, []byte("999999999"), 0o644))
	ln, err := net.Listen("unix", p.SocketPath)
	require.NoError(t, err)
	ln.Close()

	require.NoError(t, reapStale(p))

	_, err = os.Stat(p.PidPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(p.SocketPath)
	assert.True(t, os.IsNotExist(err))
}

func TestReapStaleToleratesMissingPidFile(t *testing.T) {
	dir := t.TempDir()
	p := New(dir)
	assert.NoError(t, reapStale(p))
}

func TestSendFailsWithoutListener(t *testing.T) {
	dir := t.TempDir()
	_, err := send(filepath.Join(dir, "missing.sock"), cmxproto.Command{Command: cmxproto.CmdStatus}, 100*time.Millisecond)
	assert.Error(t, err)
}
