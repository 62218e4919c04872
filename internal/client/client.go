// Package client implements the daemon lifecycle recovery sequence
// (spec.md §4.C): a single entry point that transparently spawns the
// daemon on first use and recovers from a crashed one, grounded on
// cmd/grove/main.go's ensureDaemon/pingDaemon/writeRequest/readResponse
// but generalized to use a lock-serialized recovery path and PID-based
// escalation the teacher lacks.
package client

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ianremillard/cmx/internal/cmxproto"
	"github.com/ianremillard/cmx/internal/frame"
	"github.com/ianremillard/cmx/internal/lock"
)

const (
	recoveryLockDeadline = 10 * time.Second
	terminateWait        = 200 * time.Millisecond
	readyPollInitial     = 25 * time.Millisecond
	readyPollCap         = 200 * time.Millisecond
	readyPollBudget      = 5 * time.Second
)

// Paths gathers the config-directory file locations execute_remote needs.
type Paths struct {
	ConfigDir  string
	SocketPath string
	PidPath    string
	LockPath   string
	LogPath    string
}

// New builds the standard Paths layout rooted at configDir (spec.md §6).
func New(configDir string) Paths {
	return Paths{
		ConfigDir:  configDir,
		SocketPath: configDir + "/cmx.sock",
		PidPath:    configDir + "/cmx.pid",
		LockPath:   configDir + "/cmx.lock",
		LogPath:    configDir + "/daemon.log",
	}
}

// ExecuteRemote sends cmd to the daemon at p, starting or recovering it
// first if necessary.
func ExecuteRemote(p Paths, cmd cmxproto.Command, timeoutMs int64) (cmxproto.Response, error) {
	timeout := time.Duration(timeoutMs) * time.Millisecond

	if resp, err := send(p.SocketPath, cmd, timeout); err == nil {
		return resp, nil
	}

	l, err := lock.Acquire(p.LockPath, recoveryLockDeadline)
	if err != nil {
		return cmxproto.Response{}, fmt.Errorf("acquire recovery lock: %w", err)
	}
	defer l.Release()

	if resp, err := send(p.SocketPath, cmd, timeout); err == nil {
		return resp, nil
	}

	if err := reapStale(p); err != nil {
		return cmxproto.Response{}, err
	}

	if err := spawn(p); err != nil {
		return cmxproto.Response{}, err
	}

	if err := waitForReady(p.SocketPath, readyPollBudget, readyPollInitial, readyPollCap); err != nil {
		return cmxproto.Response{}, err
	}

	resp, err := send(p.SocketPath, cmd, timeout)
	if err != nil {
		return cmxproto.Response{}, fmt.Errorf("Daemon started but command failed: %w", err)
	}
	return resp, nil
}

// send opens the socket, writes one frame, and reads one frame back
// within timeout (spec.md §4.C step 1).
func send(socketPath string, cmd cmxproto.Command, timeout time.Duration) (cmxproto.Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return cmxproto.Response{}, err
	}
	defer conn.Close()

	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
	}

	if err := frame.WriteJSON(conn, cmd); err != nil {
		return cmxproto.Response{}, err
	}

	var resp cmxproto.Response
	if err := frame.ReadJSON(conn, &resp); err != nil {
		if tooLarge, ok := err.(*frame.FrameTooLargeError); ok {
			return cmxproto.Response{}, &frame.ResponseFrameTooLargeError{Size: tooLarge.Size}
		}
		return cmxproto.Response{}, err
	}
	return resp, nil
}

// reapStale reads any PID file, terminates a live process (escalating to
// kill after a short wait), then removes both the PID file and any stale
// socket (spec.md §4.C step 3).
func reapStale(p Paths) error {
	data, err := os.ReadFile(p.PidPath)
	if err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && pid > 0 {
			if proc, ferr := os.FindProcess(pid); ferr == nil {
				if proc.Signal(syscall.Signal(0)) == nil {
					proc.Signal(syscall.SIGTERM)
					time.Sleep(terminateWait)
					if proc.Signal(syscall.Signal(0)) == nil {
						proc.Signal(syscall.SIGKILL)
					}
				}
			}
		}
	}

	os.Remove(p.PidPath)
	os.Remove(p.SocketPath)
	return nil
}

// spawn starts the daemon as a detached child redirecting output to
// daemon.log (spec.md §4.C step 4).
func spawn(p Paths) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve current executable: %w", err)
	}

	logFile, err := os.OpenFile(p.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", p.LogPath, err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, "daemon", "run")
	cmd.Env = append(os.Environ(), "CMX_CONFIG_DIR="+p.ConfigDir)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}
	return nil
}

// waitForReady polls socketPath with exponential backoff (initial, doubling
// up to cap) until a test connect succeeds or budget elapses (spec.md §4.C
// step 5).
func waitForReady(socketPath string, budget, initial, cap time.Duration) error {
	deadline := time.Now().Add(budget)
	backoff := initial

	for {
		conn, err := net.DialTimeout("unix", socketPath, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("daemon socket not ready after %s", budget)
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > cap {
			backoff = cap
		}
	}
}
