package watch

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T) (client, server net.Conn) {
	t.Helper()
	client, server = net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestRegisterThenNotifyAll(t *testing.T) {
	r := New()
	client, server := pipe(t)

	r.Register(server, nil, 10_000)
	assert.Equal(t, 1, r.Count())

	r.RecordChange(100)
	done := make(chan struct{})
	go func() {
		buf := make([]byte, 256)
		client.Read(buf)
		close(done)
	}()

	notified := r.NotifyAll("task.set M1 completed", 100)
	assert.Equal(t, 1, notified)
	assert.Equal(t, 0, r.Count())
	<-done
}

func TestNotifyAllSkipsWatcherAfterChange(t *testing.T) {
	r := New()
	_, server := pipe(t)

	since := int64(500)
	r.Register(server, &since, 10_000)
	r.RecordChange(200)

	notified := r.NotifyAll("noop", 200)
	assert.Equal(t, 0, notified)
	assert.Equal(t, 1, r.Count())
}

func TestNotifyAllNoopWithoutChange(t *testing.T) {
	r := New()
	_, server := pipe(t)
	r.Register(server, nil, 10_000)

	notified := r.NotifyAll("noop", 1)
	assert.Equal(t, 0, notified)
	assert.Equal(t, 1, r.Count())
}

func TestExpireStaleEvictsPastDeadline(t *testing.T) {
	r := New()
	client, server := pipe(t)
	r.Register(server, nil, 1_000)

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 256)
		client.Read(buf)
		close(done)
	}()

	expired := r.ExpireStale(1_000)
	require.Equal(t, 1, expired)
	assert.Equal(t, 0, r.Count())
	<-done
}

func TestExpireStaleLeavesFreshWatchers(t *testing.T) {
	r := New()
	_, server := pipe(t)
	r.Register(server, nil, 5_000)

	expired := r.ExpireStale(1_000)
	assert.Equal(t, 0, expired)
	assert.Equal(t, 1, r.Count())
}
