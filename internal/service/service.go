// Package service implements the bound-socket listener (spec.md §4.D): a
// non-blocking accept loop with a caller-supplied poll budget, reading one
// command frame per connection and routing it to the watch registry, a
// shutdown signal, or synchronous dispatch through the state core.
package service

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ianremillard/cmx/internal/cmxproto"
	"github.com/ianremillard/cmx/internal/frame"
	"github.com/ianremillard/cmx/internal/watch"
)

// pollInterval is the sleep between non-blocking accept attempts.
const pollInterval = 10 * time.Millisecond

// Handler dispatches a command through the state core and returns its
// response. It must not block for an unbounded amount of time; retries and
// long-running work happen outside the event loop.
type Handler func(cmxproto.Command) cmxproto.Response

// Listener owns the bound Unix socket.
type Listener struct {
	ln *net.UnixListener
}

// Listen binds socketPath, removing any stale socket file first.
func Listen(socketPath string) (*Listener, error) {
	addr, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", socketPath, err)
	}

	if fi, err := os.Lstat(socketPath); err == nil && fi.Mode()&os.ModeSocket != 0 {
		os.Remove(socketPath)
	}

	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	return &Listener{ln: ln}, nil
}

// Close closes the bound socket.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Outcome reports what AcceptOne did with the accepted connection.
type Outcome int

const (
	// NoConnection means the poll budget elapsed with nothing to accept.
	NoConnection Outcome = iota
	// Dispatched means the command was handled and the connection closed.
	Dispatched
	// Watching means the connection was transferred into the watch registry.
	Watching
	// Shutdown means a daemon.stop command was handled and the caller must
	// exit the event loop after this tick.
	Shutdown
)

// AcceptOne accepts at most one connection within budgetMs, sleeping in
// pollInterval increments between attempts. If a connection arrives, it
// reads one command frame and dispatches it per spec.md §4.D.
func (l *Listener) AcceptOne(budgetMs int64, handler Handler, registry *watch.Registry, nowMs int64) (Outcome, error) {
	deadline := time.Now().Add(time.Duration(budgetMs) * time.Millisecond)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return NoConnection, nil
		}

		step := pollInterval
		if remaining < step {
			step = remaining
		}

		if err := l.ln.SetDeadline(time.Now().Add(step)); err != nil {
			return NoConnection, err
		}

		conn, err := l.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return NoConnection, err
		}

		return l.dispatch(conn, handler, registry, nowMs)
	}
}

func (l *Listener) dispatch(conn net.Conn, handler Handler, registry *watch.Registry, nowMs int64) (Outcome, error) {
	var cmd cmxproto.Command
	if err := frame.ReadJSON(conn, &cmd); err != nil {
		frame.WriteJSON(conn, cmxproto.Failure("bad request: "+err.Error()))
		conn.Close()
		return Dispatched, nil
	}

	if cmd.Command == cmxproto.CmdWatch {
		var deadline int64
		if cmd.TimeoutMs != nil {
			deadline = nowMs + *cmd.TimeoutMs
		} else {
			deadline = nowMs
		}
		registry.Register(conn, cmd.SinceMs, deadline)
		return Watching, nil
	}

	resp := handler(cmd)
	frame.WriteJSON(conn, resp)
	conn.Close()

	summary := summarize(cmd)
	registry.RecordChange(nowMs)
	registry.NotifyAll(summary, nowMs)

	if cmd.Command == cmxproto.CmdDaemonStop {
		return Shutdown, nil
	}
	return Dispatched, nil
}

// summarize renders a compact debug string for a command, truncated per
// spec.md §4.D for watcher notification.
func summarize(cmd cmxproto.Command) string {
	s := cmd.Command
	switch cmd.Command {
	case cmxproto.CmdAgentNew:
		s = fmt.Sprintf("%s role=%s impl=%s", s, cmd.Role, cmd.Impl)
	case cmxproto.CmdTaskSet:
		s = fmt.Sprintf("%s task=%s status=%s", s, cmd.TaskID, cmd.Status)
	}
	return cmxproto.TruncateSummary(s)
}
