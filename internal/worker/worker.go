// Package worker implements executor.Backend over real PTY-backed child
// processes: terminal sessions and agent processes the planner's actions
// create, kill, and drive. Adapted from internal/daemon/instance.go's
// startAgent/ptyReader/destroy, repurposed from one attachable instance
// per client connection into a named process table the executor drives
// directly.
package worker

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/ianremillard/cmx/internal/planner"
)

const maxLogBytes = 1 << 20

// AgentCommand resolves the executable and arguments to launch for a role.
type AgentCommand func(role, path string) (name string, args []string)

// Process is one PTY-backed child, keyed by session or agent name.
type Process struct {
	mu      sync.Mutex
	ptm     *os.File
	pid     int
	logBuf  []byte
	exited  bool
	exitErr error
}

// Pool implements executor.Backend by managing named PTY-backed processes.
type Pool struct {
	mu         sync.Mutex
	procs      map[string]*Process
	shell      string
	agentCmd   AgentCommand
	defaultCwd string
}

// NewPool returns an empty backend. shell is the executable used for plain
// sessions (e.g. "/bin/sh"); agentCmd resolves an agent role to a command.
func NewPool(shell string, agentCmd AgentCommand) *Pool {
	return &Pool{
		procs:    make(map[string]*Process),
		shell:    shell,
		agentCmd: agentCmd,
	}
}

// ExecuteAction implements executor.Backend.
func (p *Pool) ExecuteAction(a planner.Action) error {
	switch a.Kind {
	case planner.KindCreateSession:
		return p.spawn(a.Name, p.shell, nil, a.Cwd)
	case planner.KindKillSession, planner.KindKillAgent:
		return p.kill(a.Name)
	case planner.KindCreateAgent:
		name, args := p.agentCmd(a.Role, a.Path)
		return p.spawn(a.Name, name, args, a.Path)
	case planner.KindConnectSsh:
		return fmt.Errorf("connect_ssh is handled by the rig dialer, not the worker pool")
	case planner.KindUpdateAssignment:
		return nil
	case planner.KindSplitPane, planner.KindPlaceAgent:
		return fmt.Errorf("%s requires a terminal multiplexer backend, not implemented here", a.Kind)
	case planner.KindSendKeys:
		return p.sendKeys(a.Target, a.Keys)
	default:
		return fmt.Errorf("unknown action kind: %s", a.Kind)
	}
}

// SessionExists implements executor.Backend.
func (p *Pool) SessionExists(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	proc, ok := p.procs[name]
	if !ok {
		return false
	}
	proc.mu.Lock()
	defer proc.mu.Unlock()
	return !proc.exited
}

// ListSessions implements executor.Backend.
func (p *Pool) ListSessions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.procs))
	for name := range p.procs {
		names = append(names, name)
	}
	return names
}

// CapturePane implements executor.Backend, returning the rolling output
// buffer for the named process.
func (p *Pool) CapturePane(target string) (string, error) {
	p.mu.Lock()
	proc, ok := p.procs[target]
	p.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no such session: %s", target)
	}
	proc.mu.Lock()
	defer proc.mu.Unlock()
	return string(proc.logBuf), nil
}

func (p *Pool) spawn(name, command string, args []string, cwd string) error {
	if command == "" {
		return fmt.Errorf("create %s: empty command", name)
	}

	cmd := exec.Command(command, args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptm, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("pty.Start %s: %w", name, err)
	}

	proc := &Process{ptm: ptm, pid: cmd.Process.Pid}
	p.mu.Lock()
	p.procs[name] = proc
	p.mu.Unlock()

	go p.drain(name, proc, cmd)
	return nil
}

func (p *Pool) drain(name string, proc *Process, cmd *exec.Cmd) {
	buf := make([]byte, 4096)
	for {
		n, err := proc.ptm.Read(buf)
		if n > 0 {
			proc.mu.Lock()
			proc.logBuf = append(proc.logBuf, buf[:n]...)
			if len(proc.logBuf) > maxLogBytes {
				proc.logBuf = proc.logBuf[len(proc.logBuf)-maxLogBytes:]
			}
			proc.mu.Unlock()
		}
		if err != nil {
			break
		}
	}

	waitErr := cmd.Wait()
	proc.mu.Lock()
	proc.ptm.Close()
	proc.exited = true
	proc.exitErr = waitErr
	proc.mu.Unlock()
}

func (p *Pool) kill(name string) error {
	p.mu.Lock()
	proc, ok := p.procs[name]
	delete(p.procs, name)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such session: %s", name)
	}

	proc.mu.Lock()
	pid := proc.pid
	proc.mu.Unlock()

	if pid > 0 {
		if pgid, err := syscall.Getpgid(pid); err == nil && pgid > 0 {
			syscall.Kill(-pgid, syscall.SIGKILL)
		} else {
			syscall.Kill(pid, syscall.SIGKILL)
		}
	}
	return nil
}

func (p *Pool) sendKeys(target, keys string) error {
	p.mu.Lock()
	proc, ok := p.procs[target]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such session: %s", target)
	}
	proc.mu.Lock()
	ptm := proc.ptm
	exited := proc.exited
	proc.mu.Unlock()
	if exited || ptm == nil {
		return fmt.Errorf("session %s is not running", target)
	}
	_, err := ptm.Write([]byte(keys))
	return err
}

// Wait blocks until the named process exits or timeout elapses, returning
// its exit error (nil on clean exit).
func (p *Pool) Wait(name string, timeout time.Duration) (error, bool) {
	p.mu.Lock()
	proc, ok := p.procs[name]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such session: %s", name), true
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		proc.mu.Lock()
		exited := proc.exited
		err := proc.exitErr
		proc.mu.Unlock()
		if exited {
			return err, true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil, false
}
