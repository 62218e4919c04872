// cmx – CLI client and daemon entrypoint for the single-host agent
// orchestrator.
//
// Usage:
//
//	cmx status                          – summary of agents/tasks/projects
//	cmx agent new <role> [--impl x]      – register a new agent
//	cmx agent list                       – list registered agents
//	cmx task list                        – list tasks
//	cmx task set <id> [--status s] [--agent a]
//	cmx project list                     – list registered projects
//	cmx watch [--since ms] [--timeout ms] – long-poll for the next state change
//	cmx help                             – print the command summary
//	cmx daemon run                       – run the daemon in the foreground
//	cmx daemon stop                      – ask a running daemon to exit
//
// cmx starts the daemon automatically if it is not already running; see
// internal/client for the recovery sequence.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ianremillard/cmx/internal/client"
	"github.com/ianremillard/cmx/internal/cmxconfig"
	"github.com/ianremillard/cmx/internal/cmxproto"
	"github.com/ianremillard/cmx/internal/core"
	"github.com/ianremillard/cmx/internal/executor"
	"github.com/ianremillard/cmx/internal/flush"
	"github.com/ianremillard/cmx/internal/history"
	"github.com/ianremillard/cmx/internal/metrics"
	"github.com/ianremillard/cmx/internal/pool"
	"github.com/ianremillard/cmx/internal/retry"
	"github.com/ianremillard/cmx/internal/service"
	"github.com/ianremillard/cmx/internal/worker"
)

const defaultCommandTimeoutMs = 5000

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "status":
		runClientCommand(cmxproto.Command{Command: cmxproto.CmdStatus})
	case "agent":
		cmdAgent()
	case "task":
		cmdTask()
	case "project":
		cmdProject()
	case "watch":
		cmdWatch()
	case "help":
		runClientCommand(cmxproto.Command{Command: cmxproto.CmdHelp})
	case "daemon":
		cmdDaemon()
	default:
		fmt.Fprintf(os.Stderr, "cmx: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `cmx – single-host agent orchestrator

  status                         summary of agents/tasks/projects
  agent new <role> [--impl x]    register a new agent
  agent list                     list registered agents
  task list                      list tasks
  task set <id> [--status s] [--agent a]
  project list                   list registered projects
  watch [--since ms] [--timeout ms]
                                  long-poll for the next state change
  help                           print this summary
  daemon run                     run the daemon in the foreground
  daemon stop                    ask a running daemon to exit`)
}

func configDir() string {
	if env := os.Getenv("CMX_CONFIG_DIR"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cmx: cannot determine home directory: %v\n", err)
		os.Exit(1)
	}
	return filepath.Join(home, ".config", "cmx")
}

func runClientCommand(cmd cmxproto.Command) {
	paths := client.New(configDir())
	resp, err := client.ExecuteRemote(paths, cmd, defaultCommandTimeoutMs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cmx: %v\n", err)
		os.Exit(1)
	}
	if !resp.IsOk() {
		fmt.Fprintf(os.Stderr, "cmx: %s\n", resp.Err.Message)
		os.Exit(1)
	}
	fmt.Println(resp.Ok.Output)
}

func cmdAgent() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "cmx: agent requires a subcommand (new, list)")
		os.Exit(1)
	}
	switch os.Args[2] {
	case "new":
		fs := flag.NewFlagSet("agent new", flag.ExitOnError)
		impl := fs.String("impl", "", "agent implementation tag")
		path := fs.String("path", "", "working directory for the agent")
		fs.Parse(os.Args[3:])
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "cmx: agent new requires a role")
			os.Exit(1)
		}
		runClientCommand(cmxproto.Command{Command: cmxproto.CmdAgentNew, Role: fs.Arg(0), Impl: *impl, Path: *path})
	case "list":
		runClientCommand(cmxproto.Command{Command: cmxproto.CmdAgentList})
	default:
		fmt.Fprintf(os.Stderr, "cmx: unknown agent subcommand %q\n", os.Args[2])
		os.Exit(1)
	}
}

func cmdTask() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "cmx: task requires a subcommand (list, set)")
		os.Exit(1)
	}
	switch os.Args[2] {
	case "list":
		runClientCommand(cmxproto.Command{Command: cmxproto.CmdTaskList})
	case "set":
		fs := flag.NewFlagSet("task set", flag.ExitOnError)
		status := fs.String("status", "", "new task status")
		agent := fs.String("agent", "", "agent to assign")
		fs.Parse(os.Args[3:])
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "cmx: task set requires a task id")
			os.Exit(1)
		}
		runClientCommand(cmxproto.Command{Command: cmxproto.CmdTaskSet, TaskID: fs.Arg(0), Status: *status, Agent: *agent})
	default:
		fmt.Fprintf(os.Stderr, "cmx: unknown task subcommand %q\n", os.Args[2])
		os.Exit(1)
	}
}

func cmdProject() {
	if len(os.Args) < 3 || os.Args[2] != "list" {
		fmt.Fprintln(os.Stderr, "cmx: project requires a subcommand (list)")
		os.Exit(1)
	}
	runClientCommand(cmxproto.Command{Command: cmxproto.CmdProjectList})
}

func cmdWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	since := fs.Int64("since", 0, "only notify on changes after this timestamp (ms)")
	timeout := fs.Int64("timeout", 30000, "how long to wait for a change (ms)")
	fs.Parse(os.Args[2:])

	cmd := cmxproto.Command{Command: cmxproto.CmdWatch, TimeoutMs: timeout}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "since" {
			cmd.SinceMs = since
		}
	})
	runClientCommand(cmd)
}

// cmdDaemon handles "cmx daemon run" and "cmx daemon stop".
func cmdDaemon() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "cmx: daemon requires a subcommand (run, stop)")
		os.Exit(1)
	}
	switch os.Args[2] {
	case "run":
		runDaemon()
	case "stop":
		runClientCommand(cmxproto.Command{Command: cmxproto.CmdDaemonStop})
	default:
		fmt.Fprintf(os.Stderr, "cmx: unknown daemon subcommand %q\n", os.Args[2])
		os.Exit(1)
	}
}

func runDaemon() {
	dir := configDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "cmx: create config dir: %v\n", err)
		os.Exit(1)
	}

	settings, err := cmxconfig.Load(filepath.Join(dir, "settings.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "cmx: load settings: %v\n", err)
		os.Exit(1)
	}

	paths := client.New(dir)
	ln, err := service.Listen(paths.SocketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cmx: bind socket: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(paths.PidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "cmx: write pid file: %v\n", err)
		os.Exit(1)
	}

	state := core.NewState(func(level, message string) {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", level, message)
	})
	for role, p := range settings.Pools {
		state.Pools.SetPool(role, poolConfigFrom(p))
	}
	state.Projects = settings.Projects
	state.WithPersistence(filepath.Join(dir, "agents"))

	backend := worker.NewPool(settings.Shell, func(role, path string) (string, []string) {
		p := settings.Pools[role]
		return p.Command, p.Args
	})
	exec := executor.New(retry.NewPolicy(5, retry.BackoffExponential, 200))

	if settings.MetricsAddr != "" {
		go func() {
			srv := &http.Server{Addr: settings.MetricsAddr, Handler: metrics.Handler()}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "cmx: metrics server: %v\n", err)
			}
		}()
	}

	loop := core.NewLoop(ln, state, 100, func() int64 { return time.Now().UnixMilli() }).
		WithReconcile(exec, backend, 10)

	historyMgr, err := history.NewManagerWithDefaults(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cmx: history manager: %v\n", err)
		os.Exit(1)
	}
	configPath := filepath.Join(dir, "Current Configuration.md")
	loop = loop.WithHistory(historyMgr, configPath, 600)

	flushMgr := flush.New()
	flushMgr.RegisterPath("config.settings", filepath.Join(dir, "settings.yaml"))
	loop = loop.WithFlush(flushMgr, 50)

	flushWatcher, err := flush.NewWatcher(flushMgr, dir, func(modified []string) {
		for _, path := range modified {
			flushMgr.MarkDirty(path)
			fmt.Fprintf(os.Stderr, "[warn] flush: external modification of %s\n", path)
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "[warn] flush: fsnotify watcher unavailable, using mtime polling only: %v\n", err)
		flushWatcher = nil
	}

	eventLogPath := filepath.Join(dir, "logs", "events.jsonl")
	loop = loop.WithHealthCheck(backend, settings.PromptPattern, settings.HeartbeatTimeoutSecs, eventLogPath, 20)

	handle := loop.Handle()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		handle.SendShutdown()
	}()

	if err := loop.Run(func() error {
		if flushWatcher != nil {
			flushWatcher.Close()
		}
		os.Remove(paths.SocketPath)
		os.Remove(paths.PidPath)
		return nil
	}); err != nil {
		fmt.Fprintf(os.Stderr, "cmx: daemon run: %v\n", err)
		os.Exit(1)
	}
}

func poolConfigFrom(p cmxconfig.PoolSetting) pool.Config {
	return pool.Config{TargetSize: p.Min, MaxSize: p.Max, AutoExpand: p.Max > p.Min}
}
