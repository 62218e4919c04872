// Package core implements the single-threaded event loop (spec.md §4.F)
// and the state core it drives: the only place agent/task/pool mutation
// happens. Everything outside this package reaches it only through
// channel sends (Command, Log, Shutdown) — never by touching state
// directly, per spec.md §5.
package core

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ianremillard/cmx/internal/agentstate"
	"github.com/ianremillard/cmx/internal/capture"
	"github.com/ianremillard/cmx/internal/cmxproto"
	"github.com/ianremillard/cmx/internal/diagnosis"
	"github.com/ianremillard/cmx/internal/eventlog"
	"github.com/ianremillard/cmx/internal/executor"
	"github.com/ianremillard/cmx/internal/flush"
	"github.com/ianremillard/cmx/internal/health"
	"github.com/ianremillard/cmx/internal/heartbeat"
	"github.com/ianremillard/cmx/internal/history"
	"github.com/ianremillard/cmx/internal/metrics"
	"github.com/ianremillard/cmx/internal/paramstore"
	"github.com/ianremillard/cmx/internal/planner"
	"github.com/ianremillard/cmx/internal/pool"
	"github.com/ianremillard/cmx/internal/registry"
	"github.com/ianremillard/cmx/internal/rig"
	"github.com/ianremillard/cmx/internal/service"
	"github.com/ianremillard/cmx/internal/tasktree"
	"github.com/ianremillard/cmx/internal/watch"
)

// DaemonState is the visible lifecycle state of the daemon (spec.md §5).
type DaemonState int

const (
	BindingSocket DaemonState = iota
	Running
	Draining
	Stopped
)

// InternalCommand is a command enqueued from outside the loop thread,
// tagged with a source label used for the watcher debug summary.
type InternalCommand struct {
	Command cmxproto.Command
	Source  string
}

// LogEvent is a log line enqueued from outside the loop thread.
type LogEvent struct {
	Level   string
	Message string
}

// chanEvent is the sum type the loop drains from its channel: exactly one
// of Cmd/Log/Shutdown is set.
type chanEvent struct {
	cmd      *InternalCommand
	log      *LogEvent
	shutdown bool
}

// Handle is the only way code outside the loop thread may influence state.
// All three methods send on the loop's channel, which is buffered with
// capacity 256 (see NewLoop); when that buffer is full, a send blocks the
// calling goroutine until the loop drains it.
type Handle struct {
	events chan chanEvent
}

// SendCommand enqueues a command to be executed on the loop thread.
func (h *Handle) SendCommand(cmd cmxproto.Command, source string) {
	h.events <- chanEvent{cmd: &InternalCommand{Command: cmd, Source: source}}
}

// SendLog enqueues a log line to be emitted on the loop thread.
func (h *Handle) SendLog(level, message string) {
	h.events <- chanEvent{log: &LogEvent{Level: level, Message: message}}
}

// SendShutdown requests the loop exit after its current tick.
func (h *Handle) SendShutdown() {
	h.events <- chanEvent{shutdown: true}
}

// State is the mutable core: agents, tasks, pools, and the project list.
// Mutations happen only from the loop goroutine.
type State struct {
	Agents   *registry.Registry
	Tasks    *tasktree.Tree
	Pools    *pool.Manager
	Projects []string

	// Params mirrors agent/task field writes into the dotted-path parameter
	// namespace so external tooling can read them by path instead of by
	// re-parsing command output.
	Params *paramstore.Store

	// AgentStates persists a crash-survivable snapshot of each agent under
	// AgentStates.baseDir, wired in via WithPersistence; nil until then, in
	// which case persistence is a no-op.
	AgentStates *agentstate.Store

	// Remotes tracks connection attempts for role="remote" pool entries,
	// dialed directly instead of spawned as local PTY sessions.
	Remotes    *rig.Tracker
	dialRemote rig.DialFunc
	now        func() int64

	// Captures holds one rolling output buffer per agent, fed from each
	// health check's pane capture. ErrorMatcher scans those buffers for
	// known failure substrings independently of the heartbeat parser.
	Captures     *capture.Aggregator
	ErrorMatcher *capture.Matcher

	// Reliability and Effectiveness are recomputed from the event log on
	// every health check, holding the diagnosis package's latest verdict on
	// which signals are trustworthy and which interventions actually work.
	Reliability   map[string]diagnosis.SignalReliability
	Effectiveness map[string]diagnosis.ActionEffectiveness

	nextEventID uint64

	logf func(level, message string)
}

// NewState returns an empty state core.
func NewState(logf func(level, message string)) *State {
	if logf == nil {
		logf = func(string, string) {}
	}
	return &State{
		Agents:     registry.New(),
		Tasks:      tasktree.New(),
		Pools:      pool.NewManager(),
		Params:     paramstore.New(),
		Remotes:      rig.NewTracker(5, 500),
		dialRemote:   dialTCP,
		now:          func() int64 { return time.Now().UnixMilli() },
		Captures:     capture.NewAggregator(200),
		ErrorMatcher: defaultErrorMatcher(),
		logf:         logf,
	}
}

// WithPersistence arms per-agent state snapshotting under
// <baseDir>/<role>/<name>/state.json (the daemon passes <config-dir>/agents
// as baseDir). Safe to call once, typically
// from the daemon entrypoint right after NewState.
func (s *State) WithPersistence(baseDir string) *State {
	s.AgentStates = agentstate.NewStore(baseDir)
	return s
}

// persistAgent writes a's current record to AgentStates, if persistence was
// armed via WithPersistence. Errors are logged, not surfaced: a failed
// snapshot write must never fail the command that triggered it.
func (s *State) persistAgent(name string) {
	if s.AgentStates == nil {
		return
	}
	a, ok := s.Agents.Get(name)
	if !ok {
		return
	}
	st := agentstate.State{
		Name:            a.Name,
		Role:            a.Role,
		Impl:            a.Impl,
		Task:            a.Task,
		Path:            a.Path,
		Status:          a.Status,
		Health:          a.Health,
		LastHeartbeatMs: a.LastHeartbeatMs,
		SessionID:       a.SessionID,
		Notes:           a.Notes,
	}
	if err := s.AgentStates.Save(st); err != nil {
		s.logf("warn", fmt.Sprintf("agentstate: %v", err))
	}
}

// WithDialFunc overrides the function used to dial role="remote" pool
// entries. Defaults to a plain TCP reachability probe.
func (s *State) WithDialFunc(dial rig.DialFunc) *State {
	s.dialRemote = dial
	return s
}

// dialTCP is the default DialFunc for rig-managed connections: a plain TCP
// reachability probe against host:port, timed for round-trip latency.
func dialTCP(ctx context.Context, remote string) (uint64, error) {
	start := time.Now()
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", remote)
	if err != nil {
		return 0, err
	}
	conn.Close()
	return uint64(time.Since(start).Milliseconds()), nil
}

// Dispatch executes cmd against the state core and returns the response
// per spec.md §6's command envelope.
func (s *State) Dispatch(cmd cmxproto.Command) cmxproto.Response {
	resp := s.dispatch(cmd)
	metrics.RecordCommand(cmd.Command, resp.IsOk())
	return resp
}

func (s *State) dispatch(cmd cmxproto.Command) cmxproto.Response {
	switch cmd.Command {
	case cmxproto.CmdStatus:
		return s.handleStatus()
	case cmxproto.CmdAgentNew:
		return s.handleAgentNew(cmd)
	case cmxproto.CmdAgentList:
		return s.handleAgentList()
	case cmxproto.CmdTaskList:
		return s.handleTaskList()
	case cmxproto.CmdTaskSet:
		return s.handleTaskSet(cmd)
	case cmxproto.CmdProjectList:
		return s.handleProjectList()
	case cmxproto.CmdHelp:
		return cmxproto.Success(helpText)
	case cmxproto.CmdDaemonRun:
		return cmxproto.Success("daemon running")
	case cmxproto.CmdDaemonStop:
		return cmxproto.Success("daemon stopping")
	default:
		return cmxproto.Failure(fmt.Sprintf("unknown command: %s", cmd.Command))
	}
}

const helpText = "commands: status, agent.new, agent.list, task.list, task.set, project.list, help, watch, daemon.run, daemon.stop"

func (s *State) handleStatus() cmxproto.Response {
	agents := s.Agents.List()
	s.Tasks.PropagateStatus()
	tasks := s.Tasks.FlatList()

	counts := map[[2]string]int{}
	for _, a := range agents {
		counts[[2]string{a.Role, a.Status}]++
	}
	for k, v := range counts {
		metrics.AgentsTotal.WithLabelValues(k[0], k[1]).Set(float64(v))
	}

	return cmxproto.Success(fmt.Sprintf("agents=%d tasks=%d projects=%d", len(agents), len(tasks), len(s.Projects)))
}

func (s *State) handleAgentNew(cmd cmxproto.Command) cmxproto.Response {
	if cmd.Role == "" {
		return cmxproto.Failure("agent.new requires a role")
	}
	name := s.Agents.NextName(cmd.Role)
	err := s.Agents.Add(registry.Agent{
		Name:   name,
		Role:   cmd.Role,
		Impl:   cmd.Impl,
		Path:   cmd.Path,
		Status: registry.StatusIdle,
		Health: registry.HealthUnknown,
	})
	if err != nil {
		return cmxproto.Failure(err.Error())
	}
	s.setParam(fmt.Sprintf("agent.%s.role", name), cmd.Role)
	s.setParam(fmt.Sprintf("agent.%s.impl", name), cmd.Impl)
	s.setParam(fmt.Sprintf("agent.%s.status", name), registry.StatusIdle)
	s.persistAgent(name)
	return cmxproto.Success(name)
}

func (s *State) handleAgentList() cmxproto.Response {
	agents := s.Agents.List()
	lines := make([]string, 0, len(agents))
	for _, a := range agents {
		task := "-"
		if a.Task != nil {
			task = *a.Task
		}
		lines = append(lines, fmt.Sprintf("%s\trole=%s\tstatus=%s\thealth=%s\ttask=%s", a.Name, a.Role, a.Status, a.Health, task))
	}
	return cmxproto.Success(strings.Join(lines, "\n"))
}

func (s *State) handleTaskList() cmxproto.Response {
	s.Tasks.PropagateStatus()
	flat := s.Tasks.FlatList()
	lines := make([]string, 0, len(flat))
	for _, f := range flat {
		lines = append(lines, fmt.Sprintf("%s%s [%s]", strings.Repeat("  ", f.Depth), f.Node.Title, f.Node.Status))
	}
	return cmxproto.Success(strings.Join(lines, "\n"))
}

func (s *State) handleTaskSet(cmd cmxproto.Command) cmxproto.Response {
	if cmd.TaskID == "" {
		return cmxproto.Failure("task.set requires task_id")
	}
	if cmd.Agent != "" {
		// The task tree is the one authoritative record of agent<->task
		// assignment; the registry's mirror of it is brought into line by
		// Reconcile's next planner pass (an update_assignment action), not
		// mutated here directly.
		if err := s.Tasks.Assign(cmd.TaskID, cmd.Agent); err != nil {
			return cmxproto.Failure(err.Error())
		}
		s.setParam(fmt.Sprintf("task.%s.agent", cmd.TaskID), cmd.Agent)
	}
	if cmd.Status != "" {
		if err := s.Tasks.SetStatus(cmd.TaskID, tasktree.Status(cmd.Status)); err != nil {
			return cmxproto.Failure(err.Error())
		}
		s.setParam(fmt.Sprintf("task.%s.status", cmd.TaskID), cmd.Status)
	}
	return cmxproto.Success(cmd.TaskID)
}

// setParam mirrors a write into the parameter store, logging rather than
// failing the command on a malformed path (command input is already
// validated by the handler that built it).
func (s *State) setParam(path string, value string) {
	if value == "" {
		return
	}
	if err := s.Params.Set(path, value); err != nil {
		s.logf("warn", fmt.Sprintf("paramstore: %v", err))
	}
}

// RenderConfiguration produces a markdown snapshot of agents, tasks, and
// projects, written to the live configuration file history.Manager watches
// for snapshotting (spec.md §4.N).
func (s *State) RenderConfiguration() string {
	var b strings.Builder
	b.WriteString("# Current Configuration\n\n## Agents\n\n")
	for _, a := range s.Agents.List() {
		task := "-"
		if a.Task != nil {
			task = *a.Task
		}
		fmt.Fprintf(&b, "- %s (role=%s status=%s health=%s task=%s)\n", a.Name, a.Role, a.Status, a.Health, task)
	}
	b.WriteString("\n## Tasks\n\n")
	s.Tasks.PropagateStatus()
	for _, f := range s.Tasks.FlatList() {
		fmt.Fprintf(&b, "%s- %s [%s]\n", strings.Repeat("  ", f.Depth), f.Node.Title, f.Node.Status)
	}
	b.WriteString("\n## Projects\n\n")
	projects := make([]string, len(s.Projects))
	copy(projects, s.Projects)
	sort.Strings(projects)
	for _, p := range projects {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	return b.String()
}

func (s *State) handleProjectList() cmxproto.Response {
	out := make([]string, len(s.Projects))
	copy(out, s.Projects)
	sort.Strings(out)
	return cmxproto.Success(strings.Join(out, "\n"))
}

// Reconcile diffs the running daemon's observed state against its desired
// state through the planner and drives the resulting action list through
// exec against backend (spec.md §4.H/4.I/4.J wired together: pool deficit
// and task assignment -> planner diff -> executor -> registry). Called by
// the loop on a slower cadence than every tick.
func (s *State) Reconcile(exec *executor.Executor, backend executor.Backend) executor.Result {
	return s.ReconcileContext(context.Background(), exec, backend)
}

// ReconcileContext is Reconcile with an explicit context, threaded down to
// the rig dialer so a cancelled context aborts an in-flight remote connect
// attempt instead of leaking it past shutdown.
func (s *State) ReconcileContext(ctx context.Context, exec *executor.Executor, backend executor.Backend) executor.Result {
	for _, d := range s.Pools.AllDeficits(s.Agents) {
		metrics.PoolDeficit.WithLabelValues(d.Role).Set(float64(d.Deficit))
	}

	currentAgents := make([]planner.CurrentAgent, 0, len(s.Agents.List()))
	for _, a := range s.Agents.List() {
		currentAgents = append(currentAgents, planner.CurrentAgent{Name: a.Name, Task: a.Task})
	}
	desiredAgents := s.desiredAgentEntries()
	roleByName := make(map[string]string, len(desiredAgents))
	for _, d := range desiredAgents {
		roleByName[d.Name] = d.Role
	}

	actions := planner.Plan(currentAgents, desiredAgents, backend.ListSessions(), s.desiredSessionEntries())
	if len(actions) == 0 {
		return executor.Result{}
	}

	toExecute := make([]planner.Action, 0, len(actions))
	for _, a := range actions {
		if a.Kind == planner.KindConnectSsh {
			s.connectRemote(ctx, a.Agent, roleByName[a.Agent], a.Host)
			continue
		}
		toExecute = append(toExecute, a)
	}
	if len(toExecute) == 0 {
		return executor.Result{}
	}

	result := exec.Execute(toExecute, backend)
	for _, a := range result.Succeeded {
		s.applyReconcileAction(a)
	}
	for _, f := range result.Failed {
		metrics.ExecutorFailuresTotal.WithLabelValues(f.Action.Kind).Inc()
		s.logf("warn", fmt.Sprintf("reconcile: %s failed: %s", planner.Key(f.Action), f.Err))
	}
	if result.RetriesUsed > 0 {
		metrics.ExecutorRetriesTotal.WithLabelValues(retryLabelKind(toExecute)).Add(float64(result.RetriesUsed))
	}
	return result
}

// desiredAgentEntries is the planner's desired-state agent list: every
// currently registered agent, kept in place with its task drawn from the
// task tree (the one authoritative record of agent<->task assignment,
// rather than the registry's own mirror of it), plus one new entry per
// pool-replenishment name still needed to fill a role's deficit.
func (s *State) desiredAgentEntries() []planner.AgentEntry {
	assignedTask := make(map[string]string)
	for _, f := range s.Tasks.FlatList() {
		if f.Node.Agent != nil {
			assignedTask[*f.Node.Agent] = f.Node.ID
		}
	}

	current := s.Agents.List()
	desired := make([]planner.AgentEntry, 0, len(current))
	for _, a := range current {
		var task *string
		if id, ok := assignedTask[a.Name]; ok {
			t := id
			task = &t
		}
		desired = append(desired, planner.AgentEntry{Name: a.Name, Role: a.Role, Task: task, Path: a.Path})
	}
	for _, n := range s.Pools.ReplenishmentNames(s.Agents) {
		desired = append(desired, planner.AgentEntry{Name: n.Name, Role: n.Role, Path: n.Path})
	}
	return desired
}

// desiredSessionEntries turns the registered project roster into the
// planner's desired-session list: one session per project, named after its
// directory and rooted there.
func (s *State) desiredSessionEntries() []planner.SessionEntry {
	entries := make([]planner.SessionEntry, 0, len(s.Projects))
	for _, p := range s.Projects {
		entries = append(entries, planner.SessionEntry{Name: filepath.Base(p), Cwd: p})
	}
	return entries
}

// applyReconcileAction updates the registry/paramstore/persistence layer to
// match one action the executor reported as succeeded.
func (s *State) applyReconcileAction(a planner.Action) {
	switch a.Kind {
	case planner.KindCreateAgent:
		if err := s.Agents.Add(registry.Agent{
			Name:   a.Name,
			Role:   a.Role,
			Path:   a.Path,
			Status: registry.StatusIdle,
			Health: registry.HealthUnknown,
		}); err != nil {
			s.logf("warn", fmt.Sprintf("reconcile: %v", err))
			return
		}
		s.persistAgent(a.Name)
	case planner.KindKillAgent:
		removed, err := s.Agents.Remove(a.Name)
		if err != nil {
			s.logf("warn", fmt.Sprintf("reconcile: %v", err))
			return
		}
		if s.AgentStates != nil {
			if err := s.AgentStates.Delete(removed.Role, removed.Name); err != nil {
				s.logf("warn", fmt.Sprintf("agentstate: %v", err))
			}
		}
	case planner.KindUpdateAssignment:
		if a.Task != nil {
			if err := s.Agents.Assign(a.Agent, *a.Task); err != nil {
				s.logf("warn", fmt.Sprintf("reconcile: %v", err))
				return
			}
			s.setParam(fmt.Sprintf("task.%s.agent", *a.Task), a.Agent)
		} else if _, err := s.Agents.Unassign(a.Agent); err != nil {
			s.logf("warn", fmt.Sprintf("reconcile: %v", err))
			return
		}
		s.persistAgent(a.Agent)
	case planner.KindCreateSession, planner.KindKillSession:
		// Session lifecycle has no registry-side bookkeeping of its own.
	}
}

// retryLabelKind picks the cmx_executor_retries_total "kind" label for a
// batch of actions: the shared kind if every action in the batch is the
// same, "mixed" otherwise. The executor itself only reports one aggregate
// retry count per Execute call, not a per-action breakdown.
func retryLabelKind(actions []planner.Action) string {
	if len(actions) == 0 {
		return "unknown"
	}
	kind := actions[0].Kind
	for _, a := range actions[1:] {
		if a.Kind != kind {
			return "mixed"
		}
	}
	return kind
}

// connectRemote dials a connect_ssh action's target through rig instead of
// routing it through the executor/backend, registering the agent into the
// agent set once connected.
func (s *State) connectRemote(ctx context.Context, name, role, path string) {
	host := path
	if !strings.Contains(host, ":") {
		host = net.JoinHostPort(host, "22")
	}
	dialer := rig.NewDialer(s.Remotes, s.dialRemote, s.now)
	if err := dialer.Connect(ctx, host); err != nil {
		metrics.ExecutorFailuresTotal.WithLabelValues(planner.KindConnectSsh).Inc()
		s.logf("warn", fmt.Sprintf("reconcile: connect %s (%s): %v", name, host, err))
		return
	}
	if err := s.Agents.Add(registry.Agent{
		Name:   name,
		Role:   role,
		Impl:   "remote",
		Path:   path,
		Status: registry.StatusIdle,
		Health: registry.HealthHealthy,
	}); err != nil {
		s.logf("warn", fmt.Sprintf("reconcile: %v", err))
	} else {
		s.persistAgent(name)
	}
}

// defaultErrorMatcher recognizes a subset of the failure substrings the
// heartbeat parser treats as errors, scanned independently against the
// rolling capture buffer so a transient error line isn't lost once it
// scrolls out of the heartbeat's own tail-5-lines window.
func defaultErrorMatcher() *capture.Matcher {
	names := []string{"panic:", "fatal:", "FATAL:", "Traceback (most recent call last)", "Exception:"}
	patterns := make([]capture.Pattern, 0, len(names))
	for _, n := range names {
		patterns = append(patterns, capture.Pattern{Pattern: n, Action: capture.PatternAction{Kind: capture.Alert}})
	}
	return capture.NewMatcher(patterns)
}

// CheckHealth captures each registered agent's pane, classifies its state,
// assesses overall health, and records any health transition as an
// intervention event (spec.md §4.L/§4.R/§4.S/§4.T wired together). Returns
// the per-agent assessments for the caller to log or expose. Called by the
// loop on its own, typically slower, cadence.
func (s *State) CheckHealth(backend executor.Backend, promptPattern string, heartbeatTimeoutSecs uint64, eventLogPath string, nowMs int64) []health.Assessment {
	agents := s.Agents.List()
	assessments := make([]health.Assessment, 0, len(agents))

	for _, a := range agents {
		signals := s.captureSignals(backend, a, promptPattern, nowMs)
		assessment := health.Assess(a.Name, signals, heartbeatTimeoutSecs, nowMs)
		assessments = append(assessments, assessment)

		if string(assessment.Overall) == a.Health {
			continue
		}
		if err := s.Agents.UpdateHealth(a.Name, string(assessment.Overall)); err != nil {
			s.logf("warn", fmt.Sprintf("health: %v", err))
			continue
		}
		s.setParam(fmt.Sprintf("agent.%s.health", a.Name), string(assessment.Overall))
		s.persistAgent(a.Name)
		s.recordHealthTransition(eventLogPath, a.Name, a.Health, assessment, nowMs)
	}

	if events, err := eventlog.LoadEvents(eventLogPath); err != nil {
		s.logf("warn", fmt.Sprintf("diagnosis: load events: %v", err))
	} else {
		s.Reliability = diagnosis.ComputeReliability(events)
		s.Effectiveness = diagnosis.ComputeEffectiveness(events)
	}

	return assessments
}

// captureSignals runs one agent's pane capture through the capture buffer,
// error matcher, and heartbeat parser, producing the health.Signal set
// health.Assess expects.
func (s *State) captureSignals(backend executor.Backend, a registry.Agent, promptPattern string, nowMs int64) []health.Signal {
	output, err := backend.CapturePane(a.Name)
	if err != nil {
		return []health.Signal{{Kind: health.SignalInfrastructureFailed, Reason: err.Error()}}
	}

	for _, line := range strings.Split(output, "\n") {
		s.Captures.PushLine(a.Name, line, capture.Stdout, uint64(nowMs))
	}

	var signals []health.Signal
	if buf, ok := s.Captures.GetBuffer(a.Name); ok {
		if matches := s.ErrorMatcher.ScanBuffer(buf); len(matches) > 0 {
			last := matches[len(matches)-1]
			signals = append(signals, health.Signal{Kind: health.SignalErrorPatternDetected, Pattern: last.Pattern.Pattern})
		}
	}

	ageSecs := uint64(0)
	if a.LastHeartbeatMs > 0 && nowMs > a.LastHeartbeatMs {
		ageSecs = uint64((nowMs - a.LastHeartbeatMs) / 1000)
	}

	hr := heartbeat.ParseCapture(output, promptPattern)
	switch hr.State {
	case heartbeat.StateError:
		signals = append(signals, health.Signal{Kind: health.SignalExplicitError, Message: hr.LastLine})
	case heartbeat.StateReady, heartbeat.StateBusy:
		signals = append(signals,
			health.Signal{Kind: health.SignalInfrastructureOk},
			health.Signal{Kind: health.SignalHeartbeatRecent, AgeSecs: ageSecs})
	default:
		signals = append(signals, health.Signal{Kind: health.SignalHeartbeatStale, AgeSecs: ageSecs})
	}
	return signals
}

// recordHealthTransition appends an eventlog entry for a health state
// change, inferring the signal/failure-mode classification from the new
// assessment.
func (s *State) recordHealthTransition(path, agent, previousHealth string, assessment health.Assessment, nowMs int64) {
	s.nextEventID++
	signal := eventlog.SignalType{Kind: eventlog.SignalHeartbeatStale}
	for _, sig := range assessment.Signals {
		if sig.Kind == health.SignalExplicitError {
			signal = eventlog.SignalType{Kind: eventlog.SignalExplicitError}
		} else if sig.Kind == health.SignalErrorPatternDetected {
			signal = eventlog.SignalType{Kind: eventlog.SignalErrorPattern, TriggerName: sig.Pattern}
		}
	}

	event := eventlog.Event{
		ID:            s.nextEventID,
		TimestampMs:   nowMs,
		Agent:         agent,
		Signal:        signal,
		SignalDetail:  assessment.Reason,
		Action:        eventlog.InterventionAction{Kind: eventlog.ActionIgnore},
		Outcome:       eventlog.OutcomePending,
		OutcomeDetail: fmt.Sprintf("%s -> %s", previousHealth, assessment.Overall),
		FailureMode:   string(health.ClassifyFailure(assessment)),
	}
	if err := eventlog.AppendEvent(path, event); err != nil {
		s.logf("warn", fmt.Sprintf("eventlog: %v", err))
	}
}

// Loop owns the listener, watch registry, channel, and state core, and
// runs the tick sequence in spec.md §4.F.
type Loop struct {
	state    *State
	listener *service.Listener
	watchers *watch.Registry
	events   chan chanEvent
	pollMs   int64
	now      func() int64

	reconcileExec       *executor.Executor
	reconcileBackend    executor.Backend
	reconcileEveryN     int64
	ticksSinceReconcile int64

	historyMgr        *history.Manager
	historyConfigPath string
	historyEveryN     int64
	ticksSinceHistory int64

	flushMgr        *flush.Manager
	flushEveryN     int64
	ticksSinceFlush int64

	healthBackend       executor.Backend
	healthPromptPattern string
	healthTimeoutSecs   uint64
	healthEventLogPath  string
	healthEveryN        int64
	ticksSinceHealth    int64

	DaemonState DaemonState
}

// NewLoop wires a Loop around an already-bound Listener. now returns the
// current wall-clock time in milliseconds; pollMs is the accept budget
// per tick.
func NewLoop(listener *service.Listener, state *State, pollMs int64, now func() int64) *Loop {
	return &Loop{
		state:       state,
		listener:    listener,
		watchers:    watch.New(),
		events:      make(chan chanEvent, 256),
		pollMs:      pollMs,
		now:         now,
		DaemonState: BindingSocket,
	}
}

// Handle returns the channel-backed handle external callers use to reach
// the loop.
func (l *Loop) Handle() *Handle {
	return &Handle{events: l.events}
}

// WithReconcile arms periodic pool reconciliation: every n ticks, the loop
// calls State.Reconcile(exec, backend). n <= 0 disables it.
func (l *Loop) WithReconcile(exec *executor.Executor, backend executor.Backend, n int64) *Loop {
	l.reconcileExec = exec
	l.reconcileBackend = backend
	l.reconcileEveryN = n
	return l
}

// WithHistory arms periodic configuration snapshotting: every n ticks, the
// loop renders the current state to configPath and asks mgr to snapshot it
// if its content changed. n <= 0 disables it.
func (l *Loop) WithHistory(mgr *history.Manager, configPath string, n int64) *Loop {
	l.historyMgr = mgr
	l.historyConfigPath = configPath
	l.historyEveryN = n
	return l
}

// WithFlush arms periodic external-modification detection on files
// registered with mgr. n <= 0 disables it.
func (l *Loop) WithFlush(mgr *flush.Manager, n int64) *Loop {
	l.flushMgr = mgr
	l.flushEveryN = n
	return l
}

// WithHealthCheck arms periodic health assessment: every n ticks, the loop
// captures each agent's pane through backend and runs State.CheckHealth.
// n <= 0 disables it.
func (l *Loop) WithHealthCheck(backend executor.Backend, promptPattern string, timeoutSecs uint64, eventLogPath string, n int64) *Loop {
	l.healthBackend = backend
	l.healthPromptPattern = promptPattern
	l.healthTimeoutSecs = timeoutSecs
	l.healthEventLogPath = eventLogPath
	l.healthEveryN = n
	return l
}

// Run executes ticks until a shutdown event is observed or the channel is
// closed, then removes the socket file via closeFn.
func (l *Loop) Run(closeFn func() error) error {
	l.DaemonState = Running
	for {
		shutdown := l.tick()
		if shutdown {
			break
		}
	}
	l.DaemonState = Draining
	l.listener.Close()
	if closeFn != nil {
		if err := closeFn(); err != nil {
			return err
		}
	}
	l.DaemonState = Stopped
	return nil
}

// tick runs exactly one loop iteration and reports whether shutdown was
// requested.
func (l *Loop) tick() bool {
	timer := prometheus.NewTimer(metrics.TickDuration)
	defer timer.ObserveDuration()

	if l.drainChannel() {
		return true
	}

	nowMs := l.now()
	outcome, err := l.listener.AcceptOne(l.pollMs, l.state.Dispatch, l.watchers, nowMs)
	if err != nil {
		l.state.logf("error", fmt.Sprintf("accept: %v", err))
	}
	if outcome == service.Shutdown {
		return true
	}

	l.watchers.ExpireStale(nowMs)
	metrics.WatchersParked.Set(float64(l.watchers.Count()))

	if l.reconcileEveryN > 0 && l.reconcileExec != nil && l.reconcileBackend != nil {
		l.ticksSinceReconcile++
		if l.ticksSinceReconcile >= l.reconcileEveryN {
			l.ticksSinceReconcile = 0
			l.state.Reconcile(l.reconcileExec, l.reconcileBackend)
		}
	}

	if l.flushEveryN > 0 && l.flushMgr != nil {
		l.ticksSinceFlush++
		if l.ticksSinceFlush >= l.flushEveryN {
			l.ticksSinceFlush = 0
			for _, path := range l.flushMgr.CheckExternalModifications() {
				l.flushMgr.MarkDirty(path)
				l.state.logf("warn", fmt.Sprintf("flush: external modification of %s", path))
			}
		}
	}

	if l.historyEveryN > 0 && l.historyMgr != nil {
		l.ticksSinceHistory++
		if l.ticksSinceHistory >= l.historyEveryN {
			l.ticksSinceHistory = 0
			content := l.state.RenderConfiguration()
			if err := os.WriteFile(l.historyConfigPath, []byte(content), 0o644); err != nil {
				l.state.logf("warn", fmt.Sprintf("history: write live config: %v", err))
			} else if _, err := l.historyMgr.MaybeSnapshot(nowMs); err != nil {
				l.state.logf("warn", fmt.Sprintf("history: snapshot: %v", err))
			}
		}
	}

	if l.healthEveryN > 0 && l.healthBackend != nil {
		l.ticksSinceHealth++
		if l.ticksSinceHealth >= l.healthEveryN {
			l.ticksSinceHealth = 0
			l.state.CheckHealth(l.healthBackend, l.healthPromptPattern, l.healthTimeoutSecs, l.healthEventLogPath, nowMs)
		}
	}
	return false
}

// drainChannel pops every pending event without blocking, reporting
// whether a shutdown was requested. A closed channel is treated as an
// implicit shutdown.
func (l *Loop) drainChannel() bool {
	for {
		select {
		case ev, ok := <-l.events:
			if !ok {
				return true
			}
			if ev.shutdown {
				return true
			}
			if ev.log != nil {
				l.state.logf(ev.log.Level, ev.log.Message)
				continue
			}
			if ev.cmd != nil {
				resp := l.state.Dispatch(ev.cmd.Command)
				nowMs := l.now()
				summary := ev.cmd.Source
				if summary == "" {
					summary = ev.cmd.Command.Command
				}
				l.watchers.RecordChange(nowMs)
				l.watchers.NotifyAll(summary, nowMs)
				if !resp.IsOk() {
					l.state.logf("warn", fmt.Sprintf("internal command failed: %s", resp.Err.Message))
				}
			}
		default:
			return false
		}
	}
}
