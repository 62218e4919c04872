// Package planner implements the stateless convergence diff (spec.md §4.I):
// given current and desired agent/session state, it emits a minimal ordered
// action list. Ported from original_source/core/src/convergence/planner.rs.
package planner

// Action is a tagged primitive change for the executor to perform against a
// backend. Exactly one of the fields relevant to Kind is populated.
type Action struct {
	Kind string

	// CreateSession / KillSession
	Name string
	Cwd  string

	// CreateAgent
	Role string
	Path string

	// ConnectSsh
	Agent string
	Host  string
	Port  int

	// UpdateAssignment
	Task *string

	// SplitPane
	Session string

	// PlaceAgent / SendKeys
	PaneID string
	Target string
	Keys   string
}

// Action kinds. The planner only ever emits CreateSession, KillSession,
// CreateAgent, ConnectSsh, KillAgent, and UpdateAssignment (spec.md §4.I);
// SplitPane, PlaceAgent, and SendKeys are part of the broader Action
// vocabulary (spec.md §3) that a backend must still be able to execute when
// driven directly (e.g. by the rig orchestrator), so the executor's backend
// interface and action_key function handle all nine.
const (
	KindCreateSession    = "create_session"
	KindKillSession      = "kill_session"
	KindSplitPane        = "split_pane"
	KindPlaceAgent       = "place_agent"
	KindCreateAgent      = "create_agent"
	KindKillAgent        = "kill_agent"
	KindConnectSsh       = "connect_ssh"
	KindUpdateAssignment = "update_assignment"
	KindSendKeys         = "send_keys"
)

// AgentEntry is one row of desired agent state.
type AgentEntry struct {
	Name string
	Role string
	Task *string
	Path string
}

// CurrentAgent is one row of observed agent state (only what the planner
// needs to diff against AgentEntry).
type CurrentAgent struct {
	Name string
	Task *string
}

// SessionEntry is one row of desired session state.
type SessionEntry struct {
	Name string
	Cwd  string
}

func taskEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func containsCurrentAgent(agents []CurrentAgent, name string) (CurrentAgent, bool) {
	for _, a := range agents {
		if a.Name == name {
			return a, true
		}
	}
	return CurrentAgent{}, false
}

func containsDesiredAgent(agents []AgentEntry, name string) bool {
	for _, a := range agents {
		if a.Name == name {
			return true
		}
	}
	return false
}

func containsString(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func containsSession(sessions []SessionEntry, name string) bool {
	for _, s := range sessions {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Plan computes the ordered action list to converge currentAgents/
// currentSessions toward desiredAgents/desiredSessions, in the fixed order
// spec.md §4.I mandates:
//  1. create sessions present in desired but not current
//  2. kill sessions present in current but not desired
//  3. create/connect agents present in desired but not current
//  4. kill agents present in current but not desired
//  5. update assignment for agents present in both with a changed task
func Plan(currentAgents []CurrentAgent, desiredAgents []AgentEntry, currentSessions []string, desiredSessions []SessionEntry) []Action {
	return plan(currentAgents, desiredAgents, currentSessions, desiredSessions)
}

// PlanWithAdoption behaves like Plan except sessions in existingSessions are
// treated as already-current, so they are neither recreated nor killed.
func PlanWithAdoption(currentAgents []CurrentAgent, desiredAgents []AgentEntry, currentSessions []string, desiredSessions []SessionEntry, existingSessions []string) []Action {
	adopted := make([]string, 0, len(currentSessions)+len(existingSessions))
	adopted = append(adopted, currentSessions...)
	for _, s := range existingSessions {
		if !containsString(adopted, s) {
			adopted = append(adopted, s)
		}
	}
	return plan(currentAgents, desiredAgents, adopted, desiredSessions)
}

func plan(currentAgents []CurrentAgent, desiredAgents []AgentEntry, currentSessions []string, desiredSessions []SessionEntry) []Action {
	var actions []Action

	// 1. Create desired sessions not in current.
	for _, s := range desiredSessions {
		if !containsString(currentSessions, s.Name) {
			actions = append(actions, Action{Kind: KindCreateSession, Name: s.Name, Cwd: s.Cwd})
		}
	}

	// 2. Kill current sessions not in desired.
	for _, name := range currentSessions {
		if !containsSession(desiredSessions, name) {
			actions = append(actions, Action{Kind: KindKillSession, Name: name})
		}
	}

	// 3. Create/connect desired agents not in current.
	for _, d := range desiredAgents {
		if _, ok := containsCurrentAgent(currentAgents, d.Name); !ok {
			if d.Role == "remote" {
				actions = append(actions, Action{Kind: KindConnectSsh, Agent: d.Name, Host: d.Path, Port: 22})
			} else {
				actions = append(actions, Action{Kind: KindCreateAgent, Name: d.Name, Role: d.Role, Path: d.Path})
			}
		}
	}

	// 4. Kill current agents not in desired.
	for _, c := range currentAgents {
		if !containsDesiredAgent(desiredAgents, c.Name) {
			actions = append(actions, Action{Kind: KindKillAgent, Name: c.Name})
		}
	}

	// 5. Update assignment for agents present in both with a changed task.
	for _, d := range desiredAgents {
		if c, ok := containsCurrentAgent(currentAgents, d.Name); ok {
			if !taskEqual(c.Task, d.Task) {
				actions = append(actions, Action{Kind: KindUpdateAssignment, Agent: d.Name, Task: d.Task})
			}
		}
	}

	return actions
}

// Key returns the canonical retry-tracking key for an action, per spec.md
// §4.J: "kind:identifier[:extra]", distinct across action kinds.
func Key(a Action) string {
	switch a.Kind {
	case KindCreateSession:
		return KindCreateSession + ":" + a.Name
	case KindKillSession:
		return KindKillSession + ":" + a.Name
	case KindCreateAgent:
		return KindCreateAgent + ":" + a.Name
	case KindKillAgent:
		return KindKillAgent + ":" + a.Name
	case KindConnectSsh:
		return KindConnectSsh + ":" + a.Agent + ":" + a.Host
	case KindUpdateAssignment:
		return KindUpdateAssignment + ":" + a.Agent
	case KindSplitPane:
		return KindSplitPane + ":" + a.Session
	case KindPlaceAgent:
		return KindPlaceAgent + ":" + a.PaneID + ":" + a.Agent
	case KindSendKeys:
		return KindSendKeys + ":" + a.Target
	default:
		return a.Kind + ":" + a.Name
	}
}
