// Package pool implements the worker pool scheduler (spec.md §4.H): per-role
// target/max/auto-expand configuration, deficit computation, replenishment
// name generation, idle picking, and auto-expand decisions. Ported from
// original_source/core/src/agent/pool.rs.
package pool

import "github.com/ianremillard/cmx/internal/registry"

// Config is the per-role pool configuration (spec.md §3 "Pool config").
type Config struct {
	TargetSize int
	MaxSize    int
	AutoExpand bool
	Path       string
}

// State is the derived, never-stored pool state for a role.
type State struct {
	Role         string
	Config       Config
	IdleCount    int
	BusyCount    int
	SpawningCount int
	Total        int
}

// Manager holds per-role pool configuration.
type Manager struct {
	configs map[string]Config
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{configs: make(map[string]Config)}
}

// SetPool registers or replaces the config for a role.
func (m *Manager) SetPool(role string, cfg Config) {
	m.configs[role] = cfg
}

// RemovePool deletes a role's config.
func (m *Manager) RemovePool(role string) {
	delete(m.configs, role)
}

// GetConfig returns the config for a role, if any.
func (m *Manager) GetConfig(role string) (Config, bool) {
	c, ok := m.configs[role]
	return c, ok
}

// ListConfigs returns all configured roles.
func (m *Manager) ListConfigs() map[string]Config {
	out := make(map[string]Config, len(m.configs))
	for k, v := range m.configs {
		out[k] = v
	}
	return out
}

// PoolState computes the current derived state for a role, or false if the
// role has no configuration.
func (m *Manager) PoolState(role string, reg *registry.Registry) (State, bool) {
	cfg, ok := m.configs[role]
	if !ok {
		return State{}, false
	}
	agents := reg.FindByRole(role)
	idle, busy := 0, 0
	for _, a := range agents {
		switch a.Status {
		case registry.StatusIdle:
			idle++
		case registry.StatusBusy:
			busy++
		}
	}
	total := len(agents)
	spawning := total - (idle + busy)
	if spawning < 0 {
		spawning = 0
	}
	return State{
		Role:          role,
		Config:        cfg,
		IdleCount:     idle,
		BusyCount:     busy,
		SpawningCount: spawning,
		Total:         total,
	}, true
}

// Deficit is the saturating target_size - total for a role; 0 if over
// target or unconfigured.
func (m *Manager) Deficit(role string, reg *registry.Registry) int {
	st, ok := m.PoolState(role, reg)
	if !ok {
		return 0
	}
	d := st.Config.TargetSize - st.Total
	if d < 0 {
		return 0
	}
	return d
}

// RoleDeficit pairs a role with whether it currently has a positive deficit.
type RoleDeficit struct {
	Role    string
	Deficit int
}

// AllDeficits returns (role, deficit>0) across every configured role.
func (m *Manager) AllDeficits(reg *registry.Registry) []RoleDeficit {
	out := make([]RoleDeficit, 0, len(m.configs))
	for role := range m.configs {
		d := m.Deficit(role, reg)
		out = append(out, RoleDeficit{Role: role, Deficit: d})
	}
	return out
}

// ReplenishmentName is a generated name/role/path tuple to spawn.
type ReplenishmentName struct {
	Name string
	Role string
	Path string
}

// ReplenishmentNames generates, for each role's deficit, that many unique
// names via reg.NextName, paired with the role and its configured path.
//
// NextName is called against a scratch copy of the registry contents so that
// names generated within the same call don't collide with each other even
// though none of them have actually been added to reg yet.
func (m *Manager) ReplenishmentNames(reg *registry.Registry) []ReplenishmentName {
	var out []ReplenishmentName
	for role, cfg := range m.configs {
		deficit := m.Deficit(role, reg)
		if deficit == 0 {
			continue
		}
		scratch := registry.New()
		for _, a := range reg.List() {
			scratch.Add(a)
		}
		for i := 0; i < deficit; i++ {
			name := scratch.NextName(role)
			scratch.Add(registry.Agent{Name: name, Role: role})
			out = append(out, ReplenishmentName{Name: name, Role: role, Path: cfg.Path})
		}
	}
	return out
}

// PickIdle returns the first (insertion-order) agent of a role with no
// assigned task and Idle status.
func (m *Manager) PickIdle(role string, reg *registry.Registry) (registry.Agent, bool) {
	for _, a := range reg.FindByRole(role) {
		if a.Task == nil && a.Status == registry.StatusIdle {
			return a, true
		}
	}
	return registry.Agent{}, false
}

// ShouldAutoExpand reports whether a role should grow beyond target: it must
// allow auto-expand, have zero idle agents, and be under max_size.
func (m *Manager) ShouldAutoExpand(role string, reg *registry.Registry) bool {
	st, ok := m.PoolState(role, reg)
	if !ok {
		return false
	}
	return st.Config.AutoExpand && st.IdleCount == 0 && st.Total < st.Config.MaxSize
}
