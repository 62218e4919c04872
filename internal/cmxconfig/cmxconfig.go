// Package cmxconfig parses settings.yaml (spec.md §6) and merges it with an
// optional in-repo overlay, adapted from internal/daemon/project.go's
// loadProject/loadInRepoConfig YAML-loading half (the git-worktree half of
// that file does not apply here and was not carried over).
package cmxconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PoolSetting is one role's desired pool size and spawn command, the YAML
// shape backing internal/pool.Config.
type PoolSetting struct {
	Min     int      `yaml:"min"`
	Max     int      `yaml:"max"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Settings is the parsed contents of settings.yaml.
type Settings struct {
	Shell       string                 `yaml:"shell"`
	MetricsAddr string                 `yaml:"metrics_addr"`
	Projects    []string               `yaml:"projects"`
	Pools       map[string]PoolSetting `yaml:"pools"`

	// PromptPattern matches a shell prompt in a captured pane, the signal
	// internal/heartbeat uses to decide an agent is ready rather than busy.
	PromptPattern string `yaml:"prompt_pattern"`
	// HeartbeatTimeoutSecs is how long an agent may go without a fresh
	// heartbeat before internal/health marks it unhealthy.
	HeartbeatTimeoutSecs uint64 `yaml:"heartbeat_timeout_secs"`
}

// defaultShell is used when settings.yaml omits one.
const defaultShell = "/bin/sh"

// defaultPromptPattern is the substring internal/heartbeat looks for anywhere
// in a captured pane's last non-empty line to decide an agent is sitting at a
// shell prompt rather than mid-output.
const defaultPromptPattern = "$ "

// defaultHeartbeatTimeoutSecs is how stale a heartbeat may get before an
// agent with no other signal is considered unhealthy.
const defaultHeartbeatTimeoutSecs = 300

// Load reads and parses settings.yaml at path. A missing file yields
// default-valued Settings rather than an error, matching the daemon's
// "run with sane defaults until configured" posture.
func Load(path string) (*Settings, error) {
	s := &Settings{
		Shell:                defaultShell,
		Pools:                map[string]PoolSetting{},
		PromptPattern:        defaultPromptPattern,
		HeartbeatTimeoutSecs: defaultHeartbeatTimeoutSecs,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if s.Shell == "" {
		s.Shell = defaultShell
	}
	if s.Pools == nil {
		s.Pools = map[string]PoolSetting{}
	}
	if s.PromptPattern == "" {
		s.PromptPattern = defaultPromptPattern
	}
	if s.HeartbeatTimeoutSecs == 0 {
		s.HeartbeatTimeoutSecs = defaultHeartbeatTimeoutSecs
	}
	return s, nil
}

// Overlay merges in settings read from overlayPath, letting entries there
// take precedence over the base. A missing overlay file is a no-op, the
// same tolerant behavior internal/daemon/project.go's loadInRepoConfig
// applies to a missing grove.yaml.
func (s *Settings) Overlay(overlayPath string) error {
	data, err := os.ReadFile(overlayPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", overlayPath, err)
	}

	var overlay Settings
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse %s: %w", overlayPath, err)
	}

	if overlay.Shell != "" {
		s.Shell = overlay.Shell
	}
	if overlay.MetricsAddr != "" {
		s.MetricsAddr = overlay.MetricsAddr
	}
	if len(overlay.Projects) > 0 {
		s.Projects = overlay.Projects
	}
	if overlay.PromptPattern != "" {
		s.PromptPattern = overlay.PromptPattern
	}
	if overlay.HeartbeatTimeoutSecs != 0 {
		s.HeartbeatTimeoutSecs = overlay.HeartbeatTimeoutSecs
	}
	for role, cfg := range overlay.Pools {
		s.Pools[role] = cfg
	}
	return nil
}
