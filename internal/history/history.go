// Package history implements configuration snapshots with content-hash
// dedup and tiered retention pruning (spec.md §4.N). Ported from
// original_source/core/src/history/{mod,retention,snapshot}.rs.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const liveFileName = "Current Configuration.md"

// RetentionPolicy controls how aggressively old snapshots are pruned.
type RetentionPolicy struct {
	HourlyWindowHours int
	DailyWindowDays   int
	WeeklyBeyond      bool
	MaxTotal          int // 0 means unset/no cap
}

// DefaultRetentionPolicy mirrors the original's Default impl.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{HourlyWindowHours: 24, DailyWindowDays: 7, WeeklyBeyond: true}
}

// Entry is one history snapshot's metadata.
type Entry struct {
	TimestampMs int64
	Filename    string
	Path        string
	SizeBytes   int64
}

// Manager owns a history/ directory next to a live configuration file.
type Manager struct {
	historyDir string
	configPath string
	policy     RetentionPolicy
}

// NewManager creates the history/ directory under configDir if needed and
// returns a Manager that snapshots configDir/"Current Configuration.md".
func NewManager(configDir string, policy RetentionPolicy) (*Manager, error) {
	historyDir := filepath.Join(configDir, "history")
	if err := os.MkdirAll(historyDir, 0o755); err != nil {
		return nil, err
	}
	return &Manager{
		historyDir: historyDir,
		configPath: filepath.Join(configDir, liveFileName),
		policy:     policy,
	}, nil
}

// NewManagerWithDefaults is NewManager with DefaultRetentionPolicy().
func NewManagerWithDefaults(configDir string) (*Manager, error) {
	return NewManager(configDir, DefaultRetentionPolicy())
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// timestampToFilename formats a millisecond epoch timestamp as
// "YYYY-MM-DDTHH-MM-SS.md", UTC.
func timestampToFilename(nowMs int64) string {
	t := time.UnixMilli(nowMs).UTC()
	return t.Format("2006-01-02T15-04-05") + ".md"
}

func (m *Manager) listEntries() ([]Entry, error) {
	files, err := os.ReadDir(m.historyDir)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".md" {
			continue
		}
		stem := f.Name()[:len(f.Name())-len(".md")]
		if len(stem) > len("2006-01-02T15-04-05") {
			// Same-second snapshots carry a "-<nanoid>" suffix after the timestamp.
			stem = stem[:len("2006-01-02T15-04-05")]
		}
		ts, err := time.Parse("2006-01-02T15-04-05", stem)
		if err != nil {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			TimestampMs: ts.UTC().UnixMilli(),
			Filename:    f.Name(),
			Path:        filepath.Join(m.historyDir, f.Name()),
			SizeBytes:   info.Size(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TimestampMs != entries[j].TimestampMs {
			return entries[i].TimestampMs > entries[j].TimestampMs
		}
		return len(entries[i].Filename) > len(entries[j].Filename)
	})
	return entries, nil
}

// MaybeSnapshot writes a new snapshot of the live config file if it exists
// and its content differs from the newest existing entry. Returns nil if no
// snapshot was taken.
func (m *Manager) MaybeSnapshot(nowMs int64) (*Entry, error) {
	content, err := os.ReadFile(m.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	entries, err := m.listEntries()
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		latestContent, err := os.ReadFile(entries[0].Path)
		if err != nil {
			return nil, err
		}
		if contentHash(string(latestContent)) == contentHash(string(content)) {
			return nil, nil
		}
	}

	return m.writeSnapshot(string(content), nowMs)
}

// writeSnapshot writes content under a timestamp-derived filename,
// disambiguating with a short nanoid suffix on same-second collision.
func (m *Manager) writeSnapshot(content string, nowMs int64) (*Entry, error) {
	filename := timestampToFilename(nowMs)
	path := filepath.Join(m.historyDir, filename)
	if _, err := os.Stat(path); err == nil {
		suffix, err := gonanoid.Generate("abcdefghijklmnopqrstuvwxyz0123456789", 4)
		if err != nil {
			suffix = "xxxx"
		}
		filename = filename[:len(filename)-len(".md")] + "-" + suffix + ".md"
		path = filepath.Join(m.historyDir, filename)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &Entry{TimestampMs: nowMs, Filename: filename, Path: path, SizeBytes: info.Size()}, nil
}

// List returns all history entries, newest first.
func (m *Manager) List() ([]Entry, error) { return m.listEntries() }

// ListRange returns entries with TimestampMs in [fromMs, toMs].
func (m *Manager) ListRange(fromMs, toMs int64) ([]Entry, error) {
	entries, err := m.listEntries()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range entries {
		if e.TimestampMs >= fromMs && e.TimestampMs <= toMs {
			out = append(out, e)
		}
	}
	return out, nil
}

// Read returns the content of a history entry.
func (m *Manager) Read(e Entry) (string, error) {
	data, err := os.ReadFile(e.Path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Diff is a line-level comparison between two history entries.
type Diff struct {
	From        Entry
	To          Entry
	AddedLines  []string
	RemovedLines []string
	Summary     string
}

func lineDiff(fromContent, toContent string) (added, removed []string) {
	fromLines := splitLines(fromContent)
	toLines := splitLines(toContent)

	fromSet := make(map[string]bool, len(fromLines))
	for _, l := range fromLines {
		fromSet[l] = true
	}
	toSet := make(map[string]bool, len(toLines))
	for _, l := range toLines {
		toSet[l] = true
	}

	for _, l := range toLines {
		if !fromSet[l] {
			added = append(added, l)
		}
	}
	for _, l := range fromLines {
		if !toSet[l] {
			removed = append(removed, l)
		}
	}
	return added, removed
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func looksLikeAgentLine(line string) bool {
	t := strings.ToLower(strings.TrimSpace(line))
	return strings.HasPrefix(t, "- agent:") || strings.HasPrefix(t, "agent:") ||
		(strings.HasPrefix(t, "- ") && strings.Contains(t, "role:"))
}

func looksLikeSessionLine(line string) bool {
	t := strings.ToLower(strings.TrimSpace(line))
	return strings.HasPrefix(t, "## session") || strings.HasPrefix(t, "session:") ||
		(strings.HasPrefix(t, "- ") && strings.Contains(t, "session:"))
}

func looksLikeLayoutLine(line string) bool {
	t := strings.ToLower(strings.TrimSpace(line))
	return strings.HasPrefix(t, "layout:") || strings.Contains(t, "layout-expr:") || strings.Contains(t, "layout_expr:")
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// summarizeChanges produces a human-readable description of added/removed
// lines, preferring recognizable config-section counts over a raw line
// count.
func summarizeChanges(added, removed []string) string {
	var parts []string

	countIf := func(lines []string, pred func(string) bool) int {
		n := 0
		for _, l := range lines {
			if pred(l) {
				n++
			}
		}
		return n
	}

	if n := countIf(added, looksLikeAgentLine); n > 0 {
		parts = append(parts, fmt.Sprintf("%d agent%s added", n, plural(n)))
	}
	if n := countIf(removed, looksLikeAgentLine); n > 0 {
		parts = append(parts, fmt.Sprintf("%d agent%s removed", n, plural(n)))
	}
	if n := countIf(added, looksLikeSessionLine); n > 0 {
		parts = append(parts, fmt.Sprintf("%d session%s added", n, plural(n)))
	}
	if n := countIf(removed, looksLikeSessionLine); n > 0 {
		parts = append(parts, fmt.Sprintf("%d session%s removed", n, plural(n)))
	}
	layoutsChanged := countIf(added, looksLikeLayoutLine) + countIf(removed, looksLikeLayoutLine)
	if layoutsChanged > 0 {
		parts = append(parts, fmt.Sprintf("%d layout%s changed", layoutsChanged, plural(layoutsChanged)))
	}

	if len(parts) == 0 {
		total := len(added) + len(removed)
		return fmt.Sprintf("%d line%s changed", total, plural(total))
	}
	return strings.Join(parts, ", ")
}

// Diff compares two history entries' content and summarizes the change.
func (m *Manager) Diff(from, to Entry) (Diff, error) {
	fromContent, err := m.Read(from)
	if err != nil {
		return Diff{}, err
	}
	toContent, err := m.Read(to)
	if err != nil {
		return Diff{}, err
	}
	added, removed := lineDiff(fromContent, toContent)
	return Diff{
		From:         from,
		To:           to,
		AddedLines:   added,
		RemovedLines: removed,
		Summary:      summarizeChanges(added, removed),
	}, nil
}

// Restore overwrites the live config with entry's content. If the live file
// differs from the newest history entry, it is snapshotted first so the
// pre-restore state is preserved (spec.md §4.N, scenario S6).
func (m *Manager) Restore(entry Entry, nowMs int64) error {
	if _, err := m.MaybeSnapshot(nowMs); err != nil {
		return err
	}
	content, err := m.Read(entry)
	if err != nil {
		return err
	}
	return os.WriteFile(m.configPath, []byte(content), 0o644)
}

const (
	msPerHour = int64(3_600_000)
	msPerDay  = int64(86_400_000)
	msPerWeek = int64(604_800_000)
)

func hourlySlot(ms int64) int64 { return (ms / msPerHour) * msPerHour }
func dailySlot(ms int64) int64  { return (ms / msPerDay) * msPerDay }

// weeklySlot truncates to Monday midnight UTC of ms's week. The Unix epoch
// (1970-01-01) was a Thursday, day 4 of a Monday-start week; shifting by 3
// days puts epoch Thursday in the middle of its week before truncating to a
// 7-day boundary, then the shift is undone.
func weeklySlot(ms int64) int64 {
	const offset = 3 * msPerDay
	shifted := ms + offset
	truncated := (shifted / msPerWeek) * msPerWeek
	result := truncated - offset
	if result < 0 {
		return 0
	}
	return result
}

func saturatingSub(a, b int64) int64 {
	if b > a {
		return 0
	}
	return a - b
}

// entriesToPrune decides, from newest-first entries, which should be
// deleted: at most one kept per hourly slot within the hourly window, one
// per daily slot within the daily window, one per weekly slot beyond that
// (if WeeklyBeyond), then MaxTotal (if set) caps the kept set to the
// newest N.
func entriesToPrune(entries []Entry, nowMs int64, policy RetentionPolicy) []Entry {
	hourlyCutoff := saturatingSub(nowMs, int64(policy.HourlyWindowHours)*msPerHour)
	dailyCutoff := saturatingSub(nowMs, int64(policy.DailyWindowDays)*msPerDay)

	hourlySlots := make(map[int64]bool)
	dailySlots := make(map[int64]bool)
	weeklySlots := make(map[int64]bool)

	var keepIndices []int
	for i, e := range entries {
		ts := e.TimestampMs
		switch {
		case ts >= hourlyCutoff:
			slot := hourlySlot(ts)
			if !hourlySlots[slot] {
				hourlySlots[slot] = true
				keepIndices = append(keepIndices, i)
			}
		case ts >= dailyCutoff:
			slot := dailySlot(ts)
			if !dailySlots[slot] {
				dailySlots[slot] = true
				keepIndices = append(keepIndices, i)
			}
		case policy.WeeklyBeyond:
			slot := weeklySlot(ts)
			if !weeklySlots[slot] {
				weeklySlots[slot] = true
				keepIndices = append(keepIndices, i)
			}
		}
	}

	if policy.MaxTotal > 0 && len(keepIndices) > policy.MaxTotal {
		keepIndices = keepIndices[:policy.MaxTotal]
	}

	keepSet := make(map[int]bool, len(keepIndices))
	for _, i := range keepIndices {
		keepSet[i] = true
	}

	var toDelete []Entry
	for i, e := range entries {
		if !keepSet[i] {
			toDelete = append(toDelete, e)
		}
	}
	return toDelete
}

// Prune deletes entries the retention policy no longer keeps, returning the
// number deleted.
func (m *Manager) Prune(nowMs int64) (int, error) {
	entries, err := m.listEntries()
	if err != nil {
		return 0, err
	}
	toDelete := entriesToPrune(entries, nowMs, m.policy)
	deleted := 0
	for _, e := range toDelete {
		if err := os.Remove(e.Path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return deleted, fmt.Errorf("remove %s: %w", e.Path, err)
		}
		deleted++
	}
	return deleted, nil
}
