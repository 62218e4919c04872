// Package flush manages batch persistence of parameter-store state to disk:
// dirty-file tracking, mtime-based external-edit detection, and "external
// wins" conflict resolution (spec.md §4.P). Ported from
// original_source/core/src/namespace/flush.rs.
package flush

import (
	"os"
	"time"
)

// Manager tracks which backing files need writing and detects when a file
// changed out from under it between flushes.
type Manager struct {
	dirtyFiles map[string]bool
	fileMtimes map[string]time.Time
	pathToFile map[string]string
}

// New creates an empty flush manager.
func New() *Manager {
	return &Manager{
		dirtyFiles: make(map[string]bool),
		fileMtimes: make(map[string]time.Time),
		pathToFile: make(map[string]string),
	}
}

// RegisterPath maps a dotted state path to its backing file. Multiple state
// paths may map to the same file.
func (m *Manager) RegisterPath(statePath, filePath string) {
	m.pathToFile[statePath] = filePath
}

// MarkDirty flags a file as needing a write.
func (m *Manager) MarkDirty(filePath string) {
	m.dirtyFiles[filePath] = true
}

// MarkDirtyByPath looks up statePath's backing file and marks it dirty. A
// noop if the path was never registered.
func (m *Manager) MarkDirtyByPath(statePath string) {
	if file, ok := m.pathToFile[statePath]; ok {
		m.dirtyFiles[file] = true
	}
}

// CheckExternalModifications compares each tracked file's current mtime
// against the last one recorded by RecordWrite, returning files whose
// on-disk mtime is now newer.
func (m *Manager) CheckExternalModifications() []string {
	var modified []string
	for path, recorded := range m.fileMtimes {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().After(recorded) {
			modified = append(modified, path)
		}
	}
	return modified
}

// DirtyFiles returns the files currently pending a write.
func (m *Manager) DirtyFiles() []string {
	files := make([]string, 0, len(m.dirtyFiles))
	for f := range m.dirtyFiles {
		files = append(files, f)
	}
	return files
}

// RecordWrite marks filePath clean and updates the mtime baseline used by
// CheckExternalModifications to this write's mtime.
func (m *Manager) RecordWrite(filePath string) {
	delete(m.dirtyFiles, filePath)
	if info, err := os.Stat(filePath); err == nil {
		m.fileMtimes[filePath] = info.ModTime()
	}
}

// Clear drops all dirty state.
func (m *Manager) Clear() {
	m.dirtyFiles = make(map[string]bool)
}

// ResolveConflicts discards the pending local write for any file that is
// both dirty and has been modified externally — external edits win. The
// mtime baseline for each discarded file is advanced to the external
// edit's mtime so it isn't flagged again next check.
func (m *Manager) ResolveConflicts() []string {
	externallyModified := make(map[string]bool)
	for _, f := range m.CheckExternalModifications() {
		externallyModified[f] = true
	}

	var conflicts []string
	for f := range m.dirtyFiles {
		if externallyModified[f] {
			conflicts = append(conflicts, f)
		}
	}

	for _, f := range conflicts {
		delete(m.dirtyFiles, f)
		if info, err := os.Stat(f); err == nil {
			m.fileMtimes[f] = info.ModTime()
		}
	}
	return conflicts
}

// FileForPath returns the backing file registered for statePath, if any.
func (m *Manager) FileForPath(statePath string) (string, bool) {
	f, ok := m.pathToFile[statePath]
	return f, ok
}

// DirtyCount returns the number of files currently pending a write.
func (m *Manager) DirtyCount() int { return len(m.dirtyFiles) }

// RegisteredCount returns the number of state-path-to-file mappings.
func (m *Manager) RegisteredCount() int { return len(m.pathToFile) }
