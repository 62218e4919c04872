package flush

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkDirtyIdempotent(t *testing.T) {
	m := New()
	m.MarkDirty("/tmp/a.json")
	m.MarkDirty("/tmp/a.json")
	assert.Equal(t, 1, m.DirtyCount())
}

func TestRegisterPathAndMarkDirtyByPath(t *testing.T) {
	m := New()
	m.RegisterPath("task.AUTH1.status", "/tmp/tasks.md")
	m.MarkDirtyByPath("task.AUTH1.status")
	assert.Contains(t, m.DirtyFiles(), "/tmp/tasks.md")
}

func TestMarkDirtyByUnregisteredPathIsNoop(t *testing.T) {
	m := New()
	m.MarkDirtyByPath("task.NOPE.status")
	assert.Empty(t, m.DirtyFiles())
}

func TestRecordWriteClearsDirtyAndTracksMtime(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))

	m := New()
	m.MarkDirty(file)
	require.Equal(t, 1, m.DirtyCount())

	m.RecordWrite(file)
	assert.Equal(t, 0, m.DirtyCount())
}

func TestExternalModificationDetected(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"v":1}`), 0o644))

	m := New()
	m.RecordWrite(file)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(file, []byte(`{"v":2}`), 0o644))

	modified := m.CheckExternalModifications()
	assert.Equal(t, []string{file}, modified)
}

func TestNoExternalModificationWhenUnchanged(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "stable.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))

	m := New()
	m.RecordWrite(file)
	assert.Empty(t, m.CheckExternalModifications())
}

func TestResolveConflictsExternalWins(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "conflict.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))

	m := New()
	m.RecordWrite(file)
	m.MarkDirty(file)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(file, []byte(`{"ext":true}`), 0o644))

	discarded := m.ResolveConflicts()
	assert.Equal(t, []string{file}, discarded)
	assert.Empty(t, m.DirtyFiles())
}

func TestResolveConflictsNoExternalEditKeepsDirty(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "local.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))

	m := New()
	m.RecordWrite(file)
	m.MarkDirty(file)

	discarded := m.ResolveConflicts()
	assert.Empty(t, discarded)
	assert.Contains(t, m.DirtyFiles(), file)
}

func TestClearRemovesAllDirty(t *testing.T) {
	m := New()
	m.MarkDirty("/tmp/a.json")
	m.MarkDirty("/tmp/b.json")
	require.Equal(t, 2, m.DirtyCount())
	m.Clear()
	assert.Equal(t, 0, m.DirtyCount())
}

func TestFileForPathLookup(t *testing.T) {
	m := New()
	m.RegisterPath("task.AUTH1.status", "/projects/tasks.md")
	file, ok := m.FileForPath("task.AUTH1.status")
	require.True(t, ok)
	assert.Equal(t, "/projects/tasks.md", file)

	_, ok = m.FileForPath("task.NOPE")
	assert.False(t, ok)
}

func TestMultiplePathsSameFileOnlyOneDirtyEntry(t *testing.T) {
	m := New()
	m.RegisterPath("task.AUTH1.status", "/projects/tasks.md")
	m.RegisterPath("task.AUTH1.assignee", "/projects/tasks.md")
	assert.Equal(t, 2, m.RegisteredCount())

	m.MarkDirtyByPath("task.AUTH1.status")
	m.MarkDirtyByPath("task.AUTH1.assignee")
	assert.Equal(t, 1, m.DirtyCount())
}

func TestCheckExternalOnMissingFileDoesNotCrash(t *testing.T) {
	m := New()
	m.fileMtimes["/nonexistent/file.json"] = time.Now()
	assert.Empty(t, m.CheckExternalModifications())
}
