package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddDuplicateFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(Agent{Name: "worker1", Role: "worker"}))
	err := r.Add(Agent{Name: "worker1", Role: "worker"})
	assert.ErrorIs(t, err, ErrExists)
}

// TestAssignUnassignInvariant checks spec.md invariant 1:
// a.task.is_some() <=> a.status = Busy.
func TestAssignUnassignInvariant(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(Agent{Name: "worker1", Role: "worker"}))

	a, _ := r.Get("worker1")
	assert.Nil(t, a.Task)
	assert.Equal(t, StatusIdle, a.Status)

	require.NoError(t, r.Assign("worker1", "CMX1"))
	a, _ = r.Get("worker1")
	require.NotNil(t, a.Task)
	assert.Equal(t, "CMX1", *a.Task)
	assert.Equal(t, StatusBusy, a.Status)

	old, err := r.Unassign("worker1")
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, "CMX1", *old)

	a, _ = r.Get("worker1")
	assert.Nil(t, a.Task)
	assert.Equal(t, StatusIdle, a.Status)
}

func TestRemoveIsTotal(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(Agent{Name: "worker1", Role: "worker"}))
	_, err := r.Remove("worker1")
	require.NoError(t, err)
	_, ok := r.Get("worker1")
	assert.False(t, ok)
	assert.Empty(t, r.List())
}

func TestNextNameNoAgents(t *testing.T) {
	r := New()
	assert.Equal(t, "worker1", r.NextName("worker"))
}

func TestNextNameScansSuffix(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(Agent{Name: "worker1", Role: "worker"}))
	require.NoError(t, r.Add(Agent{Name: "worker5", Role: "worker"}))
	require.NoError(t, r.Add(Agent{Name: "worker2", Role: "worker"}))
	assert.Equal(t, "worker6", r.NextName("worker"))
}

// TestNextNameUnique checks invariant 3: the returned name collides with no
// current agent and has the form {lower(role)}{k}.
func TestNextNameUnique(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(Agent{Name: "worker3", Role: "worker"}))
	name := r.NextName("worker")
	_, exists := r.Get(name)
	assert.False(t, exists)
	assert.Equal(t, "worker4", name)
}

func TestFindByRoleCaseInsensitive(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(Agent{Name: "a1", Role: "Worker"}))
	require.NoError(t, r.Add(Agent{Name: "a2", Role: "reviewer"}))
	found := r.FindByRole("worker")
	require.Len(t, found, 1)
	assert.Equal(t, "a1", found[0].Name)
}
