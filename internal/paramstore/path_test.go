package paramstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLiteralPath(t *testing.T) {
	p, err := Parse("task.AUTH1.status")
	require.NoError(t, err)
	assert.Equal(t, NamespaceTask, p.Namespace)
	require.Len(t, p.Segments, 2)
	assert.Equal(t, Segment{Kind: SegmentLiteral, Value: "AUTH1"}, p.Segments[0])
	assert.False(t, p.IsPattern())
}

func TestParseWildcardAndVariable(t *testing.T) {
	w, err := Parse("agent.*.health")
	require.NoError(t, err)
	assert.True(t, w.IsPattern())

	v, err := Parse("task.$t.status")
	require.NoError(t, err)
	assert.True(t, v.IsPattern())
	assert.Equal(t, "t", v.Segments[0].Value)
}

func TestParseDoubleWildcard(t *testing.T) {
	p, err := Parse("task.**")
	require.NoError(t, err)
	require.Len(t, p.Segments, 1)
	assert.Equal(t, SegmentDoubleWildcard, p.Segments[0].Kind)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("")
	assert.Error(t, err)
	_, err = Parse("bogus.x.y")
	assert.Error(t, err)
	_, err = Parse("task..status")
	assert.Error(t, err)
	_, err = Parse("task.$.status")
	assert.Error(t, err)
}

func TestToDottedRoundTrip(t *testing.T) {
	for _, s := range []string{"task.AUTH1.status", "agent.*.health", "task.$t.status"} {
		p, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, s, p.String())
	}
}

func TestMatchVariableBinding(t *testing.T) {
	pattern, _ := Parse("task.$t.status")
	concrete, _ := Parse("task.AUTH1.status")
	bindings, ok := pattern.Match(concrete)
	require.True(t, ok)
	assert.Equal(t, "AUTH1", bindings["t"])
}

func TestMatchWildcardWrongNamespace(t *testing.T) {
	pattern, _ := Parse("agent.*")
	concrete, _ := Parse("task.AUTH1")
	_, ok := pattern.Match(concrete)
	assert.False(t, ok)
}

func TestMatchWildcardTooShort(t *testing.T) {
	pattern, _ := Parse("agent.*.health")
	concrete, _ := Parse("agent.worker1")
	_, ok := pattern.Match(concrete)
	assert.False(t, ok)
}

func TestMatchDoubleWildcardZeroAndMultiple(t *testing.T) {
	pattern, _ := Parse("task.**")

	zero, _ := Parse("task")
	_, ok := pattern.Match(zero)
	assert.True(t, ok)

	deep, _ := Parse("task.AUTH1.sub.deep")
	_, ok = pattern.Match(deep)
	assert.True(t, ok)
}

func TestMatchDoubleWildcardWithSuffix(t *testing.T) {
	pattern, _ := Parse("task.**.status")
	deep, _ := Parse("task.AUTH1.sub.status")
	_, ok := pattern.Match(deep)
	assert.True(t, ok)
}

func TestMatchMultipleVariables(t *testing.T) {
	pattern, _ := Parse("task.$project.$task.status")
	concrete, _ := Parse("task.myproject.AUTH1.status")
	bindings, ok := pattern.Match(concrete)
	require.True(t, ok)
	assert.Equal(t, "myproject", bindings["project"])
	assert.Equal(t, "AUTH1", bindings["task"])
}

func TestMatchConflictingVariable(t *testing.T) {
	pattern, _ := Parse("task.$t.$t")

	same, _ := Parse("task.A.A")
	_, ok := pattern.Match(same)
	assert.True(t, ok)

	diff, _ := Parse("task.A.B")
	_, ok = pattern.Match(diff)
	assert.False(t, ok)
}
