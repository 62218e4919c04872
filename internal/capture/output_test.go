package capture

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPushAndRead(t *testing.T) {
	buf := NewBuffer(100)
	buf.PushLine("hello", Stdout, 1000)
	buf.PushLine("world", Stderr, 2000)

	assert.Equal(t, 2, buf.LineCount())
	assert.Equal(t, "hello", buf.Lines()[0].Text)
	assert.Equal(t, "world", buf.Lines()[1].Text)
}

func TestBufferLineNumbersSequential(t *testing.T) {
	buf := NewBuffer(100)
	buf.PushLine("a", Stdout, 100)
	buf.PushLine("b", Stdout, 200)
	buf.PushLine("c", Stdout, 300)

	assert.Equal(t, 1, buf.Lines()[0].LineNumber)
	assert.Equal(t, 2, buf.Lines()[1].LineNumber)
	assert.Equal(t, 3, buf.Lines()[2].LineNumber)
}

func TestBufferStreamTracking(t *testing.T) {
	buf := NewBuffer(100)
	buf.PushLine("out", Stdout, 100)
	buf.PushLine("err", Stderr, 200)

	assert.Equal(t, Stdout, buf.Lines()[0].Stream)
	assert.Equal(t, Stderr, buf.Lines()[1].Stream)
}

func TestBufferRingEviction(t *testing.T) {
	buf := NewBuffer(3)
	buf.PushLine("a", Stdout, 100)
	buf.PushLine("b", Stdout, 200)
	buf.PushLine("c", Stdout, 300)
	buf.PushLine("d", Stdout, 400)

	require.Equal(t, 3, buf.LineCount())
	assert.Equal(t, "b", buf.Lines()[0].Text)
	assert.Equal(t, "c", buf.Lines()[1].Text)
	assert.Equal(t, "d", buf.Lines()[2].Text)
}

func TestBufferRingEvictionMultiple(t *testing.T) {
	buf := NewBuffer(2)
	for i := 0; i < 10; i++ {
		buf.PushLine(fmt.Sprintf("line%d", i), Stdout, uint64(i)*100)
	}

	require.Equal(t, 2, buf.LineCount())
	assert.Equal(t, "line8", buf.Lines()[0].Text)
	assert.Equal(t, "line9", buf.Lines()[1].Text)
	assert.Equal(t, 10, buf.TotalLinesPushed())
}

func TestBufferLastN(t *testing.T) {
	buf := NewBuffer(100)
	for i := 0; i < 5; i++ {
		buf.PushLine(fmt.Sprintf("line%d", i), Stdout, uint64(i)*100)
	}

	last2 := buf.LastN(2)
	require.Len(t, last2, 2)
	assert.Equal(t, "line3", last2[0].Text)
	assert.Equal(t, "line4", last2[1].Text)
}

func TestBufferLastNMoreThanAvailable(t *testing.T) {
	buf := NewBuffer(100)
	buf.PushLine("only", Stdout, 100)

	last5 := buf.LastN(5)
	require.Len(t, last5, 1)
	assert.Equal(t, "only", last5[0].Text)
}

func TestBufferSearch(t *testing.T) {
	buf := NewBuffer(100)
	buf.PushLine("test passed", Stdout, 100)
	buf.PushLine("warning: unused var", Stderr, 200)
	buf.PushLine("test failed", Stdout, 300)
	buf.PushLine("all done", Stdout, 400)

	results := buf.Search("test")
	require.Len(t, results, 2)
	assert.Equal(t, "test passed", results[0].Text)
	assert.Equal(t, "test failed", results[1].Text)
}

func TestBufferSearchNoMatch(t *testing.T) {
	buf := NewBuffer(100)
	buf.PushLine("hello world", Stdout, 100)

	assert.Empty(t, buf.Search("xyz"))
}

func TestBufferClear(t *testing.T) {
	buf := NewBuffer(100)
	buf.PushLine("hello", Stdout, 100)
	buf.PushLine("world", Stdout, 200)
	buf.Clear()

	assert.Equal(t, 0, buf.LineCount())
	assert.Equal(t, 0, buf.ByteCount())
}

func TestBufferByteCount(t *testing.T) {
	buf := NewBuffer(100)
	buf.PushLine("hello", Stdout, 100)
	buf.PushLine("world!", Stdout, 200)

	assert.Equal(t, 11, buf.ByteCount())
}

func TestBufferByteCountAfterEviction(t *testing.T) {
	buf := NewBuffer(2)
	buf.PushLine("aaa", Stdout, 100)
	buf.PushLine("bb", Stdout, 200)
	buf.PushLine("c", Stdout, 300)

	assert.Equal(t, 3, buf.ByteCount())
}

func TestBufferEmpty(t *testing.T) {
	buf := NewBuffer(100)
	assert.Equal(t, 0, buf.LineCount())
	assert.Equal(t, 0, buf.ByteCount())
	assert.Empty(t, buf.Lines())
	assert.Empty(t, buf.LastN(5))
}

func TestBufferSingleCapacity(t *testing.T) {
	buf := NewBuffer(1)
	buf.PushLine("first", Stdout, 100)
	buf.PushLine("second", Stdout, 200)

	require.Equal(t, 1, buf.LineCount())
	assert.Equal(t, "second", buf.Lines()[0].Text)
}

func TestBufferTimestampPreserved(t *testing.T) {
	buf := NewBuffer(100)
	buf.PushLine("msg", Stdout, 42000)
	assert.EqualValues(t, 42000, buf.Lines()[0].TimestampMs)
}

func TestPatternMatchCapture(t *testing.T) {
	matcher := NewMatcher([]Pattern{{Pattern: "error", Action: PatternAction{Kind: Capture}}})

	line := Line{Text: "fatal error occurred", TimestampMs: 100, Stream: Stderr, LineNumber: 1}

	matches := matcher.ScanLine(line)
	require.Len(t, matches, 1)
	assert.Equal(t, Capture, matches[0].Pattern.Action.Kind)
}

func TestPatternNoMatch(t *testing.T) {
	matcher := NewMatcher([]Pattern{{Pattern: "error", Action: PatternAction{Kind: Alert}}})

	line := Line{Text: "all good", TimestampMs: 100, Stream: Stdout, LineNumber: 1}

	assert.Empty(t, matcher.ScanLine(line))
}

func TestPatternMultipleMatches(t *testing.T) {
	matcher := NewMatcher([]Pattern{
		{Pattern: "test", Action: PatternAction{Kind: Capture}},
		{Pattern: "fail", Action: PatternAction{Kind: Alert}},
	})

	line := Line{Text: "test failed", TimestampMs: 100, Stream: Stdout, LineNumber: 1}

	assert.Len(t, matcher.ScanLine(line), 2)
}

func TestPatternScanBuffer(t *testing.T) {
	matcher := NewMatcher([]Pattern{{Pattern: "ERROR", Action: PatternAction{Kind: Alert}}})

	buf := NewBuffer(100)
	buf.PushLine("INFO: starting", Stdout, 100)
	buf.PushLine("ERROR: disk full", Stderr, 200)
	buf.PushLine("INFO: retrying", Stdout, 300)
	buf.PushLine("ERROR: still full", Stderr, 400)

	assert.Len(t, matcher.ScanBuffer(buf), 2)
}

func TestPatternAddPattern(t *testing.T) {
	matcher := NewMatcher(nil)
	assert.Equal(t, 0, matcher.PatternCount())

	matcher.AddPattern(Pattern{Pattern: "warn", Action: PatternAction{Kind: Capture}})
	assert.Equal(t, 1, matcher.PatternCount())
}

func TestPatternIgnoreAction(t *testing.T) {
	matcher := NewMatcher([]Pattern{{Pattern: "debug", Action: PatternAction{Kind: Ignore}}})

	line := Line{Text: "debug: verbose info", TimestampMs: 100, Stream: Stdout, LineNumber: 1}

	matches := matcher.ScanLine(line)
	require.Len(t, matches, 1)
	assert.Equal(t, Ignore, matches[0].Pattern.Action.Kind)
}

func TestPatternTransformAction(t *testing.T) {
	matcher := NewMatcher([]Pattern{{Pattern: "secret", Action: PatternAction{Kind: Transform, Replacement: "[REDACTED]"}}})

	line := Line{Text: "secret=abc123", TimestampMs: 100, Stream: Stdout, LineNumber: 1}

	matches := matcher.ScanLine(line)
	require.Len(t, matches, 1)
	assert.Equal(t, "[REDACTED]", matches[0].Pattern.Action.Replacement)
}

func TestAggregatorPushAndGet(t *testing.T) {
	agg := NewAggregator(100)
	agg.PushLine("e1", "hello", Stdout, 100)
	agg.PushLine("e1", "world", Stdout, 200)
	agg.PushLine("e2", "other", Stderr, 300)

	assert.Equal(t, 2, agg.BufferCount())
	b1, ok := agg.GetBuffer("e1")
	require.True(t, ok)
	assert.Equal(t, 2, b1.LineCount())
	b2, ok := agg.GetBuffer("e2")
	require.True(t, ok)
	assert.Equal(t, 1, b2.LineCount())
}

func TestAggregatorRemoveBuffer(t *testing.T) {
	agg := NewAggregator(100)
	agg.PushLine("e1", "hello", Stdout, 100)
	assert.True(t, agg.RemoveBuffer("e1"))
	assert.False(t, agg.RemoveBuffer("e1"))
	assert.Equal(t, 0, agg.BufferCount())
}

func TestAggregatorGetNonexistent(t *testing.T) {
	agg := NewAggregator(100)
	_, ok := agg.GetBuffer("nope")
	assert.False(t, ok)
}

func TestAggregatorTotalLines(t *testing.T) {
	agg := NewAggregator(100)
	agg.PushLine("e1", "a", Stdout, 100)
	agg.PushLine("e1", "b", Stdout, 200)
	agg.PushLine("e2", "c", Stdout, 300)

	assert.Equal(t, 3, agg.TotalLineCount())
}

func TestAggregatorTotalBytes(t *testing.T) {
	agg := NewAggregator(100)
	agg.PushLine("e1", "hello", Stdout, 100)
	agg.PushLine("e2", "ab", Stdout, 200)

	assert.Equal(t, 7, agg.TotalByteCount())
}

func TestAggregatorBufferForCreates(t *testing.T) {
	agg := NewAggregator(50)
	buf := agg.BufferFor("new-exec")
	buf.PushLine("test", Stdout, 100)

	b, ok := agg.GetBuffer("new-exec")
	require.True(t, ok)
	assert.Equal(t, 1, b.LineCount())
}

func TestAggregatorEmpty(t *testing.T) {
	agg := NewAggregator(100)
	assert.Equal(t, 0, agg.BufferCount())
	assert.Equal(t, 0, agg.TotalLineCount())
	assert.Equal(t, 0, agg.TotalByteCount())
}
