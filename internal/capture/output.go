// Package capture buffers execution output, scans it against configurable
// patterns, and aggregates buffers across concurrent executions (spec.md
// §4.R). Ported from original_source/core/src/execution/output.rs.
package capture

import "strings"

// Stream identifies which output stream a line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Line is a single line of captured output.
type Line struct {
	Text        string
	TimestampMs uint64
	Stream      Stream
	LineNumber  int
}

// Buffer is a ring buffer of output lines with a configurable maximum
// capacity. Once full, pushing a new line evicts the oldest.
type Buffer struct {
	lines       []Line
	maxLines    int
	totalPushed int
	totalBytes  int
}

// NewBuffer creates a buffer holding at most maxLines lines.
func NewBuffer(maxLines int) *Buffer {
	return &Buffer{maxLines: maxLines}
}

// PushLine appends a line, evicting the oldest line first if at capacity.
func (b *Buffer) PushLine(text string, stream Stream, timestampMs uint64) {
	b.totalPushed++
	b.totalBytes += len(text)

	line := Line{Text: text, TimestampMs: timestampMs, Stream: stream, LineNumber: b.totalPushed}

	if len(b.lines) >= b.maxLines {
		if len(b.lines) > 0 {
			removed := b.lines[0]
			b.lines = b.lines[1:]
			b.totalBytes -= len(removed.Text)
			if b.totalBytes < 0 {
				b.totalBytes = 0
			}
		}
	}

	b.lines = append(b.lines, line)
}

// Lines returns all lines currently held in the buffer.
func (b *Buffer) Lines() []Line {
	return b.lines
}

// LastN returns the last n lines, or all lines if fewer than n are held.
func (b *Buffer) LastN(n int) []Line {
	if n >= len(b.lines) {
		return b.lines
	}
	return b.lines[len(b.lines)-n:]
}

// Search returns every line whose text contains pattern.
func (b *Buffer) Search(pattern string) []Line {
	var out []Line
	for _, l := range b.lines {
		if strings.Contains(l.Text, pattern) {
			out = append(out, l)
		}
	}
	return out
}

// Clear empties the buffer without resetting the total-pushed counter.
func (b *Buffer) Clear() {
	b.lines = nil
	b.totalBytes = 0
}

// LineCount returns the number of lines currently held.
func (b *Buffer) LineCount() int {
	return len(b.lines)
}

// ByteCount returns the total bytes of text currently held.
func (b *Buffer) ByteCount() int {
	return b.totalBytes
}

// TotalLinesPushed returns the number of lines ever pushed, including
// those since evicted.
func (b *Buffer) TotalLinesPushed() int {
	return b.totalPushed
}

// PatternActionKind discriminates what a matched pattern should do.
type PatternActionKind int

const (
	Capture PatternActionKind = iota
	Alert
	Ignore
	Transform
)

// PatternAction is the action paired with a matching pattern. Replacement
// is only meaningful when Kind is Transform.
type PatternAction struct {
	Kind        PatternActionKind
	Replacement string
}

// Pattern is a substring to match against output lines, with an action.
type Pattern struct {
	Pattern string
	Action  PatternAction
}

// Match records that Line matched Pattern.
type Match struct {
	Line    Line
	Pattern Pattern
}

// Matcher scans output lines against a set of registered patterns.
type Matcher struct {
	patterns []Pattern
}

// NewMatcher creates a matcher with the given initial patterns.
func NewMatcher(patterns []Pattern) *Matcher {
	return &Matcher{patterns: patterns}
}

// AddPattern registers an additional pattern.
func (m *Matcher) AddPattern(p Pattern) {
	m.patterns = append(m.patterns, p)
}

// ScanLine returns every registered pattern that matches line.
func (m *Matcher) ScanLine(line Line) []Match {
	var matches []Match
	for _, p := range m.patterns {
		if strings.Contains(line.Text, p.Pattern) {
			matches = append(matches, Match{Line: line, Pattern: p})
		}
	}
	return matches
}

// ScanBuffer scans every line in buf, returning all matches in order.
func (m *Matcher) ScanBuffer(buf *Buffer) []Match {
	var matches []Match
	for _, line := range buf.Lines() {
		matches = append(matches, m.ScanLine(line)...)
	}
	return matches
}

// PatternCount returns the number of registered patterns.
func (m *Matcher) PatternCount() int {
	return len(m.patterns)
}

// Aggregator tracks one output Buffer per execution ID.
type Aggregator struct {
	buffers        map[string]*Buffer
	defaultMaxLines int
}

// NewAggregator creates an aggregator whose per-execution buffers default
// to defaultMaxLines capacity.
func NewAggregator(defaultMaxLines int) *Aggregator {
	return &Aggregator{buffers: make(map[string]*Buffer), defaultMaxLines: defaultMaxLines}
}

// BufferFor returns the buffer for executionID, creating it if absent.
func (a *Aggregator) BufferFor(executionID string) *Buffer {
	buf, ok := a.buffers[executionID]
	if !ok {
		buf = NewBuffer(a.defaultMaxLines)
		a.buffers[executionID] = buf
	}
	return buf
}

// PushLine appends a line to the buffer for executionID.
func (a *Aggregator) PushLine(executionID, text string, stream Stream, timestampMs uint64) {
	a.BufferFor(executionID).PushLine(text, stream, timestampMs)
}

// GetBuffer returns the buffer for executionID, if one exists.
func (a *Aggregator) GetBuffer(executionID string) (*Buffer, bool) {
	buf, ok := a.buffers[executionID]
	return buf, ok
}

// RemoveBuffer deletes the buffer for executionID, reporting whether one
// existed.
func (a *Aggregator) RemoveBuffer(executionID string) bool {
	_, ok := a.buffers[executionID]
	delete(a.buffers, executionID)
	return ok
}

// BufferCount returns the number of tracked buffers.
func (a *Aggregator) BufferCount() int {
	return len(a.buffers)
}

// TotalLineCount sums LineCount across all tracked buffers.
func (a *Aggregator) TotalLineCount() int {
	total := 0
	for _, buf := range a.buffers {
		total += buf.LineCount()
	}
	return total
}

// TotalByteCount sums ByteCount across all tracked buffers.
func (a *Aggregator) TotalByteCount() int {
	total := 0
	for _, buf := range a.buffers {
		total += buf.ByteCount()
	}
	return total
}
