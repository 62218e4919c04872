// Package heartbeat infers an agent's state (ready, busy, errored, unknown)
// from the tail of a captured terminal pane (spec.md §4.T). Ported from
// original_source/core/src/monitor/heartbeat.rs.
package heartbeat

import (
	"strconv"
	"strings"
	"unicode"
)

// AgentState is the inferred state of an agent from its pane capture.
type AgentState string

const (
	StateReady   AgentState = "ready"
	StateBusy    AgentState = "busy"
	StateError   AgentState = "error"
	StateUnknown AgentState = "unknown"
)

// Result is the outcome of parsing one pane capture.
type Result struct {
	State          AgentState
	ContextPercent *uint32
	LastLine       string
}

var errorPatterns = []string{
	"Traceback (most recent call last)",
	"Error:",
	"error:",
	"ERROR:",
	"FAILED",
	"panic:",
	"fatal:",
	"FATAL:",
	"exception:",
	"Exception:",
}

// ParseCapture inspects output's tail to classify the agent's state.
// promptPattern is a plain substring (e.g. "$ ") indicating the agent sits
// at a shell prompt. Error patterns in the last 5 lines take priority over
// prompt detection.
func ParseCapture(output, promptPattern string) Result {
	lines := splitLines(output)
	lastLine := findLastNonempty(lines)
	contextPercent := detectContextPercent(lines)

	tailStart := 0
	if len(lines) > 5 {
		tailStart = len(lines) - 5
	}
	tail := lines[tailStart:]

	if hasErrorPattern(tail) {
		return Result{State: StateError, ContextPercent: contextPercent, LastLine: lastLine}
	}

	if lastLine != "" && strings.Contains(lastLine, promptPattern) {
		return Result{State: StateReady, ContextPercent: contextPercent, LastLine: lastLine}
	}

	if isClaudePrompt(lines) {
		return Result{State: StateReady, ContextPercent: contextPercent, LastLine: lastLine}
	}

	if strings.TrimSpace(output) != "" {
		return Result{State: StateBusy, ContextPercent: contextPercent, LastLine: lastLine}
	}

	return Result{State: StateUnknown, ContextPercent: contextPercent, LastLine: lastLine}
}

func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\n")
}

func findLastNonempty(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}

func detectContextPercent(lines []string) *uint32 {
	for i := len(lines) - 1; i >= 0; i-- {
		if pct, ok := extractContextPercent(strings.TrimSpace(lines[i])); ok {
			return &pct
		}
	}
	return nil
}

// extractContextPercent finds a pattern like "Context: 73%" (case
// insensitive, flexible on the separator between "context" and the digits).
func extractContextPercent(line string) (uint32, bool) {
	lower := strings.ToLower(line)
	ctxPos := strings.Index(lower, "context")
	if ctxPos == -1 {
		return 0, false
	}
	afterIdx := ctxPos + len("context")
	if afterIdx > len(line) {
		return 0, false
	}
	after := line[afterIdx:]

	numStart := -1
	for i, ch := range after {
		switch {
		case unicode.IsDigit(ch):
			if numStart == -1 {
				numStart = i
			}
		case ch == '%':
			if numStart == -1 {
				return 0, false
			}
			pct, err := strconv.ParseUint(after[numStart:i], 10, 32)
			if err != nil || pct > 100 {
				return 0, false
			}
			return uint32(pct), true
		default:
			if numStart != -1 {
				return 0, false
			}
		}
	}
	return 0, false
}

func hasErrorPattern(lines []string) bool {
	for _, line := range lines {
		for _, pattern := range errorPatterns {
			if strings.Contains(line, pattern) {
				return true
			}
		}
	}
	return false
}

// isClaudePrompt checks the last up-to-3 lines for a bare ">" prompt marker.
func isClaudePrompt(lines []string) bool {
	checkCount := len(lines)
	if checkCount > 3 {
		checkCount = 3
	}
	start := len(lines) - checkCount
	if start < 0 {
		start = 0
	}
	for _, line := range lines[start:] {
		trimmed := strings.TrimSpace(line)
		if trimmed == ">" || strings.HasSuffix(trimmed, "> ") {
			return true
		}
		if strings.HasSuffix(trimmed, ">") && len(trimmed) < 40 {
			return true
		}
	}
	return false
}
