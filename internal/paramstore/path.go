// Package paramstore implements the typed dotted-path parameter namespace
// (spec.md §4.O): path parsing with wildcard/variable patterns, and an
// in-memory store supporting GET/SET/APPEND with dirty tracking. Ported from
// original_source/core/src/namespace/{path,store}.rs.
package paramstore

import (
	"fmt"
	"strings"
)

// Namespace is a top-level parameter category.
type Namespace string

const (
	NamespaceTask    Namespace = "task"
	NamespaceAgent   Namespace = "agent"
	NamespaceFlow    Namespace = "flow"
	NamespaceProject Namespace = "project"
	NamespaceConfig  Namespace = "config"
	NamespaceSession Namespace = "session"
)

// ResolveNamespace parses the leading segment of a dotted path.
func ResolveNamespace(s string) (Namespace, error) {
	switch Namespace(s) {
	case NamespaceTask, NamespaceAgent, NamespaceFlow, NamespaceProject, NamespaceConfig, NamespaceSession:
		return Namespace(s), nil
	default:
		return "", fmt.Errorf("unknown namespace %q", s)
	}
}

// SegmentKind distinguishes the four forms a path segment can take.
type SegmentKind int

const (
	SegmentLiteral SegmentKind = iota
	SegmentWildcard
	SegmentDoubleWildcard
	SegmentVariable
)

// Segment is one dotted-path element.
type Segment struct {
	Kind  SegmentKind
	Value string // the literal text, or the variable name for SegmentVariable
}

func (s Segment) String() string {
	switch s.Kind {
	case SegmentWildcard:
		return "*"
	case SegmentDoubleWildcard:
		return "**"
	case SegmentVariable:
		return "$" + s.Value
	default:
		return s.Value
	}
}

// Path is a parsed dotted path: a namespace plus a sequence of segments.
type Path struct {
	Namespace Namespace
	Segments  []Segment
}

// Parse parses a dotted string like "task.AUTH1.status" into a Path. The
// first segment must name a known namespace; the rest may be literals, `*`,
// `**`, or `$var` bindings.
func Parse(input string) (Path, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Path{}, fmt.Errorf("empty path")
	}

	parts := strings.Split(input, ".")
	ns, err := ResolveNamespace(parts[0])
	if err != nil {
		return Path{}, err
	}

	segments := make([]Segment, 0, len(parts)-1)
	for _, part := range parts[1:] {
		if part == "" {
			return Path{}, fmt.Errorf("empty segment in path %q", input)
		}
		switch {
		case part == "**":
			segments = append(segments, Segment{Kind: SegmentDoubleWildcard})
		case part == "*":
			segments = append(segments, Segment{Kind: SegmentWildcard})
		case strings.HasPrefix(part, "$"):
			name := part[1:]
			if name == "" {
				return Path{}, fmt.Errorf("empty variable name")
			}
			segments = append(segments, Segment{Kind: SegmentVariable, Value: name})
		default:
			segments = append(segments, Segment{Kind: SegmentLiteral, Value: part})
		}
	}

	return Path{Namespace: ns, Segments: segments}, nil
}

// String formats the path back to its dotted form.
func (p Path) String() string {
	var b strings.Builder
	b.WriteString(string(p.Namespace))
	for _, seg := range p.Segments {
		b.WriteByte('.')
		b.WriteString(seg.String())
	}
	return b.String()
}

// IsPattern reports whether this path has any wildcard or variable segment.
func (p Path) IsPattern() bool {
	for _, s := range p.Segments {
		if s.Kind != SegmentLiteral {
			return true
		}
	}
	return false
}

// Match matches a concrete (non-pattern) path against this pattern,
// returning the captured variable bindings on success.
func (p Path) Match(concrete Path) (map[string]string, bool) {
	if p.Namespace != concrete.Namespace {
		return nil, false
	}
	bindings := make(map[string]string)
	if matchSegments(p.Segments, concrete.Segments, bindings) {
		return bindings, true
	}
	return nil, false
}

func matchSegments(pattern, concrete []Segment, bindings map[string]string) bool {
	if len(pattern) == 0 {
		return len(concrete) == 0
	}

	head := pattern[0]
	switch head.Kind {
	case SegmentDoubleWildcard:
		for skip := 0; skip <= len(concrete); skip++ {
			if matchSegments(pattern[1:], concrete[skip:], bindings) {
				return true
			}
		}
		return false

	case SegmentWildcard:
		if len(concrete) == 0 {
			return false
		}
		return matchSegments(pattern[1:], concrete[1:], bindings)

	case SegmentVariable:
		if len(concrete) == 0 || concrete[0].Kind != SegmentLiteral {
			return false
		}
		val := concrete[0].Value
		if existing, ok := bindings[head.Value]; ok {
			if existing != val {
				return false
			}
		} else {
			bindings[head.Value] = val
		}
		return matchSegments(pattern[1:], concrete[1:], bindings)

	default: // SegmentLiteral
		if len(concrete) == 0 || concrete[0].Kind != SegmentLiteral {
			return false
		}
		if head.Value != concrete[0].Value {
			return false
		}
		return matchSegments(pattern[1:], concrete[1:], bindings)
	}
}
