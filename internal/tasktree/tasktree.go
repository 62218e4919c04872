// Package tasktree holds the nested task model (spec.md §3 "Task node") and
// its bottom-up status propagation. Ported from
// original_source/core/src/data/task_tree.rs.
package tasktree

import "fmt"

// Status is a task node's lifecycle state.
type Status string

const (
	Pending    Status = "pending"
	InProgress Status = "in_progress"
	Completed  Status = "completed"
	Failed     Status = "failed"
	Paused     Status = "paused"
	Cancelled  Status = "cancelled"
)

// Node is one task in the tree. Children form an arbitrary nested structure.
type Node struct {
	ID       string
	Title    string
	Status   Status
	Result   *string
	Agent    *string
	SpecPath *string
	Children []Node
}

// Tree holds all root-level tasks.
type Tree struct {
	roots []Node
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{}
}

// AddRoot appends a root-level task.
func (t *Tree) AddRoot(node Node) {
	t.roots = append(t.roots, node)
}

// Roots returns every root-level task.
func (t *Tree) Roots() []Node {
	return t.roots
}

// Get finds a task by id anywhere in the tree.
func (t *Tree) Get(id string) (*Node, bool) {
	for i := range t.roots {
		if found := findNode(&t.roots[i], id); found != nil {
			return found, true
		}
	}
	return nil, false
}

func findNode(node *Node, id string) *Node {
	if node.ID == id {
		return node
	}
	for i := range node.Children {
		if found := findNode(&node.Children[i], id); found != nil {
			return found
		}
	}
	return nil
}

// SetStatus sets the status of the named task, failing if it isn't found.
func (t *Tree) SetStatus(id string, status Status) error {
	node, ok := t.Get(id)
	if !ok {
		return fmt.Errorf("task not found: %s", id)
	}
	node.Status = status
	return nil
}

// Assign sets agent on the named task and marks it InProgress.
func (t *Tree) Assign(taskID, agent string) error {
	node, ok := t.Get(taskID)
	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}
	a := agent
	node.Agent = &a
	node.Status = InProgress
	return nil
}

// Unassign clears the named task's agent, returning the previous value.
func (t *Tree) Unassign(taskID string) (*string, error) {
	node, ok := t.Get(taskID)
	if !ok {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	old := node.Agent
	node.Agent = nil
	return old, nil
}

// PropagateStatus recomputes every non-leaf node's status bottom-up: a
// parent becomes Completed if all children are, Failed if any child is
// Failed, InProgress if any child is InProgress; otherwise it is left
// unchanged (so an all-Pending subtree stays Pending).
func (t *Tree) PropagateStatus() {
	for i := range t.roots {
		propagateNode(&t.roots[i])
	}
}

func propagateNode(node *Node) Status {
	if len(node.Children) == 0 {
		return node.Status
	}

	childStatuses := make([]Status, len(node.Children))
	for i := range node.Children {
		childStatuses[i] = propagateNode(&node.Children[i])
	}

	allCompleted, anyFailed, anyInProgress := true, false, false
	for _, s := range childStatuses {
		if s != Completed {
			allCompleted = false
		}
		if s == Failed {
			anyFailed = true
		}
		if s == InProgress {
			anyInProgress = true
		}
	}

	switch {
	case allCompleted:
		node.Status = Completed
	case anyFailed:
		node.Status = Failed
	case anyInProgress:
		node.Status = InProgress
	}

	return node.Status
}

// FlatEntry pairs a task with its depth (0 = root) in a depth-first walk.
type FlatEntry struct {
	Node  *Node
	Depth int
}

// FlatList returns every task in depth-first order with its indent depth.
func (t *Tree) FlatList() []FlatEntry {
	var out []FlatEntry
	for i := range t.roots {
		flattenNode(&t.roots[i], 0, &out)
	}
	return out
}

func flattenNode(node *Node, depth int, out *[]FlatEntry) {
	*out = append(*out, FlatEntry{Node: node, Depth: depth})
	for i := range node.Children {
		flattenNode(&node.Children[i], depth+1, out)
	}
}
