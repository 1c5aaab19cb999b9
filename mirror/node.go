// Package mirror maintains an in-memory tree whose shape mirrors the
// directories and log files beneath a store root.
//
// Each Node is explicitly tagged as a Leaf (a log file) or a Directory.
// A Directory is Expanded when its Children reflect its contents; a Directory
// which is not Expanded is known to exist, but its contents were not read or
// were cut off by a depth-bounded projection. Trees built by Rebuild and trees
// grown by Insert are structurally identical.
package mirror

import (
	"encoding/json"
	"sort"
)

// Kind tags a Node as a file or a directory.
type Kind int

const (
	// Leaf is a log file.
	Leaf Kind = iota
	// Directory is a directory which may contain Leaves and Directories.
	Directory
)

func (k Kind) String() string {
	if k == Leaf {
		return "leaf"
	}
	return "dir"
}

// Node is an element of the mirror.
type Node struct {
	Kind     Kind
	Expanded bool
	Children map[string]*Node
}

// NewDirectory returns an empty, expanded Directory.
func NewDirectory() *Node {
	return &Node{Kind: Directory, Expanded: true, Children: make(map[string]*Node)}
}

func newLeaf() *Node { return &Node{Kind: Leaf} }

// IsLeaf returns whether the Node is a log file.
func (n *Node) IsLeaf() bool { return n.Kind == Leaf }

// Names returns the sorted names of the Node's children.
func (n *Node) Names() []string {
	var out = make([]string, 0, len(n.Children))
	for name := range n.Children {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Insert ensures each of |path| but the last exists as an expanded Directory,
// and that the last segment is a Leaf. Insert is idempotent. A final segment
// which already names a Directory is left as-is.
func (n *Node) Insert(path ...string) {
	if len(path) == 0 {
		return
	}
	var parent = n.ensureDirs(path[:len(path)-1])
	var name = path[len(path)-1]

	if _, ok := parent.Children[name]; !ok {
		parent.Children[name] = newLeaf()
	}
}

// InsertDir ensures each of |path| exists as an expanded Directory.
func (n *Node) InsertDir(path ...string) {
	n.ensureDirs(path)
}

func (n *Node) ensureDirs(path []string) *Node {
	var cur = n
	for _, seg := range path {
		var child, ok = cur.Children[seg]

		if !ok || child.Kind == Leaf {
			// A Leaf shadowed by a Directory of the same name can only
			// arise from external modification of the store root.
			child = NewDirectory()
			cur.Children[seg] = child
		} else if !child.Expanded {
			child.Expanded = true
			if child.Children == nil {
				child.Children = make(map[string]*Node)
			}
		}
		cur = child
	}
	return cur
}

// Lookup returns the Node at |path|.
func (n *Node) Lookup(path ...string) (*Node, bool) {
	var cur = n
	for _, seg := range path {
		if cur.Kind == Leaf || cur.Children == nil {
			return nil, false
		}
		var child, ok = cur.Children[seg]
		if !ok {
			return nil, false
		}
		cur = child
	}
	return cur, true
}

// Remove detaches the Node named by the last segment of |path| from its
// parent, returning whether a Node was removed. Ancestors which become empty
// are not removed.
func (n *Node) Remove(path ...string) bool {
	if len(path) == 0 {
		return false
	}
	var parent, ok = n.Lookup(path[:len(path)-1]...)
	if !ok || parent.Kind == Leaf {
		return false
	}
	var name = path[len(path)-1]

	if _, ok = parent.Children[name]; !ok {
		return false
	}
	delete(parent.Children, name)
	return true
}

// Project returns a deep copy of the Node bounded to |depth|. A negative
// |depth| is unbounded. At |depth| zero, children are listed but child
// Directories are not expanded; each additional level of |depth| expands
// one further level of Directories.
func (n *Node) Project(depth int) *Node {
	if n.Kind == Leaf {
		return newLeaf()
	}
	var out = &Node{
		Kind:     Directory,
		Expanded: n.Expanded,
		Children: make(map[string]*Node, len(n.Children)),
	}
	for name, child := range n.Children {
		if child.Kind == Leaf {
			out.Children[name] = newLeaf()
		} else if depth == 0 {
			out.Children[name] = &Node{Kind: Directory}
		} else {
			out.Children[name] = child.Project(depth - 1)
		}
	}
	return out
}

type jsonNode struct {
	Kind     string           `json:"kind"`
	Expanded bool             `json:"expanded,omitempty"`
	Children map[string]*Node `json:"children,omitempty"`
}

// MarshalJSON encodes the Node as {"kind":"dir"|"leaf","expanded":..,"children":{..}}.
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonNode{
		Kind:     n.Kind.String(),
		Expanded: n.Expanded,
		Children: n.Children,
	})
}

// UnmarshalJSON decodes a Node encoded by MarshalJSON.
func (n *Node) UnmarshalJSON(b []byte) error {
	var jn jsonNode
	if err := json.Unmarshal(b, &jn); err != nil {
		return err
	}
	n.Kind, n.Expanded, n.Children = Leaf, false, nil

	if jn.Kind == "dir" {
		n.Kind, n.Expanded, n.Children = Directory, jn.Expanded, jn.Children
		if n.Children == nil {
			n.Children = make(map[string]*Node)
		}
	}
	return nil
}
