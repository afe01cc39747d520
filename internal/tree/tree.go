// Package tree keeps decoder output in memory as a labeled tree.
package tree

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"example.com/iuupgate/internal/iuup"
)

// Node is one decoded field and its children.
type Node struct {
	Label       string            `json:"label"`
	Kind        iuup.FieldKind    `json:"kind"`
	Start       int               `json:"start"`
	Length      int               `json:"length"`
	Value       any               `json:"value,omitempty"`
	Text        string            `json:"text,omitempty"`
	Generated   bool              `json:"generated,omitempty"`
	Annotations []iuup.Annotation `json:"annotations,omitempty"`
	Children    []*Node           `json:"children,omitempty"`
}

// New returns an empty root node.
func New() *Node {
	return &Node{Label: "root", Kind: iuup.FieldGroup}
}

func (n *Node) Add(f iuup.Field) iuup.Item {
	c := &Node{
		Label:     f.Label,
		Kind:      f.Kind,
		Start:     f.Start,
		Length:    f.Length,
		Value:     f.Value,
		Text:      f.Text,
		Generated: f.Generated,
	}
	n.Children = append(n.Children, c)
	return c
}

func (n *Node) Annotate(a iuup.Annotation) {
	n.Annotations = append(n.Annotations, a)
}

// Walk visits n and its descendants depth first. Returning false skips the
// children of the visited node.
func (n *Node) Walk(fn func(depth int, n *Node) bool) {
	n.walk(0, fn)
}

func (n *Node) walk(depth int, fn func(int, *Node) bool) {
	if !fn(depth, n) {
		return
	}
	for _, c := range n.Children {
		c.walk(depth+1, fn)
	}
}

// Find returns the first node with label in depth-first order.
func (n *Node) Find(label string) *Node {
	var found *Node
	n.Walk(func(_ int, c *Node) bool {
		if found != nil {
			return false
		}
		if c.Label == label {
			found = c
			return false
		}
		return true
	})
	return found
}

// FindAll returns every node with label.
func (n *Node) FindAll(label string) []*Node {
	var out []*Node
	n.Walk(func(_ int, c *Node) bool {
		if c.Label == label {
			out = append(out, c)
		}
		return true
	})
	return out
}

// AllAnnotations collects the annotations of the whole tree in order.
func (n *Node) AllAnnotations() []iuup.Annotation {
	var out []iuup.Annotation
	n.Walk(func(_ int, c *Node) bool {
		out = append(out, c.Annotations...)
		return true
	})
	return out
}

// MarshalJSON renders byte values as hex strings.
func (n *Node) MarshalJSON() ([]byte, error) {
	type plain Node
	p := plain(*n)
	if b, ok := n.Value.([]byte); ok {
		p.Value = hex.EncodeToString(b)
	}
	return json.Marshal(p)
}

// FormatValue renders a value the way Fprint shows it.
func FormatValue(n *Node) string {
	var s string
	switch v := n.Value.(type) {
	case nil:
		s = ""
	case []byte:
		s = hex.EncodeToString(v)
	case bool:
		if v {
			s = "1"
		} else {
			s = "0"
		}
	case float64:
		s = fmt.Sprintf("%.6f", v)
	default:
		s = fmt.Sprint(v)
	}
	if n.Text != "" {
		if s == "" {
			return n.Text
		}
		s += " (" + n.Text + ")"
	}
	if n.Generated {
		s = "[" + s + "]"
	}
	return s
}

// Fprint writes an indented dump of the tree below n.
func Fprint(w io.Writer, n *Node) error {
	var err error
	n.Walk(func(depth int, c *Node) bool {
		if err != nil {
			return false
		}
		if c == n && c.Label == "root" {
			return true
		}
		indent := strings.Repeat("  ", depth)
		line := c.Label
		if v := FormatValue(c); v != "" {
			line += ": " + v
		}
		if _, err = fmt.Fprintf(w, "%s%s\n", indent, line); err != nil {
			return false
		}
		for _, a := range c.Annotations {
			if _, err = fmt.Fprintf(w, "%s  ! %s %s: %s\n", indent, a.Severity, a.Kind, a.Message); err != nil {
				return false
			}
		}
		return true
	})
	return err
}
