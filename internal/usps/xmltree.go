package usps

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// textKey holds non-blank character data of elements that also carry attributes or children.
const textKey = "#text"

// Node is a schema-agnostic XML element. Text holds only the element's own character
// data; text inside child elements belongs to the children.
type Node struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*Node
}

// ParseTree parses a document strictly and returns its root element.
func ParseTree(data []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel

	var (
		root  *Node
		stack []*Node
		text  []*strings.Builder
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			node := &Node{Name: t.Name.Local}
			if len(t.Attr) > 0 {
				node.Attrs = make(map[string]string, len(t.Attr))
				for _, attr := range t.Attr {
					node.Attrs[attr.Name.Local] = attr.Value
				}
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("multiple root elements")
				}
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			}
			stack = append(stack, node)
			text = append(text, &strings.Builder{})
		case xml.EndElement:
			last := len(stack) - 1
			stack[last].Text = text[last].String()
			stack = stack[:last]
			text = text[:last]
		case xml.CharData:
			if len(text) > 0 {
				text[len(text)-1].Write(t)
			}
		}
	}
	if root == nil {
		return nil, errors.New("document has no root element")
	}
	return root, nil
}

// Child returns the first direct child with the given name.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, child := range n.Children {
		if child.Name == name {
			return child
		}
	}
	return nil
}

// ChildrenNamed returns every direct child with the given name in document order.
func (n *Node) ChildrenNamed(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, child := range n.Children {
		if child.Name == name {
			out = append(out, child)
		}
	}
	return out
}

// Lookup walks a path of child names from n.
func (n *Node) Lookup(path ...string) *Node {
	current := n
	for _, name := range path {
		current = current.Child(name)
		if current == nil {
			return nil
		}
	}
	return current
}

// Attr returns the value of an attribute and whether it was present.
func (n *Node) Attr(name string) (string, bool) {
	if n == nil {
		return "", false
	}
	v, ok := n.Attrs[name]
	return v, ok
}

// Map flattens the element: attributes and child elements share one key space,
// leaf children become strings and repeated children become []any.
func (n *Node) Map() map[string]any {
	out := make(map[string]any, len(n.Attrs)+len(n.Children))
	for k, v := range n.Attrs {
		out[k] = v
	}
	groups := make(map[string][]any, len(n.Children))
	order := make([]string, 0, len(n.Children))
	for _, child := range n.Children {
		if _, seen := groups[child.Name]; !seen {
			order = append(order, child.Name)
		}
		groups[child.Name] = append(groups[child.Name], child.value())
	}
	for _, name := range order {
		values := groups[name]
		if len(values) == 1 {
			out[name] = values[0]
			continue
		}
		out[name] = values
	}
	if strings.TrimSpace(n.Text) != "" {
		out[textKey] = n.Text
	}
	return out
}

func (n *Node) value() any {
	if len(n.Attrs) == 0 && len(n.Children) == 0 {
		return n.Text
	}
	return n.Map()
}
