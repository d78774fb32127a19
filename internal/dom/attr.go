// internal/dom/attr.go
package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// GetAttr returns the value of the first attribute named key.
func GetAttr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets key on n, replacing the first existing value in place.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr drops every attribute named key and reports whether any existed.
func RemoveAttr(n *html.Node, key string) bool {
	kept := n.Attr[:0]
	removed := false
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			removed = true
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
	return removed
}

// ClassList returns the whitespace separated tokens of the class attribute.
func ClassList(n *html.Node) []string {
	v, _ := GetAttr(n, "class")
	return strings.Fields(v)
}

// IsElement reports whether n is an element with the given (lower-case) tag.
// An empty tag matches any element.
func IsElement(n *html.Node, tag string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	return tag == "" || strings.EqualFold(n.Data, tag)
}

// FindFirst walks the subtree of root (excluding root) in document order and
// returns the first node accepted by match.
func FindFirst(root *html.Node, match func(*html.Node) bool) *html.Node {
	if root == nil {
		return nil
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if match(c) {
			return c
		}
		if found := FindFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

// Contains reports whether n lies in the subtree rooted at root (inclusive).
func Contains(root, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

// depthBelow returns how many levels n sits below root, or -1 when n is not
// a descendant of root.
func depthBelow(root, n *html.Node) int {
	d := 0
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return d
		}
		d++
	}
	return -1
}
