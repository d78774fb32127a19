// internal/dom/path.go
package dom

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Separator joins path segments.
const Separator = " > "

// ReservedPrefix marks classes and attributes owned by the editor itself.
const ReservedPrefix = "ai-edit-"

// statePrefixes mark classes that encode interactive state and therefore
// change while the user works with the page.
var statePrefixes = []string{
	"hover", "focus", "active", "visited", "disabled",
	"group-", "peer-", "is-", "has-", ReservedPrefix,
}

// Segment addresses one element relative to its parent. Classes and ID hold
// raw (unescaped) values.
type Segment struct {
	Tag     string
	ID      string
	Classes []string
	// Nth is the 1-based position among same-tag siblings, or 0 when the tag
	// is unique among its siblings or an ID is present.
	Nth int
}

// ElementPath is the string form of a root-to-target segment list.
type ElementPath string

// IsStableClass reports whether a class can be used to address an element.
func IsStableClass(class string) bool {
	if class == "" || strings.Contains(class, ":") {
		return false
	}
	for _, p := range statePrefixes {
		if strings.HasPrefix(class, p) {
			return false
		}
	}
	return true
}

// BuildPath computes the path from root (exclusive) down to target.
func BuildPath(target, root *html.Node) (ElementPath, error) {
	if target == nil || root == nil {
		return "", errors.New("target and root are required")
	}
	if target.Type != html.ElementNode {
		return "", fmt.Errorf("target must be an element, got node type %d", target.Type)
	}
	if target == root {
		return "", errors.New("target is the search root")
	}

	var segments []Segment
	for n := target; n != root; n = n.Parent {
		if n == nil || n.Type != html.ElementNode {
			return "", errors.New("target node is not a descendant of root")
		}
		segments = append(segments, segmentFor(n))
	}

	// Reverse to root-to-target order.
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return FormatPath(segments), nil
}

func segmentFor(n *html.Node) Segment {
	seg := Segment{Tag: strings.ToLower(n.Data)}
	if id, _ := GetAttr(n, "id"); id != "" {
		seg.ID = id
		return seg
	}
	for _, c := range ClassList(n) {
		if IsStableClass(c) {
			seg.Classes = append(seg.Classes, c)
		}
	}

	index, total := 0, 0
	if n.Parent != nil {
		for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
			if s.Type != html.ElementNode || s.Data != n.Data {
				continue
			}
			total++
			if s == n {
				index = total
			}
		}
	}
	if total > 1 {
		seg.Nth = index
	}
	return seg
}

// FormatPath renders segments in their human readable form. Brackets and
// parentheses inside class names stay readable; the resolver escapes them
// before any lookup.
func FormatPath(segments []Segment) ElementPath {
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = s.format(true, true, true, true)
	}
	return ElementPath(strings.Join(parts, Separator))
}

// format renders one segment. readable keeps brackets and parentheses raw.
func (s Segment) format(withID, withClasses, withNth, readable bool) string {
	var b strings.Builder
	b.WriteString(s.Tag)
	if withID && s.ID != "" {
		b.WriteByte('#')
		b.WriteString(EscapeIdent(s.ID, readable))
	}
	if withClasses {
		for _, c := range s.Classes {
			b.WriteByte('.')
			b.WriteString(EscapeIdent(c, readable))
		}
	}
	if withNth && s.Nth > 0 {
		b.WriteString(":nth-of-type(")
		b.WriteString(strconv.Itoa(s.Nth))
		b.WriteByte(')')
	}
	return b.String()
}

// -- Escaping --

func isNameChar(r rune) bool {
	return r == '-' || r == '_' || r >= utf8.RuneSelf ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// EscapeIdent escapes s for use as a selector identifier. With keepBrackets
// set, "[]()" are left raw; that form is only used inside ElementPath strings.
func EscapeIdent(s string, keepBrackets bool) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case i == 0 && isDigit(r),
			i == 1 && s[0] == '-' && isDigit(r):
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 1 && s[0] == '-' && r == '-':
			b.WriteString(`\-`)
		case isNameChar(r):
			b.WriteRune(r)
		case keepBrackets && strings.ContainsRune("[]()", r):
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f || r == ' ':
			fmt.Fprintf(&b, "\\%x ", r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

// -- Parsing --

// ParsePath splits a path string into segments, undoing identifier escapes.
func ParsePath(path ElementPath) ([]Segment, error) {
	p := &pathScanner{s: string(path)}
	var segments []Segment
	p.skipSpace()
	for !p.done() {
		seg, err := p.segment()
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
		p.skipSpace()
		if p.done() {
			break
		}
		if p.peek() != '>' {
			return nil, fmt.Errorf("expected '>' at offset %d in path %q", p.i, path)
		}
		p.i++
		p.skipSpace()
		if p.done() {
			return nil, fmt.Errorf("path %q ends with a separator", path)
		}
	}
	if len(segments) == 0 {
		return nil, errors.New("path is empty")
	}
	return segments, nil
}

type pathScanner struct {
	s string
	i int
}

func (p *pathScanner) done() bool { return p.i >= len(p.s) }

func (p *pathScanner) peek() byte { return p.s[p.i] }

func (p *pathScanner) skipSpace() {
	for !p.done() && strings.IndexByte(" \t\r\n\f", p.peek()) >= 0 {
		p.i++
	}
}

func (p *pathScanner) segment() (Segment, error) {
	var seg Segment
	start := p.i
	for !p.done() && (isNameChar(rune(p.peek())) || p.peek() == '*') {
		p.i++
	}
	seg.Tag = strings.ToLower(p.s[start:p.i])
	if seg.Tag == "" {
		return seg, fmt.Errorf("missing tag name at offset %d", start)
	}

	for !p.done() {
		switch p.peek() {
		case '#':
			p.i++
			id, err := p.ident()
			if err != nil {
				return seg, err
			}
			seg.ID = id
		case '.':
			p.i++
			class, err := p.ident()
			if err != nil {
				return seg, err
			}
			seg.Classes = append(seg.Classes, class)
		case ':':
			const prefix = ":nth-of-type("
			if !strings.HasPrefix(p.s[p.i:], prefix) {
				return seg, fmt.Errorf("unsupported pseudo-class at offset %d", p.i)
			}
			p.i += len(prefix)
			end := strings.IndexByte(p.s[p.i:], ')')
			if end < 0 {
				return seg, errors.New("unterminated :nth-of-type")
			}
			n, err := strconv.Atoi(strings.TrimSpace(p.s[p.i : p.i+end]))
			if err != nil || n < 1 {
				return seg, fmt.Errorf("invalid :nth-of-type argument %q", p.s[p.i:p.i+end])
			}
			seg.Nth = n
			p.i += end + 1
		default:
			return seg, nil
		}
	}
	return seg, nil
}

// ident reads an identifier up to the next unescaped delimiter.
func (p *pathScanner) ident() (string, error) {
	var b strings.Builder
	for !p.done() {
		c := p.peek()
		if strings.IndexByte(".#: \t\r\n\f>", c) >= 0 {
			break
		}
		if c != '\\' {
			r, size := utf8.DecodeRuneInString(p.s[p.i:])
			b.WriteRune(r)
			p.i += size
			continue
		}
		p.i++
		if p.done() {
			return "", errors.New("dangling escape at end of path")
		}
		if hex := p.hexRun(); hex != "" {
			v, _ := strconv.ParseUint(hex, 16, 32)
			b.WriteRune(rune(v))
			if !p.done() && p.peek() == ' ' {
				p.i++
			}
			continue
		}
		r, size := utf8.DecodeRuneInString(p.s[p.i:])
		b.WriteRune(r)
		p.i += size
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("empty identifier at offset %d", p.i)
	}
	return b.String(), nil
}

func (p *pathScanner) hexRun() string {
	start := p.i
	for !p.done() && p.i-start < 6 && strings.IndexByte("0123456789abcdefABCDEF", p.peek()) >= 0 {
		p.i++
	}
	return p.s[start:p.i]
}
