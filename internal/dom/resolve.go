// internal/dom/resolve.go
package dom

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Strategy names one step of the resolution cascade.
type Strategy string

const (
	StrategyExact         Strategy = "exact"
	StrategyStripBrackets Strategy = "strip_brackets"
	StrategyTagAndID      Strategy = "tag_and_id"
	StrategyID            Strategy = "id"
	StrategyTruncate      Strategy = "truncate"

	// StrategyMarker is reported when an element was found through a session
	// marker that was still in the document. The resolver never returns it.
	StrategyMarker Strategy = "marker"
)

// Resolution is the result of a successful lookup.
type Resolution struct {
	Node     *html.Node
	Strategy Strategy
}

// Resolver re-locates elements from paths produced by BuildPath. It trades
// positional precision for resilience one step at a time and always prefers
// the most exact strategy that still matches.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver creates a resolver. A nil logger disables logging.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger.Named("resolver")}
}

// Resolve locates path beneath root. It never panics; on failure it returns
// an *ElementNotFoundError.
func (r *Resolver) Resolve(path ElementPath, root *html.Node) (res Resolution, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = Resolution{}, NewElementNotFoundError(string(path), fmt.Sprintf("resolver panic: %v", p))
		}
	}()

	if root == nil {
		return Resolution{}, NewElementNotFoundError(string(path), "search root is not available")
	}
	segments, err := ParsePath(path)
	if err != nil {
		return Resolution{}, NewElementNotFoundError(string(path), err.Error())
	}

	// 1. Full path with every qualifier escaped.
	if n := r.anchored(path, StrategyExact, root, segments, exactForm); n != nil {
		return r.found(path, n, StrategyExact), nil
	}

	// 2. Drop classes carrying bracketed arbitrary values.
	if hasBracketClass(segments) {
		if n := r.anchored(path, StrategyStripBrackets, root, segments, stripBracketsForm); n != nil {
			return r.found(path, n, StrategyStripBrackets), nil
		}
	}

	// 3. Tag names and ids only.
	if n := r.anchored(path, StrategyTagAndID, root, segments, tagAndIDForm); n != nil {
		return r.found(path, n, StrategyTagAndID), nil
	}

	// 4. The deepest id, then whatever remains of the path beneath it.
	if n := r.byID(path, root, segments); n != nil {
		return r.found(path, n, StrategyID), nil
	}

	// 5. Longest resolvable prefix, then the first descendant with the next tag.
	if n := r.truncate(path, root, segments); n != nil {
		return r.found(path, n, StrategyTruncate), nil
	}

	r.logger.Debug("All resolution strategies failed.", zap.String("path", string(path)))
	return Resolution{}, NewElementNotFoundError(string(path), "all resolution strategies failed")
}

func (r *Resolver) found(path ElementPath, n *html.Node, s Strategy) Resolution {
	if s != StrategyExact {
		r.logger.Info("Resolved element with fallback strategy.",
			zap.String("path", string(path)), zap.String("strategy", string(s)))
	}
	return Resolution{Node: n, Strategy: s}
}

// segmentForm renders one segment as a selector for a given strategy.
type segmentForm func(Segment) string

func exactForm(s Segment) string { return s.format(true, true, true, false) }

func stripBracketsForm(s Segment) string {
	stripped := s
	stripped.Classes = nil
	for _, c := range s.Classes {
		if !strings.ContainsAny(c, "[]") {
			stripped.Classes = append(stripped.Classes, c)
		}
	}
	return stripped.format(true, true, true, false)
}

func tagAndIDForm(s Segment) string { return s.format(true, false, false, false) }

func hasBracketClass(segments []Segment) bool {
	for _, s := range segments {
		for _, c := range s.Classes {
			if strings.ContainsAny(c, "[]") {
				return true
			}
		}
	}
	return false
}

// selectorFor renders segments with form and joins them with the child combinator.
func selectorFor(segments []Segment, form segmentForm) string {
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = form(s)
	}
	return strings.Join(parts, Separator)
}

// anyTag renders a segment with the universal selector in place of its tag.
// Type selectors compare names exactly, while the parser keeps mixed-case
// names for foreign content (foreignObject, textPath); tags are checked
// separately by tagsMatch.
func anyTag(form segmentForm) segmentForm {
	return func(s Segment) string {
		s.Tag = "*"
		return form(s)
	}
}

// tagsMatch reports whether the ancestors of n, read bottom-up, carry the
// segment tags ignoring case.
func tagsMatch(n *html.Node, segments []Segment) bool {
	for i := len(segments) - 1; i >= 0; i-- {
		if !IsElement(n, segments[i].Tag) {
			return false
		}
		n = n.Parent
	}
	return true
}

// anchored matches segments as a child chain hanging directly off root.
func (r *Resolver) anchored(path ElementPath, s Strategy, root *html.Node, segments []Segment, form segmentForm) *html.Node {
	selector := selectorFor(segments, anyTag(form))
	matches := r.queryAll(root, selector)

	var hits []*html.Node
	for _, m := range matches {
		if depthBelow(root, m) == len(segments) && tagsMatch(m, segments) {
			hits = append(hits, m)
		}
	}
	return r.first(path, s, hits)
}

func (r *Resolver) queryAll(root *html.Node, selector string) []*html.Node {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		r.logger.Debug("Selector did not compile.", zap.String("selector", selector), zap.Error(err))
		return nil
	}
	return sel.MatchAll(root)
}

func (r *Resolver) first(path ElementPath, s Strategy, hits []*html.Node) *html.Node {
	if len(hits) == 0 {
		return nil
	}
	if len(hits) > 1 {
		err := &PathAmbiguousError{Path: string(path), Strategy: s, Matches: len(hits)}
		r.logger.Warn("Ambiguous element path; using the first match.", zap.Error(err))
	}
	return hits[0]
}

func (r *Resolver) byID(path ElementPath, root *html.Node, segments []Segment) *html.Node {
	k := -1
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i].ID != "" {
			k = i
			break
		}
	}
	if k < 0 {
		return nil
	}

	expr := fmt.Sprintf(".//*[@id=%s]", xpathLiteral(segments[k].ID))
	candidates, err := htmlquery.QueryAll(root, expr)
	if err != nil {
		r.logger.Debug("XPath id lookup failed.", zap.String("expr", expr), zap.Error(err))
		return nil
	}
	anchor := r.first(path, StrategyID, candidates)
	if anchor == nil {
		return nil
	}
	rest := segments[k+1:]
	if len(rest) == 0 {
		return anchor
	}
	if n := r.anchored(path, StrategyID, anchor, rest, exactForm); n != nil {
		return n
	}
	return r.anchored(path, StrategyID, anchor, rest, tagAndIDForm)
}

func (r *Resolver) truncate(path ElementPath, root *html.Node, segments []Segment) *html.Node {
	for k := len(segments) - 1; k >= 0; k-- {
		ancestor := root
		if k > 0 {
			prefix := segments[:k]
			ancestor = r.anchored(path, StrategyTruncate, root, prefix, exactForm)
			if ancestor == nil {
				ancestor = r.anchored(path, StrategyTruncate, root, prefix, stripBracketsForm)
			}
			if ancestor == nil {
				continue
			}
		}
		next := segments[k].Tag
		if n := FindFirst(ancestor, func(n *html.Node) bool { return IsElement(n, next) }); n != nil {
			r.logger.Debug("Resolved to a descendant of the nearest resolvable ancestor.",
				zap.Int("matched_segments", k), zap.String("tag", next))
			return n
		}
	}
	return nil
}

// xpathLiteral quotes s as an XPath string literal.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}
