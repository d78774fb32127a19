// internal/surface/markers.go
package surface

import (
	"fmt"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/mmmyyc/ai-template-sub000/internal/dom"
)

// Stamp sets the session marker token on n and indexes it.
func (s *Surface) Stamp(n *html.Node, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.rootLocked()
	if err != nil {
		return err
	}
	if !dom.Contains(doc, n) {
		return fmt.Errorf("cannot stamp marker '%s': node is not part of the mounted document", token)
	}
	dom.SetAttr(n, dom.MarkerAttribute, token)
	s.markers[token] = n
	return nil
}

// Lookup returns the node carrying token. The index answers directly; a stale
// entry falls back to an attribute-equality scan of the document.
func (s *Surface) Lookup(token string) (*html.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.rootLocked()
	if err != nil {
		return nil, false
	}

	if n, ok := s.markers[token]; ok {
		if v, _ := dom.GetAttr(n, dom.MarkerAttribute); v == token && dom.Contains(doc, n) {
			return n, true
		}
		delete(s.markers, token)
	}

	n := s.scanLocked(doc, token)
	if n == nil {
		return nil, false
	}
	s.logger.Debug("Marker index was stale; recovered by scan.", zap.String("marker", token))
	s.markers[token] = n
	return n, true
}

// Unstamp removes token from every node carrying it and reports how many
// nodes were cleaned.
func (s *Surface) Unstamp(token string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.rootLocked()
	if err != nil {
		return 0
	}
	delete(s.markers, token)

	removed := 0
	for {
		n := s.scanLocked(doc, token)
		if n == nil {
			return removed
		}
		dom.RemoveAttr(n, dom.MarkerAttribute)
		removed++
	}
}

// Markers returns how many nodes in the document carry a marker attribute.
func (s *Surface) Markers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, err := s.rootLocked()
	if err != nil {
		return 0
	}
	nodes, err := htmlquery.QueryAll(doc, fmt.Sprintf("//*[@%s]", dom.MarkerAttribute))
	if err != nil {
		return 0
	}
	return len(nodes)
}

func (s *Surface) scanLocked(doc *html.Node, token string) *html.Node {
	return dom.FindFirst(doc, func(n *html.Node) bool {
		v, ok := dom.GetAttr(n, dom.MarkerAttribute)
		return ok && v == token
	})
}

// reindexLocked rebuilds the marker index from the freshly loaded document.
func (s *Surface) reindexLocked() {
	s.markers = make(map[string]*html.Node)
	nodes, err := htmlquery.QueryAll(s.doc, fmt.Sprintf("//*[@%s]", dom.MarkerAttribute))
	if err != nil {
		s.logger.Warn("Failed to index markers.", zap.Error(err))
		return
	}
	for _, n := range nodes {
		if v, _ := dom.GetAttr(n, dom.MarkerAttribute); v != "" {
			s.markers[v] = n
		}
	}
}
