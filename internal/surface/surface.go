// internal/surface/surface.go
package surface

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/mmmyyc/ai-template-sub000/internal/dom"
)

var (
	// ErrSerializationUnavailable is returned while no document has finished loading.
	ErrSerializationUnavailable = errors.New("surface: document is not loaded")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("surface: closed")
)

// ParseFunc turns serialized markup into a document tree.
type ParseFunc func(io.Reader) (*html.Node, error)

// Option configures a Surface.
type Option func(*Surface)

// WithParser replaces the HTML parser used by Mount.
func WithParser(fn ParseFunc) Option {
	return func(s *Surface) { s.parse = fn }
}

// load tracks one Mount call.
type load struct {
	done chan struct{}
	err  error
}

// Surface is an isolated rendering surface holding one document. It owns
// every node of that document; callers keep marker tokens, not nodes.
type Surface struct {
	id     string
	logger *zap.Logger
	parse  ParseFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	doc       *html.Node
	current   *load
	markers   map[string]*html.Node
	listeners map[*html.Node][]*listener
	nextID    ListenerID
	actions   []DefaultAction
	closed    bool

	closeOnce sync.Once
}

// New creates an empty surface. Nothing is queryable until Mount completes.
func New(logger *zap.Logger, opts ...Option) *Surface {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Surface{
		id:        id,
		logger:    logger.Named("surface").With(zap.String("surface_id", id)),
		parse:     html.Parse,
		ctx:       ctx,
		cancel:    cancel,
		markers:   make(map[string]*html.Node),
		listeners: make(map[*html.Node][]*listener),
	}
	for _, opt := range opts {
		opt(s)
	}

	// A surface that was never mounted reports "not loaded" rather than blocking forever.
	s.current = &load{done: make(chan struct{}), err: ErrSerializationUnavailable}
	close(s.current.done)
	return s
}

// ID returns the surface's unique identifier.
func (s *Surface) ID() string {
	return s.id
}

// Mount replaces the document with content. Parsing happens in the
// background; Loaded is closed once the new document is queryable.
func (s *Surface) Mount(ctx context.Context, content string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	l := &load{done: make(chan struct{})}
	s.current = l
	s.doc = nil
	s.markers = make(map[string]*html.Node)
	// Listeners belong to the previous document's nodes.
	s.listeners = make(map[*html.Node][]*listener)
	s.actions = nil
	s.mu.Unlock()

	s.logger.Debug("Mounting document.", zap.Int("bytes", len(content)))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(l.done)

		doc, err := s.parse(strings.NewReader(content))
		if err == nil && doc == nil {
			err = errors.New("parser returned no document")
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.current != l {
			// Superseded by a newer Mount.
			l.err = ErrSerializationUnavailable
			return
		}
		if s.closed {
			l.err = ErrClosed
			return
		}
		if err != nil {
			l.err = fmt.Errorf("failed to parse document: %w", err)
			s.logger.Error("Document failed to load.", zap.Error(err))
			return
		}
		s.doc = doc
		s.reindexLocked()
		s.logger.Debug("Document loaded.", zap.Int("markers", len(s.markers)))
	}()

	// Honor cancellation of the caller without waiting for the parse.
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Loaded returns a channel closed when the most recent Mount finished.
func (s *Surface) Loaded() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.done
}

// Wait blocks until the most recent Mount finished or ctx is done.
func (s *Surface) Wait(ctx context.Context) error {
	s.mu.RLock()
	l := s.current
	s.mu.RUnlock()

	select {
	case <-l.done:
		return l.err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrClosed
	}
}

// Root returns the document node.
func (s *Surface) Root() (*html.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootLocked()
}

func (s *Surface) rootLocked() (*html.Node, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.doc == nil {
		return nil, ErrSerializationUnavailable
	}
	return s.doc, nil
}

// Container returns the first element matching selector, typically "body".
func (s *Surface) Container(selector string) (*html.Node, error) {
	root, err := s.Root()
	if err != nil {
		return nil, err
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid container selector '%s': %w", selector, err)
	}
	n := sel.MatchFirst(root)
	if n == nil {
		return nil, fmt.Errorf("container '%s' not found in document", selector)
	}
	return n, nil
}

// View runs fn with read access to the document.
func (s *Surface) View(fn func(doc *html.Node) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, err := s.rootLocked()
	if err != nil {
		return err
	}
	return fn(doc)
}

// Mutate runs fn with exclusive access to the document.
func (s *Surface) Mutate(fn func(doc *html.Node) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.rootLocked()
	if err != nil {
		return err
	}
	return fn(doc)
}

// Head returns the document head, creating it when the document has none.
func (s *Surface) Head() (*html.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.rootLocked()
	if err != nil {
		return nil, err
	}
	if head := dom.FindFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Head }); head != nil {
		return head, nil
	}
	htmlEl := dom.FindFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Html })
	if htmlEl == nil {
		return nil, errors.New("document has no <html> element")
	}
	head := &html.Node{Type: html.ElementNode, Data: "head", DataAtom: atom.Head}
	htmlEl.InsertBefore(head, htmlEl.FirstChild)
	return head, nil
}

// Serialize renders the document without any editor artifacts. The live
// document is not modified.
func (s *Surface) Serialize() (string, error) {
	s.mu.RLock()
	doc, err := s.rootLocked()
	if err != nil {
		s.mu.RUnlock()
		return "", err
	}
	clone := cloneTree(doc)
	s.mu.RUnlock()

	stripped := Sanitize(clone)
	if stripped > 0 {
		s.logger.Debug("Stripped editor artifacts from serialized output.", zap.Int("count", stripped))
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, clone); err != nil {
		return "", fmt.Errorf("failed to render document: %w", err)
	}
	return buf.String(), nil
}

// Close releases the surface. It waits for any in-flight Mount.
func (s *Surface) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing surface.")
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		s.wg.Wait()

		s.mu.Lock()
		s.doc = nil
		s.markers = nil
		s.listeners = nil
		s.mu.Unlock()
	})
	return nil
}

// -- Tree helpers --

func cloneTree(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(cloneTree(child))
	}
	return c
}

// Sanitize removes every editor artifact from the tree rooted at n: the
// session marker, hover and selection flags, and injected elements whose id
// carries the reserved prefix. It returns how many artifacts were removed.
func Sanitize(n *html.Node) int {
	count := 0

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			if c.Type == html.ElementNode {
				if id, _ := dom.GetAttr(c, "id"); strings.HasPrefix(id, dom.ReservedPrefix) {
					n.RemoveChild(c)
					count++
					c = next
					continue
				}
				for _, key := range dom.ArtifactAttributes {
					if dom.RemoveAttr(c, key) {
						count++
					}
				}
			}
			walk(c)
			c = next
		}
	}
	walk(n)
	return count
}
