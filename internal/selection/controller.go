// internal/selection/controller.go
package selection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/mmmyyc/ai-template-sub000/internal/dom"
	"github.com/mmmyyc/ai-template-sub000/internal/feedback"
	"github.com/mmmyyc/ai-template-sub000/internal/surface"
)

// State is the selection lifecycle state.
type State int

const (
	Idle State = iota
	Selecting
	Editing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Selecting:
		return "selecting"
	case Editing:
		return "editing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// allowed lists the legal transitions. Editing is also entered directly
// when an existing path is re-edited.
var allowed = map[State][]State{
	Idle:      {Selecting, Editing},
	Selecting: {Idle, Editing},
	Editing:   {Idle},
}

// ErrInvalidTransition is returned for transitions outside the state machine.
var ErrInvalidTransition = errors.New("invalid selection state transition")

// SelectFunc receives the element the user clicked while selecting.
type SelectFunc func(ctx context.Context, target *html.Node)

type hooks struct {
	enter func(ctx context.Context) error
	exit  func(ctx context.Context)
}

// Controller toggles the hover/click interception layer over mounted content.
// Hooks run on the caller's goroutine; the select handler runs on the
// goroutine that dispatched the click.
type Controller struct {
	logger  *zap.Logger
	surface *surface.Surface
	bus     *feedback.Bus

	mu        sync.Mutex
	state     State
	listeners []surface.ListenerID
	hooks     map[State]hooks
	onSelect  SelectFunc
	onEndEdit func(ctx context.Context)
}

// NewController validates the selection stylesheet and returns an idle
// controller for s. bus may be nil.
func NewController(s *surface.Surface, bus *feedback.Bus, logger *zap.Logger) (*Controller, error) {
	if s == nil {
		return nil, errors.New("selection controller requires a surface")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := ValidateStylesheet(Stylesheet); err != nil {
		return nil, err
	}

	c := &Controller{
		logger:  logger.Named("selection"),
		surface: s,
		bus:     bus,
		state:   Idle,
	}
	c.hooks = map[State]hooks{
		Selecting: {enter: c.enterSelecting, exit: c.exitSelecting},
		Editing:   {exit: c.exitEditing},
	}
	return c, nil
}

// OnSelect sets the handler invoked for a click while selecting.
func (c *Controller) OnSelect(fn SelectFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSelect = fn
}

// OnEndEdit sets the hook run whenever the Editing state is left.
func (c *Controller) OnEndEdit(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEndEdit = fn
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transition moves to the next state, running the exit hook of the current
// state and the entry hook of the next. Transitioning to the current state is
// a no-op. A failed entry leaves the controller Idle.
func (c *Controller) Transition(ctx context.Context, to State) error {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return nil
	}
	if !isAllowed(from, to) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	c.mu.Unlock()

	if h := c.hooks[from].exit; h != nil {
		h(ctx)
	}
	if h := c.hooks[to].enter; h != nil {
		if err := h(ctx); err != nil {
			c.setState(ctx, from, Idle)
			return fmt.Errorf("failed to enter %s: %w", to, err)
		}
	}
	c.setState(ctx, from, to)
	return nil
}

// Reset forces the controller back to Idle, running every cleanup hook that
// applies. It never fails.
func (c *Controller) Reset(ctx context.Context) {
	from := c.State()
	if from == Idle {
		// Still sweep for interception left behind by a reloaded document.
		c.exitSelecting(ctx)
		return
	}
	if h := c.hooks[from].exit; h != nil {
		h(ctx)
	}
	c.exitSelecting(ctx)
	c.setState(ctx, from, Idle)
}

func isAllowed(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (c *Controller) setState(ctx context.Context, from, to State) {
	c.mu.Lock()
	c.state = to
	c.mu.Unlock()

	c.logger.Debug("Selection state changed.", zap.Stringer("from", from), zap.Stringer("to", to))
	if c.bus != nil && from != to {
		if err := c.bus.Post(ctx, feedback.KindState, feedback.Transition{From: from.String(), To: to.String()}); err != nil {
			c.logger.Debug("State transition not posted.", zap.Error(err))
		}
	}
}

// -- Selecting --

func (c *Controller) enterSelecting(ctx context.Context) error {
	if err := c.surface.Wait(ctx); err != nil {
		return fmt.Errorf("document not ready for selection: %w", err)
	}
	head, err := c.surface.Head()
	if err != nil {
		return err
	}

	err = c.surface.Mutate(func(doc *html.Node) error {
		body := dom.FindFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Body })
		if body == nil {
			return errors.New("document has no <body>")
		}
		if !hasStyle(head) {
			style := &html.Node{
				Type:     html.ElementNode,
				Data:     "style",
				DataAtom: atom.Style,
				Attr:     []html.Attribute{{Key: "id", Val: dom.SelectionStyleID}},
			}
			style.AppendChild(&html.Node{Type: html.TextNode, Data: Stylesheet})
			head.AppendChild(style)
		}
		dom.SetAttr(body, dom.SelectingAttribute, "true")
		return nil
	})
	if err != nil {
		c.exitSelecting(ctx)
		return err
	}

	root, err := c.surface.Root()
	if err != nil {
		c.exitSelecting(ctx)
		return err
	}
	var ids []surface.ListenerID
	for typ, fn := range map[surface.EventType]surface.Listener{
		surface.EventClick:     c.handleClick,
		surface.EventMouseOver: c.handleMouseOver,
		surface.EventMouseOut:  c.handleMouseOut,
	} {
		id, err := c.surface.AddEventListener(root, typ, true, fn)
		if err != nil {
			c.removeListeners(ids)
			c.exitSelecting(ctx)
			return err
		}
		ids = append(ids, id)
	}

	c.mu.Lock()
	c.listeners = ids
	c.mu.Unlock()
	c.logger.Info("Selection mode enabled.")
	return nil
}

// exitSelecting removes every trace of selection mode. It is idempotent and
// tolerates a document that was replaced or is not loaded.
func (c *Controller) exitSelecting(context.Context) {
	c.mu.Lock()
	ids := c.listeners
	c.listeners = nil
	c.mu.Unlock()
	c.removeListeners(ids)

	err := c.surface.Mutate(func(doc *html.Node) error {
		var sweep func(*html.Node)
		sweep = func(n *html.Node) {
			for child := n.FirstChild; child != nil; {
				next := child.NextSibling
				if child.Type == html.ElementNode {
					if id, _ := dom.GetAttr(child, "id"); id == dom.SelectionStyleID {
						n.RemoveChild(child)
						child = next
						continue
					}
					dom.RemoveAttr(child, dom.SelectingAttribute)
					dom.RemoveAttr(child, dom.HoverAttribute)
				}
				sweep(child)
				child = next
			}
		}
		sweep(doc)
		return nil
	})
	if err != nil {
		c.logger.Debug("Selection cleanup skipped; no document mounted.", zap.Error(err))
	}
}

func (c *Controller) removeListeners(ids []surface.ListenerID) {
	for _, id := range ids {
		c.surface.RemoveEventListener(id)
	}
}

func hasStyle(head *html.Node) bool {
	return dom.FindFirst(head, func(n *html.Node) bool {
		id, _ := dom.GetAttr(n, "id")
		return id == dom.SelectionStyleID
	}) != nil
}

// -- Editing --

func (c *Controller) exitEditing(ctx context.Context) {
	c.mu.Lock()
	fn := c.onEndEdit
	c.mu.Unlock()
	if fn != nil {
		fn(ctx)
	}
}

// -- Listeners --

// handleClick swallows the click so neither content handlers nor default
// actions run, then hands the nearest element to the select handler.
func (c *Controller) handleClick(ev *surface.Event) {
	target := elementOf(ev.Target)
	if target == nil || ignored(target) {
		return
	}
	ev.PreventDefault()
	ev.StopPropagation()
	if isStructural(target) {
		return
	}

	c.mu.Lock()
	fn := c.onSelect
	selecting := c.state == Selecting
	c.mu.Unlock()
	if !selecting || fn == nil {
		return
	}
	fn(context.Background(), target)
}

func (c *Controller) handleMouseOver(ev *surface.Event) {
	target := elementOf(ev.Target)
	if target == nil || ignored(target) || isStructural(target) {
		return
	}
	_ = c.surface.Mutate(func(*html.Node) error {
		dom.SetAttr(target, dom.HoverAttribute, "true")
		return nil
	})
}

func (c *Controller) handleMouseOut(ev *surface.Event) {
	target := elementOf(ev.Target)
	if target == nil {
		return
	}
	_ = c.surface.Mutate(func(*html.Node) error {
		dom.RemoveAttr(target, dom.HoverAttribute)
		return nil
	})
}

// elementOf returns n or, for text and comment nodes, its parent element.
func elementOf(n *html.Node) *html.Node {
	for ; n != nil; n = n.Parent {
		if n.Type == html.ElementNode {
			return n
		}
	}
	return nil
}

// ignored reports whether n lies inside a subtree opted out of selection.
func ignored(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if _, ok := dom.GetAttr(n, dom.IgnoreAttribute); ok {
			return true
		}
	}
	return false
}

func isStructural(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Html, atom.Head, atom.Body:
		return true
	}
	return false
}
