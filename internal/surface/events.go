// internal/surface/events.go
package surface

import (
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/mmmyyc/ai-template-sub000/internal/dom"
)

// EventType names a pointer event.
type EventType string

const (
	EventClick     EventType = "click"
	EventMouseOver EventType = "mouseover"
	EventMouseOut  EventType = "mouseout"
)

// Phase is the propagation phase an event is currently in.
type Phase int

const (
	PhaseCapture Phase = iota + 1
	PhaseTarget
	PhaseBubble
)

// Event is dispatched through the document from the root to the target and
// back up again.
type Event struct {
	Type          EventType
	Target        *html.Node
	CurrentTarget *html.Node
	Phase         Phase

	defaultPrevented   bool
	propagationStopped bool
}

// PreventDefault cancels the default action of the event.
func (e *Event) PreventDefault() { e.defaultPrevented = true }

// StopPropagation stops the event after the current node's listeners have run.
func (e *Event) StopPropagation() { e.propagationStopped = true }

// DefaultPrevented reports whether PreventDefault was called.
func (e *Event) DefaultPrevented() bool { return e.defaultPrevented }

// PropagationStopped reports whether StopPropagation was called.
func (e *Event) PropagationStopped() bool { return e.propagationStopped }

// Listener handles a dispatched event.
type Listener func(*Event)

// ListenerID identifies a registered listener.
type ListenerID uint64

type listener struct {
	id      ListenerID
	typ     EventType
	capture bool
	fn      Listener
}

// DefaultActionKind classifies what a click would have done had nobody
// prevented it.
type DefaultActionKind string

const (
	ActionNavigate DefaultActionKind = "navigate"
	ActionSubmit   DefaultActionKind = "submit"
	ActionToggle   DefaultActionKind = "toggle"
)

// DefaultAction records a default action that ran.
type DefaultAction struct {
	Kind DefaultActionKind
	Node *html.Node
	Href string
}

// AddEventListener registers fn on node. Capture listeners run on the way
// down from the root; the rest run on the way back up.
func (s *Surface) AddEventListener(node *html.Node, typ EventType, capture bool, fn Listener) (ListenerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.rootLocked(); err != nil {
		return 0, err
	}
	s.nextID++
	id := s.nextID
	s.listeners[node] = append(s.listeners[node], &listener{id: id, typ: typ, capture: capture, fn: fn})
	return id, nil
}

// RemoveEventListener unregisters a listener and reports whether it existed.
// Listeners of a replaced document are already gone.
func (s *Surface) RemoveEventListener(id ListenerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for node, list := range s.listeners {
		for i, l := range list {
			if l.id != id {
				continue
			}
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				delete(s.listeners, node)
			} else {
				s.listeners[node] = list
			}
			return true
		}
	}
	return false
}

// ListenerCount returns the number of registered listeners.
func (s *Surface) ListenerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, list := range s.listeners {
		n += len(list)
	}
	return n
}

// DefaultActions returns the default actions that ran since the last Mount.
func (s *Surface) DefaultActions() []DefaultAction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DefaultAction(nil), s.actions...)
}

// Dispatch fires an event at target. Listeners run without any surface lock
// held, so they may call back into the surface.
func (s *Surface) Dispatch(typ EventType, target *html.Node) (*Event, error) {
	s.mu.RLock()
	doc, err := s.rootLocked()
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	if !dom.Contains(doc, target) {
		s.mu.RUnlock()
		return nil, errors.New("event target is not part of the mounted document")
	}

	// Propagation path from the document down to the target.
	var chain []*html.Node
	for n := target; n != nil; n = n.Parent {
		chain = append([]*html.Node{n}, chain...)
	}
	snapshot := make(map[*html.Node][]*listener, len(chain))
	for _, n := range chain {
		if list := s.listeners[n]; len(list) > 0 {
			snapshot[n] = append([]*listener(nil), list...)
		}
	}
	s.mu.RUnlock()

	ev := &Event{Type: typ, Target: target}
	run := func(n *html.Node, phase Phase, capture bool) {
		ev.CurrentTarget, ev.Phase = n, phase
		for _, l := range snapshot[n] {
			if l.typ == typ && l.capture == capture {
				l.fn(ev)
			}
		}
	}

	last := len(chain) - 1
	for i := 0; i < last && !ev.propagationStopped; i++ {
		run(chain[i], PhaseCapture, true)
	}
	if !ev.propagationStopped {
		run(target, PhaseTarget, true)
		run(target, PhaseTarget, false)
	}
	for i := last - 1; i >= 0 && !ev.propagationStopped; i-- {
		run(chain[i], PhaseBubble, false)
	}

	if typ == EventClick && !ev.defaultPrevented {
		s.runDefaultAction(target)
	}
	return ev, nil
}

// runDefaultAction applies what a click does to links, submit buttons and
// checkboxes when nothing prevented it.
func (s *Surface) runDefaultAction(target *html.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for n := target; n != nil; n = n.Parent {
		if dom.IsElement(n, "a") {
			if href, _ := dom.GetAttr(n, "href"); href != "" && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
				s.record(DefaultAction{Kind: ActionNavigate, Node: n, Href: href})
				return
			}
		}
	}

	inputType, _ := dom.GetAttr(target, "type")
	inputType = strings.ToLower(inputType)
	isSubmit := (dom.IsElement(target, "button") && (inputType == "submit" || inputType == "")) ||
		(dom.IsElement(target, "input") && inputType == "submit")
	if isSubmit {
		for n := target.Parent; n != nil; n = n.Parent {
			if dom.IsElement(n, "form") {
				s.record(DefaultAction{Kind: ActionSubmit, Node: n})
				return
			}
		}
	}

	if dom.IsElement(target, "input") && inputType == "checkbox" {
		if _, checked := dom.GetAttr(target, "checked"); checked {
			dom.RemoveAttr(target, "checked")
		} else {
			dom.SetAttr(target, "checked", "checked")
		}
		s.record(DefaultAction{Kind: ActionToggle, Node: target})
	}
}

func (s *Surface) record(a DefaultAction) {
	s.actions = append(s.actions, a)
	s.logger.Debug("Default action ran.", zap.String("kind", string(a.Kind)), zap.String("href", a.Href))
}
