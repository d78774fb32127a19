// internal/editor/session.go
package editor

import (
	"context"
	"time"

	"github.com/mmmyyc/ai-template-sub000/internal/classes"
	"github.com/mmmyyc/ai-template-sub000/internal/dom"
)

// Saver persists the serialized document after a commit or delete.
type Saver interface {
	Save(ctx context.Context, content string) error
}

// EditSession is the state of one element being edited. Copies handed out by
// the engine are snapshots; mutating them has no effect.
type EditSession struct {
	Path            dom.ElementPath    `json:"path"`
	Marker          string             `json:"marker"`
	Strategy        dom.Strategy       `json:"strategy"`
	OriginalClasses []string           `json:"originalClasses"`
	WorkingClasses  []string           `json:"workingClasses"`
	Model           classes.StyleModel `json:"model"`
	// Edits accumulates every model applied during the session.
	Edits     classes.StyleModel `json:"edits"`
	StartedAt time.Time          `json:"startedAt"`
}

func (s *EditSession) snapshot() EditSession {
	c := *s
	c.OriginalClasses = append([]string(nil), s.OriginalClasses...)
	c.WorkingClasses = append([]string(nil), s.WorkingClasses...)
	return c
}

// AppliedChange is one committed edit. After is nil when the element was deleted.
type AppliedChange struct {
	ID      string          `json:"id"`
	Target  dom.ElementPath `json:"target"`
	Before  []string        `json:"before"`
	After   []string        `json:"after"`
	Diff    classes.Change  `json:"diff"`
	Deleted bool            `json:"deleted,omitempty"`
	At      time.Time       `json:"at"`
}
