// File: internal/editor/engine.go
// Description: Orchestrates edit sessions over a mounted document: selection,
// live preview, commit, cancel and delete, with guaranteed marker cleanup.

package editor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/mmmyyc/ai-template-sub000/internal/classes"
	"github.com/mmmyyc/ai-template-sub000/internal/config"
	"github.com/mmmyyc/ai-template-sub000/internal/dom"
	"github.com/mmmyyc/ai-template-sub000/internal/feedback"
	"github.com/mmmyyc/ai-template-sub000/internal/selection"
	"github.com/mmmyyc/ai-template-sub000/internal/surface"
)

// classWriter sets the class list of an element.
type classWriter func(n *html.Node, list []string)

// Option configures an Engine.
type Option func(*Engine)

// WithSaver sets the collaborator that persists committed documents.
func WithSaver(s Saver) Option {
	return func(e *Engine) { e.saver = s }
}

// WithBus publishes feedback on an existing bus instead of a private one.
func WithBus(b *feedback.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithSurfaceOptions passes options to the engine's rendering surface.
func WithSurfaceOptions(opts ...surface.Option) Option {
	return func(e *Engine) { e.surfaceOpts = append(e.surfaceOpts, opts...) }
}

// Engine is the editing front end for one rendering surface. Every operation
// is serialized; the engine holds marker tokens and paths between calls, never
// nodes.
type Engine struct {
	cfg    config.EditorConfig
	logger *zap.Logger

	surface     *surface.Surface
	surfaceOpts []surface.Option
	controller  *selection.Controller
	resolver    *dom.Resolver
	bus         *feedback.Bus
	ownsBus     bool
	saver       Saver

	// Serializes every engine operation.
	mu      sync.Mutex
	session *EditSession
	changes []AppliedChange
	closed  bool

	primaryWrite   classWriter
	secondaryWrite classWriter
	sleep          func(ctx context.Context, d time.Duration) error
}

// New creates an engine with an empty rendering surface.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("cannot initialize editor engine with nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:            cfg.Editor,
		logger:         logger.Named("editor"),
		resolver:       dom.NewResolver(logger),
		primaryWrite:   writeClassTokens,
		secondaryWrite: rewriteClassAttribute,
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = feedback.NewBus(logger, cfg.Feedback.BufferSize)
		e.ownsBus = true
	}

	e.surface = surface.New(logger, e.surfaceOpts...)
	controller, err := selection.NewController(e.surface, e.bus, logger)
	if err != nil {
		_ = e.surface.Close()
		return nil, fmt.Errorf("failed to create selection controller: %w", err)
	}
	controller.OnSelect(func(ctx context.Context, target *html.Node) {
		if _, err := e.Select(ctx, target); err != nil {
			e.logger.Warn("Selection failed.", zap.Error(err))
		}
	})
	// Only engine methods transition the controller, so the engine lock is
	// already held when this runs.
	controller.OnEndEdit(func(context.Context) { e.releaseMarkerLocked() })
	e.controller = controller
	return e, nil
}

// Surface returns the rendering surface the engine edits.
func (e *Engine) Surface() *surface.Surface { return e.surface }

// Bus returns the feedback bus.
func (e *Engine) Bus() *feedback.Bus { return e.bus }

// State returns the selection state.
func (e *Engine) State() selection.State { return e.controller.State() }

// Mount replaces the document. Any open session and selection mode end first.
// Loading is asynchronous; operations that need the document wait for it.
func (e *Engine) Mount(ctx context.Context, content string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	e.endSessionLocked(ctx)
	e.controller.Reset(ctx)
	if err := e.surface.Mount(ctx, content); err != nil {
		return fmt.Errorf("failed to mount document: %w", err)
	}
	return nil
}

// EnableSelection turns on selection mode. An open session is cancelled and
// its element restored first.
func (e *Engine) EnableSelection(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	if e.session != nil {
		e.restoreLocked()
		e.endSessionLocked(ctx)
	}
	if err := e.ready(ctx); err != nil {
		return e.failLocked(ctx, "enable selection", err)
	}
	if err := e.controller.Transition(ctx, selection.Selecting); err != nil {
		return e.failLocked(ctx, "enable selection", err)
	}
	return nil
}

// DisableSelection turns selection mode off. It does not touch an open session.
func (e *Engine) DisableSelection(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.controller.State() != selection.Selecting {
		return nil
	}
	return e.controller.Transition(ctx, selection.Idle)
}

// Select opens an edit session on target, normally the element the user
// clicked in selection mode.
func (e *Engine) Select(ctx context.Context, target *html.Node) (EditSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return EditSession{}, ErrClosed
	}

	if err := e.ready(ctx); err != nil {
		return EditSession{}, e.failLocked(ctx, "select", err)
	}
	root, err := e.surface.Container(e.cfg.Container)
	if err != nil {
		return EditSession{}, e.failLocked(ctx, "select", err)
	}

	var path dom.ElementPath
	err = e.surface.View(func(*html.Node) error {
		var buildErr error
		path, buildErr = dom.BuildPath(target, root)
		return buildErr
	})
	if err != nil {
		return EditSession{}, e.failLocked(ctx, "select", err)
	}
	return e.beginLocked(ctx, path, target, dom.StrategyExact, "")
}

// ReEdit opens an edit session on the element addressed by path, falling back
// through the resolver's strategies when the document changed.
func (e *Engine) ReEdit(ctx context.Context, path dom.ElementPath) (EditSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return EditSession{}, ErrClosed
	}

	if err := e.ready(ctx); err != nil {
		return EditSession{}, e.failLocked(ctx, "re-edit", err)
	}
	res, err := e.resolveLocked(path)
	if err != nil {
		return EditSession{}, e.failLocked(ctx, "re-edit", err)
	}
	return e.beginLocked(ctx, path, res.Node, res.Strategy, "")
}

// ReEditMarker opens an edit session on the element that still carries the
// session marker token, keeping the token. When no element in the container
// carries it, the session falls back to resolving path; an empty path makes
// a missing marker an *dom.ElementNotFoundError.
func (e *Engine) ReEditMarker(ctx context.Context, token string, path dom.ElementPath) (EditSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return EditSession{}, ErrClosed
	}

	if err := e.ready(ctx); err != nil {
		return EditSession{}, e.failLocked(ctx, "re-edit", err)
	}
	container, err := e.surface.Container(e.cfg.Container)
	if err != nil {
		return EditSession{}, e.failLocked(ctx, "re-edit", err)
	}

	// 1. The marker wins while it is still in the document.
	if node, ok := e.surface.Lookup(token); ok && node != container && dom.Contains(container, node) {
		var markedPath dom.ElementPath
		err = e.surface.View(func(*html.Node) error {
			var buildErr error
			markedPath, buildErr = dom.BuildPath(node, container)
			return buildErr
		})
		if err != nil {
			return EditSession{}, e.failLocked(ctx, "re-edit", err)
		}
		return e.beginLocked(ctx, markedPath, node, dom.StrategyMarker, token)
	}

	// 2. Otherwise fall back to the path.
	if path == "" {
		return EditSession{}, e.failLocked(ctx, "re-edit",
			dom.NewElementNotFoundError(token, "no element carries the session marker"))
	}
	e.logger.Info("Session marker not found; resolving the path instead.",
		zap.String("marker", token), zap.String("path", string(path)))
	res, err := e.resolveLocked(path)
	if err != nil {
		return EditSession{}, e.failLocked(ctx, "re-edit", err)
	}
	return e.beginLocked(ctx, path, res.Node, res.Strategy, "")
}

// Session returns a snapshot of the open session.
func (e *Engine) Session() (EditSession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return EditSession{}, false
	}
	return e.session.snapshot(), true
}

// Apply previews model on the selected element. Successive calls accumulate;
// the element always shows the original classes merged with every field
// edited so far. It returns the element's new class list.
func (e *Engine) Apply(ctx context.Context, model classes.StyleModel) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess := e.session
	if sess == nil {
		return nil, ErrNoSession
	}
	if err := model.Validate(); err != nil {
		// The session survives a rejected field value.
		err = fmt.Errorf("invalid style edit: %w", err)
		e.notify(ctx, feedback.KindError, feedback.Notice{Text: "That value is not supported.", Err: err})
		return nil, err
	}

	node, err := e.locateLocked(ctx, sess)
	if err != nil {
		e.endSessionLocked(ctx)
		return nil, e.failLocked(ctx, "apply", err)
	}

	edits := sess.Edits
	edits.Overlay(model)
	working := classes.Merge(sess.OriginalClasses, edits)
	if err := e.applyClassesLocked(sess, node, working); err != nil {
		e.endSessionLocked(ctx)
		return nil, e.failLocked(ctx, "apply", err)
	}

	sess.Edits = edits
	sess.WorkingClasses = working
	sess.Model = classes.Extract(working)
	e.logger.Debug("Preview applied.", zap.String("path", string(sess.Path)), zap.Strings("classes", working))
	return append([]string(nil), working...), nil
}

// Commit ends the session, records the change and returns the serialized
// document. The document is saved when saving on commit is enabled.
func (e *Engine) Commit(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess := e.session
	if sess == nil {
		return "", ErrNoSession
	}
	defer e.endSessionLocked(ctx)

	node, err := e.locateLocked(ctx, sess)
	if err != nil {
		return "", e.failLocked(ctx, "commit", err)
	}
	var after []string
	_ = e.surface.View(func(*html.Node) error {
		after = dom.ClassList(node)
		return nil
	})
	e.surface.Unstamp(sess.Marker)

	diff := classes.Diff(sess.OriginalClasses, after)
	var change *AppliedChange
	if !diff.Empty() {
		c := e.recordLocked(sess.Path, sess.OriginalClasses, after, diff, false)
		change = &c
	}

	out, err := e.persistLocked(ctx, e.cfg.SaveOnCommit)
	if err != nil {
		return out, e.failLocked(ctx, "commit", err)
	}
	if change != nil {
		e.notify(ctx, feedback.KindChange, *change)
	}
	e.logger.Info("Edit committed.", zap.String("path", string(sess.Path)), zap.Bool("changed", change != nil))
	return out, nil
}

// Cancel ends the session and restores the element's original classes.
func (e *Engine) Cancel(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return ErrNoSession
	}
	defer e.endSessionLocked(ctx)

	e.restoreLocked()
	e.notify(ctx, feedback.KindInfo, feedback.Notice{Text: "Edit cancelled."})
	e.logger.Info("Edit cancelled.", zap.String("path", string(e.session.Path)))
	return nil
}

// DeleteSelected removes the selected element from the document, records the
// deletion and returns the serialized document, which is always saved.
func (e *Engine) DeleteSelected(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess := e.session
	if sess == nil {
		return "", ErrNoSession
	}
	defer e.endSessionLocked(ctx)

	node, err := e.locateLocked(ctx, sess)
	if err != nil {
		return "", e.failLocked(ctx, "delete", err)
	}
	container, err := e.surface.Container(e.cfg.Container)
	if err != nil {
		return "", e.failLocked(ctx, "delete", err)
	}
	if node == container || node.DataAtom == atom.Html || node.DataAtom == atom.Head {
		return "", e.failLocked(ctx, "delete", fmt.Errorf("refusing to delete the document container '%s'", node.Data))
	}

	err = e.surface.Mutate(func(*html.Node) error {
		if node.Parent == nil {
			return errors.New("element is detached")
		}
		node.Parent.RemoveChild(node)
		return nil
	})
	if err != nil {
		return "", e.failLocked(ctx, "delete", err)
	}
	e.surface.Unstamp(sess.Marker)

	before := append([]string(nil), dom.ClassList(node)...)
	change := e.recordLocked(sess.Path, before, nil, classes.Diff(before, nil), true)

	out, err := e.persistLocked(ctx, true)
	if err != nil {
		return out, e.failLocked(ctx, "delete", err)
	}
	e.notify(ctx, feedback.KindChange, change)
	e.logger.Info("Element deleted.", zap.String("path", string(sess.Path)))
	return out, nil
}

// Changes returns the change log, oldest first.
func (e *Engine) Changes() []AppliedChange {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.changes)
}

// Close ends any session, turns selection off and releases the surface.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	ctx := context.Background()
	if e.session != nil {
		e.restoreLocked()
	}
	e.endSessionLocked(ctx)
	e.controller.Reset(ctx)
	err := e.surface.Close()
	if e.ownsBus {
		e.bus.Shutdown()
	}
	return err
}

// -- Session lifecycle --

func (e *Engine) beginLocked(ctx context.Context, path dom.ElementPath, node *html.Node, strategy dom.Strategy, marker string) (EditSession, error) {
	// 1. A new selection supersedes the open session; its preview stays.
	if e.session != nil {
		e.endSessionLocked(ctx)
	}

	// 2. Address the node for the lifetime of the session.
	if marker == "" {
		marker = dom.NewMarker()
	}
	if err := e.surface.Stamp(node, marker); err != nil {
		return EditSession{}, e.failLocked(ctx, "select", err)
	}
	var original []string
	_ = e.surface.View(func(*html.Node) error {
		original = dom.ClassList(node)
		return nil
	})

	sess := &EditSession{
		Path:            path,
		Marker:          marker,
		Strategy:        strategy,
		OriginalClasses: original,
		WorkingClasses:  slices.Clone(original),
		Model:           classes.Extract(original),
		StartedAt:       time.Now().UTC(),
	}
	e.session = sess

	// 3. Leaving selection mode removes the interception layer.
	if err := e.controller.Transition(ctx, selection.Editing); err != nil {
		e.endSessionLocked(ctx)
		return EditSession{}, e.failLocked(ctx, "select", err)
	}

	e.logger.Info("Edit session started.",
		zap.String("path", string(path)),
		zap.String("strategy", string(strategy)),
		zap.Strings("classes", original))
	return sess.snapshot(), nil
}

// endSessionLocked leaves Editing and removes the marker. It is safe to call
// on every exit path, including when no session is open.
func (e *Engine) endSessionLocked(ctx context.Context) {
	if e.controller.State() == selection.Editing {
		if err := e.controller.Transition(ctx, selection.Idle); err != nil {
			e.logger.Error("Failed to leave editing state.", zap.Error(err))
		}
	}
	e.releaseMarkerLocked()
}

func (e *Engine) releaseMarkerLocked() {
	if e.session == nil {
		return
	}
	if n := e.surface.Unstamp(e.session.Marker); n > 0 {
		e.logger.Debug("Session marker removed.", zap.String("marker", e.session.Marker), zap.Int("nodes", n))
	}
	e.session = nil
}

// restoreLocked writes the original classes back to the session's element.
func (e *Engine) restoreLocked() {
	sess := e.session
	node, ok := e.surface.Lookup(sess.Marker)
	if !ok {
		return
	}
	_ = e.surface.Mutate(func(*html.Node) error {
		rewriteClassAttribute(node, sess.OriginalClasses)
		return nil
	})
}

// locateLocked returns the session's element by its marker. The path is not
// resolved again: a lost marker means the element is gone.
func (e *Engine) locateLocked(ctx context.Context, sess *EditSession) (*html.Node, error) {
	if node, ok := e.surface.Lookup(sess.Marker); ok {
		return node, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, dom.NewElementNotFoundError(string(sess.Path), "session marker is no longer in the document")
}

func (e *Engine) resolveLocked(path dom.ElementPath) (dom.Resolution, error) {
	root, err := e.surface.Container(e.cfg.Container)
	if err != nil {
		return dom.Resolution{}, err
	}
	var res dom.Resolution
	err = e.surface.View(func(*html.Node) error {
		var resolveErr error
		res, resolveErr = e.resolver.Resolve(path, root)
		return resolveErr
	})
	return res, err
}

func (e *Engine) recordLocked(path dom.ElementPath, before, after []string, diff classes.Change, deleted bool) AppliedChange {
	c := AppliedChange{
		ID:      uuid.New().String(),
		Target:  path,
		Before:  slices.Clone(before),
		After:   slices.Clone(after),
		Diff:    diff,
		Deleted: deleted,
		At:      time.Now().UTC(),
	}
	e.changes = append(e.changes, c)
	return c
}

// -- Class application --

// applyClassesLocked writes want to node with the token-level writer and,
// when that did not take, with an attribute rewrite. If neither took the
// original classes are put back.
func (e *Engine) applyClassesLocked(sess *EditSession, node *html.Node, want []string) error {
	try := func(w classWriter) []string {
		var got []string
		_ = e.surface.Mutate(func(*html.Node) error {
			w(node, want)
			got = dom.ClassList(node)
			return nil
		})
		return got
	}

	got := try(e.primaryWrite)
	if slices.Equal(got, want) {
		return nil
	}
	e.logger.Warn("Class update did not take effect; rewriting the class attribute.",
		zap.String("path", string(sess.Path)), zap.Strings("want", want), zap.Strings("got", got))

	got = try(e.secondaryWrite)
	if slices.Equal(got, want) {
		return nil
	}

	var restored bool
	_ = e.surface.Mutate(func(*html.Node) error {
		rewriteClassAttribute(node, sess.OriginalClasses)
		restored = slices.Equal(dom.ClassList(node), sess.OriginalClasses)
		return nil
	})
	return &ClassApplicationFailedError{
		Path:     string(sess.Path),
		Want:     slices.Clone(want),
		Got:      got,
		Restored: restored,
	}
}

// writeClassTokens drops the tokens not in list and adds the missing ones so
// that the token list reads exactly list.
func writeClassTokens(n *html.Node, list []string) {
	if len(list) == 0 {
		dom.RemoveAttr(n, "class")
		return
	}
	dom.SetAttr(n, "class", classes.Join(list))
}

// rewriteClassAttribute replaces every class attribute with a single new one.
func rewriteClassAttribute(n *html.Node, list []string) {
	dom.RemoveAttr(n, "class")
	if len(list) > 0 {
		n.Attr = append(n.Attr, html.Attribute{Key: "class", Val: classes.Join(list)})
	}
}

// -- Readiness, persistence and feedback --

// ready waits for the document to load. A document that is not yet queryable
// is retried once after the configured delay.
func (e *Engine) ready(ctx context.Context) error {
	err := e.waitLoaded(ctx)
	if err == nil || !errors.Is(err, surface.ErrSerializationUnavailable) {
		return err
	}
	e.logger.Debug("Document not ready; retrying once.", zap.Duration("delay", e.cfg.RetryDelay))
	if err := e.sleep(ctx, e.cfg.RetryDelay); err != nil {
		return err
	}
	return e.waitLoaded(ctx)
}

func (e *Engine) waitLoaded(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.LoadTimeout)
	defer cancel()
	err := e.surface.Wait(waitCtx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: load did not finish within %s", surface.ErrSerializationUnavailable, e.cfg.LoadTimeout)
	}
	return err
}

// persistLocked serializes the document and, when save is set and a saver is
// configured, saves it. The serialized document is returned even if saving
// failed.
func (e *Engine) persistLocked(ctx context.Context, save bool) (string, error) {
	out, err := e.surface.Serialize()
	if errors.Is(err, surface.ErrSerializationUnavailable) {
		if err = e.ready(ctx); err == nil {
			out, err = e.surface.Serialize()
		}
	}
	if err != nil {
		return "", fmt.Errorf("failed to serialize document: %w", err)
	}
	if !save || e.saver == nil {
		return out, nil
	}
	if err := e.saver.Save(ctx, out); err != nil {
		return out, fmt.Errorf("failed to save document: %w", err)
	}
	return out, nil
}

// failLocked logs err, posts it for the user and returns it wrapped with op.
func (e *Engine) failLocked(ctx context.Context, op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)

	var notFound *dom.ElementNotFoundError
	var applyErr *ClassApplicationFailedError
	text := "The edit could not be completed."
	switch {
	case errors.As(err, &notFound):
		text = "The element could not be found. It may have been removed."
	case errors.As(err, &applyErr):
		text = "The style change could not be applied; the element was restored."
	case errors.Is(err, surface.ErrSerializationUnavailable):
		text = "The document is still loading. Try again in a moment."
	}

	e.logger.Error("Editor operation failed.", zap.String("op", op), zap.Error(err))
	e.notify(ctx, feedback.KindError, feedback.Notice{Text: text, Err: wrapped})
	return wrapped
}

func (e *Engine) notify(ctx context.Context, kind feedback.Kind, payload interface{}) {
	if err := e.bus.Post(ctx, kind, payload); err != nil {
		e.logger.Debug("Feedback not posted.", zap.String("kind", string(kind)), zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
