package selection_test

import (
	"context"
	"testing"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/net/html"

	"github.com/mmmyyc/ai-template-sub000/internal/dom"
	"github.com/mmmyyc/ai-template-sub000/internal/feedback"
	"github.com/mmmyyc/ai-template-sub000/internal/selection"
	"github.com/mmmyyc/ai-template-sub000/internal/surface"
)

const page = `<html><head><title>Deck</title></head><body>
<div class="slide"><a href="/next"><span class="label">Next</span></a></div>
<aside data-ai-edit-ignore><a href="/help">Help</a></aside>
</body></html>`

type fixture struct {
	surface    *surface.Surface
	bus        *feedback.Bus
	controller *selection.Controller
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	s := surface.New(logger)
	bus := feedback.NewBus(logger, 16)
	t.Cleanup(func() {
		bus.Shutdown()
		_ = s.Close()
	})

	require.NoError(t, s.Mount(context.Background(), page))
	require.NoError(t, s.Wait(context.Background()))

	c, err := selection.NewController(s, bus, logger)
	require.NoError(t, err)
	return &fixture{surface: s, bus: bus, controller: c}
}

func (f *fixture) find(t *testing.T, expr string) *html.Node {
	t.Helper()
	root, err := f.surface.Root()
	require.NoError(t, err)
	n := htmlquery.FindOne(root, expr)
	require.NotNil(t, n, "no node for %s", expr)
	return n
}

func TestValidateStylesheet(t *testing.T) {
	sheet, err := selection.ValidateStylesheet(selection.Stylesheet)
	require.NoError(t, err)
	assert.Len(t, sheet.Rules, 3)

	_, err = selection.ValidateStylesheet(`@import "x.css";`)
	assert.Error(t, err)
	_, err = selection.ValidateStylesheet(`a { }`)
	assert.Error(t, err)
	_, err = selection.ValidateStylesheet(``)
	assert.Error(t, err)
}

func TestNewController_RequiresSurface(t *testing.T) {
	_, err := selection.NewController(nil, nil, nil)
	assert.Error(t, err)
}

func TestController_EnterAndExitSelecting(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	states, unsubscribe := f.bus.Subscribe(feedback.KindState)
	defer unsubscribe()

	require.NoError(t, f.controller.Transition(ctx, selection.Selecting))
	assert.Equal(t, selection.Selecting, f.controller.State())
	assert.Equal(t, 3, f.surface.ListenerCount())

	style := f.find(t, "//head/style")
	id, _ := dom.GetAttr(style, "id")
	assert.Equal(t, dom.SelectionStyleID, id)
	assert.Equal(t, selection.Stylesheet, style.FirstChild.Data)
	_, flagged := dom.GetAttr(f.find(t, "//body"), dom.SelectingAttribute)
	assert.True(t, flagged)

	// Re-entering the same state changes nothing.
	require.NoError(t, f.controller.Transition(ctx, selection.Selecting))
	assert.Equal(t, 3, f.surface.ListenerCount())

	require.NoError(t, f.controller.Transition(ctx, selection.Idle))
	assert.Equal(t, 0, f.surface.ListenerCount())
	root, _ := f.surface.Root()
	assert.Nil(t, htmlquery.FindOne(root, "//head/style"))
	_, flagged = dom.GetAttr(f.find(t, "//body"), dom.SelectingAttribute)
	assert.False(t, flagged)

	// Cleanup is idempotent.
	f.controller.Reset(ctx)
	assert.Equal(t, selection.Idle, f.controller.State())

	select {
	case msg := <-states:
		assert.Equal(t, feedback.Transition{From: "idle", To: "selecting"}, msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("no state transition posted")
	}
}

func TestController_ClickIsInterceptedAndSelects(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	span := f.find(t, "//span")

	contentRan := false
	_, err := f.surface.AddEventListener(span, surface.EventClick, false, func(*surface.Event) { contentRan = true })
	require.NoError(t, err)

	var selected *html.Node
	f.controller.OnSelect(func(ctx context.Context, target *html.Node) {
		selected = target
		require.NoError(t, f.controller.Transition(ctx, selection.Editing))
	})
	require.NoError(t, f.controller.Transition(ctx, selection.Selecting))

	// Clicking the text inside the span selects the span itself.
	ev, err := f.surface.Dispatch(surface.EventClick, span.FirstChild)
	require.NoError(t, err)

	assert.True(t, ev.DefaultPrevented())
	assert.Same(t, span, selected)
	assert.False(t, contentRan, "content handlers must not run while selecting")
	assert.Empty(t, f.surface.DefaultActions(), "link navigation must not run")
	assert.Equal(t, selection.Editing, f.controller.State())
	assert.Equal(t, 1, f.surface.ListenerCount(), "only the content listener remains")
}

func TestController_IgnoredSubtreePassesThrough(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	called := false
	f.controller.OnSelect(func(context.Context, *html.Node) { called = true })
	require.NoError(t, f.controller.Transition(ctx, selection.Selecting))

	help := f.find(t, "//aside/a")
	_, err := f.surface.Dispatch(surface.EventClick, help)
	require.NoError(t, err)

	assert.False(t, called)
	actions := f.surface.DefaultActions()
	require.Len(t, actions, 1)
	assert.Equal(t, "/help", actions[0].Href)
}

func TestController_Hover(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.controller.Transition(ctx, selection.Selecting))

	div := f.find(t, "//div")
	_, err := f.surface.Dispatch(surface.EventMouseOver, div)
	require.NoError(t, err)
	_, hovered := dom.GetAttr(div, dom.HoverAttribute)
	assert.True(t, hovered)

	_, err = f.surface.Dispatch(surface.EventMouseOut, div)
	require.NoError(t, err)
	_, hovered = dom.GetAttr(div, dom.HoverAttribute)
	assert.False(t, hovered)

	body := f.find(t, "//body")
	_, err = f.surface.Dispatch(surface.EventMouseOver, body)
	require.NoError(t, err)
	_, hovered = dom.GetAttr(body, dom.HoverAttribute)
	assert.False(t, hovered, "structural elements are never highlighted")

	// A lingering hover flag is swept on exit.
	_, err = f.surface.Dispatch(surface.EventMouseOver, div)
	require.NoError(t, err)
	require.NoError(t, f.controller.Transition(ctx, selection.Idle))
	_, hovered = dom.GetAttr(div, dom.HoverAttribute)
	assert.False(t, hovered)
}

func TestController_Transitions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	exits := 0
	f.controller.OnEndEdit(func(context.Context) { exits++ })

	require.NoError(t, f.controller.Transition(ctx, selection.Editing), "re-edit enters Editing from Idle")
	err := f.controller.Transition(ctx, selection.Selecting)
	assert.ErrorIs(t, err, selection.ErrInvalidTransition)
	assert.Equal(t, selection.Editing, f.controller.State())

	require.NoError(t, f.controller.Transition(ctx, selection.Idle))
	assert.Equal(t, 1, exits)

	require.NoError(t, f.controller.Transition(ctx, selection.Editing))
	f.controller.Reset(ctx)
	assert.Equal(t, 2, exits)
	assert.Equal(t, selection.Idle, f.controller.State())
}

func TestController_ToleratesReloadedDocument(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.controller.Transition(ctx, selection.Selecting))

	require.NoError(t, f.surface.Mount(ctx, page))
	require.NoError(t, f.surface.Wait(ctx))

	require.NoError(t, f.controller.Transition(ctx, selection.Idle))
	assert.Equal(t, 0, f.surface.ListenerCount())
}

func TestController_EnterWithoutDocument(t *testing.T) {
	logger := zaptest.NewLogger(t)
	s := surface.New(logger)
	defer s.Close()

	c, err := selection.NewController(s, nil, logger)
	require.NoError(t, err)

	err = c.Transition(context.Background(), selection.Selecting)
	assert.ErrorIs(t, err, surface.ErrSerializationUnavailable)
	assert.Equal(t, selection.Idle, c.State())
}
