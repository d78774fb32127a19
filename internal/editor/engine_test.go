// internal/editor/engine_test.go
package editor

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/net/html"

	"github.com/mmmyyc/ai-template-sub000/internal/classes"
	"github.com/mmmyyc/ai-template-sub000/internal/config"
	"github.com/mmmyyc/ai-template-sub000/internal/dom"
	"github.com/mmmyyc/ai-template-sub000/internal/feedback"
	"github.com/mmmyyc/ai-template-sub000/internal/mocks"
	"github.com/mmmyyc/ai-template-sub000/internal/selection"
	"github.com/mmmyyc/ai-template-sub000/internal/surface"
)

const scenario = `<div><p class="text-gray-500 text-sm">Hi</p><p>Bye</p></div>`

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Editor.LoadTimeout = 2 * time.Second
	cfg.Editor.RetryDelay = 5 * time.Millisecond
	return cfg
}

func newEngine(t *testing.T, logger *zap.Logger, opts ...Option) *Engine {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}
	e, err := New(testConfig(), logger, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func mount(t *testing.T, e *Engine, content string) {
	t.Helper()
	require.NoError(t, e.Mount(context.Background(), content))
	require.NoError(t, e.Surface().Wait(context.Background()))
}

func node(t *testing.T, e *Engine, expr string) *html.Node {
	t.Helper()
	root, err := e.Surface().Root()
	require.NoError(t, err)
	n := htmlquery.FindOne(root, expr)
	require.NotNil(t, n, "no node for %s", expr)
	return n
}

func classOf(t *testing.T, e *Engine, expr string) string {
	t.Helper()
	v, _ := dom.GetAttr(node(t, e, expr), "class")
	return v
}

// requireClean asserts that no session artifacts survive in the live
// document or in its serialization.
func requireClean(t *testing.T, e *Engine) {
	t.Helper()
	assert.Zero(t, e.Surface().Markers(), "marker attribute left in the live document")
	out, err := e.Surface().Serialize()
	require.NoError(t, err)
	assert.NotContains(t, out, dom.MarkerAttribute)
	_, open := e.Session()
	assert.False(t, open)
	assert.Equal(t, selection.Idle, e.State())
}

// -- End-to-end --

func TestEngine_EndToEndScenario(t *testing.T) {
	ctx := context.Background()
	saver := new(mocks.MockSaver)
	saver.On("Save", mock.Anything, mock.MatchedBy(func(content string) bool {
		return strings.Contains(content, `<p class="text-blue-700 text-lg">Hi</p><p>Bye</p>`)
	})).Return(nil).Once()

	e := newEngine(t, nil, WithSaver(saver))
	mount(t, e, scenario)
	changes, unsubscribe := e.Bus().Subscribe(feedback.KindChange)
	defer unsubscribe()

	// 1. Enable selection and click the first paragraph.
	require.NoError(t, e.EnableSelection(ctx))
	require.Equal(t, selection.Selecting, e.State())

	first := node(t, e, "//p[1]")
	ev, err := e.Surface().Dispatch(surface.EventClick, first)
	require.NoError(t, err)
	assert.True(t, ev.DefaultPrevented())

	sess, ok := e.Session()
	require.True(t, ok, "clicking in selection mode opens a session")
	assert.Equal(t, selection.Editing, e.State())
	assert.Equal(t, dom.ElementPath("div > p.text-gray-500.text-sm:nth-of-type(1)"), sess.Path)
	assert.True(t, dom.IsMarker(sess.Marker))
	assert.Equal(t, []string{"text-gray-500", "text-sm"}, sess.OriginalClasses)
	assert.Equal(t, classes.Color{Hue: "gray", Intensity: 500}, *sess.Model.TextColor)
	assert.Equal(t, "sm", *sess.Model.FontSize)

	// Selection mode's interception is gone while editing.
	assert.Zero(t, e.Surface().ListenerCount())

	// 2. Edit two fields; each edit previews on the live node.
	got, err := e.Apply(ctx, classes.StyleModel{TextColor: classes.Ptr(classes.Color{Hue: "blue", Intensity: 700})})
	require.NoError(t, err)
	assert.Equal(t, []string{"text-sm", "text-blue-700"}, got)

	got, err = e.Apply(ctx, classes.StyleModel{FontSize: classes.Ptr("lg")})
	require.NoError(t, err)
	assert.Equal(t, []string{"text-blue-700", "text-lg"}, got)
	assert.Equal(t, "text-blue-700 text-lg", classOf(t, e, "//p[1]"))

	sess, _ = e.Session()
	if diff := cmp.Diff(classes.Extract([]string{"text-blue-700", "text-lg"}), sess.Model); diff != "" {
		t.Errorf("session model mismatch (-want +got):\n%s", diff)
	}

	// 3. Commit.
	out, err := e.Commit(ctx)
	require.NoError(t, err)
	assert.Contains(t, out, `<p class="text-blue-700 text-lg">Hi</p><p>Bye</p>`)
	assert.NotContains(t, out, dom.ReservedPrefix)
	requireClean(t, e)
	saver.AssertExpectations(t)

	log := e.Changes()
	require.Len(t, log, 1)
	assert.Equal(t, sess.Path, log[0].Target)
	assert.Equal(t, []string{"text-gray-500", "text-sm"}, log[0].Before)
	assert.Equal(t, []string{"text-blue-700", "text-lg"}, log[0].After)
	assert.ElementsMatch(t, []string{"text-blue-700", "text-lg"}, log[0].Diff.Added)

	select {
	case msg := <-changes:
		change, ok := msg.Payload.(AppliedChange)
		require.True(t, ok)
		assert.Equal(t, log[0].ID, change.ID)
	case <-time.After(time.Second):
		t.Fatal("no change notification")
	}
}

func TestEngine_ClickOnLinkDoesNotNavigate(t *testing.T) {
	e := newEngine(t, nil)
	mount(t, e, `<div><a href="/next" class="p-2">Next</a></div>`)
	require.NoError(t, e.EnableSelection(context.Background()))

	_, err := e.Surface().Dispatch(surface.EventClick, node(t, e, "//a"))
	require.NoError(t, err)

	assert.Empty(t, e.Surface().DefaultActions())
	sess, ok := e.Session()
	require.True(t, ok)
	assert.Equal(t, dom.ElementPath("div > a.p-2"), sess.Path)
}

// -- Session exits --

func TestEngine_CancelRestoresOriginalClasses(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	mount(t, e, scenario)

	_, err := e.Select(ctx, node(t, e, "//p[1]"))
	require.NoError(t, err)
	_, err = e.Apply(ctx, classes.StyleModel{Padding: classes.Ptr(classes.Uniform("4"))})
	require.NoError(t, err)
	assert.Equal(t, "text-gray-500 text-sm p-4", classOf(t, e, "//p[1]"))

	require.NoError(t, e.Cancel(ctx))
	assert.Equal(t, "text-gray-500 text-sm", classOf(t, e, "//p[1]"))
	assert.Empty(t, e.Changes())
	requireClean(t, e)
}

func TestEngine_CommitWithoutChangesRecordsNothing(t *testing.T) {
	ctx := context.Background()
	saver := new(mocks.MockSaver)
	saver.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

	e := newEngine(t, nil, WithSaver(saver))
	mount(t, e, scenario)

	_, err := e.Select(ctx, node(t, e, "//p[2]"))
	require.NoError(t, err)
	_, err = e.Commit(ctx)
	require.NoError(t, err)

	assert.Empty(t, e.Changes())
	requireClean(t, e)
	saver.AssertExpectations(t)
}

func TestEngine_SaveOnCommitDisabled(t *testing.T) {
	ctx := context.Background()
	saver := new(mocks.MockSaver)

	cfg := testConfig()
	cfg.Editor.SaveOnCommit = false
	e, err := New(cfg, zaptest.NewLogger(t), WithSaver(saver))
	require.NoError(t, err)
	defer e.Close()
	mount(t, e, scenario)

	_, err = e.Select(ctx, node(t, e, "//p[1]"))
	require.NoError(t, err)
	_, err = e.Apply(ctx, classes.StyleModel{FontWeight: classes.Ptr("bold")})
	require.NoError(t, err)
	out, err := e.Commit(ctx)
	require.NoError(t, err)

	assert.Contains(t, out, "font-bold")
	saver.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestEngine_SaveFailureStillEndsSession(t *testing.T) {
	ctx := context.Background()
	saver := new(mocks.MockSaver)
	saver.On("Save", mock.Anything, mock.Anything).Return(errors.New("remote unavailable"))

	e := newEngine(t, nil, WithSaver(saver))
	mount(t, e, scenario)
	errs, unsubscribe := e.Bus().Subscribe(feedback.KindError)
	defer unsubscribe()

	_, err := e.Select(ctx, node(t, e, "//p[1]"))
	require.NoError(t, err)
	_, err = e.Apply(ctx, classes.StyleModel{Shadow: classes.Ptr("md")})
	require.NoError(t, err)

	out, err := e.Commit(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote unavailable")
	assert.Contains(t, out, "shadow-md", "the serialized document is still returned")
	assert.Len(t, e.Changes(), 1)
	requireClean(t, e)

	select {
	case msg := <-errs:
		notice := msg.Payload.(feedback.Notice)
		assert.ErrorContains(t, notice.Err, "remote unavailable")
	case <-time.After(time.Second):
		t.Fatal("no error notification")
	}
}

func TestEngine_DeleteSelected(t *testing.T) {
	ctx := context.Background()
	saver := new(mocks.MockSaver)
	saver.On("Save", mock.Anything, mock.MatchedBy(func(content string) bool {
		return !strings.Contains(content, "Bye")
	})).Return(nil).Once()

	cfg := testConfig()
	cfg.Editor.SaveOnCommit = false
	e, err := New(cfg, zaptest.NewLogger(t), WithSaver(saver))
	require.NoError(t, err)
	defer e.Close()
	mount(t, e, scenario)

	sess, err := e.Select(ctx, node(t, e, "//p[2]"))
	require.NoError(t, err)
	out, err := e.DeleteSelected(ctx)
	require.NoError(t, err)

	assert.Contains(t, out, `<div><p class="text-gray-500 text-sm">Hi</p></div>`)
	saver.AssertExpectations(t)
	requireClean(t, e)

	log := e.Changes()
	require.Len(t, log, 1)
	assert.True(t, log[0].Deleted)
	assert.Equal(t, sess.Path, log[0].Target)
	assert.Nil(t, log[0].After)
}

func TestEngine_NoSession(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	mount(t, e, scenario)

	_, err := e.Apply(ctx, classes.StyleModel{})
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = e.Commit(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, e.Cancel(ctx), ErrNoSession)
	_, err = e.DeleteSelected(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
}

// -- Failures --

func TestEngine_ReEditNotFoundAborts(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	mount(t, e, scenario)
	errs, unsubscribe := e.Bus().Subscribe(feedback.KindError)
	defer unsubscribe()

	_, err := e.ReEdit(ctx, "article#gone > h6")
	var notFound *dom.ElementNotFoundError
	require.ErrorAs(t, err, &notFound)
	requireClean(t, e)

	select {
	case msg := <-errs:
		assert.Contains(t, msg.Payload.(feedback.Notice).Text, "could not be found")
	case <-time.After(time.Second):
		t.Fatal("no error notification")
	}
}

func TestEngine_ReEditResolvesPath(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	mount(t, e, `<div><p class="text-sm">A</p><p id="b" class="w-[1280px]">B</p></div>`)

	sess, err := e.ReEdit(ctx, `div > p#b`)
	require.NoError(t, err)
	assert.Equal(t, dom.StrategyExact, sess.Strategy)
	assert.Equal(t, []string{"w-[1280px]"}, sess.OriginalClasses)
	assert.Equal(t, selection.Editing, e.State())

	n, ok := e.Surface().Lookup(sess.Marker)
	require.True(t, ok)
	assert.Equal(t, node(t, e, `//p[@id="b"]`), n)
}

func TestEngine_ReEditMarker(t *testing.T) {
	ctx := context.Background()
	token := dom.NewMarker()
	marked := `<div><p class="text-sm">A</p><p ` + dom.MarkerAttribute + `="` + token + `" class="p-2">B</p></div>`

	t.Run("ExistingMarker", func(t *testing.T) {
		saver := new(mocks.MockSaver)
		saver.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
		e := newEngine(t, nil, WithSaver(saver))
		mount(t, e, marked)

		sess, err := e.ReEditMarker(ctx, token, "")
		require.NoError(t, err)
		assert.Equal(t, token, sess.Marker, "the existing marker is kept")
		assert.Equal(t, dom.StrategyMarker, sess.Strategy)
		assert.Equal(t, dom.ElementPath("div > p.p-2:nth-of-type(2)"), sess.Path)
		assert.Equal(t, selection.Editing, e.State())

		_, err = e.Apply(ctx, classes.StyleModel{FontSize: classes.Ptr("lg")})
		require.NoError(t, err)
		out, err := e.Commit(ctx)
		require.NoError(t, err)
		assert.Contains(t, out, `<p class="text-sm">A</p><p class="p-2 text-lg">B</p>`)
		requireClean(t, e)
		saver.AssertExpectations(t)
	})

	t.Run("FallsBackToPath", func(t *testing.T) {
		e := newEngine(t, nil)
		mount(t, e, scenario)

		sess, err := e.ReEditMarker(ctx, token, "div > p:nth-of-type(2)")
		require.NoError(t, err)
		assert.Equal(t, dom.StrategyExact, sess.Strategy)
		assert.NotEqual(t, token, sess.Marker)
		n, ok := e.Surface().Lookup(sess.Marker)
		require.True(t, ok)
		assert.Equal(t, node(t, e, "//p[2]"), n)
	})

	t.Run("MissingMarkerWithoutPath", func(t *testing.T) {
		e := newEngine(t, nil)
		mount(t, e, scenario)

		_, err := e.ReEditMarker(ctx, token, "")
		var notFound *dom.ElementNotFoundError
		require.ErrorAs(t, err, &notFound)
		requireClean(t, e)
	})
}

func TestEngine_ApplyKeepsRepeatedUnrecognizedClasses(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	mount(t, e, `<div><p class="card js card text-sm">Hi</p></div>`)

	_, err := e.Select(ctx, node(t, e, "//p"))
	require.NoError(t, err)

	model := classes.StyleModel{FontSize: classes.Ptr("lg")}
	got, err := e.Apply(ctx, model)
	require.NoError(t, err)
	assert.Equal(t, []string{"card", "js", "card", "text-lg"}, got)
	assert.Equal(t, classes.Merge([]string{"card", "js", "card", "text-sm"}, model), got)
	assert.Equal(t, "card js card text-lg", classOf(t, e, "//p"))
}

func TestEngine_ApplyAfterElementRemovedAborts(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	mount(t, e, scenario)

	_, err := e.Select(ctx, node(t, e, "//p[1]"))
	require.NoError(t, err)

	// Content removes the element out from under the session.
	target := node(t, e, "//p[1]")
	require.NoError(t, e.Surface().Mutate(func(*html.Node) error {
		target.Parent.RemoveChild(target)
		return nil
	}))

	_, err = e.Apply(ctx, classes.StyleModel{FontSize: classes.Ptr("xl")})
	var notFound *dom.ElementNotFoundError
	require.ErrorAs(t, err, &notFound)
	requireClean(t, e)
}

func TestEngine_InvalidModelKeepsSession(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	mount(t, e, scenario)

	_, err := e.Select(ctx, node(t, e, "//p[1]"))
	require.NoError(t, err)
	_, err = e.Apply(ctx, classes.StyleModel{FontSize: classes.Ptr("huge")})
	require.Error(t, err)

	_, open := e.Session()
	assert.True(t, open)
	assert.Equal(t, "text-gray-500 text-sm", classOf(t, e, "//p[1]"))
	require.NoError(t, e.Cancel(ctx))
}

func TestEngine_ClassApplicationFallsBackToAttributeRewrite(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	e := newEngine(t, zap.New(core))
	e.primaryWrite = func(*html.Node, []string) {}
	mount(t, e, scenario)

	_, err := e.Select(ctx, node(t, e, "//p[1]"))
	require.NoError(t, err)
	got, err := e.Apply(ctx, classes.StyleModel{TextAlign: classes.Ptr("center")})
	require.NoError(t, err)

	assert.Equal(t, []string{"text-gray-500", "text-sm", "text-center"}, got)
	assert.Equal(t, "text-gray-500 text-sm text-center", classOf(t, e, "//p[1]"))
	assert.Equal(t, 1, logs.FilterMessageSnippet("rewriting the class attribute").Len())
}

func TestEngine_ClassApplicationFailureRestoresAndAborts(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	broken := func(n *html.Node, _ []string) { dom.SetAttr(n, "class", "garbage") }
	e.primaryWrite = broken
	e.secondaryWrite = broken
	mount(t, e, scenario)

	_, err := e.Select(ctx, node(t, e, "//p[1]"))
	require.NoError(t, err)
	_, err = e.Apply(ctx, classes.StyleModel{BackgroundColor: classes.Ptr(classes.Color{Hue: "white"})})

	var applyErr *ClassApplicationFailedError
	require.ErrorAs(t, err, &applyErr)
	assert.True(t, applyErr.Restored)
	assert.Equal(t, []string{"garbage"}, applyErr.Got)
	assert.Equal(t, "text-gray-500 text-sm", classOf(t, e, "//p[1]"), "no partial write survives")
	requireClean(t, e)
}

func TestEngine_EmptyClassListRemovesAttribute(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	mount(t, e, `<div><p class="text-sm">x</p></div>`)

	_, err := e.Select(ctx, node(t, e, "//p"))
	require.NoError(t, err)
	got, err := e.Apply(ctx, classes.StyleModel{FontSize: classes.Ptr("")})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, hasClass := dom.GetAttr(node(t, e, "//p"), "class")
	assert.False(t, hasClass)
	require.NoError(t, e.Cancel(ctx))
	assert.Equal(t, "text-sm", classOf(t, e, "//p"))
}

// -- Lifecycle --

func TestEngine_NewSelectionSupersedesSession(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	mount(t, e, scenario)

	first, err := e.Select(ctx, node(t, e, "//p[1]"))
	require.NoError(t, err)
	second, err := e.Select(ctx, node(t, e, "//p[2]"))
	require.NoError(t, err)

	assert.NotEqual(t, first.Marker, second.Marker)
	assert.Equal(t, 1, e.Surface().Markers())
	_, ok := e.Surface().Lookup(first.Marker)
	assert.False(t, ok)
	require.NoError(t, e.Cancel(ctx))
	requireClean(t, e)
}

func TestEngine_EnableSelectionCancelsSession(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	mount(t, e, scenario)

	_, err := e.Select(ctx, node(t, e, "//p[1]"))
	require.NoError(t, err)
	_, err = e.Apply(ctx, classes.StyleModel{FontSize: classes.Ptr("4xl")})
	require.NoError(t, err)

	require.NoError(t, e.EnableSelection(ctx))
	assert.Equal(t, selection.Selecting, e.State())
	assert.Equal(t, "text-gray-500 text-sm", classOf(t, e, "//p[1]"))
	assert.Zero(t, e.Surface().Markers())

	require.NoError(t, e.DisableSelection(ctx))
	requireClean(t, e)
}

func TestEngine_MountEndsSession(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	mount(t, e, scenario)

	_, err := e.Select(ctx, node(t, e, "//p[1]"))
	require.NoError(t, err)
	mount(t, e, `<section><h1 class="text-3xl">Title</h1></section>`)

	requireClean(t, e)
	_, err = e.Apply(ctx, classes.StyleModel{})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestEngine_Closed(t *testing.T) {
	defer goleak.VerifyNone(t)

	e, err := New(testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	mount(t, e, scenario)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "close is idempotent")

	assert.ErrorIs(t, e.Mount(context.Background(), scenario), ErrClosed)
	_, err = e.ReEdit(context.Background(), "div")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(nil, zap.NewNop())
	assert.Error(t, err)
}

// -- Readiness --

func blockingParser(release <-chan struct{}) surface.ParseFunc {
	return func(r io.Reader) (*html.Node, error) {
		<-release
		return html.Parse(r)
	}
}

func TestEngine_RetriesOnceWhenNotLoaded(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	release := make(chan struct{})
	releaseOnce := sync.OnceFunc(func() { close(release) })
	e, err := New(testConfig(), zaptest.NewLogger(t), WithSurfaceOptions(surface.WithParser(blockingParser(release))))
	require.NoError(t, err)
	defer e.Close()
	defer releaseOnce()
	e.cfg.LoadTimeout = 100 * time.Millisecond

	var sleeps int
	e.sleep = func(context.Context, time.Duration) error {
		sleeps++
		releaseOnce()
		return nil
	}

	require.NoError(t, e.Mount(ctx, scenario))
	require.NoError(t, e.EnableSelection(ctx))
	assert.Equal(t, 1, sleeps)
	assert.Equal(t, selection.Selecting, e.State())
}

func TestEngine_SurfacesUnavailableAfterOneRetry(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	release := make(chan struct{})
	e, err := New(testConfig(), zaptest.NewLogger(t), WithSurfaceOptions(surface.WithParser(blockingParser(release))))
	require.NoError(t, err)
	defer e.Close()
	defer close(release)
	e.cfg.LoadTimeout = 20 * time.Millisecond

	var sleeps int
	e.sleep = func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}

	require.NoError(t, e.Mount(ctx, scenario))
	_, err = e.ReEdit(ctx, "div > p")
	assert.ErrorIs(t, err, surface.ErrSerializationUnavailable)
	assert.Equal(t, 1, sleeps)
	assert.Equal(t, selection.Idle, e.State())
}

func TestEngine_NeverMounted(t *testing.T) {
	e := newEngine(t, nil)
	err := e.EnableSelection(context.Background())
	assert.ErrorIs(t, err, surface.ErrSerializationUnavailable)
	assert.Equal(t, selection.Idle, e.State())
}
