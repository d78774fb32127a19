// File: cmd/edit.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mmmyyc/ai-template-sub000/internal/classes"
	"github.com/mmmyyc/ai-template-sub000/internal/config"
	"github.com/mmmyyc/ai-template-sub000/internal/dom"
	"github.com/mmmyyc/ai-template-sub000/internal/editor"
	"github.com/mmmyyc/ai-template-sub000/internal/feedback"
	"github.com/mmmyyc/ai-template-sub000/internal/store"
)

// versionStore is the part of store.Store the commands use.
type versionStore interface {
	store.Saver
	History(ctx context.Context, limit int) ([]store.Version, error)
}

// storeProvider creates the document version store. It is swapped for a fake
// in tests so no live database is needed.
type storeProvider interface {
	// Create returns the store, a cleanup function releasing its resources,
	// and an error if the store is unavailable.
	Create(ctx context.Context, cfg *config.Config, documentID string, logger *zap.Logger) (versionStore, func(), error)
}

// defaultStoreProvider connects to PostgreSQL.
type defaultStoreProvider struct{}

// NewStoreProvider returns the production store provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to the configured database, ensures the schema exists and
// returns a store for documentID.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg *config.Config, documentID string, logger *zap.Logger) (versionStore, func(), error) {
	if cfg.Database.URL == "" {
		return nil, nil, errors.New("database URL is not configured (SLIDEEDIT_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	st, err := store.New(pool, documentID, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return st, cleanup, nil
}

// editReport is printed after an edit.
type editReport struct {
	Path     dom.ElementPath       `json:"path"`
	Strategy dom.Strategy          `json:"strategy"`
	Change   *editor.AppliedChange `json:"change,omitempty"`
	Notices  []string              `json:"notices,omitempty"`
	Document string                `json:"document,omitempty"`
	Saved    []string              `json:"saved,omitempty"`
}

type editOptions struct {
	file       string
	path       string
	model      string
	output     string
	documentID string
	delete     bool
	dryRun     bool
}

func newEditCmd(app *appState, provider storeProvider) *cobra.Command {
	opts := &editOptions{}

	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Restyle or delete one element and save the document",
		Long: `Mounts the document, re-locates the element addressed by --path and either
applies the style model given with --model or deletes the element. The result
is written back to the file (or --output) and, when a database is configured,
appended to the document's version history.`,
		Example: `  slide-edit edit -f slide.html -p 'div > p:nth-of-type(1)' -m '{"fontSize":"lg"}'
  slide-edit edit -f slide.html -p 'div > p#footer' --delete --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd.Context(), cmd, app, provider, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "HTML document to edit")
	cmd.Flags().StringVarP(&opts.path, "path", "p", "", "element path of the element to edit")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "style model as JSON")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the result here instead of overwriting --file")
	cmd.Flags().StringVar(&opts.documentID, "document-id", "", "document id in the version history (default is the file name)")
	cmd.Flags().BoolVar(&opts.delete, "delete", false, "delete the element instead of restyling it")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print the resulting document instead of saving it")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func runEdit(ctx context.Context, cmd *cobra.Command, app *appState, provider storeProvider, opts *editOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := app.logger.Named("edit")

	if opts.delete && opts.model != "" {
		return errors.New("--model cannot be combined with --delete")
	}
	model, err := parseModel(opts.model)
	if err != nil {
		return err
	}
	content, err := readDocument(cmd, opts.file)
	if err != nil {
		return err
	}

	// 1. Assemble the savers.
	report := editReport{Path: dom.ElementPath(opts.path)}
	var savers []store.Saver
	if !opts.dryRun {
		out := opts.output
		if out == "" {
			out = opts.file
		}
		savers = append(savers, store.NewFileSaver(out, logger))
		report.Saved = append(report.Saved, out)

		if app.cfg.Database.URL != "" {
			docID := opts.documentID
			if docID == "" {
				docID = strings.TrimSuffix(filepath.Base(out), filepath.Ext(out))
			}
			st, cleanup, err := provider.Create(ctx, app.cfg, docID, logger)
			if err != nil {
				return err
			}
			defer cleanup()
			savers = append(savers, st)
			report.Saved = append(report.Saved, "database:"+docID)
		}
	}

	// 2. Run the edit session. The CLI always saves the result.
	cfg := *app.cfg
	cfg.Editor.SaveOnCommit = true
	engineOpts := []editor.Option{}
	if len(savers) > 0 {
		engineOpts = append(engineOpts, editor.WithSaver(store.Multi(savers...)))
	}
	engine, err := editor.New(&cfg, logger, engineOpts...)
	if err != nil {
		return err
	}
	defer engine.Close()

	notices, unsubscribe := engine.Bus().Subscribe(feedback.KindError, feedback.KindInfo)
	defer unsubscribe()

	document, err := editDocument(ctx, engine, content, opts, model, &report)
	report.Notices = drainNotices(notices)
	if err != nil {
		return err
	}

	if changes := engine.Changes(); len(changes) > 0 {
		report.Change = &changes[len(changes)-1]
	}
	if opts.dryRun {
		report.Document = document
	}
	return writeJSON(cmd, report)
}

func editDocument(ctx context.Context, engine *editor.Engine, content string, opts *editOptions, model classes.StyleModel, report *editReport) (string, error) {
	if err := engine.Mount(ctx, content); err != nil {
		return "", err
	}
	sess, err := engine.ReEdit(ctx, dom.ElementPath(opts.path))
	if err != nil {
		return "", err
	}
	report.Strategy = sess.Strategy

	if opts.delete {
		return engine.DeleteSelected(ctx)
	}
	if _, err := engine.Apply(ctx, model); err != nil {
		return "", err
	}
	return engine.Commit(ctx)
}

// drainNotices collects the notices already delivered without waiting.
func drainNotices(ch <-chan feedback.Message) []string {
	var out []string
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return out
			}
			if n, ok := msg.Payload.(feedback.Notice); ok {
				out = append(out, n.Text)
			}
		default:
			return out
		}
	}
}

func newHistoryCmd(app *appState, provider storeProvider) *cobra.Command {
	var documentID string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List saved versions of a document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			st, cleanup, err := provider.Create(ctx, app.cfg, documentID, app.logger)
			if err != nil {
				return err
			}
			defer cleanup()

			versions, err := st.History(ctx, limit)
			if err != nil {
				return err
			}
			if versions == nil {
				versions = []store.Version{}
			}
			return writeJSON(cmd, versions)
		},
	}
	cmd.Flags().StringVar(&documentID, "document-id", "", "document id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of versions to list")
	_ = cmd.MarkFlagRequired("document-id")
	return cmd
}
