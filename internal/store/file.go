// internal/store/file.go
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Saver persists a serialized document.
type Saver interface {
	Save(ctx context.Context, content string) error
}

// FileSaver writes the document to a file, replacing it atomically.
type FileSaver struct {
	path string
	log  *zap.Logger
}

// NewFileSaver creates a saver for path.
func NewFileSaver(path string, logger *zap.Logger) *FileSaver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSaver{path: path, log: logger.Named("file_saver")}
}

// Save writes content to a temporary sibling and renames it over the target.
func (f *FileSaver) Save(ctx context.Context, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Keep the permissions of the document being replaced.
	perm := os.FileMode(0o644)
	if info, err := os.Stat(f.path); err == nil {
		perm = info.Mode().Perm()
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in '%s': %w", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename succeeded.
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions on temporary file: %w", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace '%s': %w", f.path, err)
	}

	f.log.Debug("Document written.", zap.String("path", f.path), zap.Int("bytes", len(content)))
	return nil
}

// Multi fans a save out to every saver in order. All savers run; their
// errors are combined.
func Multi(savers ...Saver) Saver {
	return multiSaver(savers)
}

type multiSaver []Saver

func (m multiSaver) Save(ctx context.Context, content string) (err error) {
	for _, s := range m {
		if s == nil {
			continue
		}
		err = multierr.Append(err, s.Save(ctx, content))
	}
	return err
}
