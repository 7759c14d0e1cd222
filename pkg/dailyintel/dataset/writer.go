package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cognicore/dailyintel/pkg/dailyintel/internalerr"
	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

// WriteOptions controls publishing of a day's file.
type WriteOptions struct {
	// Force replaces an existing file for the day. Without it an existing
	// file is a WriteConflict and is left untouched.
	Force bool
}

// Writer publishes dataset files into one directory.
//
// A file is first written in full to a temporary name in the same directory
// and synced, then published: with a hard link when it must not replace an
// existing file (the link fails atomically if the name is taken) or a rename
// when forced. Readers see either the old file, no file, or the new file.
type Writer struct {
	dir    string
	logger *slog.Logger
}

// NewWriter creates a writer for dir.
func NewWriter(dir string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{dir: dir, logger: logger.With("component", "dataset")}
}

// Dir returns the dataset directory.
func (w *Writer) Dir() string { return w.dir }

// Path returns the file path for day.
func (w *Writer) Path(day string) string {
	return filepath.Join(w.dir, FileName(day))
}

// Exists reports whether day has been published.
func (w *Writer) Exists(day string) (bool, error) {
	_, err := os.Stat(w.Path(day))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Write publishes records as day's dataset file and returns its path.
func (w *Writer) Write(ctx context.Context, day string, records []story.Record, opts WriteOptions) (string, error) {
	if _, err := story.ParseDay(day); err != nil {
		return "", fmt.Errorf("%w: %v", internalerr.ErrInvalidInput, err)
	}
	data, err := Encode(records)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create dataset dir: %w", err)
	}

	target := w.Path(day)
	tmp, err := w.stage(target, data)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp)

	if opts.Force {
		if err := os.Rename(tmp, target); err != nil {
			return "", fmt.Errorf("publish %s: %w", target, err)
		}
	} else {
		if err := os.Link(tmp, target); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return "", &internalerr.WriteConflict{Path: target}
			}
			return "", fmt.Errorf("publish %s: %w", target, err)
		}
	}
	syncDir(w.dir)

	w.logger.Info("Dataset published", "day", day, "path", target, "records", len(records), "force", opts.Force)
	return target, nil
}

// Replace atomically rewrites an existing dataset file. It is the only way
// published files change after the first write.
func (w *Writer) Replace(ctx context.Context, file string, records []story.Record) error {
	data, err := Encode(records)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(file); err != nil {
		return fmt.Errorf("replace %s: %w", file, err)
	}

	tmp, err := w.stage(file, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Rename(tmp, file); err != nil {
		return fmt.Errorf("replace %s: %w", file, err)
	}
	syncDir(filepath.Dir(file))
	w.logger.Debug("Dataset rewritten", "path", file, "records", len(records))
	return nil
}

// stage writes data to a synced temporary file next to target.
func (w *Writer) stage(target string, data []byte) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	fail := func(err error) (string, error) {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		return fail(fmt.Errorf("write temp file: %w", err))
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("sync temp file: %w", err))
	}
	if err := f.Chmod(0o644); err != nil {
		return fail(fmt.Errorf("chmod temp file: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return name, nil
}

// syncDir makes the directory entry durable. Failures are ignored; not every
// platform supports syncing a directory.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
