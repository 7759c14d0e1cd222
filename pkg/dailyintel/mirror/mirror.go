// Package mirror copies published days to an object store.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cognicore/dailyintel/pkg/dailyintel/dataset"
	"github.com/cognicore/dailyintel/pkg/dailyintel/internalerr"
)

// Bucket is the object store a day is mirrored to.
type Bucket interface {
	// Put writes an object. With ifAbsent an existing object is left alone
	// and written reports false.
	Put(ctx context.Context, name string, data []byte, contentType string, ifAbsent bool) (written bool, err error)
	// List returns the names of objects under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Report summarises one Publish.
type Report struct {
	Day      string
	Uploaded []string
	Skipped  []string // images already present remotely
}

// Mirror publishes dataset files and their images.
type Mirror struct {
	bucket Bucket
	dir    string
	prefix string
	logger *slog.Logger
}

// New creates a mirror of the dataset directory dir into bucket under prefix.
func New(bucket Bucket, dir, prefix string, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{bucket: bucket, dir: dir, prefix: strings.Trim(prefix, "/"), logger: logger.With("component", "mirror")}
}

// ObjectName maps a path relative to the dataset directory to an object name.
func (m *Mirror) ObjectName(rel string) string {
	rel = filepath.ToSlash(rel)
	if m.prefix == "" {
		return rel
	}
	return path.Join(m.prefix, rel)
}

// Publish uploads the day's dataset file and every image the file refers
// to. The dataset file is always overwritten since enrichment rewrites it;
// images are immutable and only uploaded when absent.
func (m *Mirror) Publish(ctx context.Context, day string) (Report, error) {
	file := filepath.Join(m.dir, dataset.FileName(day))
	records, err := dataset.Read(file)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Day: day}
	logCtx := m.logger.With("day", day)

	var images []string
	for _, rec := range records {
		if rec.ImageURL != "" {
			images = append(images, rec.ImageURL)
		}
	}
	sort.Strings(images)

	for _, rel := range images {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		clean := path.Clean(rel)
		if path.IsAbs(clean) || strings.HasPrefix(clean, "../") {
			logCtx.Warn("Skipping image outside the dataset directory", "image", rel)
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, filepath.FromSlash(clean)))
		if err != nil {
			logCtx.Warn("Image referenced but not on disk, not mirrored", "image", rel, "error", err)
			continue
		}
		name := m.ObjectName(clean)
		written, err := m.bucket.Put(ctx, name, data, contentType(clean), true)
		if err != nil {
			return rep, fmt.Errorf("mirror %s: %w", name, err)
		}
		if written {
			rep.Uploaded = append(rep.Uploaded, name)
		} else {
			rep.Skipped = append(rep.Skipped, name)
		}
	}

	// The dataset goes last so readers never see a file whose images are
	// missing remotely.
	data, err := os.ReadFile(file)
	if err != nil {
		return rep, err
	}
	name := m.ObjectName(dataset.FileName(day))
	if _, err := m.bucket.Put(ctx, name, data, "application/json", false); err != nil {
		return rep, fmt.Errorf("mirror %s: %w", name, err)
	}
	rep.Uploaded = append(rep.Uploaded, name)

	logCtx.Info("Day mirrored", "uploaded", len(rep.Uploaded), "skipped", len(rep.Skipped))
	return rep, nil
}

// Remote lists the objects mirrored for day.
func (m *Mirror) Remote(ctx context.Context, day string) ([]string, error) {
	if _, ok := dataset.DayFromFile(dataset.FileName(day)); !ok {
		return nil, fmt.Errorf("%w: bad day %q", internalerr.ErrInvalidInput, day)
	}
	file, err := m.bucket.List(ctx, m.ObjectName(dataset.FileName(day)))
	if err != nil {
		return nil, err
	}
	imgs, err := m.bucket.List(ctx, m.ObjectName(path.Join(dataset.ImagesDir, day))+"/")
	if err != nil {
		return nil, err
	}
	out := append(file, imgs...)
	sort.Strings(out)
	return out, nil
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
