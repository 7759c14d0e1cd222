package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cognicore/dailyintel/pkg/dailyintel/dataset"
)

// Image is a generated image.
type Image struct {
	Data   []byte
	Ext    string // ".png"; sniffed from Data when empty
	Prompt string // prompt the generator actually used, if it reports one
}

// Generator is the external image-generation collaborator. It may be slow
// and may fail; callers bound each call with a timeout.
type Generator interface {
	Generate(ctx context.Context, prompt string, seed string) (Image, error)
}

// AssetStore persists images and finds ones already present.
type AssetStore interface {
	Save(ctx context.Context, day, id string, img Image) (string, error)
	Find(day, id string) (string, bool)
	Exists(rel string) bool
}

var knownExts = []string{".png", ".jpg", ".jpeg", ".webp", ".gif"}

// ExtFor returns the file extension for image data based on its content, or
// an error when the data is not an image.
func ExtFor(data []byte) (string, error) {
	switch ct := http.DetectContentType(data); ct {
	case "image/png":
		return ".png", nil
	case "image/jpeg":
		return ".jpg", nil
	case "image/webp":
		return ".webp", nil
	case "image/gif":
		return ".gif", nil
	default:
		return "", fmt.Errorf("generator returned %s, not an image", ct)
	}
}

// LocalAssets stores images under <root>/images/<day>/<id>.<ext>, where root
// is the dataset directory.
type LocalAssets struct {
	root string
}

// NewLocalAssets creates an asset store rooted at the dataset directory.
func NewLocalAssets(root string) *LocalAssets {
	return &LocalAssets{root: root}
}

// Save writes img atomically and returns its path relative to the root.
func (a *LocalAssets) Save(ctx context.Context, day, id string, img Image) (string, error) {
	if len(img.Data) == 0 {
		return "", errors.New("empty image")
	}
	ext := img.Ext
	if ext == "" {
		var err error
		if ext, err = ExtFor(img.Data); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rel := dataset.ImagePath(day, id, ext)
	target := filepath.Join(a.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(target), "."+id+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(img.Data); err != nil {
		f.Close()
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close image: %w", err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, target); err != nil {
		return "", fmt.Errorf("publish image: %w", err)
	}
	return rel, nil
}

// Find returns the relative path of an image already saved for id.
func (a *LocalAssets) Find(day, id string) (string, bool) {
	for _, ext := range knownExts {
		rel := dataset.ImagePath(day, id, ext)
		if a.Exists(rel) {
			return rel, true
		}
	}
	return "", false
}

// Exists reports whether rel names an existing file under the root.
func (a *LocalAssets) Exists(rel string) bool {
	if rel == "" || filepath.IsAbs(rel) {
		return false
	}
	info, err := os.Stat(filepath.Join(a.root, filepath.FromSlash(rel)))
	if err != nil {
		return false
	}
	return !info.IsDir()
}
