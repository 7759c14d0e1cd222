package mirror

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/cognicore/dailyintel/pkg/dailyintel/dataset"
	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemBucket() *memBucket {
	return &memBucket{objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *memBucket) Put(ctx context.Context, name string, data []byte, contentType string, ifAbsent bool) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[name]; ok && ifAbsent {
		return false, nil
	}
	b.objects[name] = append([]byte(nil), data...)
	b.types[name] = contentType
	return true, nil
}

func (b *memBucket) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for name := range b.objects {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func publishFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	records := []story.Record{
		{ID: "a", Title: "A", RawText: "a", ImageURL: "images/21_11_25/a.png"},
		{ID: "b", Title: "B", RawText: "b", ImageURL: "images/21_11_25/b.jpg"},
		{ID: "c", Title: "C", RawText: "c"},
	}
	if _, err := dataset.NewWriter(dir, nil).Write(context.Background(), "21_11_25", records, dataset.WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	imgDir := filepath.Join(dir, "images", "21_11_25")
	os.MkdirAll(imgDir, 0o755)
	os.WriteFile(filepath.Join(imgDir, "a.png"), []byte("png"), 0o644)
	// b.jpg is referenced but missing locally.
	return dir
}

func TestPublishUploadsDatasetAndImages(t *testing.T) {
	dir := publishFixture(t)
	bucket := newMemBucket()
	m := New(bucket, dir, "/datasets/", nil)

	rep, err := m.Publish(context.Background(), "21_11_25")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	want := []string{"datasets/images/21_11_25/a.png", "datasets/21_11_25.json"}
	if strings.Join(rep.Uploaded, ",") != strings.Join(want, ",") {
		t.Errorf("uploaded = %v", rep.Uploaded)
	}
	if bucket.types["datasets/21_11_25.json"] != "application/json" || bucket.types["datasets/images/21_11_25/a.png"] != "image/png" {
		t.Errorf("content types = %v", bucket.types)
	}

	// Publishing again re-uploads the dataset but leaves images alone.
	rep, err = m.Publish(context.Background(), "21_11_25")
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Skipped) != 1 || len(rep.Uploaded) != 1 || rep.Uploaded[0] != "datasets/21_11_25.json" {
		t.Errorf("second publish = %+v", rep)
	}

	remote, err := m.Remote(context.Background(), "21_11_25")
	if err != nil {
		t.Fatal(err)
	}
	if len(remote) != 2 {
		t.Errorf("remote = %v", remote)
	}
}

func TestPublishMissingDay(t *testing.T) {
	m := New(newMemBucket(), t.TempDir(), "", nil)
	if _, err := m.Publish(context.Background(), "01_01_25"); err == nil {
		t.Error("expected error for unpublished day")
	}
}

func TestObjectNameWithoutPrefix(t *testing.T) {
	m := New(newMemBucket(), "", "", nil)
	if got := m.ObjectName("images/21_11_25/a.png"); got != "images/21_11_25/a.png" {
		t.Errorf("ObjectName = %s", got)
	}
}

func TestPreconditionFailed(t *testing.T) {
	wrapped := errors.Join(errors.New("close"), &googleapi.Error{Code: 412})
	if !preconditionFailed(wrapped) {
		t.Error("412 should be recognised through wrapping")
	}
	if preconditionFailed(&googleapi.Error{Code: 403}) || preconditionFailed(errors.New("x")) {
		t.Error("only 412 is a precondition failure")
	}
}
