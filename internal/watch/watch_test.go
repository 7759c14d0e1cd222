package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startInbox(t *testing.T, dir string, cfg Config) *Inbox {
	t.Helper()
	w, err := New(dir, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w
}

func expectEvent(t *testing.T, w *Inbox, want string) {
	t.Helper()
	select {
	case got := <-w.Events():
		if got != want {
			t.Errorf("event = %s, want %s", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s", want)
	}
}

func expectNoEvent(t *testing.T, w *Inbox, wait time.Duration) {
	t.Helper()
	select {
	case got := <-w.Events():
		t.Errorf("unexpected event %s", got)
	case <-time.After(wait):
	}
}

func TestInboxReportsNewDocuments(t *testing.T) {
	dir := t.TempDir()
	w := startInbox(t, dir, Config{Debounce: 50 * time.Millisecond, Extensions: []string{".pdf", "txt"}})
	time.Sleep(50 * time.Millisecond)

	ignored := filepath.Join(dir, "notes.docx")
	os.WriteFile(ignored, []byte("x"), 0o644)
	hidden := filepath.Join(dir, ".partial.pdf")
	os.WriteFile(hidden, []byte("x"), 0o644)

	path := filepath.Join(dir, "21_11_25.txt")
	if err := os.WriteFile(path, []byte("Headline\n\nBody."), 0o644); err != nil {
		t.Fatal(err)
	}
	expectEvent(t, w, path)

	// Rewriting identical content is not reported again.
	os.WriteFile(path, []byte("Headline\n\nBody."), 0o644)
	expectNoEvent(t, w, 300*time.Millisecond)

	// Changed content is.
	os.WriteFile(path, []byte("Headline\n\nBody, corrected."), 0o644)
	expectEvent(t, w, path)
}

func TestInboxReportsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "20_11_25.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	w := startInbox(t, dir, Config{Debounce: 50 * time.Millisecond, Extensions: []string{".pdf"}, Existing: true})
	expectEvent(t, w, path)
}

func TestNewRequiresExtensions(t *testing.T) {
	if _, err := New(t.TempDir(), Config{}, nil); err == nil {
		t.Error("expected error without extensions")
	}
}
