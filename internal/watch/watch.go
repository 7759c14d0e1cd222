// Package watch reports source documents dropped into an inbox directory.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const eventChannelBuffer = 64

// Config configures an inbox watcher.
type Config struct {
	// Debounce is how long a file must stay unchanged before it is reported,
	// so a document still being copied is not picked up half-written.
	Debounce time.Duration
	// Extensions lists the file extensions to report (".pdf", ".html").
	Extensions []string
	// Existing reports files already in the inbox when Start is called.
	Existing bool
}

// Inbox watches one directory for new or replaced documents.
type Inbox struct {
	dir        string
	cfg        Config
	watcher    *fsnotify.Watcher
	logger     *slog.Logger
	extensions map[string]bool

	mu      sync.Mutex
	pending map[string]time.Time // path -> last event
	seen    map[string]string    // path -> content hash last reported

	events chan string
}

// New creates an inbox watcher for dir.
func New(dir string, cfg Config, logger *slog.Logger) (*Inbox, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if len(cfg.Extensions) == 0 {
		return nil, errors.New("watch: no extensions configured")
	}
	exts := make(map[string]bool, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[strings.ToLower(ext)] = true
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Inbox{
		dir:        dir,
		cfg:        cfg,
		watcher:    fsw,
		logger:     logger.With("component", "watch", "inbox", dir),
		extensions: exts,
		pending:    make(map[string]time.Time),
		seen:       make(map[string]string),
		events:     make(chan string, eventChannelBuffer),
	}, nil
}

// Events returns the absolute paths of documents ready for ingestion. It is
// closed when the watcher stops.
func (w *Inbox) Events() <-chan string {
	return w.events
}

// Start begins watching. It returns once the watch is registered.
func (w *Inbox) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	if w.cfg.Existing {
		entries, err := os.ReadDir(w.dir)
		if err != nil {
			return err
		}
		now := time.Now()
		for _, e := range entries {
			if !e.IsDir() {
				w.touch(filepath.Join(w.dir, e.Name()), now)
			}
		}
	}

	go w.loop(ctx)
	w.logger.Info("Inbox watcher started", "debounce", w.cfg.Debounce)
	return nil
}

// Stop stops the watcher. The events channel is closed by the event loop.
func (w *Inbox) Stop() error {
	return w.watcher.Close()
}

func (w *Inbox) loop(ctx context.Context) {
	defer close(w.events)
	ticker := time.NewTicker(w.cfg.Debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.touch(ev.Name, time.Now())
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)
		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

func (w *Inbox) touch(path string, at time.Time) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || !w.extensions[strings.ToLower(filepath.Ext(path))] {
		return
	}
	w.mu.Lock()
	w.pending[path] = at
	w.mu.Unlock()
}

// flush reports files that have been quiet for the debounce period and whose
// content differs from what was last reported.
func (w *Inbox) flush(ctx context.Context, now time.Time) {
	w.mu.Lock()
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.cfg.Debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		content, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				w.logger.Warn("Failed to read new document", "path", path, "error", err)
			}
			continue
		}
		sum := sha256.Sum256(content)
		hash := hex.EncodeToString(sum[:])

		w.mu.Lock()
		unchanged := w.seen[path] == hash
		w.seen[path] = hash
		w.mu.Unlock()
		if unchanged || len(content) == 0 {
			continue
		}

		select {
		case w.events <- path:
			w.logger.Debug("Document ready", "path", path)
		case <-ctx.Done():
			return
		}
	}
}
