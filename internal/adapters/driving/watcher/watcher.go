// Package watcher publishes ingestion events for changes under the upload
// directory, for deployments where files are dropped in place rather than
// announced by the upload workflow.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/democracy-chain/dcindex/internal/adapters/driven/storage/local"
	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driving"
	"github.com/democracy-chain/dcindex/internal/logger"
)

// DefaultDebounce is the quiet period before pending changes are published.
const DefaultDebounce = 2 * time.Second

// flushTimeout bounds the final publish after cancellation.
const flushTimeout = 10 * time.Second

// Config holds watcher configuration.
type Config struct {
	// Debounce is the quiet period that ends a burst of changes (default: 2s).
	Debounce time.Duration
}

// change is the latest pending action for one file.
type change struct {
	action    domain.Action
	createdAt time.Time
}

// Watcher turns filesystem events under <root>/<owner>/ into add and
// remove events. Bursts are coalesced: the last change to a file wins.
type Watcher struct {
	files     *local.FileStore
	publisher driving.PublisherService
	debounce  time.Duration

	mu      sync.Mutex
	pending map[domain.FileRef]change
}

// New creates a watcher over the file store's root.
func New(files *local.FileStore, publisher driving.PublisherService, cfg Config) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Watcher{
		files:     files,
		publisher: publisher,
		debounce:  cfg.Debounce,
		pending:   make(map[domain.FileRef]change),
	}
}

// Run watches until ctx is cancelled, then publishes what is still pending.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	root := w.files.Root()
	if err := fw.Add(root); err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read %s: %w", root, err)
	}
	for _, e := range entries {
		if e.IsDir() && !isHidden(e.Name()) {
			w.watchOwner(fw, filepath.Join(root, e.Name()), false)
		}
	}
	logger.Info("watching %s for uploads", root)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
			w.flush(flushCtx)
			cancel()
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.isOwnerDir(event) {
				w.watchOwner(fw, event.Name, true)
				timer.Reset(w.debounce)
				continue
			}
			if w.handleFsEvent(event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher: %v", err)

		case <-timer.C:
			if w.flush(ctx) > 0 {
				// Failed changes were restored; retry after another quiet period.
				timer.Reset(w.debounce)
			}
		}
	}
}

// isOwnerDir reports whether event created a new owner directory.
func (w *Watcher) isOwnerDir(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) || filepath.Dir(event.Name) != w.files.Root() || isHidden(filepath.Base(event.Name)) {
		return false
	}
	info, err := os.Stat(event.Name)
	return err == nil && info.IsDir()
}

// watchOwner adds dir to the watch list. Files already present in a
// directory that appeared while running are queued, since their create
// events fired before the watch existed.
func (w *Watcher) watchOwner(fw *fsnotify.Watcher, dir string, scan bool) {
	if err := fw.Add(dir); err != nil {
		logger.Warn("watcher: cannot watch %s: %v", dir, err)
		return
	}
	logger.Debug("watching owner directory %s", dir)
	if !scan {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("watcher: read %s: %v", dir, err)
		return
	}
	for _, e := range entries {
		w.handleFsEvent(fsnotify.Event{Name: filepath.Join(dir, e.Name()), Op: fsnotify.Create})
	}
}

// handleFsEvent records the change event describes and reports whether it
// was relevant. Hidden files, directories and paths outside an owner
// directory are ignored.
func (w *Watcher) handleFsEvent(event fsnotify.Event) bool {
	ref, ok := w.files.RefFor(event.Name)
	if !ok || isHidden(ref.SourceName) {
		return false
	}

	var c change
	switch {
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil || !info.Mode().IsRegular() {
			return false
		}
		c = change{action: domain.ActionAdd, createdAt: info.ModTime().UTC()}
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		c = change{action: domain.ActionRemove}
	default:
		return false
	}

	w.mu.Lock()
	w.pending[ref] = c
	w.mu.Unlock()
	return true
}

// flush publishes pending changes as one event and returns how many were
// restored after a failed publish.
func (w *Watcher) flush(ctx context.Context) int {
	taken := w.take()
	event := w.buildEvent(taken)
	if event.IsEmpty() {
		return 0
	}

	if err := w.publisher.Publish(ctx, event); err != nil {
		logger.Error("watcher: publish %d adds and %d removes: %v", len(event.Add), len(event.Remove), err)
		return w.restore(taken)
	}
	logger.Info("watcher: published %d adds and %d removes", len(event.Add), len(event.Remove))
	return 0
}

func (w *Watcher) take() map[domain.FileRef]change {
	w.mu.Lock()
	defer w.mu.Unlock()
	taken := w.pending
	w.pending = make(map[domain.FileRef]change)
	return taken
}

// restore puts back changes not superseded by newer events.
func (w *Watcher) restore(changes map[domain.FileRef]change) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for ref, c := range changes {
		if _, newer := w.pending[ref]; !newer {
			w.pending[ref] = c
			n++
		}
	}
	return n
}

// buildEvent orders items by owner then name. An add whose file has gone
// by now becomes a remove.
func (w *Watcher) buildEvent(changes map[domain.FileRef]change) domain.IngestEvent {
	refs := make([]domain.FileRef, 0, len(changes))
	for ref := range changes {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })

	var event domain.IngestEvent
	for _, ref := range refs {
		c := changes[ref]
		if c.action == domain.ActionAdd && !w.exists(ref) {
			c.action = domain.ActionRemove
		}
		switch c.action {
		case domain.ActionAdd:
			event.Add = append(event.Add, domain.FileDescriptor{
				OwnerID:   ref.OwnerID,
				Name:      ref.SourceName,
				MediaType: local.GuessMediaType(ref.SourceName),
				CreatedAt: c.createdAt,
			})
		case domain.ActionRemove:
			event.Remove = append(event.Remove, ref)
		}
	}
	return event
}

func (w *Watcher) exists(ref domain.FileRef) bool {
	path, err := w.files.Path(ref)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
