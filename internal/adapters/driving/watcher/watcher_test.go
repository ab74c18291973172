package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/democracy-chain/dcindex/internal/adapters/driven/storage/local"
	"github.com/democracy-chain/dcindex/internal/core/domain"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.IngestEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.IngestEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) published() []domain.IngestEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.IngestEvent(nil), p.events...)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestHandleFsEvent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "0xA", "p.pdf"), "pdf")
	writeFile(t, filepath.Join(root, "0xA", ".hidden.txt"), "x")
	writeFile(t, filepath.Join(root, "top.txt"), "x")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "0xA", "sub"), 0o755))

	tests := []struct {
		name   string
		path   string
		op     fsnotify.Op
		want   bool
		action domain.Action
	}{
		{name: "create file", path: "0xA/p.pdf", op: fsnotify.Create, want: true, action: domain.ActionAdd},
		{name: "write file", path: "0xA/p.pdf", op: fsnotify.Write, want: true, action: domain.ActionAdd},
		{name: "write and chmod", path: "0xA/p.pdf", op: fsnotify.Write | fsnotify.Chmod, want: true, action: domain.ActionAdd},
		{name: "remove file", path: "0xA/gone.pdf", op: fsnotify.Remove, want: true, action: domain.ActionRemove},
		{name: "rename file", path: "0xA/old.pdf", op: fsnotify.Rename, want: true, action: domain.ActionRemove},
		{name: "chmod only", path: "0xA/p.pdf", op: fsnotify.Chmod},
		{name: "create of vanished file", path: "0xA/missing.pdf", op: fsnotify.Create},
		{name: "directory inside owner", path: "0xA/sub", op: fsnotify.Create},
		{name: "hidden file", path: "0xA/.hidden.txt", op: fsnotify.Create},
		{name: "file at root", path: "top.txt", op: fsnotify.Create},
		{name: "nested file", path: "0xA/sub/deep.txt", op: fsnotify.Remove},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New(local.NewFileStore(root), &recordingPublisher{}, Config{})
			got := w.handleFsEvent(fsnotify.Event{Name: filepath.Join(root, filepath.FromSlash(tt.path)), Op: tt.op})
			assert.Equal(t, tt.want, got)
			if tt.want {
				ref, ok := w.files.RefFor(filepath.Join(root, filepath.FromSlash(tt.path)))
				require.True(t, ok)
				assert.Equal(t, tt.action, w.pending[ref].action)
			} else {
				assert.Empty(t, w.pending)
			}
		})
	}
}

func TestBuildEvent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "0xB", "b.docx"), "x")
	writeFile(t, filepath.Join(root, "0xA", "a.pdf"), "x")
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	w := New(local.NewFileStore(root), &recordingPublisher{}, Config{})
	event := w.buildEvent(map[domain.FileRef]change{
		{OwnerID: "0xB", SourceName: "b.docx"}:   {action: domain.ActionAdd, createdAt: at},
		{OwnerID: "0xA", SourceName: "a.pdf"}:    {action: domain.ActionAdd, createdAt: at},
		{OwnerID: "0xA", SourceName: "gone.txt"}: {action: domain.ActionAdd, createdAt: at},
		{OwnerID: "0xC", SourceName: "old.pdf"}:  {action: domain.ActionRemove},
	})

	assert.Equal(t, []domain.FileDescriptor{
		{OwnerID: "0xA", Name: "a.pdf", MediaType: "application/pdf", CreatedAt: at},
		{
			OwnerID: "0xB", Name: "b.docx", CreatedAt: at,
			MediaType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		},
	}, event.Add)
	assert.Equal(t, []domain.FileRef{
		{OwnerID: "0xA", SourceName: "gone.txt"},
		{OwnerID: "0xC", SourceName: "old.pdf"},
	}, event.Remove)
}

func TestFlush_RestoresOnPublishFailure(t *testing.T) {
	root := t.TempDir()
	publisher := &recordingPublisher{err: errors.New("broker down")}
	w := New(local.NewFileStore(root), publisher, Config{})

	old := domain.FileRef{OwnerID: "0xA", SourceName: "a.pdf"}
	newer := domain.FileRef{OwnerID: "0xA", SourceName: "b.pdf"}
	w.pending[old] = change{action: domain.ActionRemove}
	w.pending[newer] = change{action: domain.ActionRemove}
	taken := w.take()

	// A newer change arrives while the publish is in flight.
	w.pending[newer] = change{action: domain.ActionAdd}

	assert.Equal(t, 1, w.restore(taken))
	assert.Equal(t, domain.ActionRemove, w.pending[old].action)
	assert.Equal(t, domain.ActionAdd, w.pending[newer].action)

	assert.Equal(t, 2, w.flush(context.Background()))
	assert.Empty(t, publisher.published())

	publisher.err = nil
	assert.Zero(t, w.flush(context.Background()))
	require.Len(t, publisher.published(), 1)
	assert.Zero(t, w.flush(context.Background()), "nothing left to publish")
	assert.Len(t, publisher.published(), 1)
}

func TestRun_PublishesDebouncedChanges(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "0xA", "old.pdf")
	writeFile(t, existing, "old")

	publisher := &recordingPublisher{}
	w := New(local.NewFileStore(root), publisher, Config{Debounce: 100 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Let the watches register before touching the tree.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(root, "0xA", "new.pdf"), "v1")
	writeFile(t, filepath.Join(root, "0xA", "new.pdf"), "v2")
	require.NoError(t, os.Remove(existing))

	require.Eventually(t, func() bool {
		var adds, removes int
		for _, e := range publisher.published() {
			adds += len(e.Add)
			removes += len(e.Remove)
		}
		return adds >= 1 && removes >= 1
	}, 3*time.Second, 20*time.Millisecond)

	var added []string
	var removed []domain.FileRef
	for _, e := range publisher.published() {
		for _, fd := range e.Add {
			added = append(added, fd.Name)
		}
		removed = append(removed, e.Remove...)
	}
	assert.Contains(t, added, "new.pdf")
	assert.Contains(t, removed, domain.FileRef{OwnerID: "0xA", SourceName: "old.pdf"})
}

func TestRun_NewOwnerDirectory(t *testing.T) {
	root := t.TempDir()
	publisher := &recordingPublisher{}
	w := New(local.NewFileStore(root), publisher, Config{Debounce: 100 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(root, "0xNEW", "programme.txt"), "hello")

	require.Eventually(t, func() bool {
		for _, e := range publisher.published() {
			for _, fd := range e.Add {
				if fd.OwnerID == "0xNEW" && fd.Name == "programme.txt" {
					return true
				}
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRun_MissingRoot(t *testing.T) {
	w := New(local.NewFileStore(filepath.Join(t.TempDir(), "absent")), &recordingPublisher{}, Config{})
	assert.Error(t, w.Run(context.Background()))
}
