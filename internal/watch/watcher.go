// Package watch detects external writes to the document store, so an open
// editor can warn that another process (or another tab) changed a document
// underneath it.
package watch

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StoreWatcher watches the store file and reports writes that did not come
// from this process. Detection is advisory: callers prompt a reload, they
// never merge automatically.
type StoreWatcher struct {
	storePath    string
	watcher      *fsnotify.Watcher
	onConflict   func()
	debounceTime time.Duration

	mu         sync.Mutex
	pending    bool
	localUntil time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStoreWatcher creates a watcher for the given store file.
func NewStoreWatcher(storePath string) (*StoreWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &StoreWatcher{
		storePath:    storePath,
		watcher:      watcher,
		debounceTime: 500 * time.Millisecond,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// OnConflict sets the callback invoked when an external write is detected.
func (sw *StoreWatcher) OnConflict(callback func()) {
	sw.onConflict = callback
}

// MarkLocalWrite tells the watcher the next burst of events is our own save.
// Events within the grace window are not reported as conflicts.
func (sw *StoreWatcher) MarkLocalWrite() {
	sw.mu.Lock()
	sw.localUntil = time.Now().Add(2 * time.Second)
	sw.mu.Unlock()
}

// Start begins watching the store file's directory. SQLite in WAL mode
// writes to sidecar files next to the database, so the directory is watched
// and events are filtered by prefix.
func (sw *StoreWatcher) Start() error {
	dir := filepath.Dir(sw.storePath)
	if err := sw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	sw.wg.Add(2)
	go sw.eventLoop()
	go sw.debounceLoop()

	return nil
}

// Stop stops the watcher.
func (sw *StoreWatcher) Stop() error {
	sw.cancel()
	sw.wg.Wait()
	return sw.watcher.Close()
}

func (sw *StoreWatcher) eventLoop() {
	defer sw.wg.Done()

	for {
		select {
		case <-sw.ctx.Done():
			return

		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			sw.handleEvent(event)

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  Watcher error: %v", err)
		}
	}
}

func (sw *StoreWatcher) handleEvent(event fsnotify.Event) {
	if !strings.HasPrefix(event.Name, sw.storePath) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	if time.Now().Before(sw.localUntil) {
		return
	}
	sw.pending = true
}

func (sw *StoreWatcher) debounceLoop() {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-sw.ctx.Done():
			return

		case <-ticker.C:
			sw.flushPending()
		}
	}
}

func (sw *StoreWatcher) flushPending() {
	sw.mu.Lock()
	fire := sw.pending
	sw.pending = false
	sw.mu.Unlock()

	if fire && sw.onConflict != nil {
		log.Printf("📝 External write to %s detected", sw.storePath)
		sw.onConflict()
	}
}
