// Package watch turns mutations made outside this process into events on the local
// change bus: writes to the SQLite store file by another process, and change
// notifications relayed over Redis pub/sub by other dashboard instances.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"aquarium-dashboard/pkg/events"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// OriginFile is stamped on changes detected on the store file.
const OriginFile = "file-watcher"

// FileWatcher watches a SQLite database file (and its -wal/-journal companions) and
// publishes a KeyAll external change when another process writes to it.
type FileWatcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	bus      *events.Bus
	log      zerolog.Logger
	dir      string
	base     string
	debounce time.Duration
	quiet    time.Duration

	pendingSince time.Time // Last relevant event not yet published
	lastLocal    time.Time // Last change this process published

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// FileWatcherOptions tunes event coalescing.
type FileWatcherOptions struct {
	Debounce time.Duration // Quiet period before a burst of writes is published
	Quiet    time.Duration // Events this soon after a local write are attributed to it
}

// NewFileWatcher creates a watcher for the database at path.
func NewFileWatcher(path string, bus *events.Bus, log zerolog.Logger, opts FileWatcherOptions) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return nil, err
	}

	if opts.Debounce <= 0 {
		opts.Debounce = 250 * time.Millisecond
	}
	if opts.Quiet <= 0 {
		opts.Quiet = time.Second
	}

	return &FileWatcher{
		watcher:  w,
		bus:      bus,
		log:      log,
		dir:      filepath.Dir(abs),
		base:     filepath.Base(abs),
		debounce: opts.Debounce,
		quiet:    opts.Quiet,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. It is non-blocking.
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.mu.Lock()
	if fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = true
	fw.mu.Unlock()

	if err := os.MkdirAll(fw.dir, 0755); err != nil {
		fw.log.Warn().Err(err).Str("dir", fw.dir).Msg("Failed to create store directory")
	}
	if err := fw.watcher.Add(fw.dir); err != nil {
		fw.mu.Lock()
		fw.running = false
		fw.mu.Unlock()
		return err
	}

	local, unsubscribe := fw.bus.Subscribe(64)
	go fw.run(ctx, local, unsubscribe)

	fw.log.Info().Str("dir", fw.dir).Str("file", fw.base).Msg("Watching store file for external writes")
	return nil
}

// Stop stops the watcher and waits for its loop to exit.
func (fw *FileWatcher) Stop() {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.stopCh)
	<-fw.doneCh

	if err := fw.watcher.Close(); err != nil {
		fw.log.Error().Err(err).Msg("Error closing file watcher")
	}
}

// NoteLocalWrite marks the next events on the store file as this process's own.
// The store calls it right before writing, since its bus notification is only
// published after the write and can lose the race against the file event.
func (fw *FileWatcher) NoteLocalWrite() {
	fw.mu.Lock()
	fw.lastLocal = time.Now()
	fw.mu.Unlock()
}

func (fw *FileWatcher) run(ctx context.Context, local <-chan events.Change, unsubscribe func()) {
	defer close(fw.doneCh)
	defer unsubscribe()

	ticker := time.NewTicker(max(fw.debounce/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-fw.stopCh:
			return

		case c, ok := <-local:
			if !ok {
				return
			}
			if !c.External {
				fw.NoteLocalWrite()
			}

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Error().Err(err).Msg("File watcher error")

		case <-ticker.C:
			fw.flush(time.Now())
		}
	}
}

// relevant reports whether name is the database file or one of its companions.
func (fw *FileWatcher) relevant(name string) bool {
	base := filepath.Base(name)
	if base == fw.base {
		return true
	}
	for _, suffix := range []string{"-wal", "-journal"} {
		if base == fw.base+suffix {
			return true
		}
	}
	return false
}

func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	if !fw.relevant(event.Name) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	now := time.Now()
	if now.Sub(fw.lastLocal) < fw.quiet {
		return
	}
	fw.pendingSince = now
}

// flush publishes a pending change once writes have settled.
func (fw *FileWatcher) flush(now time.Time) {
	fw.mu.Lock()
	if fw.pendingSince.IsZero() || now.Sub(fw.pendingSince) < fw.debounce {
		fw.mu.Unlock()
		return
	}
	fw.pendingSince = time.Time{}
	fw.mu.Unlock()

	fw.log.Debug().Msg("External write detected on store file")
	fw.bus.Publish(events.Change{Key: events.KeyAll, Origin: OriginFile, External: true})
}

// IsStoreFile reports whether name looks like a SQLite database file path. Used to
// decide whether file watching makes sense for a configured store path.
func IsStoreFile(name string) bool {
	return name != "" && name != ":memory:" && !strings.HasPrefix(name, "file::memory:")
}
