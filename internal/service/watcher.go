package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// SaveWatcher mirrors a directory of .sav files into the sync service.
// Emulators that flush battery RAM straight to disk get cloud sync for
// free: every settled write to <title>.sav becomes a SaveBattery call.
type SaveWatcher struct {
	svc   *SyncService
	dir   string
	log   zerolog.Logger
	delay time.Duration

	watcher *fsnotify.Watcher

	mu        sync.Mutex
	debounces map[string]*Debouncer
}

func NewSaveWatcher(svc *SyncService, dir string, log zerolog.Logger) *SaveWatcher {
	return &SaveWatcher{
		svc:       svc,
		dir:       dir,
		log:       log,
		delay:     2 * time.Second,
		debounces: make(map[string]*Debouncer),
	}
}

// Start begins watching. It returns once the watcher is installed; event
// handling runs in the background until ctx is canceled or Close is
// called.
func (w *SaveWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return err
	}
	w.watcher = watcher

	go w.run(ctx)
	w.log.Info().Str("dir", w.dir).Msg("Watching save directory")
	return nil
}

func (w *SaveWatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, saveSuffix) {
				continue
			}
			w.schedule(ctx, event.Name, strings.TrimSuffix(name, saveSuffix))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("Save watcher error")
		}
	}
}

// schedule arms the per-title debouncer so a burst of writes during an
// in-game save uploads once, after the file has settled.
func (w *SaveWatcher) schedule(ctx context.Context, path, gameName string) {
	w.mu.Lock()
	deb, ok := w.debounces[gameName]
	if !ok {
		deb = NewDebouncer(w.delay)
		w.debounces[gameName] = deb
	}
	w.mu.Unlock()

	deb.Do(func() {
		data, err := os.ReadFile(path)
		if err != nil {
			w.log.Warn().Err(err).Str("game", gameName).Msg("Failed to read changed save file")
			return
		}
		if err := w.svc.SaveBattery(ctx, gameName, data); err != nil {
			w.log.Warn().Err(err).Str("game", gameName).Msg("Failed to sync changed save file")
			return
		}
		w.log.Info().Str("game", gameName).Int("bytes", len(data)).Msg("Save file synced from disk")
	})
}

// Close stops watching and cancels pending uploads.
func (w *SaveWatcher) Close() error {
	w.mu.Lock()
	for _, deb := range w.debounces {
		deb.Stop()
	}
	w.mu.Unlock()

	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
