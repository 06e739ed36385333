package plugins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/cogbot/internal/commands"
)

const defaultWatchDebounce = 250 * time.Millisecond

// Watcher reloads manifest extensions when their files change. New manifest
// files are loaded and removed ones unloaded. Failures are logged.
type Watcher struct {
	manager  *Manager
	paths    []string
	debounce time.Duration
	logger   *slog.Logger

	// files are manifests watched individually; dirs are watched trees
	files map[string]struct{}
	dirs  []string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timers  map[string]*time.Timer
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher watches the given directories (or manifest files) on behalf of m.
func NewWatcher(m *Manager, paths []string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	return &Watcher{
		manager:  m,
		paths:    paths,
		debounce: debounce,
		logger:   m.logger.With("subsystem", "watcher"),
		timers:   make(map[string]*time.Timer),
		files:    make(map[string]struct{}),
	}
}

// Start begins watching. It returns once the watches are installed.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	for _, path := range w.paths {
		path = filepath.Clean(path)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			w.files[path] = struct{}{}
		} else {
			w.dirs = append(w.dirs, path)
		}
		if err := w.add(fw, path); err != nil {
			w.logger.Debug("failed to watch extension path", "path", path, "error", err)
		}
	}
	w.watcher = fw

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(watchCtx, fw)
	return nil
}

// add watches directories recursively; for a file it watches the parent
// directory since editors often replace files on save.
func (w *Watcher) add(fw *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fw.Add(filepath.Dir(path))
	}
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(p)
		}
		return nil
	})
}

// Close stops watching. Pending reloads are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	fw := w.watcher
	w.watcher = nil
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	var err error
	if fw != nil {
		err = fw.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if !w.covers(event.Name) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.add(fw, event.Name); err != nil {
						w.logger.Debug("failed to watch new directory", "path", event.Name, "error", err)
					}
					continue
				}
			}
			if !IsManifestFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("extension watch error", "error", err)
		}
	}
}

// covers reports whether path is a configured manifest file or lies under a
// configured directory. Siblings of a configured file are not covered.
func (w *Watcher) covers(path string) bool {
	path = filepath.Clean(path)
	if _, ok := w.files[path]; ok {
		return true
	}
	for _, dir := range w.dirs {
		rel, err := filepath.Rel(dir, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// schedule debounces bursts of events for one file into a single sync.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		w.sync(ctx, path)
	})
}

// sync brings the loaded state of the manifest at path in line with the disk.
func (w *Watcher) sync(ctx context.Context, path string) {
	origin := ManifestOrigin(path)
	id := origin.ID()
	_, statErr := os.Stat(path)
	exists := statErr == nil

	var err error
	switch {
	case !exists && w.manager.Loaded(id):
		err = w.manager.Unload(ctx, id)
	case !exists:
		return
	case w.manager.Loaded(id):
		err = w.manager.Reload(ctx, id)
	default:
		err = w.manager.Load(ctx, origin)
		if errors.Is(err, commands.ErrAlreadyExists) && w.manager.Loaded(id) {
			err = w.manager.Reload(ctx, id)
		}
	}
	if err != nil {
		w.logger.Warn("extension hot reload failed", "path", path, "extension", id, "error", err)
		return
	}
	w.logger.Info("extension synced from disk", "path", path, "extension", id, "present", exists)
}
