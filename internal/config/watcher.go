package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// FileWatcher reloads a ConfigManager when its backing file changes on disk
type FileWatcher struct {
	manager       *ConfigManager
	logger        hclog.Logger
	watcher       *fsnotify.Watcher
	debounceDelay time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	pendingMu sync.Mutex
	pending   *time.Timer
}

// NewFileWatcher creates a watcher for the manager's current config path
func NewFileWatcher(manager *ConfigManager, logger hclog.Logger) *FileWatcher {
	return &FileWatcher{
		manager:       manager,
		logger:        logger,
		debounceDelay: 500 * time.Millisecond,
	}
}

// Start begins watching. The parent directory is watched rather than the file
// so editors that replace the file on save are still picked up.
func (fw *FileWatcher) Start(ctx context.Context) error {
	path := fw.manager.Path()
	if path == "" {
		return fmt.Errorf("no config file to watch")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	fw.watcher = w

	ctx, fw.cancel = context.WithCancel(ctx)
	fw.wg.Add(1)
	go fw.loop(ctx, filepath.Clean(path))

	fw.logger.Info("watching configuration file", "path", path)
	return nil
}

// Stop stops watching and waits for the event loop to exit
func (fw *FileWatcher) Stop() {
	if fw.cancel == nil {
		return
	}
	fw.cancel()
	fw.wg.Wait()
	fw.watcher.Close()

	fw.pendingMu.Lock()
	if fw.pending != nil {
		fw.pending.Stop()
	}
	fw.pendingMu.Unlock()
}

func (fw *FileWatcher) loop(ctx context.Context, path string) {
	defer fw.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			fw.scheduleReload()
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (fw *FileWatcher) scheduleReload() {
	fw.pendingMu.Lock()
	defer fw.pendingMu.Unlock()

	if fw.pending != nil {
		fw.pending.Stop()
	}
	fw.pending = time.AfterFunc(fw.debounceDelay, func() {
		if err := fw.manager.Reload(); err != nil {
			fw.logger.Error("configuration reload failed, keeping previous values", "error", err)
			return
		}
		fw.logger.Info("configuration reloaded")
	})
}
