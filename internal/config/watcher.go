package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// MappingWatcher watches the table mapping file and reloads the registry
// when it changes.
type MappingWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	registry *MappingRegistry
	logger   *zap.Logger
	stopCh   chan struct{}
}

// NewMappingWatcher creates a watcher over the mapping file backing registry.
func NewMappingWatcher(path string, registry *MappingRegistry, logger *zap.Logger) (*MappingWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch mapping file: %w", err)
	}

	// Also watch the directory for atomic saves (rename operations)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.Warn("Failed to watch mapping directory", zap.Error(err))
	}

	return &MappingWatcher{
		path:     path,
		watcher:  watcher,
		registry: registry,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching for mapping file changes
func (w *MappingWatcher) Start() {
	go w.watchLoop()
	w.logger.Info("Table mapping watcher started", zap.String("path", w.path))
}

// Stop stops watching for mapping file changes
func (w *MappingWatcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
	w.logger.Info("Table mapping watcher stopped")
}

func (w *MappingWatcher) watchLoop() {
	// Debounce timer to avoid multiple reloads
	var debounceTimer *time.Timer
	debounceDuration := 100 * time.Millisecond

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					w.handleChange()
				})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (w *MappingWatcher) handleChange() {
	w.logger.Info("Table mapping file changed, reloading", zap.String("path", w.path))

	mappings, err := LoadTableMappings(w.path)
	if err != nil {
		w.logger.Error("Failed to reload table mappings, keeping current", zap.Error(err))
		return
	}

	w.registry.Replace(mappings)
	w.logger.Info("Table mappings reloaded", zap.Int("tables", len(mappings.Tables)))
}
