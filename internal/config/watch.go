package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/miclaldogan/bantz-sub008/internal/permission"
)

// RuleWatcher hot-reloads the permission rules file into the engine.
// It watches the parent directory because editors replace files via
// rename, which drops a watch placed on the file itself.
type RuleWatcher struct {
	path     string
	engine   *permission.Engine
	logger   *slog.Logger
	debounce time.Duration

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewRuleWatcher creates a watcher for the rules file. Start must be
// called to begin watching.
func NewRuleWatcher(path string, engine *permission.Engine, logger *slog.Logger) *RuleWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleWatcher{
		path:     path,
		engine:   engine,
		logger:   logger.With("component", "rulewatch"),
		debounce: 250 * time.Millisecond,
	}
}

// Start begins watching. Safe to call once; subsequent calls are no-ops.
func (w *RuleWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		w.mu.Lock()
		w.watcher = nil
		w.mu.Unlock()
		return err
	}

	w.wg.Add(1)
	go w.loop(watchCtx, watcher)
	return nil
}

// Close stops the watcher and waits for the loop to exit.
func (w *RuleWatcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	watcher := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	w.wg.Wait()
	return nil
}

func (w *RuleWatcher) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer w.wg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, w.reload)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rules watch error", "error", err)
		}
	}
}

// reload re-parses the rules file and swaps it into the engine. A bad
// file keeps the previous rules active.
func (w *RuleWatcher) reload() {
	rules, err := permission.LoadRules(w.path)
	if err != nil {
		w.logger.Warn("rules reload failed, keeping previous rules", "path", w.path, "error", err)
		return
	}
	w.engine.ReplaceRules(rules)
	w.logger.Info("permission rules reloaded", "path", w.path, "count", len(rules))
}
