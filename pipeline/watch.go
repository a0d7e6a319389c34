package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"irisnet/config"
)

// DebounceInterval collapses bursts of writes (editors often write a file in
// several steps) into a single run.
var DebounceInterval = 500 * time.Millisecond

// Watch runs the pipeline again whenever one of paths is written, until ctx
// is done. A write to the config path reloads the config first. Failed runs
// are logged and watching continues.
func (r *Runner) Watch(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return errors.New("nothing to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	targets := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	// watch directories so files replaced by rename are still seen
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	configPath := ""
	if r.configPath != "" {
		if configPath, err = filepath.Abs(r.configPath); err != nil {
			return err
		}
	}

	var pending <-chan time.Time
	reload := false
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Clean(event.Name)
			if !targets[name] {
				continue
			}
			r.logger.Debug("watched file changed", zap.String("path", name), zap.String("op", event.Op.String()))
			if name == configPath {
				reload = true
			}
			pending = time.After(DebounceInterval)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", zap.Error(err))

		case <-pending:
			pending = nil
			if reload {
				reload = false
				cfg, err := config.Load(configPath)
				if err != nil {
					r.logger.Error("reload config failed, keeping previous config", zap.Error(err))
				} else {
					r.SetConfig(cfg)
					r.logger.Info("config reloaded", zap.String("path", configPath))
				}
			}
			if _, err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn("watched run failed", zap.Error(err))
			}
		}
	}
}
