package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ConfigWatcher reloads the config file when it changes on disk and hands
// the new configuration to onChange. Only settings that are safe to change
// at runtime should be applied by the callback.
type ConfigWatcher struct {
	path     string
	debounce time.Duration
	onChange func(*Config)

	fsw   *fsnotify.Watcher
	mu    sync.Mutex
	timer *time.Timer
}

// NewConfigWatcher watches the directory holding path. Editors often replace
// files by rename, which a watch on the file itself would miss.
func NewConfigWatcher(path string, debounce time.Duration, onChange func(*Config)) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &ConfigWatcher{
		path:     abs,
		debounce: debounce,
		onChange: onChange,
		fsw:      fsw,
	}, nil
}

// Run processes file events until ctx is canceled, then closes the watcher
func (cw *ConfigWatcher) Run(ctx context.Context) {
	defer cw.fsw.Close()

	log.Info().Str("path", cw.path).Msg("Watching config file for changes")

	for {
		select {
		case <-ctx.Done():
			cw.mu.Lock()
			if cw.timer != nil {
				cw.timer.Stop()
			}
			cw.mu.Unlock()
			return

		case event, ok := <-cw.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cw.schedule()

		case err, ok := <-cw.fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("path", cw.path).Msg("Config watcher error")
		}
	}
}

// schedule coalesces bursts of events into one reload
func (cw *ConfigWatcher) schedule() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(cw.debounce, cw.reload)
}

func (cw *ConfigWatcher) reload() {
	cfg, err := LoadConfig(cw.path)
	if err != nil {
		log.Warn().Err(err).Str("path", cw.path).Msg("Ignoring unreadable config change")
		return
	}

	log.Info().Str("path", cw.path).Msg("Config file changed, reloading")
	cw.onChange(cfg)
}

// resolveConfigPath returns the config file LoadConfig would read, or ""
func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if fileExists(defaultConfigFile) {
		return defaultConfigFile
	}
	return ""
}
