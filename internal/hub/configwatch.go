package hub

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/RJW34/CNM/internal/config"
)

const configWatchDebounce = 200 * time.Millisecond

// WatchConfig watches the directory containing path and hot-reloads the
// auth_token/agent_token/webhook_secret fields whenever the file is
// rewritten, so tokens can be rotated without a restart. Other fields
// (listen address, TLS paths, projects dir) still require one. Grounded
// on grovetools-core/pkg/daemon/config_watcher.go's fsnotify-plus-
// debounce shape, narrowed from "run arbitrary hooks" to "reload the
// security-sensitive fields".
func (h *Hub) WatchConfig(path string) error {
	if path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	go h.runConfigWatch(watcher, path)
	return nil
}

func (h *Hub) runConfigWatch(watcher *fsnotify.Watcher, path string) {
	defer watcher.Close()

	var mu sync.Mutex
	var lastReload time.Time
	target := filepath.Clean(path)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			mu.Lock()
			if time.Since(lastReload) < configWatchDebounce {
				mu.Unlock()
				continue
			}
			lastReload = time.Now()
			mu.Unlock()

			h.reloadTokens(path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if h.log != nil {
				h.log.WithError(err).Warn("config watcher error")
			}
		case <-h.stopSweep:
			return
		}
	}
}

func (h *Hub) reloadTokens(path string) {
	cfg, err := config.Load(path)
	if err != nil {
		if h.log != nil {
			h.log.WithError(err).Warn("failed to reload config")
		}
		return
	}

	h.cfgMu.Lock()
	h.cfg.AuthToken = cfg.AuthToken
	h.cfg.AgentToken = cfg.AgentToken
	h.cfg.WebhookSecret = cfg.WebhookSecret
	h.cfgMu.Unlock()

	if h.log != nil {
		h.log.Info("reloaded auth/agent/webhook tokens from config")
	}
}
