package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// WatchableFields is the subset of Config that the Watcher hot-reloads
// without restarting the process. Everything else — the service table's
// base definitions, credentials, listen address — only takes effect on
// the next start; service table overrides already hot-apply through the
// Audit Store's own admin-driven path, independent of this file.
type WatchableFields struct {
	Telegram              TelegramConfig
	PayloadCaptureEnabled *bool
	MaxPayloadLogBytes    int
	AdminIPAllowlist      []string
}

// Watcher watches the loaded config file for changes and re-extracts
// WatchableFields on every write, debounced so an editor's multi-write
// save doesn't fire the callback several times in a row.
type Watcher struct {
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
	onChange func(WatchableFields)
}

// NewWatcher starts watching the file Viper loaded its config from. It
// returns (nil, nil) when no config file is in use (env-vars-only mode),
// since there is nothing on disk to watch.
func NewWatcher(logger *slog.Logger, onChange func(WatchableFields)) (*Watcher, error) {
	path := viper.ConfigFileUsed()
	if path == "" {
		return nil, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	// Watch the containing directory, not the file itself: editors and
	// `kubectl cp`-style deploys often replace the file via rename
	// rather than in-place write, which an fd-based watch would miss.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	return &Watcher{logger: logger, fsw: fsw, onChange: onChange}, nil
}

// Run blocks, re-reading the config and invoking onChange whenever the
// watched file changes, until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	path := viper.ConfigFileUsed()
	var debounce *time.Timer
	debounced := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Name != path || !(ev.Op&(fsnotify.Write|fsnotify.Create) != 0) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case debounced <- struct{}{}:
				default:
				}
			})

		case <-debounced:
			if err := viper.ReadInConfig(); err != nil {
				w.logger.Warn("config watcher: failed to re-read config", "error", err)
				continue
			}
			var cfg Config
			if err := viper.Unmarshal(&cfg); err != nil {
				w.logger.Warn("config watcher: failed to decode reloaded config", "error", err)
				continue
			}
			cfg.SetDefaults()
			w.logger.Info("config watcher: reloaded", "path", path)
			w.onChange(WatchableFields{
				Telegram:              cfg.Notifier.Telegram,
				PayloadCaptureEnabled: cfg.Audit.PayloadCaptureEnabled,
				MaxPayloadLogBytes:    cfg.Audit.MaxPayloadLogBytes,
				AdminIPAllowlist:      cfg.Admin.IPAllowlist,
			})

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher: fsnotify error", "error", err)
		}
	}
}
