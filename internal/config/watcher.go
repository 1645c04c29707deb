package config

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/edgegw/internal/observability"
)

// ReloadCallback receives the previous and the newly loaded configuration
// together with the computed change set.
type ReloadCallback func(previous, current *GatewayConfig, changes ChangeSet)

// ErrorCallback is called when an error occurs during config reload.
type ErrorCallback func(error)

// ChangeSet describes what differs between two configurations.
type ChangeSet struct {
	// CORSOrigins is set when the origin allow-list changed.
	CORSOrigins bool
	// RateCeiling is set when requestsPerSecond or the enabled flag changed.
	RateCeiling bool
	// RestartRequired lists changed sections that are only read at startup.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (c ChangeSet) Empty() bool {
	return !c.CORSOrigins && !c.RateCeiling && len(c.RestartRequired) == 0
}

// Diff compares two configurations section by section.
func Diff(previous, current *GatewayConfig) ChangeSet {
	var cs ChangeSet
	if previous == nil || current == nil {
		return cs
	}

	prev, cur := previous.Spec, current.Spec

	cs.CORSOrigins = !reflect.DeepEqual(prev.CORS.AllowedOrigins, cur.CORS.AllowedOrigins) ||
		prev.CORS.AllowLoopback != cur.CORS.AllowLoopback ||
		prev.CORS.AllowNullOrigin != cur.CORS.AllowNullOrigin
	cs.RateCeiling = prev.RateLimit.RequestsPerSecond != cur.RateLimit.RequestsPerSecond ||
		prev.RateLimit.Enabled != cur.RateLimit.Enabled

	sections := []struct {
		name string
		a, b interface{}
	}{
		{"listener", prev.Listener, cur.Listener},
		{"auth", prev.Auth, cur.Auth},
		{"rateLimit.store", prev.RateLimit.Store, cur.RateLimit.Store},
		{"circuitBreaker", prev.CircuitBreaker, cur.CircuitBreaker},
		{"routes", prev.Routes, cur.Routes},
		{"fallbacks", prev.Fallbacks, cur.Fallbacks},
		{"observability", prev.Observability, cur.Observability},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.a, s.b) {
			cs.RestartRequired = append(cs.RestartRequired, s.name)
		}
	}

	return cs
}

// Watcher watches the configuration file and reloads it on change.
type Watcher struct {
	path          string
	watcher       *fsnotify.Watcher
	callback      ReloadCallback
	errorCallback ErrorCallback
	logger        observability.Logger
	debounceDelay time.Duration
	current       *GatewayConfig
	mu            sync.RWMutex
	stopCh        chan struct{}
	stoppedCh     chan struct{}
	running       bool
}

// WatcherOption is a functional option for configuring the watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the debounce delay for file changes.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = delay
	}
}

// WithLogger sets the logger for the watcher.
func WithLogger(logger observability.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithErrorCallback sets the error callback for the watcher.
func WithErrorCallback(callback ErrorCallback) WatcherOption {
	return func(w *Watcher) {
		w.errorCallback = callback
	}
}

// WithInitialConfig seeds the watcher with an already loaded configuration
// so Start does not read the file a second time.
func WithInitialConfig(cfg *GatewayConfig) WatcherOption {
	return func(w *Watcher) {
		w.current = cfg
	}
}

// NewWatcher creates a new configuration watcher.
func NewWatcher(path string, callback ReloadCallback, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:          absPath,
		watcher:       fsWatcher,
		callback:      callback,
		debounceDelay: 100 * time.Millisecond,
		logger:        observability.NopLogger(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start begins watching the configuration file.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	if w.Current() == nil {
		cfg, err := w.load()
		if err != nil {
			return err
		}
		w.mu.Lock()
		w.current = cfg
		w.mu.Unlock()
	}

	// Watch the directory so editors that replace the file are seen.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	w.logger.Info("started watching configuration file",
		observability.String("path", w.path),
	)

	go w.watch(ctx)

	return nil
}

// Stop stops watching the configuration file.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.stoppedCh

	return w.watcher.Close()
}

// Current returns the last successfully loaded configuration.
func (w *Watcher) Current() *GatewayConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.stoppedCh)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped due to context cancellation")
			return

		case <-w.stopCh:
			w.logger.Info("config watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("config file changed",
				observability.String("path", event.Name),
				observability.String("op", event.Op.String()),
			)
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.debounceDelay)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			debounceCh = nil
			if err := w.Reload(); err != nil {
				w.fail("configuration reload failed", err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.fail("config watcher error", err)
		}
	}
}

// relevant filters events down to writes or creates of the watched file.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create) != 0
}

func (w *Watcher) fail(msg string, err error) {
	w.logger.Error(msg, observability.Error(err))
	if w.errorCallback != nil {
		w.errorCallback(err)
	}
}

func (w *Watcher) load() (*GatewayConfig, error) {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Reload reads, validates and publishes the configuration file. An invalid
// file leaves the current configuration in place.
func (w *Watcher) Reload() error {
	cfg, err := w.load()
	if err != nil {
		return err
	}

	w.mu.Lock()
	previous := w.current
	w.current = cfg
	w.mu.Unlock()

	changes := Diff(previous, cfg)
	if changes.Empty() {
		w.logger.Debug("configuration unchanged")
		return nil
	}

	w.logger.Info("configuration reloaded",
		observability.Bool("cors_origins_changed", changes.CORSOrigins),
		observability.Bool("rate_ceiling_changed", changes.RateCeiling),
	)
	if w.callback != nil {
		w.callback(previous, cfg, changes)
	}

	return nil
}
