package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ReloadOutcome classifies what the [Watcher] did with one edit of the file.
type ReloadOutcome string

const (
	// ReloadApplied means the edit changed the effective config and the
	// apply callback accepted it.
	ReloadApplied ReloadOutcome = "applied"

	// ReloadUnchanged means the content changed but [Diff] found nothing to
	// apply, e.g. an edited comment or reordered keys.
	ReloadUnchanged ReloadOutcome = "unchanged"

	// ReloadInvalid means the new content failed to parse or validate. The
	// previous config stays current.
	ReloadInvalid ReloadOutcome = "invalid"

	// ReloadFailed means the apply callback returned an error. The new config
	// is current anyway; the error says which parts did not take effect.
	ReloadFailed ReloadOutcome = "failed"
)

// Change is handed to the apply callback for every effective edit.
type Change struct {
	Old, New *Config
	Diff     ConfigDiff
}

// ApplyFunc applies a config change to the running process.
type ApplyFunc func(Change) error

// Watcher polls a config file and hands effective changes to an [ApplyFunc].
// Every edit, including rejected ones, is reported once to the reload hook.
type Watcher struct {
	path     string
	interval time.Duration
	apply    ApplyFunc
	hook     func(ReloadOutcome, error)

	mu      sync.Mutex
	current *Config
	seen    fileState

	done     chan struct{}
	stopOnce sync.Once
}

// fileState identifies one version of the file on disk.
type fileState struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithReloadHook sets a function called with the outcome of every edit. err
// is nil for applied and unchanged edits.
func WithReloadHook(fn func(ReloadOutcome, error)) WatcherOption {
	return func(w *Watcher) { w.hook = fn }
}

// NewWatcher loads the file at path and starts polling it. apply may be nil.
func NewWatcher(path string, apply ApplyFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		apply:    apply,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	state, data, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.seen = state

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check looks at the file once. A file version is acted on at most once,
// so an invalid edit is reported once rather than on every tick.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	seen := w.seen
	w.mu.Unlock()
	if info.ModTime().Equal(seen.mtime) {
		return
	}

	state, data, err := readFile(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot read file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	w.seen = state
	old := w.current
	w.mu.Unlock()

	if state.hash == seen.hash {
		return
	}

	next, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		slog.Warn("config watcher: rejected edit, keeping previous config", "path", w.path, "err", err)
		w.report(ReloadInvalid, err)
		return
	}

	w.mu.Lock()
	w.current = next
	w.mu.Unlock()

	d := Diff(old, next)
	if !d.Changed() {
		slog.Debug("config watcher: edit has no effect", "path", w.path)
		w.report(ReloadUnchanged, nil)
		return
	}

	slog.Info("config watcher: configuration changed", "path", w.path,
		"log_level", d.LogLevelChanged,
		"processor_parameters", d.ProcessorParamsChanged,
		"vad_parameters", d.VADParamsChanged,
		"restart_required", d.RestartRequired,
	)
	if w.apply != nil {
		if err := w.apply(Change{Old: old, New: next, Diff: d}); err != nil {
			w.report(ReloadFailed, err)
			return
		}
	}
	w.report(ReloadApplied, nil)
}

func (w *Watcher) report(o ReloadOutcome, err error) {
	if w.hook != nil {
		w.hook(o, err)
	}
}

// readFile returns the raw content of path with its modification time and
// SHA-256.
func readFile(path string) (fileState, []byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileState{}, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fileState{}, nil, err
	}
	return fileState{mtime: info.ModTime(), hash: sha256.Sum256(data)}, data, nil
}
