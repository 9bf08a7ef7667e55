package policyconfig

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/LaTars4444/laeoutreach/internal/metrics"
	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultDebounce     = 100 * time.Millisecond
)

// ReloadRecorder receives the outcome of every reload attempt.
type ReloadRecorder interface {
	RecordReload(result string, table *entitlements.PolicyTable, at time.Time)
}

// WatcherOptions tunes a Watcher. Zero values pick defaults.
type WatcherOptions struct {
	PollInterval time.Duration

	// Debounce is the quiet period after the last change event before a
	// reload. A burst of events inside the window reloads once. Negative
	// disables it.
	Debounce time.Duration

	Recorder     ReloadRecorder
	Clock        entitlements.Clock
}

// Watcher reloads a policy file into a PolicyStore whenever the file changes.
// A file that fails to load never replaces the table being served.
type Watcher struct {
	path     string
	store    *entitlements.PolicyStore
	recorder ReloadRecorder
	clock    entitlements.Clock

	pollInterval time.Duration
	debounce     time.Duration

	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	stopOnce sync.Once
	lastSeen fileStamp
	mu       sync.Mutex
}

// fileStamp identifies a version of the policy file for polling. Size is
// compared as well as mtime because two writes can share an mtime on
// filesystems with coarse timestamps.
type fileStamp struct {
	modTime time.Time
	size    int64
}

func stampOf(info os.FileInfo) fileStamp {
	return fileStamp{modTime: info.ModTime(), size: info.Size()}
}

func (s fileStamp) differs(other fileStamp) bool {
	return !s.modTime.Equal(other.modTime) || s.size != other.size
}

// NewWatcher creates a watcher for path. Call Reload to perform the initial
// load and Start to begin watching.
func NewWatcher(path string, store *entitlements.PolicyStore, opts WatcherOptions) (*Watcher, error) {
	if store == nil {
		return nil, errors.New("policy store is required")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:         path,
		store:        store,
		recorder:     opts.Recorder,
		clock:        opts.Clock,
		pollInterval: opts.PollInterval,
		debounce:     opts.Debounce,
		watcher:      fsw,
		stopChan:     make(chan struct{}),
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.debounce < 0 {
		w.debounce = 0
	} else if w.debounce == 0 {
		w.debounce = defaultDebounce
	}
	if w.clock == nil {
		w.clock = entitlements.SystemClock{}
	}

	if stat, err := os.Stat(path); err == nil {
		w.lastSeen = stampOf(stat)
	}
	return w, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// Start begins watching the policy file's directory. Editors commonly replace
// files rather than writing them in place, so the directory is watched and
// events are filtered by name. If the directory cannot be watched the watcher
// falls back to polling the file's modification time.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		log.Warn().Err(err).Str("path", dir).Msg("Failed to watch policy directory")
		log.Warn().Dur("interval", w.pollInterval).Msg("Falling back to polling for policy changes")
		go w.pollForChanges()
		return nil
	}

	go w.handleEvents(w.watcher.Events, w.watcher.Errors)
	log.Info().Str("policy_path", w.path).Msg("Started watching policy file for changes")
	return nil
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.watcher.Close()
	})
}

func (w *Watcher) handleEvents(events <-chan fsnotify.Event, errs <-chan error) {
	var (
		settle  *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}

			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				log.Debug().Str("event", event.Op.String()).Msg("Detected policy file change")
				if w.debounce == 0 {
					_ = w.Reload()
					continue
				}
				// Each event restarts the quiet period.
				if settle != nil {
					settle.Stop()
				}
				settle = time.NewTimer(w.debounce)
				pending = settle.C
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				log.Warn().
					Str("event", event.Op.String()).
					Str("version", w.store.Current().Version()).
					Msg("Policy file moved or removed; keeping current policy table")
			}

		case <-pending:
			pending = nil
			log.Info().Str("policy_path", w.path).Msg("Policy file settled, reloading")
			_ = w.Reload()

		case err, ok := <-errs:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Policy watcher error")

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) pollForChanges() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stat, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			w.mu.Lock()
			changed := stampOf(stat).differs(w.lastSeen)
			w.mu.Unlock()
			if changed {
				log.Info().Msg("Detected policy file change via polling")
				_ = w.Reload()
			}

		case <-w.stopChan:
			return
		}
	}
}

// Reload loads the file and, on success, swaps it into the store. On failure
// the previous table keeps serving and the error is returned.
func (w *Watcher) Reload() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// A failed file is not retried by polling until its stamp changes.
	if stat, err := os.Stat(w.path); err == nil {
		w.lastSeen = stampOf(stat)
	}

	now := w.clock.Now()
	table, err := LoadFile(w.path)
	if err != nil {
		log.Error().
			Err(err).
			Str("policy_path", w.path).
			Str("serving_version", w.store.Current().Version()).
			Msg("Failed to reload policy table; keeping last known-good table")
		w.record(metrics.ReloadFailure, nil, now)
		return err
	}

	previous, err := w.store.Swap(table)
	if err != nil {
		w.record(metrics.ReloadFailure, nil, now)
		return err
	}

	log.Info().
		Str("policy_path", w.path).
		Str("previous_version", previous.Version()).
		Str("version", table.Version()).
		Strs("capabilities", capabilityNames(table)).
		Msg("Reloaded policy table")
	w.record(metrics.ReloadSuccess, table, now)
	return nil
}

func (w *Watcher) record(result string, table *entitlements.PolicyTable, at time.Time) {
	if w.recorder != nil {
		w.recorder.RecordReload(result, table, at)
	}
}

func capabilityNames(table *entitlements.PolicyTable) []string {
	caps := table.Capabilities()
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	return names
}
