package syncrules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// reloadDebounce coalesces the burst of events editors emit per save.
const reloadDebounce = 250 * time.Millisecond

// Load reads and validates a YAML rules document.
func Load(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("syncrules: read %s: %w", path, err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("syncrules: parse %s: %w", path, err)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}

	return rules, nil
}

// Store holds the active rules document behind an atomic pointer so
// request handlers read it without locking while the watcher swaps in
// reloaded versions.
type Store struct {
	current atomic.Pointer[Rules]
	logger  *slog.Logger
}

// NewStore returns a store seeded with the given rules.
func NewStore(initial Rules, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{logger: logger}
	s.current.Store(&initial)

	return s
}

// Current returns the active rules document.
func (s *Store) Current() *Rules {
	return s.current.Load()
}

// ContextFor pairs the active rules with one caller's claims. Empty
// documents yield a nil context, which filters nothing.
func (s *Store) ContextFor(claims map[string]any) *Context {
	rules := s.current.Load()
	if rules == nil || len(rules.Buckets) == 0 {
		return nil
	}

	return &Context{Claims: claims, Rules: *rules}
}

// Watch reloads the rules file whenever it changes, until the context
// is cancelled. Invalid documents are logged and skipped; the previous
// rules stay active. The parent directory is watched rather than the
// file itself because editors replace files by rename.
func (s *Store) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("syncrules: create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("syncrules: watch %s: %w", dir, err)
	}

	s.logger.Info("watching sync rules", slog.String("path", path))

	var reload <-chan time.Time
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			reload = time.After(reloadDebounce)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("sync rules watcher error", slog.String("error", watchErr.Error()))

		case <-reload:
			reload = nil
			rules, err := Load(path)
			if err != nil {
				s.logger.Warn("sync rules reload failed, keeping previous rules",
					slog.String("path", path), slog.String("error", err.Error()))
				continue
			}
			s.current.Store(&rules)
			s.logger.Info("sync rules reloaded",
				slog.String("path", path), slog.Int("buckets", len(rules.Buckets)))
		}
	}
}
