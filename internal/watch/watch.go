// Package watch notices changes in a project directory so front ends can
// refresh stage information without polling.
package watch

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/stm32pio/internal/config"
)

// Handler receives the project directory and the deduplicated paths that
// changed during one debounce window.
type Handler func(dir string, paths []string)

// Options controls a Watcher.
type Options struct {
	// Debounce is how long the directory must stay quiet before the handler
	// runs. Default 300ms.
	Debounce time.Duration
}

// watchedDirs are the subdirectories, relative to the project, whose
// contents feed stage tests. Board directories under the build directory are
// watched as they appear.
var watchedDirs = map[string]bool{
	config.IncludeDir: true,
	config.SourceDir:  true,
	config.PIODir:     true,
	config.BuildDir:   true,
}

// Watcher watches one project directory.
type Watcher struct {
	dir      string
	handler  Handler
	debounce time.Duration
	watcher  *fsnotify.Watcher
	changes  chan string
	done     chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
}

// New creates a watcher for dir. Call Start to begin watching.
func New(dir string, handler Handler, opts Options, logger zerolog.Logger) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		dir:      dir,
		handler:  handler,
		debounce: opts.Debounce,
		watcher:  fw,
		changes:  make(chan string, 256),
		done:     make(chan struct{}),
		logger:   logger.With().Str("component", "watch").Str("project", dir).Logger(),
	}, nil
}

// Start adds the project directory and its stage-relevant subdirectories and
// spawns the event and debounce loops. Both exit on Stop or when ctx ends.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	for rel := range watchedDirs {
		w.addIfDir(rel)
	}
	if entries, err := os.ReadDir(filepath.Join(w.dir, filepath.FromSlash(config.BuildDir))); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				w.addIfDir(path.Join(config.BuildDir, e.Name()))
			}
		}
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

// Watched reports whether a directory at rel (slash separated, relative to
// the project) is watched.
func Watched(rel string) bool {
	return watchedDirs[rel] || path.Dir(rel) == config.BuildDir
}

func (w *Watcher) addIfDir(rel string) {
	p := filepath.Join(w.dir, filepath.FromSlash(rel))
	if fi, err := os.Stat(p); err != nil || !fi.IsDir() {
		return
	}
	if err := w.watcher.Add(p); err != nil {
		w.logger.Warn().Err(err).Str("dir", rel).Msg("could not watch directory")
	}
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			rel, err := filepath.Rel(w.dir, event.Name)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			select {
			case w.changes <- rel:
			default:
				// the pending batch already forces a refresh
			}

			if event.Has(fsnotify.Create) && Watched(rel) {
				w.addIfDir(rel)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	batch := make(map[string]bool)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 && w.handler != nil {
			paths := make([]string, 0, len(batch))
			for p := range batch {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			w.handler(w.dir, paths)
		}
		batch = make(map[string]bool)
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case rel := <-w.changes:
			batch[rel] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}
