// Package signals lets another process control a running orchestrator by
// dropping files into .hive/signals. A watcher consumes each file once and
// forwards it to the controller.
package signals

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Signal names a control file.
type Signal string

const (
	// Stop drains in-flight work, then stops.
	Stop Signal = "stop"
	// Kill abandons in-flight work.
	Kill Signal = "kill"
	// Pause stops dispatching new work.
	Pause Signal = "pause"
	// Resume undoes Pause.
	Resume Signal = "resume"
)

// All lists every signal the watcher understands.
var All = []Signal{Stop, Kill, Pause, Resume}

// DefaultPollInterval is how often the directory is scanned in case the
// file watcher missed an event or could not be started.
const DefaultPollInterval = time.Second

// Controller is what signals act on. *orchestrator.Orchestrator implements it.
type Controller interface {
	Stop(ctx context.Context) error
	Kill()
	Pause()
	Resume()
}

// Dir returns the signals directory inside a project.
func Dir(projectRoot string) string {
	return filepath.Join(projectRoot, ".hive", "signals")
}

// Send creates a signal file for a watcher in projectRoot to pick up.
func Send(projectRoot string, sig Signal) error {
	if !sig.valid() {
		return fmt.Errorf("unknown signal %q", sig)
	}
	dir := Dir(projectRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signals directory: %w", err)
	}
	path := filepath.Join(dir, string(sig))
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

func (s Signal) valid() bool {
	for _, known := range All {
		if s == known {
			return true
		}
	}
	return false
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithPollInterval sets the fallback scan interval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithStopTimeout bounds how long a stop signal waits for draining. Zero
// waits until the controller has stopped.
func WithStopTimeout(d time.Duration) Option {
	return func(w *Watcher) {
		w.stopTimeout = d
	}
}

// Watcher forwards signal files to a Controller.
type Watcher struct {
	dir          string
	ctrl         Controller
	pollInterval time.Duration
	stopTimeout  time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// Watch starts watching projectRoot's signals directory. Signal files left
// over from an earlier run are removed first so they cannot stop the new one.
func Watch(projectRoot string, ctrl Controller, opts ...Option) (*Watcher, error) {
	dir := Dir(projectRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create signals directory: %w", err)
	}
	for _, sig := range All {
		os.Remove(filepath.Join(dir, string(sig)))
	}

	w := &Watcher{
		dir:          dir,
		ctrl:         ctrl,
		pollInterval: DefaultPollInterval,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[signals] warning: file watcher unavailable, polling every %s: %v", w.pollInterval, err)
	} else if err := watcher.Add(dir); err != nil {
		log.Printf("[signals] warning: cannot watch %s, polling every %s: %v", dir, w.pollInterval, err)
		watcher.Close()
	} else {
		w.watcher = watcher
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Close stops the watcher and waits for any stop it started to return.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		if w.watcher != nil {
			err = w.watcher.Close()
		}
	})
	w.wg.Wait()
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.watcher != nil {
		events = w.watcher.Events
		errs = w.watcher.Errors
	}

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.consume(Signal(filepath.Base(event.Name)))
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[signals] watcher error: %v", err)
		case <-ticker.C:
			w.scan()
		}
	}
}

// scan consumes every signal file present.
func (w *Watcher) scan() {
	for _, sig := range All {
		w.consume(sig)
	}
}

// consume removes a signal file and acts on it. Files that are already
// gone, or are not signals, are ignored, so duplicate events are harmless.
func (w *Watcher) consume(sig Signal) {
	if !sig.valid() {
		return
	}
	path := filepath.Join(w.dir, string(sig))
	if err := os.Remove(path); err != nil {
		return
	}

	log.Printf("[signals] %s signal received", sig)
	switch sig {
	case Stop:
		// Stop blocks while draining; keep watching so kill still works.
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			ctx := context.Background()
			if w.stopTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, w.stopTimeout)
				defer cancel()
			}
			if err := w.ctrl.Stop(ctx); err != nil {
				log.Printf("[signals] stop: %v", err)
			}
		}()
	case Kill:
		w.ctrl.Kill()
	case Pause:
		w.ctrl.Pause()
	case Resume:
		w.ctrl.Resume()
	}
}
