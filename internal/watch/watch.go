// Package watch monitors a study root for newly arriving subject
// directories. A subject is announced only after its directory has been
// quiet for a settle period, so half-copied datasets are not picked up.
package watch

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SubjectEvent announces a subject directory that has settled.
type SubjectEvent struct {
	Subject string    `json:"subject"`
	Dir     string    `json:"dir"`
	Time    time.Time `json:"time"`
}

// Watcher monitors the study root for new subject directories.
type Watcher struct {
	watcher *fsnotify.Watcher
	Events  chan SubjectEvent
	log     *slog.Logger
	root    string
	settle  time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	seen    map[string]bool
	closed  bool
	done    chan struct{}
}

// New creates a watcher for the given study root. settle is how long a
// subject directory must stay quiet before it is announced.
func New(root string, settle time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if settle <= 0 {
		settle = 5 * time.Second
	}

	return &Watcher{
		watcher: fsw,
		Events:  make(chan SubjectEvent, 100),
		log:     logger,
		root:    filepath.Clean(root),
		settle:  settle,
		pending: make(map[string]*time.Timer),
		seen:    make(map[string]bool),
		done:    make(chan struct{}),
	}, nil
}

// Start begins monitoring the study root.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.root); err != nil {
		return err
	}
	w.log.Info("watching study root", "dir", w.root, "settle", w.settle.String())

	go w.processEvents()

	return nil
}

// Stop stops the watcher. Pending settle timers are cancelled and the
// Events channel is closed.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for subject, timer := range w.pending {
		timer.Stop()
		delete(w.pending, subject)
	}
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	close(w.Events)
	return err
}

func (w *Watcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}

			subject := w.subjectFor(event.Name)
			if subject == "" || strings.HasPrefix(subject, ".") {
				continue
			}
			topLevel := filepath.Dir(event.Name) == w.root

			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				if !topLevel {
					w.touch(subject)
					continue
				}
				info, err := os.Stat(event.Name)
				if err != nil || !info.IsDir() {
					continue
				}
				// Watch inside the new directory so files still being
				// copied keep resetting the settle timer.
				if err := w.watcher.Add(event.Name); err != nil {
					w.log.Warn("cannot watch new subject directory", "dir", event.Name, "error", err)
				}
				w.schedule(subject)

			case event.Op&fsnotify.Write == fsnotify.Write:
				w.touch(subject)

			case event.Op&fsnotify.Remove == fsnotify.Remove,
				event.Op&fsnotify.Rename == fsnotify.Rename:
				if topLevel {
					w.forget(subject)
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("filesystem watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// subjectFor maps an event path to the subject directory name under the
// root, or "" when the path lies outside the root.
func (w *Watcher) subjectFor(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(rel, string(filepath.Separator))
	return parts[0]
}

// schedule starts the settle timer for a newly seen subject.
func (w *Watcher) schedule(subject string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.seen[subject] {
		return
	}
	if timer, ok := w.pending[subject]; ok {
		timer.Reset(w.settle)
		return
	}
	w.log.Debug("subject directory appeared", "subject", subject)
	w.pending[subject] = time.AfterFunc(w.settle, func() { w.announce(subject) })
}

// touch resets the settle timer while files are still arriving.
func (w *Watcher) touch(subject string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[subject]; ok {
		timer.Reset(w.settle)
	}
}

// forget drops a subject whose directory went away before settling. A
// re-created directory is announced again.
func (w *Watcher) forget(subject string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[subject]; ok {
		timer.Stop()
		delete(w.pending, subject)
	}
	delete(w.seen, subject)
}

func (w *Watcher) announce(subject string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.seen[subject] {
		return
	}
	w.seen[subject] = true
	delete(w.pending, subject)

	ev := SubjectEvent{
		Subject: subject,
		Dir:     filepath.Join(w.root, subject),
		Time:    time.Now(),
	}

	// Send event (non-blocking)
	select {
	case w.Events <- ev:
	default:
		w.log.Warn("event buffer full, dropping subject", "subject", subject)
	}
}
