package graph

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	bldrerrors "bldr/internal/errors"
)

// Watcher marks action fingerprints stale when their declared input source
// files change on disk, so a long-running watch mode can re-trigger the
// scheduler without a full rescan.
type Watcher struct {
	fsw *fsnotify.Watcher

	mu      sync.Mutex
	byPath  map[string]map[string]struct{} // source path -> action ids depending on it
	staleCh chan string
}

// NewWatcher starts an fsnotify-backed watcher with no paths registered yet.
func NewWatcher() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, bldrerrors.Wrap(err, bldrerrors.CodeInternal, "creating filesystem watcher")
	}
	w := &Watcher{
		fsw:     fsw,
		byPath:  make(map[string]map[string]struct{}),
		staleCh: make(chan string, 256),
	}
	go w.loop()
	return w, nil
}

// Watch registers actionID as depending on sourcePath; future writes to
// sourcePath will emit actionID on Stale().
func (w *Watcher) Watch(actionID, sourcePath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.byPath[sourcePath]; !ok {
		if err := w.fsw.Add(sourcePath); err != nil {
			return bldrerrors.Wrapf(err, bldrerrors.CodeInternal, "watching %s", sourcePath)
		}
		w.byPath[sourcePath] = make(map[string]struct{})
	}
	w.byPath[sourcePath][actionID] = struct{}{}
	return nil
}

// Stale returns the channel of action ids invalidated by a source change.
func (w *Watcher) Stale() <-chan string {
	return w.staleCh
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				close(w.staleCh)
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			for id := range w.byPath[event.Name] {
				select {
				case w.staleCh <- id:
				default:
				}
			}
			w.mu.Unlock()
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher and releases its inotify/kqueue handle.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
