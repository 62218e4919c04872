package flush

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watcher wakes a Manager's conflict check promptly on filesystem events
// instead of waiting for the next poll tick. fsnotify is purely an
// accelerant here — RecordWrite/CheckExternalModifications' mtime
// comparison remains the authority on whether an edit actually happened, so
// a spurious or coalesced fsnotify event never by itself marks a file
// externally modified.
type Watcher struct {
	w       *fsnotify.Watcher
	mgr     *Manager
	onEvent func(externallyModified []string)
}

// NewWatcher starts watching dir for changes and wires notifications to
// mgr. Call Close when done.
func NewWatcher(mgr *Manager, dir string, onEvent func(externallyModified []string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	watcher := &Watcher{w: fw, mgr: mgr, onEvent: onEvent}
	go watcher.run()
	return watcher, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.w.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if modified := w.mgr.CheckExternalModifications(); len(modified) > 0 && w.onEvent != nil {
				w.onEvent(modified)
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			log.Printf("flush: watch error: %v", err)
		}
	}
}

// Close stops the underlying fsnotify watch.
func (w *Watcher) Close() error {
	return w.w.Close()
}
