// Package fswatch wraps fsnotify to give pollers (the ack waiter, the
// health watcher) a wake-up signal on top of their normal ticker, so a
// fresh write is noticed sooner than the next tick. It never changes
// timeout arithmetic: callers still derive liveness/expiry from the
// underlying file, this just shortens the average latency of noticing it.
package fswatch

import (
	"os"

	"github.com/fsnotify/fsnotify"
)

// Nudge watches the parent directory of path and sends on ch whenever any
// event under that directory occurs. It is best-effort:
// a failure to start the underlying watcher is swallowed and ch is never
// sent to, since the caller's ticker-based poll loop is the source of
// correctness and this is only an accelerator.
func Nudge(path string) (ch <-chan struct{}, stop func()) {
	out := make(chan struct{}, 1)
	noop := func() {}

	dir := parentDir(path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return out, noop
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return out, noop
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return out, func() {
		close(done)
		w.Close()
	}
}

func parentDir(path string) string {
	dir := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			dir = path[:i]
			break
		}
	}
	if dir == "" {
		dir = "."
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "."
	}
	return dir
}
