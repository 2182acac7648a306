package session

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch blocks until the session in store is removed or marked inactive by
// another process, then calls onInactive once and returns. It returns nil
// when ctx is cancelled first.
func Watch(ctx context.Context, store SessionStore, onInactive func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Saves replace the file by rename, so watch the directory.
	path := store.Path()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	name := filepath.Base(path)

	// The session may already be gone by the time the watch is in place.
	if inactive(store) {
		onInactive()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if inactive(store) {
				onInactive()
				return nil
			}

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Watcher errors are non-fatal; continue watching.
		}
	}
}

// inactive reports whether the stored session is missing or no longer active.
// Unreadable files (mid-write) count as still active.
func inactive(store SessionStore) bool {
	s, err := store.Load()
	if errors.Is(err, ErrNoSession) {
		return true
	}
	if err != nil {
		return false
	}
	return !s.Active
}
