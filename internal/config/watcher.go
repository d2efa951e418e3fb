package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file whenever it's written, and emits the
// result on its updates channel. Files which fail to load are reported on
// the error channel and otherwise ignored.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	updates chan Config
	errChan chan error
	warnlog func(msg string, a ...any)
}

func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("NewWatcher failed to resolve path '%v': %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("NewWatcher failed to create fsnotify.Watcher: %w", err)
	}
	return &Watcher{
		path:    abs,
		watcher: w,
		updates: make(chan Config),
		errChan: make(chan error, 1),
		warnlog: ancli.Warnf,
	}, nil
}

func (w *Watcher) Updates() <-chan Config {
	return w.updates
}

func (w *Watcher) Errors() <-chan error {
	return w.errChan
}

// handleError by sending it to errChan in a non-blocking way
func (w *Watcher) handleError(err error) {
	if err == nil {
		return
	}
	select {
	case w.errChan <- err:
	default:
		w.warnlog("config watcher error channel full: %v", err)
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) error {
	if filepath.Clean(ev.Name) != w.path {
		return nil
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return nil
	}
	cfg, err := Load(w.path)
	if err != nil {
		return fmt.Errorf("reload skipped: %w", err)
	}
	ancli.Noticef("config reloaded from: '%v'", w.path)
	select {
	case w.updates <- cfg:
	case <-ctx.Done():
	}
	return nil
}

// Watch blocks until ctx is done. The parent directory is watched, so that
// editors replacing the file are noticed as well.
func (w *Watcher) Watch(ctx context.Context) error {
	if _, err := os.Stat(w.path); err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.watcher.Close()
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("config watcher failed to add '%v': %w", filepath.Dir(w.path), err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, open := <-w.watcher.Events:
			if !open {
				return errors.New("config watcher event channel closed")
			}
			w.handleError(w.handleEvent(ctx, ev))
		case err, open := <-w.watcher.Errors:
			if !open {
				return errors.New("config watcher error channel closed")
			}
			w.handleError(err)
		}
	}
}
