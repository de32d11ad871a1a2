package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "mintwatch/pkg/logx"
)

const (
	watchBackoffMin = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second
)

// Watch reloads on file changes until ctx is done. The parent directory is
// watched so editors that replace the file are still seen. A failed watcher
// is recreated with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}
	d := &debouncer{wait: m.debounce, fire: m.reload}
	defer d.stop()

	dir := filepath.Dir(m.path)
	backoff := watchBackoffMin
	for {
		err := m.watchDir(ctx, dir, filepath.Base(m.path), d.poke)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errWatcherClosed) {
			backoff = watchBackoffMin
		}
		wait := backoff + time.Duration(rand.Int64N(int64(backoff)/2+1))
		m.log.Warn("config watcher restarting", logx.String("dir", dir), logx.Duration("backoff", wait), logx.Err(err))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		backoff = min(2*backoff, watchBackoffMax)
	}
}

// watchDir runs one fsnotify watcher; it returns when ctx is done (nil) or
// the watcher breaks.
func (m *ConfigManager) watchDir(ctx context.Context, dir, name string, changed func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug("watching config", logx.String("dir", dir), logx.String("file", name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if strings.EqualFold(filepath.Base(ev.Name), name) && ev.Op != 0 {
				changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// events were lost; re-read to be safe
				changed()
				continue
			}
			m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
		}
	}
}

// debouncer collapses bursts of pokes into one fire after wait of quiet.
type debouncer struct {
	wait time.Duration
	fire func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func (d *debouncer) poke() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer == nil {
		d.timer = time.AfterFunc(d.wait, d.fire)
		return
	}
	d.timer.Reset(d.wait)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
