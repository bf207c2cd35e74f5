package core

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

/**
 * @brief Watches one config file for changes. Notifications arrive on
 * the fsnotify goroutine and are only latched there; Poll runs the
 * reload callback and fires EVENT_CODE_CONFIG_RELOADED on the caller's
 * goroutine, so listeners stay on the frame thread.
 */
type ConfigWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	reload  func(path string) error
	bus     *EventBus
	pending atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

func NewConfigWatcher(path string, bus *EventBus, reload func(path string) error) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		err = fmt.Errorf("failed to create config watcher: %w", err)
		LogError(err.Error())
		return nil, err
	}
	// Watch the directory: editors often replace the file instead of writing it.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		err = fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
		LogError(err.Error())
		return nil, err
	}

	cw := &ConfigWatcher{
		path:    abs,
		watcher: w,
		reload:  reload,
		bus:     bus,
		done:    make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.loop()
	return cw, nil
}

func (cw *ConfigWatcher) loop() {
	defer cw.wg.Done()
	for {
		select {
		case <-cw.done:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				cw.pending.Store(true)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			LogWarn("config watcher: %s", err)
		}
	}
}

// Poll applies a pending change. Returns true if the config was reloaded.
func (cw *ConfigWatcher) Poll() bool {
	if !cw.pending.Swap(false) {
		return false
	}
	if err := cw.reload(cw.path); err != nil {
		LogWarn("config reload of %s failed: %s", cw.path, err)
		return false
	}
	LogInfo("config reloaded from %s", cw.path)
	if cw.bus != nil {
		cw.bus.Fire(EVENT_CODE_CONFIG_RELOADED, cw, EventContext{Str: cw.path})
	}
	return true
}

// Close stops watching. Later calls return the first call's result.
func (cw *ConfigWatcher) Close() error {
	cw.closeOnce.Do(func() {
		close(cw.done)
		cw.closeErr = cw.watcher.Close()
		cw.wg.Wait()
	})
	return cw.closeErr
}
