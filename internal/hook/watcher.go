package hook

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/agentexec/agentexec/internal/logging"
)

// Watcher reloads matcher configuration into a pipeline when the YAML file
// changes on disk. A file that becomes unreadable or unparseable leaves the
// last good configuration in place.
type Watcher struct {
	watcher  *fsnotify.Watcher
	pipeline *Pipeline
	path     string
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	mu       sync.Mutex
}

// NewWatcher creates a watcher for the given hook configuration file.
// The enclosing directory is watched rather than the file itself, since
// editors typically replace files instead of writing in place.
func NewWatcher(pipeline *Pipeline, path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}

	return &Watcher{
		watcher:  w,
		pipeline: pipeline,
		path:     abs,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching for configuration changes.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	log := logging.Component("hook")
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			cfg, err := LoadConfig(w.path)
			if err != nil {
				log.Warn().Err(err).Str("path", w.path).
					Msg("hook configuration reload failed, keeping previous")
				continue
			}
			w.pipeline.SetConfig(cfg)
			log.Info().Str("path", w.path).Msg("hook configuration reloaded")
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("hook configuration watcher error")
		}
	}
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}

	if started {
		<-w.doneCh
	}

	return w.watcher.Close()
}
