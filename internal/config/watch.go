package config

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// PolicyWatcher reloads the module policy file when it changes on disk.
type PolicyWatcher struct {
	path     string
	log      zerolog.Logger
	onChange func(*ModulePolicy)
	debounce time.Duration

	mu   sync.Mutex
	last []byte
}

// NewPolicyWatcher creates a watcher that calls onChange with every valid new
// version of the file at path. Invalid versions are logged and ignored.
func NewPolicyWatcher(path string, log zerolog.Logger, onChange func(*ModulePolicy)) *PolicyWatcher {
	w := &PolicyWatcher{
		path:     path,
		log:      log.With().Str("component", "policy_watcher").Str("path", path).Logger(),
		onChange: onChange,
		debounce: 250 * time.Millisecond,
	}
	if b, err := os.ReadFile(path); err == nil {
		w.last = b
	}
	return w
}

func (w *PolicyWatcher) reload() {
	b, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn().Err(err).Msg("module policy read failed")
		return
	}

	w.mu.Lock()
	unchanged := w.last != nil && bytes.Equal(b, w.last)
	w.mu.Unlock()
	if unchanged {
		w.log.Debug().Msg("module policy unchanged; skipping reload")
		return
	}

	p, err := ParseModulePolicy(b)
	if err != nil {
		w.log.Warn().Err(err).Msg("module policy rejected")
		return
	}

	w.mu.Lock()
	w.last = b
	w.mu.Unlock()
	w.onChange(p)
	w.log.Info().Msg("module policy reloaded")
}

// Watch blocks until ctx is done. A broken fsnotify watcher is recreated with
// a jittered exponential backoff.
func (w *PolicyWatcher) Watch(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)

	const (
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 5 * time.Second
	)
	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	nextWait := func() time.Duration {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < restartBackoffMax {
			backoff *= 2
			if backoff > restartBackoffMax {
				backoff = restartBackoffMax
			}
		}
		return wait
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, w.reload)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		fw, err := fsnotify.NewWatcher()
		if err == nil {
			if err = fw.Add(dir); err != nil {
				_ = fw.Close()
			}
		}
		if err != nil {
			w.log.Warn().Err(err).Str("dir", dir).Msg("module policy watch init failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(nextWait()):
				continue
			}
		}

		backoff = restartBackoffBase
		w.log.Debug().Str("dir", dir).Msg("module policy watcher started")

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = fw.Close()
				return nil
			case ev, ok := <-fw.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					schedule()
				}
			case err, ok := <-fw.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				w.log.Warn().Err(err).Msg("module policy watch error")
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					schedule()
				}
			}
		}

		_ = fw.Close()
		wait := nextWait()
		w.log.Warn().Dur("backoff", wait).Msg("module policy watcher stopped; restarting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
