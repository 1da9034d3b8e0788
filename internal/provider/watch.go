package provider

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch starts watching the trees directory. A changed file is dropped
// from the cache once it has been quiet for the debounce interval, then
// OnChange runs with its identifier.
func (p *Provider) Watch() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher != nil {
		return nil
	}

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create trees dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(p.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", p.dir, err)
	}

	p.watcher = w
	p.done = make(chan struct{})
	p.wg.Add(1)
	go p.watchLoop(w, p.done)
	p.log.Info("watching trees", "dir", p.dir)
	return nil
}

// Close stops watching. Idempotent.
func (p *Provider) Close() error {
	p.mu.Lock()
	w := p.watcher
	done := p.done
	p.watcher = nil
	p.mu.Unlock()

	if w == nil {
		return nil
	}
	close(done)
	p.wg.Wait()
	return w.Close()
}

func (p *Provider) watchLoop(w *fsnotify.Watcher, done <-chan struct{}) {
	defer p.wg.Done()

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(p.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if id, ok := idFromPath(ev.Name); ok {
				pending[id] = time.Now()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			p.log.Warn("watch error", "error", err)

		case now := <-ticker.C:
			for id, at := range pending {
				if now.Sub(at) < p.debounce {
					continue
				}
				delete(pending, id)
				p.apply(id)
			}
		}
	}
}

func (p *Provider) apply(id string) {
	p.Invalidate(id)
	p.metrics.ConfigReloads.Inc()
	p.log.Info("tree changed", "id", id)
	if p.onChange != nil {
		p.onChange(id)
	}
}
