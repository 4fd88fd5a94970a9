// Package autosave coalesces bursts of checklist edits into one persisted write per session.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDelay is the quiet period after the last edit before a save runs.
const DefaultDelay = 800 * time.Millisecond

const saveTimeout = 30 * time.Second

var ErrClosed = errors.New("autosave: debouncer closed")

// SaveFunc persists the state captured when it was scheduled.
type SaveFunc func(ctx context.Context) error

type pendingSave struct {
	timer    *time.Timer
	fn       SaveFunc
	gen      uint64
	deferred bool
}

// Debouncer keeps at most one pending save per key. Scheduling again replaces the pending
// save and restarts its timer, so only the latest state is written. Saves for one key never
// overlap; a save that comes due while another is running waits for it.
type Debouncer struct {
	delay  time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	gen     uint64
	pending map[string]*pendingSave
	running map[string]bool
	closed  bool
	wg      sync.WaitGroup
}

func New(delay time.Duration, logger *zap.Logger) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Debouncer{
		delay:   delay,
		logger:  logger,
		pending: make(map[string]*pendingSave),
		running: make(map[string]bool),
	}
}

func (d *Debouncer) Schedule(key string, fn SaveFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	d.gen++
	gen := d.gen
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		p.fn = fn
		p.gen = gen
		p.deferred = false
		p.timer = time.AfterFunc(d.delay, func() { d.fire(key, gen) })
		return nil
	}
	d.pending[key] = &pendingSave{
		fn:    fn,
		gen:   gen,
		timer: time.AfterFunc(d.delay, func() { d.fire(key, gen) }),
	}
	return nil
}

// Cancel drops the pending save for key. A save already running is not interrupted.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		delete(d.pending, key)
	}
}

// Pending reports how many keys have a save waiting.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Debouncer) fire(key string, gen uint64) {
	d.mu.Lock()
	p, ok := d.pending[key]
	if !ok || p.gen != gen {
		d.mu.Unlock()
		return
	}
	if d.running[key] {
		p.deferred = true
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.running[key] = true
	d.wg.Add(1)
	d.mu.Unlock()

	d.run(key, p.fn)
}

// run saves fn, then keeps draining saves for key that came due while it was busy.
func (d *Debouncer) run(key string, fn SaveFunc) {
	defer d.wg.Done()
	for fn != nil {
		d.save(key, fn)

		d.mu.Lock()
		fn = nil
		if p, ok := d.pending[key]; ok && p.deferred {
			p.timer.Stop()
			delete(d.pending, key)
			fn = p.fn
		} else {
			delete(d.running, key)
		}
		d.mu.Unlock()
	}
}

func (d *Debouncer) save(key string, fn SaveFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	start := time.Now()
	if err := fn(ctx); err != nil {
		d.logger.Warn("autosave failed", zap.String("key", key), zap.Error(err))
		return
	}
	d.logger.Debug("autosaved", zap.String("key", key), zap.Duration("took", time.Since(start)))
}

// Flush runs every pending save now and waits for in-flight saves to finish. It is meant for
// shutdown; callers must not Schedule concurrently.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	var due []struct {
		key string
		fn  SaveFunc
	}
	for key, p := range d.pending {
		p.timer.Stop()
		if d.running[key] {
			p.deferred = true
			continue
		}
		delete(d.pending, key)
		d.running[key] = true
		d.wg.Add(1)
		due = append(due, struct {
			key string
			fn  SaveFunc
		}{key, p.fn})
	}
	d.mu.Unlock()

	for _, item := range due {
		go d.run(item.key, item.fn)
	}
	d.wg.Wait()
}

// Close rejects further schedules and flushes what is pending.
func (d *Debouncer) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.Flush()
}
