// Package status keeps asynchronous persona processing visible: a
// timer-driven refresh that runs exactly while some owned persona is in the
// processing state.
package status

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the fixed poll interval. No backoff and no retry
// bound: backend processing takes anywhere from minutes to hours.
const DefaultInterval = 30 * time.Second

// RefreshFunc re-fetches the viewer's persona list and reports whether any
// persona is still processing.
type RefreshFunc func(ctx context.Context) bool

// Poller re-invokes a RefreshFunc on a fixed interval while the processing
// condition holds. At most one timer is ever active; Update and Stop are
// safe from any goroutine.
type Poller struct {
	interval time.Duration
	refresh  RefreshFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a Poller. A non-positive interval uses DefaultInterval.
func NewPoller(interval time.Duration, refresh RefreshFunc) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{interval: interval, refresh: refresh}
}

// Update reconciles the timer with the processing condition: starts it when
// a processing persona appears, stops it the moment none remains. Calling
// Update with an unchanged condition is a no-op, so views can call it after
// every refresh.
func (p *Poller) Update(processing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if processing && p.cancel == nil {
		p.startLocked()
		return
	}
	if !processing && p.cancel != nil {
		p.stopLocked()
	}
}

// Stop cancels any active timer. Must be called on view teardown; a
// remounted view calls Stop before its first Update so a prior timer never
// survives the remount.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopLocked()
	p.mu.Unlock()
	p.wg.Wait()
}

// Active reports whether a timer is currently running.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !p.refresh(ctx) {
					// Condition gone: stop within this cycle.
					p.mu.Lock()
					if p.cancel != nil {
						p.cancel()
						p.cancel = nil
					}
					p.mu.Unlock()
					return
				}
			}
		}
	}()
}

func (p *Poller) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}
