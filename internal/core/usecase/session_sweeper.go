package usecase

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// SessionSweeper periodically evicts idle sessions from a SessionService.
type SessionSweeper struct {
	sessions *SessionService
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	evictedTotal atomic.Int64
}

func NewSessionSweeper(sessions *SessionService, interval time.Duration) *SessionSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SessionSweeper{sessions: sessions, interval: interval}
}

func (w *SessionSweeper) Start(parent context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(ctx)
}

func (w *SessionSweeper) Close() error {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	return nil
}

// EvictedTotal reports how many sessions the sweeper has evicted so far.
func (w *SessionSweeper) EvictedTotal() int64 {
	return w.evictedTotal.Load()
}

func (w *SessionSweeper) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		w.sweep()
	}
}

func (w *SessionSweeper) sweep() {
	if n := w.sessions.Sweep(); n > 0 {
		w.evictedTotal.Add(int64(n))
		log.Printf("idle sessions evicted count=%d open=%d", n, w.sessions.Len())
	}
}
