package auth

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically removes expired sessions so the session table does
// not grow without bound. Expired sessions already fail validation; the
// sweeper only reclaims memory.
type Sweeper struct {
	sessions *SessionManager
	interval time.Duration
	done     chan struct{}
}

// NewSweeper creates a session sweeper.
func NewSweeper(sessions *SessionManager, interval time.Duration) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	slog.Info("session sweeper started", "interval", sw.interval)

	go func() {
		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if removed := sw.sessions.sweep(); removed > 0 {
					slog.Info("swept expired sessions", "removed", removed)
				}
			case <-ctx.Done():
				slog.Info("session sweeper stopping")
				close(sw.done)
				return
			}
		}
	}()
}

// Wait blocks until the sweeper has fully stopped.
func (sw *Sweeper) Wait() {
	<-sw.done
}
