package workers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionPurger deletes expired sessions and reports how many were removed.
type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// SessionCleanup periodically removes expired sessions so the table does not
// grow with abandoned logins.
type SessionCleanup struct {
	sessions SessionPurger
	log      *zap.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSessionCleanup(sessions SessionPurger, logger *zap.Logger, interval time.Duration) *SessionCleanup {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SessionCleanup{
		sessions: sessions,
		log:      logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs one cleanup immediately, then one per interval.
func (w *SessionCleanup) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("session cleanup worker started", zap.Duration("interval", w.interval))
}

// Stop signals the worker and waits for it to finish. Safe to call twice.
func (w *SessionCleanup) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
		w.log.Info("session cleanup worker stopped")
	})
}

func (w *SessionCleanup) run() {
	defer w.wg.Done()

	w.cleanup()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.cleanup()
		}
	}
}

func (w *SessionCleanup) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := w.sessions.PurgeExpired(ctx)
	if err != nil {
		w.log.Error("failed to purge expired sessions", zap.Error(err))
		return
	}

	if count > 0 {
		w.log.Info("purged expired sessions", zap.Int64("count", count))
	}
}
