package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakePurger struct {
	calls atomic.Int32
	err   error
}

func (f *fakePurger) PurgeExpired(ctx context.Context) (int64, error) {
	f.calls.Add(1)
	return 3, f.err
}

func TestSessionCleanup_RunsImmediatelyAndOnInterval(t *testing.T) {
	p := &fakePurger{}
	w := NewSessionCleanup(p, zap.NewNop(), 10*time.Millisecond)
	w.Start()

	assert.Eventually(t, func() bool { return p.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	w.Stop()
	after := p.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, p.calls.Load(), "no cleanup after Stop")
}

func TestSessionCleanup_ErrorsDoNotStopWorker(t *testing.T) {
	p := &fakePurger{err: errors.New("db down")}
	w := NewSessionCleanup(p, zap.NewNop(), 10*time.Millisecond)
	w.Start()
	defer w.Stop()

	assert.Eventually(t, func() bool { return p.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestSessionCleanup_StopTwice(t *testing.T) {
	w := NewSessionCleanup(&fakePurger{}, zap.NewNop(), time.Hour)
	w.Start()
	w.Stop()
	assert.NotPanics(t, w.Stop)
}
