package auth

import (
	"context"
	"sync"
	"time"
)

// Janitor periodically deletes expired auto-login tokens.
type Janitor struct {
	m        *Manager
	interval time.Duration

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewJanitor creates a janitor sweeping every interval.
func NewJanitor(m *Manager, interval time.Duration) *Janitor {
	return &Janitor{
		m:        m,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
// A non-positive interval disables the janitor.
func (j *Janitor) Start(ctx context.Context) {
	if j.interval <= 0 {
		return
	}
	j.wg.Add(1)
	go j.loop(ctx)
}

// Stop ends the sweep loop and waits for it to return.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
	})
}

// Sweep deletes expired tokens once.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	n, err := j.m.PurgeExpired(ctx)
	if err != nil {
		j.m.logger.Error("token sweep failed", "error", err)
		return 0, err
	}
	if n > 0 {
		j.m.logger.Info("expired tokens swept", "count", n)
	}
	return n, nil
}

func (j *Janitor) loop(ctx context.Context) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.done:
			return
		case <-ticker.C:
			j.Sweep(ctx) //nolint:errcheck // logged in Sweep
		}
	}
}
