package retention

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const defaultSweepInterval = time.Hour

// Purger removes idempotency records that expired before the given instant.
// billing.GormGuard and billing.FirestoreGuard implement it; the Redis guard
// relies on key TTLs and needs no sweep.
type Purger interface {
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// PurgeObserver receives the number of records removed per sweep.
type PurgeObserver interface {
	ObservePurge(backend string, purged int64)
}

// Manager runs the periodic retention sweep.
type Manager struct {
	purger   Purger
	backend  string
	interval time.Duration
	observer PurgeObserver
	now      func() time.Time

	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewManager(purger Purger, backend string, interval time.Duration, observer PurgeObserver) *Manager {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Manager{
		purger:   purger,
		backend:  backend,
		interval: interval,
		observer: observer,
		now:      time.Now,
	}
}

// Start launches the sweep worker. Calling Start on a running manager is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// fresh channel per cycle so the manager can be restarted
	m.stopCh = make(chan struct{})
	m.running = true
	m.ticker = time.NewTicker(m.interval)
	m.wg.Add(1)
	go m.sweepWorker(m.ticker, m.stopCh)

	log.Infof("[Retention] Started sweep worker for %s (interval: %s)", m.backend, m.interval)
}

// Stop halts the worker and waits for an in-flight sweep to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	m.ticker.Stop()
	close(m.stopCh)
	m.stopCh = nil
	m.running = false
	m.wg.Wait()

	log.Info("[Retention] Stopped sweep worker")
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) sweepWorker(ticker *time.Ticker, stopCh <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := m.SweepOnce(context.Background()); err != nil {
				log.Errorf("[Retention] Sweep error: %v", err)
			}
		}
	}
}

// SweepOnce purges everything that expired before now.
func (m *Manager) SweepOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	purged, err := m.purger.PurgeExpired(ctx, m.now())
	if err != nil {
		return purged, err
	}
	if m.observer != nil {
		m.observer.ObservePurge(m.backend, purged)
	}
	if purged > 0 {
		log.Infof("[Retention] Purged %d expired processed events from %s", purged, m.backend)
	}
	return purged, nil
}
