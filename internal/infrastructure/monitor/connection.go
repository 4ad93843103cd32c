package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pinger is anything that can report whether its backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Target names a backend to watch.
type Target struct {
	Driver string
	Pinger Pinger
}

type Monitor struct {
	log   Target
	cache Target

	status   Status
	mu       sync.RWMutex
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

func New(log, cache Target, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		log:      log,
		cache:    cache,
		interval: interval,
		timeout:  3 * time.Second,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

func (m *Monitor) Start() {
	m.Refresh()
	go m.loop()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// IsOnline reports whether the event log answered the last check. The cache is optional.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.EventLog
}

func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Refresh()
		case <-m.stopCh:
			return
		}
	}
}

// Refresh pings every target once and records the outcome.
func (m *Monitor) Refresh() {
	status := Status{
		EventLog:    m.check(m.log),
		StoreDriver: m.log.Driver,
		Cache:       m.check(m.cache),
		CacheDriver: m.cache.Driver,
		LastCheck:   time.Now().UTC(),
	}

	m.mu.Lock()
	prev := m.status
	m.status = status
	m.mu.Unlock()

	if !prev.LastCheck.IsZero() && prev.EventLog != status.EventLog {
		m.logger.Warn("event log availability changed",
			zap.String("driver", status.StoreDriver),
			zap.Bool("online", status.EventLog),
		)
	}
}

func (m *Monitor) check(t Target) bool {
	if t.Pinger == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := t.Pinger.Ping(ctx); err != nil {
		m.logger.Debug("health check failed", zap.String("driver", t.Driver), zap.Error(err))
		return false
	}
	return true
}
