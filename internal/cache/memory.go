package cache

import (
	"context"
	"sync"
	"time"

	"gitlab.com/nevasik7/alerting/logger"
)

type memEntry struct {
	value    []byte
	expireAt int64 // unix nano; 0 = never
}

type Memory struct {
	log     logger.Logger
	ttl     time.Duration
	mu      sync.RWMutex
	items   map[string]memEntry
	stopCh  chan struct{}
	stopped bool
}

// ttl=0 keeps entries forever (historical data is immutable);
// janitorEvery-how often to clear expired keys; 0 -> don't run collector
func NewMemory(log logger.Logger, ttl, janitorEvery time.Duration) *Memory {
	m := &Memory{
		log:    log,
		ttl:    ttl,
		items:  make(map[string]memEntry, 1024),
		stopCh: make(chan struct{}),
	}

	if ttl > 0 && janitorEvery > 0 {
		go m.janitor(janitorEvery)
	}

	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	now := time.Now().UnixNano()

	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if e.expireAt != 0 && e.expireAt <= now {
		return nil, false, nil
	}

	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	var exp int64
	if m.ttl > 0 {
		exp = time.Now().Add(m.ttl).UnixNano()
	}

	m.mu.Lock()
	m.items[key] = memEntry{value: value, expireAt: exp}
	m.mu.Unlock()

	m.log.Debugf("Cached value by key=%s (%d bytes)", key, len(value))

	return nil
}

func (m *Memory) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			now := time.Now().UnixNano()
			m.mu.Lock()
			for k, e := range m.items {
				if e.expireAt != 0 && e.expireAt <= now {
					m.log.Debugf("Removing expired item: %s", k)
					delete(m.items, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Close garbage collector(if running)
func (m *Memory) Close() {
	m.mu.Lock()
	if !m.stopped {
		close(m.stopCh)
		m.stopped = true
	}
	m.mu.Unlock()
}
