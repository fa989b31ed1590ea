// Package cache holds recent scan results so repeat requests for the same
// host skip the network entirely.
package cache

import (
	"sync"
	"time"
)

// Cache is the result cache contract. Implementations must be safe for
// concurrent use.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
	Close()
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process TTL cache. A background janitor drops expired
// entries; Get also checks expiry so a stale entry is never served even
// before the janitor runs.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	done    chan struct{}
	once    sync.Once
}

// NewMemory starts the janitor with the given sweep interval.
func NewMemory(sweepEvery time.Duration) *Memory {
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	m := &Memory{
		entries: make(map[string]entry),
		done:    make(chan struct{}),
	}
	go m.janitor(sweepEvery)
	return m
}

func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (m *Memory) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len reports the number of entries including any not yet swept.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Close() {
	m.once.Do(func() { close(m.done) })
}

func (m *Memory) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for key, e := range m.entries {
				if now.After(e.expiresAt) {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
