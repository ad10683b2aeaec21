package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdle = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds one limiter per client. Idle entries are swept on insert.
type limiterSet struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	clients   map[string]*limiterEntry
	lastSweep time.Time
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		limit:     limit,
		burst:     burst,
		clients:   make(map[string]*limiterEntry),
		lastSweep: time.Now(),
	}
}

func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if e, ok := s.clients[key]; ok {
		e.lastSeen = now
		return e.limiter
	}

	if now.Sub(s.lastSweep) > limiterIdle {
		for k, e := range s.clients {
			if now.Sub(e.lastSeen) > limiterIdle {
				delete(s.clients, k)
			}
		}
		s.lastSweep = now
	}

	e := &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst), lastSeen: now}
	s.clients[key] = e
	return e.limiter
}
