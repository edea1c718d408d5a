package server

import (
	"net"
	"sync"
	"time"
)

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	limit      int
	window     time.Duration
	timestamps []time.Time
	lastSeen   time.Time
	mu         sync.Mutex
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window}
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastSeen = now
	cutoff := now.Add(-r.window)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= r.limit {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

func (r *rateLimiter) idleSince(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return now.Sub(r.lastSeen)
}

// ipLimiter shares one window across every connection from an address.
type ipLimiter struct {
	mu        sync.Mutex
	entries   map[string]*rateLimiter
	lastPurge time.Time
}

func newIPLimiter() *ipLimiter {
	return &ipLimiter{entries: make(map[string]*rateLimiter)}
}

func (l *ipLimiter) allow(remoteAddr string, now time.Time) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	l.mu.Lock()
	if now.Sub(l.lastPurge) >= IPRateLimitCleanupInterval {
		for ip, rl := range l.entries {
			if rl.idleSince(now) >= IPRateLimitEntryTTL {
				delete(l.entries, ip)
			}
		}
		l.lastPurge = now
	}
	rl, ok := l.entries[host]
	if !ok {
		rl = newRateLimiter(IPRateLimitMessages, IPRateLimitWindow)
		l.entries[host] = rl
	}
	l.mu.Unlock()

	return rl.allow(now)
}

func (l *ipLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
