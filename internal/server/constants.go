// Package server exposes the orchestrator read model to a local UI over
// HTTP and WebSocket.
package server

import "time"

// Server configuration constants
const (
	// Per-connection WebSocket message limit
	RateLimitMessages = 10
	RateLimitWindow   = time.Second

	// Global IP-based rate limiting (prevents multi-connection bypass attacks)
	IPRateLimitMessages        = 30               // Max messages per IP per window
	IPRateLimitWindow          = time.Second      // Sliding window duration
	IPRateLimitCleanupInterval = 5 * time.Minute  // How often to purge stale IP entries
	IPRateLimitEntryTTL        = 10 * time.Minute // TTL for inactive IP entries

	// Largest accepted upload
	MaxUploadBytes = 512 << 20

	// Bound on a single snapshot push
	PushTimeout = 5 * time.Second
)
