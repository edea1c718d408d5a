// Package orchestrator owns the meeting read model and the single active
// batch or live session that feeds it.
package orchestrator

import "time"

// Orchestrator configuration constants
const (
	// Notices kept in the read model, oldest dropped first
	MaxNotices = 20

	// Bound on follow-up work triggered by session callbacks
	FollowUpTimeout = 30 * time.Second
)
