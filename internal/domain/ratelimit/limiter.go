package ratelimit

import (
	"context"
	"time"
)

// WindowDuration is the sliding window spec.md §4.5 fixes for every tool.
// Only the per-tool limit varies, via policy.Tools.RateLimits.
const WindowDuration = 60 * time.Second

// Limiter is the interface for gatekeep's rate limiting. Unlike a smoothed
// GCRA limiter, this is a plain sliding window: a call is allowed when
// fewer than limit calls for the same tool fall within the last
// WindowDuration; a denied call is not itself recorded, so a client
// hammering a blocked tool does not extend its own lockout.
type Limiter interface {
	// Check evaluates whether tool may be called now, given limit calls per
	// WindowDuration. Returns ratelimit.Exceeded (as the error) when denied.
	Check(ctx context.Context, tool string, limit int) (Result, error)
}
