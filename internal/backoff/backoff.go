// Package backoff provides exponential-backoff-with-jitter helpers for
// external API retries (spec.md §7 "External API error"); no code in the
// module calls them. It is
// adapted from the teacher repo's task-retry backoff math
// (internal/task/retry.go's RetryPolicy.CalculateBackoff in the teacher
// tree) — SLAPS itself does not time-back-off task retries (its attempt
// ledger is a flat 3-strike counter, spec.md §3), so this is where that
// math actually belongs in the SLAPS domain: classifying and pacing
// GitHub API retries (§7), not task remediation.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy configures exponential backoff with jitter.
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Factor     float64
	JitterFrac float64
}

// Default matches spec.md §7's "exponential backoff with classification"
// requirement for ordinary rate-limit responses.
func Default() Policy {
	return Policy{
		Initial:    500 * time.Millisecond,
		Max:        2 * time.Minute,
		Factor:     2.0,
		JitterFrac: 0.2,
	}
}

// Duration returns the backoff duration for the given zero-based attempt.
func (p Policy) Duration(attempt int) time.Duration {
	if attempt <= 0 {
		return p.Initial
	}

	d := float64(p.Initial) * math.Pow(p.Factor, float64(attempt))
	if d > float64(p.Max) {
		d = float64(p.Max)
	}

	if p.JitterFrac > 0 {
		jitter := d * p.JitterFrac * (rand.Float64()*2 - 1)
		d += jitter
	}
	if d < 0 {
		d = float64(p.Initial)
	}

	return time.Duration(d)
}

// SecondaryRateLimit is a longer, non-exponential pause for GitHub's
// secondary rate-limit classification (spec.md §7: "secondary rate-limit
// → longer pause"), honoring a server-provided Retry-After when present.
func SecondaryRateLimit(retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	return 60 * time.Second
}

// Jitter returns a duration uniformly distributed in [min, max), suited
// to idle-poll sleeps (spec.md §5: "sleep with jitter (20-30 s) between
// idle polls").
func Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := max - min
	return min + time.Duration(rand.Int63n(int64(span)))
}
