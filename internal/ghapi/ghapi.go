// Package ghapi declares the capability interface to the GitHub API
// transport. The transport itself (CLI wrapping REST + GraphQL) is
// explicitly out of scope (spec.md §1): "only the capability interface
// matters." This package also declares RateLimitError, a typed
// rate-limit classification; no code in the module returns or inspects
// it.
package ghapi

import (
	"context"
	"time"
)

// Issue is the subset of a GitHub issue SLAPS cares about.
type Issue struct {
	Number    int
	Title     string
	Body      string
	Labels    []string
	Milestone string
}

// ProjectFields is the server-fields backend's view of one project item
// (spec.md §6): slaps-state, slaps-worker, slaps-attempt-count, slaps-wave.
type ProjectFields struct {
	ItemID   string
	Issue    int
	State    string
	Wave     int
	Worker   int
	Attempt  int
}

// Client is the capability port for everything SLAPS needs from GitHub:
// reading issues for the raw record cache, and mutating project fields
// for the server-fields queue backend.
type Client interface {
	ListIssues(ctx context.Context, labels ...string) ([]Issue, error)
	GetIssue(ctx context.Context, number int) (Issue, error)

	ListProjectItems(ctx context.Context, wave int) ([]ProjectFields, error)
	SetProjectField(ctx context.Context, itemID, field, value string) error
	SetProjectNumberField(ctx context.Context, itemID, field string, value int) error
}

// RateLimitError signals a classified rate-limit response, carrying the
// server's suggested pause. No Client implementation or backend in this
// module returns or inspects it, and no API call is retried: an API
// error is returned to the caller as is.
type RateLimitError struct {
	Secondary  bool
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Secondary {
		return "ghapi: secondary rate limit"
	}
	return "ghapi: rate limited"
}
