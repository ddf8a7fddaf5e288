package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxAttempts is the 3-strike dead-letter threshold from spec.md §3.
const MaxAttempts = 3

// Task is a single unit of work, one per GitHub issue.
type Task struct {
	Issue       int        `json:"issue"`
	Title       string     `json:"title,omitempty"`
	Wave        int        `json:"wave"`
	State       State      `json:"state"`
	Attempt     int        `json:"attempt"`
	WorkerID    string     `json:"worker_id,omitempty"`
	Prompt      string     `json:"prompt"`
	LastFailure string     `json:"last_failure,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	BlockedBy   []int      `json:"blocked_by,omitempty"`
	EstimateSec int        `json:"estimate_sec,omitempty"`
	TimeoutSec  int        `json:"timeout_sec,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// New creates a new blocked task at attempt 0, per spec.md §3 "Lifecycles".
func New(issue, wave int, prompt string, blockedBy []int) *Task {
	now := time.Now().UTC()
	return &Task{
		Issue:     issue,
		Wave:      wave,
		State:     StateBlocked,
		Attempt:   0,
		Prompt:    prompt,
		BlockedBy: blockedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanRetry reports whether another attempt keeps the task below the
// dead-letter threshold (spec.md §3: "attempt >= 3 and another failure ⇒ dead").
func (t *Task) CanRetry() bool {
	return t.Attempt < MaxAttempts
}

// Filename is the canonical on-disk name for the fsqueue backend:
// the issue number, so directory listings sorted lexicographically by
// filename match spec.md §8's claim-order property.
func (t *Task) Filename() string {
	return fmt.Sprintf("%d.txt", t.Issue)
}

func (t *Task) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

func FromJSON(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// RawRecord is the per-issue JSON document described in spec.md §6: at
// least {number, title, body, labels[], relationships: {blockedBy: []}}.
// Field parsing is deliberately permissive — malformed or absent fields
// degrade to zero values rather than failing the load (spec.md §7
// "Malformed data").
type RawRecord struct {
	Number        int                `json:"number"`
	Title         string             `json:"title"`
	Body          string             `json:"body"`
	Labels        []string           `json:"labels"`
	Relationships RawRelationships   `json:"relationships"`
	Milestone     *RawMilestone      `json:"milestone,omitempty"`
}

type RawRelationships struct {
	BlockedBy []int `json:"-"`
	raw       map[string]json.RawMessage
}

type RawMilestone struct {
	Title string `json:"title"`
}

// UnmarshalJSON accepts the blockedBy key case-insensitively, per spec.md
// §4.2: "Edge ingestion is idempotent and case-insensitive on the
// blockedBy key."
func (r *RawRelationships) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if !equalFoldASCII(k, "blockedBy") {
			continue
		}
		var ids []int
		if err := json.Unmarshal(v, &ids); err != nil {
			return nil // malformed field: treat as "no blockers", not fatal
		}
		r.BlockedBy = ids
		return nil
	}
	return nil
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Wave parses the milestone label (milestone::M<wave>) or falls back to
// the milestone title (M<wave>), per spec.md §6.
func (r RawRecord) Wave() (int, bool) {
	for _, l := range r.Labels {
		if w, ok := parseWaveToken(l, "milestone::m"); ok {
			return w, true
		}
	}
	if r.Milestone != nil {
		if w, ok := parseWaveToken(r.Milestone.Title, "m"); ok {
			return w, true
		}
	}
	return 0, false
}

func parseWaveToken(s, prefix string) (int, bool) {
	low := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		low[i] = c
	}
	lows := string(low)
	if len(lows) <= len(prefix) || lows[:len(prefix)] != prefix {
		return 0, false
	}
	digits := lows[len(prefix):]
	if digits == "" {
		return 0, false
	}
	n := 0
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
