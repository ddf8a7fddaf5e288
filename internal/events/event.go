package events

import (
	"encoding/json"
	"time"
)

// EventType is one of the fixed event names SLAPS emits to the JSONL
// event log.
type EventType string

const (
	EventMove              EventType = "move"
	EventRetry             EventType = "retry"
	EventClaimed           EventType = "claimed"
	EventSuccess           EventType = "success"
	EventFailureReopen     EventType = "failure_reopen"
	EventDead              EventType = "dead"
	EventUnlockOpen        EventType = "unlock_open"
	EventDoctorPass        EventType = "doctor_pass"
	EventDoctorFail        EventType = "doctor_fail"
	EventDegraded          EventType = "degraded"
	EventCacheStats        EventType = "cache_stats"
	EventCacheStatsWarning EventType = "cache_stats_warning"
	EventWaveStart         EventType = "wave_start"
	EventWaveComplete      EventType = "wave_complete"
	EventAllComplete       EventType = "all_complete"
)

// Event is a single line of the append-only JSON-lines event log
// (spec.md §9 "Event log"): {ts, event, ...fields}.
type Event struct {
	TS     time.Time              `json:"ts"`
	Event  EventType              `json:"event"`
	Fields map[string]interface{} `json:"-"`
}

// New builds an Event stamped with the given time so callers in
// deterministic tests can avoid wall-clock reads.
func New(at time.Time, eventType EventType, fields map[string]interface{}) *Event {
	return &Event{TS: at.UTC(), Event: eventType, Fields: fields}
}

// MarshalJSON flattens Fields alongside ts/event into a single object,
// matching the schema's "...fields" suffix.
func (e *Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(e.Fields)+2)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["ts"] = e.TS.Format(time.RFC3339)
	out["event"] = string(e.Event)
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON, pulling ts/event out of the flat
// object and leaving the rest in Fields.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if tsRaw, ok := raw["ts"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, tsRaw); err == nil {
			e.TS = ts
		}
		delete(raw, "ts")
	}
	if evRaw, ok := raw["event"].(string); ok {
		e.Event = EventType(evRaw)
		delete(raw, "event")
	}
	e.Fields = raw
	return nil
}

// MoveFields builds the field set for a "move" event per spec.md §5
// step 6: {task, from, to, worker, outcome?, rc?}.
func MoveFields(task int, from, to, worker string, outcome string, rc *int) map[string]interface{} {
	f := map[string]interface{}{
		"task":  task,
		"from":  from,
		"to":    to,
		"worker": worker,
	}
	if outcome != "" {
		f["outcome"] = outcome
	}
	if rc != nil {
		f["rc"] = *rc
	}
	return f
}
