package models

import "time"

// ValueKind discriminates the payload carried by a metric Value.
type ValueKind string

const (
	KindNumeric ValueKind = "numeric"
	KindState   ValueKind = "state"
	KindUnknown ValueKind = "unknown"
)

// ServiceState enumerates reachability states reported by service probes.
type ServiceState string

const (
	StateUp       ServiceState = "UP"
	StateDegraded ServiceState = "DEGRADED"
	StateDown     ServiceState = "DOWN"
)

// Value is a single metric reading: either a number, a service state, or
// UNKNOWN when the probe failed or timed out.
type Value struct {
	Kind  ValueKind    `json:"kind"`
	Num   float64      `json:"num,omitempty"`
	State ServiceState `json:"state,omitempty"`
}

// Numeric wraps a float sample.
func Numeric(v float64) Value {
	return Value{Kind: KindNumeric, Num: v}
}

// State wraps a service reachability sample.
func State(s ServiceState) Value {
	return Value{Kind: KindState, State: s}
}

// Unknown marks a failed or timed-out probe.
func Unknown() Value {
	return Value{Kind: KindUnknown}
}

// IsUnknown reports whether the reading carries no usable data.
func (v Value) IsUnknown() bool {
	return v.Kind == KindUnknown
}

// HealthSnapshot is one timestamped set of metric readings. Snapshots are
// write-once: components receive copies and never mutate a stored one.
type HealthSnapshot struct {
	TakenAt time.Time        `json:"taken_at"`
	Values  map[string]Value `json:"values"`
}

// Value returns the reading for a metric, or UNKNOWN when absent.
func (s HealthSnapshot) Value(metric string) Value {
	if v, ok := s.Values[metric]; ok {
		return v
	}
	return Unknown()
}

// Clone returns an independent copy of the snapshot.
func (s HealthSnapshot) Clone() HealthSnapshot {
	values := make(map[string]Value, len(s.Values))
	for k, v := range s.Values {
		values[k] = v
	}
	return HealthSnapshot{TakenAt: s.TakenAt, Values: values}
}

// Sample is a single time/value pair inside a trend window.
type Sample struct {
	Time  time.Time `json:"time"`
	Value Value     `json:"value"`
}
