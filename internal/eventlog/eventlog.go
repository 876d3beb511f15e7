// Package eventlog is the typed, append-only event stream of the trading
// core.
//
// Event order is part of the observable contract: entries appear exactly
// in the order the engines emitted them, per-fill events in fill order,
// and the stream serializes to deterministic JSON — struct keys in
// declared order, map keys sorted, decimals as quoted strings. Replaying
// the same seed yields a byte-identical dump.
package eventlog

import (
	"encoding/json"

	"predictsim/pkg/types"
)

// Sink accumulates log events for one engine instance.
type Sink struct {
	engine types.EngineType
	events []types.LogEvent
}

// New creates a sink tagging events with the given engine type.
func New(engine types.EngineType) *Sink {
	return &Sink{engine: engine}
}

// Emit appends one event with this sink's engine tag.
func (s *Sink) Emit(evt types.EventType, ts float64, data map[string]any) {
	s.events = append(s.events, types.LogEvent{
		Type:      evt,
		Engine:    s.engine,
		Timestamp: ts,
		Data:      data,
	})
}

// EmitAs appends one event under an explicit engine tag. The hybrid
// router uses this to label sub-engine events while sharing one stream.
func (s *Sink) EmitAs(engine types.EngineType, evt types.EventType, ts float64, data map[string]any) {
	s.events = append(s.events, types.LogEvent{
		Type:      evt,
		Engine:    engine,
		Timestamp: ts,
		Data:      data,
	})
}

// Append copies pre-built events onto the stream, preserving their order.
func (s *Sink) Append(events []types.LogEvent) {
	s.events = append(s.events, events...)
}

// Len returns the number of events emitted so far.
func (s *Sink) Len() int { return len(s.events) }

// Events returns a copy of the full stream.
func (s *Sink) Events() []types.LogEvent {
	out := make([]types.LogEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Since returns a copy of the events appended at or after index from.
// Engines capture the per-intent log slice this way.
func (s *Sink) Since(from int) []types.LogEvent {
	if from < 0 || from > len(s.events) {
		return nil
	}
	out := make([]types.LogEvent, len(s.events)-from)
	copy(out, s.events[from:])
	return out
}

// Clear drops all events.
func (s *Sink) Clear() { s.events = nil }

// DumpJSON serializes the stream as an indented JSON array.
func (s *Sink) DumpJSON() ([]byte, error) {
	if s.events == nil {
		return json.MarshalIndent([]types.LogEvent{}, "", "  ")
	}
	return json.MarshalIndent(s.events, "", "  ")
}
