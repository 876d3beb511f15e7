package eventlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"predictsim/pkg/types"
)

func TestAppendOrderPreserved(t *testing.T) {
	t.Parallel()
	s := New(types.EngineCLOB)
	s.Emit(types.EventOrderReceived, 1, map[string]any{"intentId": "a"})
	s.Emit(types.EventOrderAccepted, 1, map[string]any{"intentId": "a"})
	s.Emit(types.EventTradeExecuted, 1, map[string]any{"intentId": "a"})

	events := s.Events()
	if len(events) != 3 {
		t.Fatalf("len = %d, want 3", len(events))
	}
	want := []types.EventType{types.EventOrderReceived, types.EventOrderAccepted, types.EventTradeExecuted}
	for i, evt := range events {
		if evt.Type != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, evt.Type, want[i])
		}
		if evt.Engine != types.EngineCLOB {
			t.Errorf("events[%d] engine = %s", i, evt.Engine)
		}
	}
}

func TestSince(t *testing.T) {
	t.Parallel()
	s := New(types.EngineLMSR)
	s.Emit(types.EventOrderReceived, 1, nil)
	mark := s.Len()
	s.Emit(types.EventQuote, 2, nil)
	s.Emit(types.EventOrderFilled, 2, nil)

	slice := s.Since(mark)
	if len(slice) != 2 {
		t.Fatalf("slice len = %d, want 2", len(slice))
	}
	if slice[0].Type != types.EventQuote {
		t.Errorf("slice[0] = %s", slice[0].Type)
	}
}

func TestEventsReturnsCopy(t *testing.T) {
	t.Parallel()
	s := New(types.EngineCLOB)
	s.Emit(types.EventOrderReceived, 1, nil)

	events := s.Events()
	events[0].Type = types.EventError
	if s.Events()[0].Type != types.EventOrderReceived {
		t.Error("Events() exposed internal storage")
	}
}

func TestDumpJSONDeterministic(t *testing.T) {
	t.Parallel()
	build := func() *Sink {
		s := New(types.EngineHybrid)
		s.Emit(types.EventRoutingDecision, 1.25, map[string]any{
			"zeta":   "last",
			"alpha":  "first",
			"spread": decimal.RequireFromString("0.05"),
		})
		return s
	}

	a, err := build().DumpJSON()
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	b, err := build().DumpJSON()
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("dump not byte-identical across builds")
	}

	out := string(a)
	// Map keys enumerate sorted; decimals serialize as quoted strings.
	if strings.Index(out, `"alpha"`) > strings.Index(out, `"zeta"`) {
		t.Error("map keys not sorted in JSON output")
	}
	if !strings.Contains(out, `"spread": "0.05"`) {
		t.Errorf("decimal not stringified:\n%s", out)
	}
	if !strings.Contains(out, `"engineType": "HYBRID"`) {
		t.Errorf("engine tag missing:\n%s", out)
	}
}

func TestClear(t *testing.T) {
	t.Parallel()
	s := New(types.EngineCLOB)
	s.Emit(types.EventOrderReceived, 1, nil)
	s.Clear()
	if s.Len() != 0 {
		t.Errorf("len after clear = %d", s.Len())
	}
	data, err := s.DumpJSON()
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("empty dump = %q, want []", data)
	}
}

func TestEmitAsOverridesEngineTag(t *testing.T) {
	t.Parallel()
	s := New(types.EngineHybrid)
	s.EmitAs(types.EngineLMSR, types.EventTradeExecuted, 1, nil)
	if got := s.Events()[0].Engine; got != types.EngineLMSR {
		t.Errorf("engine = %s, want LMSR", got)
	}
}
