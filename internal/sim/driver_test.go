package sim

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"predictsim/internal/engine"
	"predictsim/internal/router"
	"predictsim/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func smallScenario(seed uint32) ScenarioConfig {
	cfg := DefaultScenario(seed)
	cfg.NumOrders = 60
	cfg.NumTraders = 4
	return cfg
}

func TestGenerateDeterministic(t *testing.T) {
	t.Parallel()
	cfg := smallScenario(42)
	a, err := Generate(cfg)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := Generate(cfg)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if !bytes.Equal(ja, jb) {
		t.Error("identical configs produced different intent streams")
	}
}

func TestGenerateRespectsWindowAndOrdering(t *testing.T) {
	t.Parallel()
	cfg := smallScenario(7)
	intents, err := Generate(cfg)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(intents) == 0 {
		t.Fatal("no intents generated")
	}
	prev := 0.0
	for _, intent := range intents {
		if intent.Timestamp < prev {
			t.Fatal("timestamps not monotone")
		}
		if intent.Timestamp > cfg.TimeWindow {
			t.Fatalf("timestamp %v beyond window %v", intent.Timestamp, cfg.TimeWindow)
		}
		prev = intent.Timestamp
		if (intent.Qty == nil) == (intent.Spend == nil) {
			t.Fatal("intent must carry exactly one of qty/spend")
		}
		if intent.Type == types.LIMIT && intent.Price == nil {
			t.Fatal("limit intent without price")
		}
		if intent.Price != nil {
			if intent.Price.Sign() <= 0 || intent.Price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
				t.Fatalf("price %s out of (0,1)", intent.Price)
			}
		}
	}
}

func TestScenarioVariants(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"baseline", "thin_book", "thick_book", "price_shock", "agent_mix"} {
		cfg, err := Scenario(name, 1)
		if err != nil {
			t.Fatalf("Scenario(%s): %v", name, err)
		}
		if cfg.Name != name {
			t.Errorf("name = %s, want %s", cfg.Name, name)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Scenario(%s) invalid: %v", name, err)
		}
	}
	if _, err := Scenario("nope", 1); err == nil {
		t.Error("unknown scenario accepted")
	}
}

func TestPriceShockMovesBand(t *testing.T) {
	t.Parallel()
	cfg, _ := Scenario("price_shock", 42)
	cfg.SellRatio = 0
	cfg.MarketOrderRatio = 0
	intents, err := Generate(cfg)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var before, after []float64
	for _, intent := range intents {
		if intent.Price == nil {
			continue
		}
		p := intent.Price.InexactFloat64()
		if intent.Timestamp < cfg.ShockTime {
			before = append(before, p)
		} else {
			after = append(after, p)
		}
	}
	if len(before) == 0 || len(after) == 0 {
		t.Skip("shock fell outside generated window for this seed")
	}
	if mean(after)-mean(before) < cfg.ShockMagnitude/2 {
		t.Errorf("price band did not shift: before %v after %v", mean(before), mean(after))
	}
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Identical (seed, scenario, engine config) tuples produce byte-identical
// simulation output, across all three engine variants.
func TestRunDeterminism(t *testing.T) {
	t.Parallel()
	builders := map[string]func() (engine.Engine, error){
		"clob": func() (engine.Engine, error) {
			return engine.NewCLOB(decimal.New(1, -2), testLogger())
		},
		"lmsr": func() (engine.Engine, error) {
			return engine.NewLMSR(decimal.NewFromInt(100), testLogger())
		},
		"hybrid": func() (engine.Engine, error) {
			return engine.NewHybrid(router.Config{
				Mode:       router.CLOBFirst,
				MaxSpread:  decimal.New(5, -2),
				MinDepth:   decimal.NewFromInt(10),
				DepthTicks: 5,
				B:          decimal.NewFromInt(100),
				TickSize:   decimal.New(1, -2),
			}, testLogger())
		},
	}

	for name, build := range builders {
		name, build := name, build
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			var dumps [][]byte
			for i := 0; i < 2; i++ {
				eng, err := build()
				if err != nil {
					t.Fatalf("build: %v", err)
				}
				cfg := smallScenario(42)
				out, err := NewDriver(eng).RunScenario(cfg)
				if err != nil {
					t.Fatalf("run: %v", err)
				}
				dump, err := json.Marshal(out)
				if err != nil {
					t.Fatalf("marshal: %v", err)
				}
				dumps = append(dumps, dump)
			}
			if !bytes.Equal(dumps[0], dumps[1]) {
				t.Error("identical runs produced different output")
			}
		})
	}
}

func TestDriverCollectsPerIntentSnapshots(t *testing.T) {
	t.Parallel()
	eng, err := engine.NewCLOB(decimal.New(1, -2), testLogger())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	cfg := smallScenario(11)
	out, err := NewDriver(eng).RunScenario(cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(out.Results) != len(out.Intents) {
		t.Errorf("results %d != intents %d", len(out.Results), len(out.Intents))
	}
	if len(out.Snapshots) != len(out.Intents) {
		t.Errorf("snapshots %d != intents %d", len(out.Snapshots), len(out.Intents))
	}
	if len(out.FinalTraders) != cfg.NumTraders {
		t.Errorf("final traders %d != %d", len(out.FinalTraders), cfg.NumTraders)
	}
	if len(out.Logs) == 0 {
		t.Error("no logs collected")
	}

	// Every accepted order conserves quantity.
	for _, r := range out.Results {
		if r.Status == types.StatusRejected || r.Intent.Qty == nil {
			continue
		}
		if !r.FilledQty.Add(r.RemainingQty).Equal(*r.Intent.Qty) {
			t.Errorf("intent %s: filled %s + remaining %s != qty %s",
				r.Intent.ID, r.FilledQty, r.RemainingQty, r.Intent.Qty)
		}
	}
}
