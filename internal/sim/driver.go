package sim

import (
	"fmt"

	"github.com/shopspring/decimal"

	"predictsim/internal/engine"
	"predictsim/pkg/types"
)

// SimulationOutput is everything one run produced. All fields derive
// deterministically from (seed, scenario, engine config).
type SimulationOutput struct {
	Scenario     string                      `json:"scenario"`
	Seed         uint32                      `json:"seed"`
	Engine       types.EngineType            `json:"engine"`
	Intents      []types.OrderIntent         `json:"intents"`
	Results      []types.ExecutionResult     `json:"results"`
	Snapshots    []types.MarketStateSnapshot `json:"snapshots"`
	FinalTraders []types.TraderState         `json:"finalTraders"`
	Logs         []types.LogEvent            `json:"logs"`
}

// Driver runs intent streams through an engine, one intent at a time.
// The loop is strictly single-threaded: each intent's effects commit
// before the next is observed, and the pre-intent snapshot is captured
// immediately before processing.
type Driver struct {
	eng engine.Engine
}

// NewDriver wraps an engine.
func NewDriver(eng engine.Engine) *Driver {
	return &Driver{eng: eng}
}

// Seed registers the scenario's trader population on the engine.
func (d *Driver) Seed(cfg ScenarioConfig) error {
	shares := cfg.InitialShares
	if d.eng.Type() == types.EngineLMSR {
		// AMM traders start flat; shares only exist once bought.
		shares = decimal.Zero
	}
	for i := 1; i <= cfg.NumTraders; i++ {
		id := fmt.Sprintf("trader-%d", i)
		if err := d.eng.AddTrader(id, cfg.InitialCash, shares); err != nil {
			return fmt.Errorf("seed trader %s: %w", id, err)
		}
	}
	return nil
}

// Run processes the intent stream and collects the full output.
func (d *Driver) Run(cfg ScenarioConfig, intents []types.OrderIntent) *SimulationOutput {
	out := &SimulationOutput{
		Scenario:  cfg.Name,
		Seed:      cfg.Seed,
		Engine:    d.eng.Type(),
		Intents:   intents,
		Results:   make([]types.ExecutionResult, 0, len(intents)),
		Snapshots: make([]types.MarketStateSnapshot, 0, len(intents)),
	}

	for _, intent := range intents {
		snapshot := d.eng.GetMarketState()
		result := d.eng.ProcessOrder(intent)
		out.Snapshots = append(out.Snapshots, snapshot)
		out.Results = append(out.Results, result)
	}

	out.FinalTraders = d.eng.GetAllTraderStates()
	out.Logs = d.eng.GetLogs()
	return out
}

// RunScenario is the one-call variant: generate the stream, seed the
// traders, run.
func (d *Driver) RunScenario(cfg ScenarioConfig) (*SimulationOutput, error) {
	intents, err := Generate(cfg)
	if err != nil {
		return nil, err
	}
	if err := d.Seed(cfg); err != nil {
		return nil, err
	}
	return d.Run(cfg, intents), nil
}
