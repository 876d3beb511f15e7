// predictsim — a binary prediction-market trading core with three
// execution engines behind one surface, driven by deterministic synthetic
// order flow.
//
// Architecture:
//
//	main.go              — entry point: loads config, runs a scenario, exports artifacts
//	engine/              — uniform facade over the three engine variants
//	lmsr/                — LMSR automated market maker (pricing, quotes, settlement)
//	clob/                — price-time priority order book with sell-to-close collateral
//	router/              — hybrid router: shared positions, split-and-fallback dispatch
//	sim/                 — seeded RNG, scenario generators, the single-threaded driver
//	metrics/             — slippage, impact, fill ratio, time series, settlement P&L
//	eventlog/            — typed, deterministic event stream
//	export/              — JSON log dump, CSV export, golden snapshots
//	store/               — SQLite archive of run summaries
//	api/                 — read-only dashboard endpoints + WebSocket event replay
//
// A run is fully determined by (seed, scenario, engine config): identical
// tuples produce byte-identical intents, results, snapshots and logs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"predictsim/internal/api"
	"predictsim/internal/config"
	"predictsim/internal/engine"
	"predictsim/internal/export"
	"predictsim/internal/metrics"
	"predictsim/internal/sim"
	"predictsim/internal/store"
	"predictsim/pkg/types"
)

func main() {
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("SIM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)

	if err := run(cfg, logger); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	scenario, err := buildScenario(cfg.Scenario)
	if err != nil {
		return err
	}
	// Generated limit prices must land on the engine's tick grid.
	tick, err := decimalFromConfig("engine.tick_size", cfg.Engine.TickSize)
	if err != nil {
		return err
	}
	scenario.TickSize = tick

	eng, err := engine.Build(cfg.Engine, logger)
	if err != nil {
		return err
	}

	logger.Info("starting simulation",
		"scenario", scenario.Name,
		"seed", scenario.Seed,
		"engine", string(eng.Type()),
		"orders", scenario.NumOrders,
	)

	driver := sim.NewDriver(eng)
	output, err := driver.RunScenario(scenario)
	if err != nil {
		return err
	}

	// Optional settlement at the end of the run.
	var settlement *metrics.SettlementStats
	if cfg.Scenario.Outcome != "" {
		outcome := types.Outcome(cfg.Scenario.Outcome)
		if err := eng.Settle(outcome, scenario.TimeWindow); err != nil {
			return err
		}
		output.FinalTraders = eng.GetAllTraderStates()
		output.Logs = eng.GetLogs()
		if lm, ok := eng.(*engine.LMSRAdapter); ok {
			if s := lm.LastSettlement(); s != nil {
				stats := metrics.ComputeSettlement(lm.Market().State.TotalCollected, s.TotalPayout, lm.Market().State.B)
				settlement = &stats
			}
		}
	}

	summary := metrics.Compute(output.Intents, output.Results, output.Snapshots)
	summary.Settlement = settlement

	printSummary(output, summary)

	if err := writeArtifacts(cfg.Export, eng, output); err != nil {
		return err
	}
	if cfg.Store.Path != "" {
		if err := archiveRun(cfg.Store.Path, output, summary); err != nil {
			return err
		}
		logger.Info("run archived", "path", cfg.Store.Path)
	}

	if cfg.Dashboard.Enabled {
		return serveDashboard(cfg.Dashboard.Port, output, summary, logger)
	}
	return nil
}

func buildScenario(sc config.ScenarioConfig) (sim.ScenarioConfig, error) {
	scenario, err := sim.Scenario(sc.Name, sc.Seed)
	if err != nil {
		return sim.ScenarioConfig{}, err
	}
	if sc.NumTraders > 0 {
		scenario.NumTraders = sc.NumTraders
	}
	if sc.NumOrders > 0 {
		scenario.NumOrders = sc.NumOrders
	}
	if sc.TimeWindow > 0 {
		scenario.TimeWindow = sc.TimeWindow
	}
	if sc.ArrivalRate > 0 {
		scenario.BaseArrivalRate = sc.ArrivalRate
	}
	if sc.InitialCash != "" {
		cash, err := decimalFromConfig("scenario.initial_cash", sc.InitialCash)
		if err != nil {
			return sim.ScenarioConfig{}, err
		}
		scenario.InitialCash = cash
	}
	if sc.InitialShares != "" {
		shares, err := decimalFromConfig("scenario.initial_shares", sc.InitialShares)
		if err != nil {
			return sim.ScenarioConfig{}, err
		}
		scenario.InitialShares = shares
	}
	return scenario, nil
}

func writeArtifacts(cfg config.ExportConfig, eng engine.Engine, output *sim.SimulationOutput) error {
	if cfg.LogsJSON != "" {
		if err := export.WriteLogsJSON(cfg.LogsJSON, output.Logs); err != nil {
			return err
		}
	}
	if cfg.ResultsCSV != "" {
		if err := export.WriteResultsCSV(cfg.ResultsCSV, output.Results); err != nil {
			return err
		}
	}
	if cfg.Golden != "" {
		snap := eng.GetMarketState()
		if err := export.WriteGolden(cfg.Golden, snap.AMM, output.FinalTraders); err != nil {
			return err
		}
	}
	return nil
}

func archiveRun(path string, output *sim.SimulationOutput, summary metrics.Summary) error {
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()

	rec := store.RunRecord{
		CreatedAt:    time.Now(),
		Seed:         output.Seed,
		Scenario:     output.Scenario,
		Engine:       string(output.Engine),
		Orders:       summary.Totals.Orders,
		FilledQty:    summary.Totals.FilledQty.String(),
		FillRatio:    summary.Totals.FillRatio.String(),
		MeanSlippage: summary.Slippage.All.Mean.String(),
	}
	if summary.Settlement != nil {
		rec.ProfitLoss = summary.Settlement.ProfitLoss.String()
	}
	_, err = st.SaveRun(rec)
	return err
}

func printSummary(output *sim.SimulationOutput, summary metrics.Summary) {
	fmt.Printf("scenario=%s seed=%d engine=%s intents=%d\n",
		output.Scenario, output.Seed, output.Engine, len(output.Intents))

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Value")
	table.Append("orders", strconv.Itoa(summary.Totals.Orders))
	table.Append("filled qty", summary.Totals.FilledQty.String())
	table.Append("fill ratio", summary.Totals.FillRatio.StringFixed(4))
	table.Append("mean slippage", summary.Slippage.All.Mean.StringFixed(6))
	table.Append("slippage stdev", summary.Slippage.All.Stdev.StringFixed(6))
	table.Append("cumulative impact", summary.Impact.Cumulative.StringFixed(6))
	if summary.Settlement != nil {
		table.Append("settlement P&L", summary.Settlement.ProfitLoss.String())
		table.Append("worst-case loss", summary.Settlement.WorstCaseLoss.String())
	}
	table.Render()
}

func serveDashboard(port int, output *sim.SimulationOutput, summary metrics.Summary, logger *slog.Logger) error {
	server := api.NewServer(port, output, summary, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		return server.Stop()
	})

	logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", port))
	return g.Wait()
}

func decimalFromConfig(key, raw string) (d decimal.Decimal, err error) {
	d, err = decimal.NewFromString(raw)
	if err != nil {
		err = fmt.Errorf("%s: %w", key, err)
	}
	return d, err
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
