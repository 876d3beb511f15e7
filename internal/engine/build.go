package engine

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"predictsim/internal/config"
	"predictsim/internal/router"
	"predictsim/pkg/types"
)

// Build constructs the configured engine variant.
func Build(cfg config.EngineConfig, logger *slog.Logger) (Engine, error) {
	switch types.EngineType(cfg.Type) {
	case types.EngineCLOB:
		tick, err := decimal.NewFromString(cfg.TickSize)
		if err != nil {
			return nil, fmt.Errorf("engine.tick_size: %w", err)
		}
		return NewCLOB(tick, logger)

	case types.EngineLMSR:
		b, err := decimal.NewFromString(cfg.B)
		if err != nil {
			return nil, fmt.Errorf("engine.b: %w", err)
		}
		return NewLMSR(b, logger)

	case types.EngineHybrid:
		rcfg, err := routerConfig(cfg)
		if err != nil {
			return nil, err
		}
		return NewHybrid(rcfg, logger)

	default:
		return nil, fmt.Errorf("unknown engine type %q", cfg.Type)
	}
}

func routerConfig(cfg config.EngineConfig) (router.Config, error) {
	mode, err := router.ParseMode(cfg.RoutingMode)
	if err != nil {
		return router.Config{}, err
	}
	b, err := decimal.NewFromString(cfg.B)
	if err != nil {
		return router.Config{}, fmt.Errorf("engine.b: %w", err)
	}
	tick, err := decimal.NewFromString(cfg.TickSize)
	if err != nil {
		return router.Config{}, fmt.Errorf("engine.tick_size: %w", err)
	}
	maxSpread, err := decimal.NewFromString(cfg.MaxSpread)
	if err != nil {
		return router.Config{}, fmt.Errorf("engine.max_spread: %w", err)
	}
	minDepth, err := decimal.NewFromString(cfg.MinDepth)
	if err != nil {
		return router.Config{}, fmt.Errorf("engine.min_depth: %w", err)
	}
	return router.Config{
		Mode:       mode,
		MaxSpread:  maxSpread,
		MinDepth:   minDepth,
		DepthTicks: cfg.DepthTicks,
		B:          b,
		TickSize:   tick,
	}, nil
}
