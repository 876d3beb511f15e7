package sim

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"predictsim/pkg/types"
)

// ScenarioConfig parameterizes a synthetic order-flow generator. All
// randomness flows from Seed; two configs that compare equal generate the
// same intent stream.
type ScenarioConfig struct {
	Name            string
	Seed            uint32
	NumTraders      int
	InitialCash     decimal.Decimal
	InitialShares   decimal.Decimal
	NumOrders       int
	TimeWindow      float64 // seconds of logical time
	BaseArrivalRate float64 // intents per second of logical time
	OrderSizeMin    float64
	OrderSizeMax    float64
	MidPrice        float64 // center of the quoted price band
	PriceSpread     float64 // stddev of limit prices around mid
	TickSize        decimal.Decimal

	MarketOrderRatio float64 // fraction of MARKET intents
	SellRatio        float64 // fraction of SELL intents
	SpendRatio       float64 // fraction of buys denominated in spend
	NoOutcomeRatio   float64 // fraction of buys targeting NO

	ShockTime      float64 // 0 = no shock
	ShockMagnitude float64 // signed mid-price jump applied at ShockTime
}

// Validate checks the generator parameters.
func (c ScenarioConfig) Validate() error {
	if c.NumTraders < 1 {
		return fmt.Errorf("sim: numTraders must be >= 1, got %d", c.NumTraders)
	}
	if c.NumOrders < 1 {
		return fmt.Errorf("sim: numOrders must be >= 1, got %d", c.NumOrders)
	}
	if c.TimeWindow <= 0 {
		return fmt.Errorf("sim: timeWindow must be positive, got %v", c.TimeWindow)
	}
	if c.BaseArrivalRate <= 0 {
		return fmt.Errorf("sim: baseArrivalRate must be positive, got %v", c.BaseArrivalRate)
	}
	if c.OrderSizeMin <= 0 || c.OrderSizeMax < c.OrderSizeMin {
		return fmt.Errorf("sim: order size range [%v, %v] invalid", c.OrderSizeMin, c.OrderSizeMax)
	}
	if c.MidPrice <= 0 || c.MidPrice >= 1 {
		return fmt.Errorf("sim: midPrice must be in (0, 1), got %v", c.MidPrice)
	}
	if c.TickSize.Sign() <= 0 {
		return fmt.Errorf("sim: tickSize must be positive, got %s", c.TickSize)
	}
	return nil
}

// DefaultScenario is the baseline generator configuration.
func DefaultScenario(seed uint32) ScenarioConfig {
	return ScenarioConfig{
		Name:             "baseline",
		Seed:             seed,
		NumTraders:       8,
		InitialCash:      decimal.NewFromInt(10000),
		InitialShares:    decimal.NewFromInt(100),
		NumOrders:        200,
		TimeWindow:       600,
		BaseArrivalRate:  0.5,
		OrderSizeMin:     1,
		OrderSizeMax:     20,
		MidPrice:         0.5,
		PriceSpread:      0.03,
		TickSize:         decimal.New(1, -2),
		MarketOrderRatio: 0.3,
		SellRatio:        0.4,
	}
}

// Scenario returns a named variant of the baseline: thin_book, thick_book,
// price_shock, agent_mix, or baseline itself.
func Scenario(name string, seed uint32) (ScenarioConfig, error) {
	cfg := DefaultScenario(seed)
	cfg.Name = name
	switch name {
	case "baseline", "":
		cfg.Name = "baseline"
	case "thin_book":
		cfg.BaseArrivalRate /= 4
		cfg.PriceSpread *= 3
		cfg.OrderSizeMax = 8
		cfg.NumOrders = 120
	case "thick_book":
		cfg.BaseArrivalRate *= 3
		cfg.PriceSpread /= 2
		cfg.OrderSizeMin = 5
		cfg.OrderSizeMax = 50
		cfg.NumOrders = 400
	case "price_shock":
		cfg.ShockTime = cfg.TimeWindow / 2
		cfg.ShockMagnitude = 0.15
	case "agent_mix":
		cfg.MarketOrderRatio = 0.5
		cfg.SellRatio = 0.45
		cfg.SpendRatio = 0.2
		cfg.NoOutcomeRatio = 0.25
	default:
		return ScenarioConfig{}, fmt.Errorf("sim: unknown scenario %q", name)
	}
	return cfg, nil
}

// Generate emits the finite ordered intent stream for a scenario.
// Timestamps follow an exponential inter-arrival distribution truncated
// at TimeWindow; the configured shock shifts the price band mid-run.
func Generate(cfg ScenarioConfig) ([]types.OrderIntent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := NewRNG(cfg.Seed)
	ids := rng.Fork()

	traders := make([]string, cfg.NumTraders)
	for i := range traders {
		traders[i] = fmt.Sprintf("trader-%d", i+1)
	}

	intents := make([]types.OrderIntent, 0, cfg.NumOrders)
	clock := 0.0
	mid := cfg.MidPrice
	shocked := false

	for len(intents) < cfg.NumOrders {
		clock += rng.Exp(cfg.BaseArrivalRate)
		if clock > cfg.TimeWindow {
			break
		}
		if cfg.ShockTime > 0 && !shocked && clock >= cfg.ShockTime {
			mid = clampFloat(mid+cfg.ShockMagnitude, 0.05, 0.95)
			shocked = true
		}

		side := types.BUY
		if rng.Float64() < cfg.SellRatio {
			side = types.SELL
		}
		orderType := types.LIMIT
		if rng.Float64() < cfg.MarketOrderRatio {
			orderType = types.MARKET
		}
		outcome := types.YES
		if side == types.BUY && rng.Float64() < cfg.NoOutcomeRatio {
			outcome = types.NO
		}

		intent := types.OrderIntent{
			ID:        ids.UUID(),
			TraderID:  Choice(rng, traders),
			Outcome:   outcome,
			Side:      side,
			Type:      orderType,
			Timestamp: clock,
		}

		if side == types.BUY && orderType == types.MARKET && rng.Float64() < cfg.SpendRatio {
			spend := roundCents(rng.Range(cfg.OrderSizeMin, cfg.OrderSizeMax))
			intent.Spend = &spend
		} else {
			qty := roundCents(rng.Range(cfg.OrderSizeMin, cfg.OrderSizeMax))
			intent.Qty = &qty
		}
		if orderType == types.LIMIT {
			price := quantizePrice(rng.Normal(mid, cfg.PriceSpread), cfg.TickSize)
			intent.Price = &price
		}

		intents = append(intents, intent)
	}
	return intents, nil
}

// roundCents quantizes a float size/spend to two decimal places, keeping
// the decimal form short and stable.
func roundCents(v float64) decimal.Decimal {
	return decimal.NewFromFloat(math.Round(v*100) / 100)
}

// quantizePrice snaps a float price onto the tick grid and clamps it
// inside (0, 1) by one tick on each end.
func quantizePrice(p float64, tick decimal.Decimal) decimal.Decimal {
	t := tick.InexactFloat64()
	snapped := math.Round(p/t) * t
	lo := t
	hi := 1.0 - t
	snapped = clampFloat(snapped, lo, hi)
	// Re-snap after clamping so the bound itself is on the grid.
	return decimal.NewFromFloat(math.Round(snapped/t) * t).Round(4)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
