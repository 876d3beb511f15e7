// Package metrics computes microstructure statistics over a completed
// simulation: order totals, fill ratios, slippage and price-impact
// distributions, per-trader aggregates, per-intent time series and LMSR
// settlement accounting.
//
// Everything here is a stateless function over (intents, results,
// snapshots); the same inputs always produce the same summary.
package metrics

import (
	"sort"

	"github.com/shopspring/decimal"

	"predictsim/internal/num"
	"predictsim/pkg/types"
)

// Totals counts orders and volume by disposition.
type Totals struct {
	Orders       int
	BySide       map[types.Side]int
	ByType       map[types.OrderType]int
	ByStatus     map[types.OrderStatus]int
	SubmittedQty decimal.Decimal
	FilledQty    decimal.Decimal
	FilledValue  decimal.Decimal
	FillRatio    decimal.Decimal
}

// Distribution summarizes a sample of decimals.
type Distribution struct {
	Count int
	Mean  decimal.Decimal
	Stdev decimal.Decimal
	Min   decimal.Decimal
	Max   decimal.Decimal
}

// SlippageStats breaks slippage down by side.
type SlippageStats struct {
	All       Distribution
	Buy       Distribution
	Sell      Distribution
	BestBuy   *decimal.Decimal
	WorstBuy  *decimal.Decimal
	BestSell  *decimal.Decimal
	WorstSell *decimal.Decimal
}

// ImpactStats summarizes signed price impact.
type ImpactStats struct {
	All        Distribution
	Cumulative decimal.Decimal
}

// TraderStats aggregates one trader's activity.
type TraderStats struct {
	TraderID     string
	Volume       decimal.Decimal
	TradeCount   int
	MeanSlippage decimal.Decimal
}

// TimeSeries holds one sample per intent. Nil entries mean the value was
// unavailable at that point (for example mid price on a one-sided book).
type TimeSeries struct {
	Timestamps []float64
	MidPrice   []*decimal.Decimal
	Spread     []*decimal.Decimal
	BidDepth   []decimal.Decimal
	AskDepth   []decimal.Decimal
	PriceYes   []*decimal.Decimal
	PriceNo    []*decimal.Decimal
}

// SettlementStats is the LMSR terminal accounting relative to its bound.
type SettlementStats struct {
	TotalCollected decimal.Decimal
	TotalPayout    decimal.Decimal
	ProfitLoss     decimal.Decimal
	WorstCaseLoss  decimal.Decimal
	LossRatio      decimal.Decimal // |min(ProfitLoss, 0)| / WorstCaseLoss
}

// Summary is the full metrics report for one run.
type Summary struct {
	Totals     Totals
	Slippage   SlippageStats
	Impact     ImpactStats
	PerTrader  []TraderStats
	Series     TimeSeries
	Settlement *SettlementStats
}

// Compute builds the summary from a run's raw output.
func Compute(intents []types.OrderIntent, results []types.ExecutionResult, snapshots []types.MarketStateSnapshot) Summary {
	return Summary{
		Totals:    ComputeTotals(results),
		Slippage:  ComputeSlippage(results),
		Impact:    ComputeImpact(results),
		PerTrader: ComputePerTrader(results),
		Series:    ComputeTimeSeries(intents, snapshots),
	}
}

// ComputeTotals tallies counts, volumes and the fill ratio.
func ComputeTotals(results []types.ExecutionResult) Totals {
	t := Totals{
		BySide:   make(map[types.Side]int),
		ByType:   make(map[types.OrderType]int),
		ByStatus: make(map[types.OrderStatus]int),
	}
	for _, r := range results {
		t.Orders++
		t.BySide[r.Intent.Side]++
		t.ByType[r.Intent.Type]++
		t.ByStatus[r.Status]++
		if r.Intent.Qty != nil {
			t.SubmittedQty = t.SubmittedQty.Add(*r.Intent.Qty)
		} else {
			// Spend intents submit their realized quantity.
			t.SubmittedQty = t.SubmittedQty.Add(r.FilledQty)
		}
		t.FilledQty = t.FilledQty.Add(r.FilledQty)
		for _, f := range r.Fills {
			t.FilledValue = t.FilledValue.Add(f.Price.Mul(f.Qty))
		}
	}
	if t.SubmittedQty.Sign() > 0 {
		t.FillRatio = num.Div(t.FilledQty, t.SubmittedQty)
	}
	return t
}

// describe summarizes a sample.
func describe(xs []decimal.Decimal) Distribution {
	d := Distribution{Count: len(xs)}
	if len(xs) == 0 {
		return d
	}
	sum := decimal.Zero
	d.Min = xs[0]
	d.Max = xs[0]
	for _, x := range xs {
		sum = sum.Add(x)
		d.Min = num.Min(d.Min, x)
		d.Max = num.Max(d.Max, x)
	}
	d.Mean = num.Div(sum, num.FromInt(int64(len(xs))))
	if len(xs) > 1 {
		varSum := decimal.Zero
		for _, x := range xs {
			diff := x.Sub(d.Mean)
			varSum = varSum.Add(diff.Mul(diff))
		}
		d.Stdev = num.Sqrt(num.Div(varSum, num.FromInt(int64(len(xs)-1))))
	}
	return d
}

// ComputeSlippage summarizes slippage overall and per side, tracking the
// best and worst fills on each.
func ComputeSlippage(results []types.ExecutionResult) SlippageStats {
	var all, buys, sells []decimal.Decimal
	s := SlippageStats{}
	for _, r := range results {
		if r.Slippage == nil {
			continue
		}
		v := *r.Slippage
		all = append(all, v)
		if r.Intent.Side == types.BUY {
			buys = append(buys, v)
			if s.BestBuy == nil || v.LessThan(*s.BestBuy) {
				s.BestBuy = num.Ptr(v)
			}
			if s.WorstBuy == nil || v.GreaterThan(*s.WorstBuy) {
				s.WorstBuy = num.Ptr(v)
			}
		} else {
			sells = append(sells, v)
			if s.BestSell == nil || v.LessThan(*s.BestSell) {
				s.BestSell = num.Ptr(v)
			}
			if s.WorstSell == nil || v.GreaterThan(*s.WorstSell) {
				s.WorstSell = num.Ptr(v)
			}
		}
	}
	s.All = describe(all)
	s.Buy = describe(buys)
	s.Sell = describe(sells)
	return s
}

// ComputeImpact summarizes signed price impact.
func ComputeImpact(results []types.ExecutionResult) ImpactStats {
	var xs []decimal.Decimal
	cum := decimal.Zero
	for _, r := range results {
		if r.PriceImpact == nil {
			continue
		}
		xs = append(xs, *r.PriceImpact)
		cum = cum.Add(*r.PriceImpact)
	}
	return ImpactStats{All: describe(xs), Cumulative: cum}
}

// ComputePerTrader aggregates volume, trade count and mean slippage per
// trader, sorted by trader id for stable output.
func ComputePerTrader(results []types.ExecutionResult) []TraderStats {
	type agg struct {
		volume  decimal.Decimal
		trades  int
		slipSum decimal.Decimal
		slipObs int
	}
	byTrader := make(map[string]*agg)
	for _, r := range results {
		a := byTrader[r.Intent.TraderID]
		if a == nil {
			a = &agg{}
			byTrader[r.Intent.TraderID] = a
		}
		a.volume = a.volume.Add(r.FilledQty)
		a.trades += len(r.Fills)
		if r.Slippage != nil {
			a.slipSum = a.slipSum.Add(*r.Slippage)
			a.slipObs++
		}
	}

	ids := make([]string, 0, len(byTrader))
	for id := range byTrader {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]TraderStats, 0, len(ids))
	for _, id := range ids {
		a := byTrader[id]
		ts := TraderStats{TraderID: id, Volume: a.volume, TradeCount: a.trades}
		if a.slipObs > 0 {
			ts.MeanSlippage = num.Div(a.slipSum, num.FromInt(int64(a.slipObs)))
		}
		out = append(out, ts)
	}
	return out
}

// ComputeTimeSeries samples market state once per intent from the
// pre-intent snapshots.
func ComputeTimeSeries(intents []types.OrderIntent, snapshots []types.MarketStateSnapshot) TimeSeries {
	n := len(snapshots)
	ts := TimeSeries{
		Timestamps: make([]float64, n),
		MidPrice:   make([]*decimal.Decimal, n),
		Spread:     make([]*decimal.Decimal, n),
		BidDepth:   make([]decimal.Decimal, n),
		AskDepth:   make([]decimal.Decimal, n),
		PriceYes:   make([]*decimal.Decimal, n),
		PriceNo:    make([]*decimal.Decimal, n),
	}
	for i, snap := range snapshots {
		if i < len(intents) {
			ts.Timestamps[i] = intents[i].Timestamp
		}
		if snap.Book != nil {
			ts.MidPrice[i] = snap.Book.MidPrice
			ts.Spread[i] = snap.Book.Spread
			for _, lv := range snap.Book.Bids {
				ts.BidDepth[i] = ts.BidDepth[i].Add(lv.Qty)
			}
			for _, lv := range snap.Book.Asks {
				ts.AskDepth[i] = ts.AskDepth[i].Add(lv.Qty)
			}
		}
		if snap.AMM != nil {
			ts.PriceYes[i] = num.Ptr(snap.AMM.PriceYes)
			ts.PriceNo[i] = num.Ptr(snap.AMM.PriceNo)
		}
	}
	return ts
}

// ComputeSettlement derives the LMSR settlement report.
func ComputeSettlement(totalCollected, totalPayout, b decimal.Decimal) SettlementStats {
	pnl := num.Round(totalCollected.Sub(totalPayout))
	worst := num.Round(b.Mul(num.Ln2()))
	s := SettlementStats{
		TotalCollected: totalCollected,
		TotalPayout:    totalPayout,
		ProfitLoss:     pnl,
		WorstCaseLoss:  worst,
	}
	if pnl.IsNegative() && worst.Sign() > 0 {
		s.LossRatio = num.Div(pnl.Abs(), worst)
	}
	return s
}
