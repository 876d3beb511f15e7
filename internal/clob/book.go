// Package clob implements the central limit order book: a price-time
// priority matching engine over YES shares with strict sell-to-close
// collateralization.
//
// The book keeps one arena of price levels per side. Levels reference
// their sort-order neighbors by index, which gives best-price lookup in
// O(1) via the head pointer, insertion by a walk from the head, and cheap
// level deletion — no pointer cycles, and the whole book is trivially
// clonable for property tests. Within a level, resting orders form a FIFO
// queue ordered by submission sequence number.
package clob

import (
	"fmt"

	"github.com/shopspring/decimal"

	"predictsim/pkg/types"
)

// noLevel marks an absent arena index.
const noLevel = -1

// Order is a resting order. Identifiers are a monotone per-market
// sequence with a stable string form; Seq doubles as the price-time
// tie-breaker.
type Order struct {
	ID        string
	Seq       int64
	TraderID  string
	Side      types.Side
	Price     decimal.Decimal
	Original  decimal.Decimal
	Remaining decimal.Decimal
	Status    types.OrderStatus
	Timestamp float64
}

// level is one price level in the arena. prev links toward better prices,
// next toward worse.
type level struct {
	price    decimal.Decimal
	totalQty decimal.Decimal
	orders   []*Order
	prev     int
	next     int
	inUse    bool
}

// sideBook is all levels of one side, linked in sort order: bids
// descending, asks ascending. head is the best level.
type sideBook struct {
	side    types.Side
	levels  []level
	free    []int
	head    int
	byPrice map[string]int
}

func newSideBook(side types.Side) *sideBook {
	return &sideBook{
		side:    side,
		head:    noLevel,
		byPrice: make(map[string]int),
	}
}

// better reports whether price a sorts strictly ahead of b on this side.
func (sb *sideBook) better(a, b decimal.Decimal) bool {
	if sb.side == types.BUY {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

func (sb *sideBook) empty() bool { return sb.head == noLevel }

// bestPrice returns the head level's price.
func (sb *sideBook) bestPrice() (decimal.Decimal, bool) {
	if sb.head == noLevel {
		return decimal.Decimal{}, false
	}
	return sb.levels[sb.head].price, true
}

// bestLevel returns the head level, or nil when the side is empty.
func (sb *sideBook) bestLevel() *level {
	if sb.head == noLevel {
		return nil
	}
	return &sb.levels[sb.head]
}

// alloc takes a slot from the free list or grows the arena.
func (sb *sideBook) alloc(price decimal.Decimal) int {
	var idx int
	if n := len(sb.free); n > 0 {
		idx = sb.free[n-1]
		sb.free = sb.free[:n-1]
	} else {
		sb.levels = append(sb.levels, level{})
		idx = len(sb.levels) - 1
	}
	sb.levels[idx] = level{
		price: price,
		prev:  noLevel,
		next:  noLevel,
		inUse: true,
	}
	return idx
}

// levelAt finds or creates the level for price, keeping the linked order.
func (sb *sideBook) levelAt(price decimal.Decimal) int {
	key := price.String()
	if idx, ok := sb.byPrice[key]; ok {
		return idx
	}

	idx := sb.alloc(price)
	sb.byPrice[key] = idx

	if sb.head == noLevel {
		sb.head = idx
		return idx
	}
	if sb.better(price, sb.levels[sb.head].price) {
		sb.levels[idx].next = sb.head
		sb.levels[sb.head].prev = idx
		sb.head = idx
		return idx
	}

	// Walk from the head until the next level sorts behind the new price.
	at := sb.head
	for sb.levels[at].next != noLevel && !sb.better(price, sb.levels[sb.levels[at].next].price) {
		at = sb.levels[at].next
	}
	sb.levels[idx].prev = at
	sb.levels[idx].next = sb.levels[at].next
	if sb.levels[at].next != noLevel {
		sb.levels[sb.levels[at].next].prev = idx
	}
	sb.levels[at].next = idx
	return idx
}

// unlink removes a level from the list and recycles its slot.
func (sb *sideBook) unlink(idx int) {
	lv := &sb.levels[idx]
	if lv.prev != noLevel {
		sb.levels[lv.prev].next = lv.next
	} else {
		sb.head = lv.next
	}
	if lv.next != noLevel {
		sb.levels[lv.next].prev = lv.prev
	}
	delete(sb.byPrice, lv.price.String())
	lv.inUse = false
	lv.orders = nil
	sb.free = append(sb.free, idx)
}

// add rests an order at its limit price.
func (sb *sideBook) add(o *Order) {
	idx := sb.levelAt(o.Price)
	lv := &sb.levels[idx]
	lv.orders = append(lv.orders, o)
	lv.totalQty = lv.totalQty.Add(o.Remaining)
}

// remove takes an order off its level, dropping the level when it empties.
// Returns false when the order is not resting on this side.
func (sb *sideBook) remove(o *Order) bool {
	idx, ok := sb.byPrice[o.Price.String()]
	if !ok {
		return false
	}
	lv := &sb.levels[idx]
	for i, resting := range lv.orders {
		if resting.ID == o.ID {
			lv.orders = append(lv.orders[:i], lv.orders[i+1:]...)
			lv.totalQty = lv.totalQty.Sub(resting.Remaining)
			if len(lv.orders) == 0 {
				sb.unlink(idx)
			}
			return true
		}
	}
	return false
}

// reduce shrinks a resting order's remaining quantity after a fill and
// drops it (and its level, when emptied) once fully consumed.
func (sb *sideBook) reduce(o *Order, qty decimal.Decimal) {
	idx := sb.byPrice[o.Price.String()]
	lv := &sb.levels[idx]
	lv.totalQty = lv.totalQty.Sub(qty)
	if o.Remaining.IsZero() {
		for i, resting := range lv.orders {
			if resting.ID == o.ID {
				lv.orders = append(lv.orders[:i], lv.orders[i+1:]...)
				break
			}
		}
		if len(lv.orders) == 0 {
			sb.unlink(idx)
		}
	}
}

// depth sums aggregate quantity across the top `ticks` levels.
func (sb *sideBook) depth(ticks int) decimal.Decimal {
	sum := decimal.Zero
	at := sb.head
	for i := 0; i < ticks && at != noLevel; i++ {
		sum = sum.Add(sb.levels[at].totalQty)
		at = sb.levels[at].next
	}
	return sum
}

// snapshot renders up to max levels in sort order.
func (sb *sideBook) snapshot(max int) []types.BookLevel {
	out := make([]types.BookLevel, 0, max)
	at := sb.head
	for i := 0; i < max && at != noLevel; i++ {
		out = append(out, types.BookLevel{
			Price: sb.levels[at].price,
			Qty:   sb.levels[at].totalQty,
		})
		at = sb.levels[at].next
	}
	return out
}

// ordersAt returns a copy of the FIFO queue at a price.
func (sb *sideBook) ordersAt(price decimal.Decimal) []Order {
	idx, ok := sb.byPrice[price.String()]
	if !ok {
		return nil
	}
	lv := &sb.levels[idx]
	out := make([]Order, len(lv.orders))
	for i, o := range lv.orders {
		out[i] = *o
	}
	return out
}

// eachLevel visits levels in sort order until f returns false.
func (sb *sideBook) eachLevel(f func(*level) bool) {
	at := sb.head
	for at != noLevel {
		if !f(&sb.levels[at]) {
			return
		}
		at = sb.levels[at].next
	}
}

// checkLevels verifies per-level invariants: aggregate quantity equals the
// sum of resting quantities, and submission sequence numbers are monotone
// within each queue.
func (sb *sideBook) checkLevels() error {
	var err error
	prevBest := decimal.Decimal{}
	first := true
	sb.eachLevel(func(lv *level) bool {
		if !first && !sb.better(prevBest, lv.price) {
			err = fmt.Errorf("clob: %s levels out of order at %s", sb.side, lv.price)
			return false
		}
		prevBest = lv.price
		first = false

		sum := decimal.Zero
		lastSeq := int64(-1)
		for _, o := range lv.orders {
			sum = sum.Add(o.Remaining)
			if o.Seq < lastSeq {
				err = fmt.Errorf("clob: level %s breaks FIFO order (seq %d after %d)", lv.price, o.Seq, lastSeq)
				return false
			}
			lastSeq = o.Seq
		}
		if !sum.Equal(lv.totalQty) {
			err = fmt.Errorf("clob: level %s totalQty %s != sum %s", lv.price, lv.totalQty, sum)
			return false
		}
		return true
	})
	return err
}
