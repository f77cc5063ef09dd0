package book

import (
	"fmt"
	"math"

	"github.com/quantarc/matchbook/internal/domain"
)

// crossOutcome reports how the crossing phase ended.
type crossOutcome int8

const (
	crossDone      crossOutcome = iota // limit reached, liquidity exhausted, or taker filled
	crossSelfTrade                     // cancel-taker STP hit; caller disposes of the taker
	crossStopSelf                      // decrement-maker reduction cap exhausted; remainder must not post
)

// Apply is the single entry point for the command stream. Commands are
// applied strictly in call order; side effects are observable only through
// drained events and book queries.
func (b *Book) Apply(cmd domain.Command) {
	switch cmd.Kind {
	case domain.CmdNew:
		b.NewOrder(cmd.Owner, cmd.ID, cmd.Side, cmd.Price, cmd.Qty, cmd.TIF, cmd.PostOnly, cmd.ReduceOnly)
	case domain.CmdCancel:
		b.Cancel(cmd.Owner, cmd.ID)
	case domain.CmdReplace:
		b.Replace(cmd.Owner, cmd.ID, cmd.Price, cmd.QtyDelta)
	default:
		panic(fmt.Sprintf("book: unknown command kind %d", cmd.Kind))
	}
}

// NewOrder validates and executes a new limit order. Failures surface as
// REJECT events; the command never errors. reduceOnly is accepted and
// recorded by the caller's log but is a no-op at this layer.
func (b *Book) NewOrder(owner, id int64, side domain.Side, price, qty int64, tif domain.TIF, postOnly, reduceOnly bool) {
	b.ops++
	defer b.maybeAssert()

	if id < 0 {
		b.reject(id, owner, domain.ReasonBadID)
		return
	}
	if id >= int64(b.cfg.MaxOrders) {
		b.reject(id, owner, domain.ReasonIDTooLarge)
		return
	}
	if owner < 0 || owner > domain.MaxOwner {
		b.reject(id, owner, domain.ReasonBadOwner)
		return
	}
	if !b.validPrice(price) {
		b.reject(id, owner, domain.ReasonPriceBad)
		return
	}
	if qty <= 0 || qty > domain.MaxQty {
		b.reject(id, owner, domain.ReasonQtyBad)
		return
	}
	if slot := b.idToSlot[id]; slot != nilIdx && b.active[slot] == 1 {
		b.reject(id, owner, domain.ReasonDupID)
		return
	}

	eid := uint32(id)
	own := uint32(owner)
	limit := b.priceToLevel(price)

	// FOK: dry-run the opposing stack; all-or-nothing.
	if tif == domain.FOK {
		if b.availableLiquidity(side, limit, qty) < qty {
			b.reject(id, owner, domain.ReasonFOKNoFill)
			return
		}
	}

	// Post-only must never take liquidity.
	if postOnly && b.wouldCross(side, limit) {
		b.reject(id, owner, domain.ReasonPostOnlyCross)
		return
	}

	remaining, outcome, reduced := b.crossAgainst(side, limit, eid, own, qty)
	if outcome == crossSelfTrade {
		// Cancel-taker: the incoming order dies where it stands.
		b.reject(id, owner, domain.ReasonSTPCancelTaker)
		return
	}

	if remaining > 0 {
		// The remainder may not rest when the time-in-force forbids it, or
		// when the crossing phase was stopped by the decrement-maker cap:
		// posting then would rest a crossed book against the surviving
		// same-owner maker.
		if tif != domain.GTC || outcome == crossStopSelf {
			switch {
			case remaining < qty:
				b.emit(domain.Event{Kind: domain.EvFilled, ID: eid, Owner: own})
			case reduced:
				// Maker reductions already mutated the book, so this is a
				// cancellation of the taker, not a rejection.
				b.emit(domain.Event{Kind: domain.EvCanceled, ID: eid, Owner: own})
			case tif == domain.FOK:
				b.reject(id, owner, domain.ReasonFOKNoFill)
			default:
				b.reject(id, owner, domain.ReasonIOCNoFill)
			}
			return
		}
		b.post(eid, own, side, limit, remaining)
		b.emit(domain.Event{
			Kind: domain.EvAck, ID: eid, Owner: own,
			Side: side, Price: price, Qty: remaining,
		})
		return
	}

	b.emit(domain.Event{Kind: domain.EvFilled, ID: eid, Owner: own})
}

// Cancel removes a resting order. Unknown or inactive ids reject with
// "not found"; ownership of the id is not re-checked at this layer.
func (b *Book) Cancel(owner, id int64) {
	b.ops++
	defer b.maybeAssert()

	if id < 0 {
		b.reject(id, owner, domain.ReasonBadID)
		return
	}
	if id >= int64(b.cfg.MaxOrders) {
		b.reject(id, owner, domain.ReasonIDTooLarge)
		return
	}
	if owner < 0 || owner > domain.MaxOwner {
		b.reject(id, owner, domain.ReasonBadOwner)
		return
	}

	slot := b.idToSlot[id]
	if slot == nilIdx || b.active[slot] == 0 {
		b.reject(id, owner, domain.ReasonNotFound)
		return
	}

	eid := b.extID[slot]
	own := b.owner[slot]
	b.unlink(slot)
	b.freeSlot(slot)
	b.emit(domain.Event{Kind: domain.EvCanceled, ID: eid, Owner: own})
}

// Replace adjusts price and/or quantity of a resting order. newPrice equal
// to domain.PriceNone keeps the price. Size-down at an unchanged price keeps
// queue priority; any price change or size-up loses it: the order is
// detached, re-crossed like a fresh taker (so the book can never rest
// crossed), and the remainder re-enters at the tail of its new level.
func (b *Book) Replace(owner, id, newPrice, qtyDelta int64) {
	b.ops++
	defer b.maybeAssert()

	if id < 0 {
		b.reject(id, owner, domain.ReasonBadID)
		return
	}
	if id >= int64(b.cfg.MaxOrders) {
		b.reject(id, owner, domain.ReasonIDTooLarge)
		return
	}
	if owner < 0 || owner > domain.MaxOwner {
		b.reject(id, owner, domain.ReasonBadOwner)
		return
	}
	if newPrice != domain.PriceNone && !b.validPrice(newPrice) {
		b.reject(id, owner, domain.ReasonPriceBad)
		return
	}

	slot := b.idToSlot[id]
	if slot == nilIdx || b.active[slot] == 0 {
		b.reject(id, owner, domain.ReasonNotFound)
		return
	}

	cur := int64(b.qty[slot])
	want := cur + qtyDelta
	if want < 0 || want > domain.MaxQty {
		b.reject(id, owner, domain.ReasonQtyOverflow)
		return
	}

	eid := b.extID[slot]
	own := b.owner[slot]

	if want == 0 {
		b.unlink(slot)
		b.freeSlot(slot)
		b.emit(domain.Event{Kind: domain.EvCanceled, ID: eid, Owner: own})
		return
	}

	lvl := b.level[slot]
	samePrice := newPrice == domain.PriceNone || b.priceToLevel(newPrice) == lvl
	if samePrice && qtyDelta < 0 {
		// Size-down in place: FIFO position kept.
		b.qty[slot] = int32(want)
		b.emit(domain.Event{Kind: domain.EvReduced, ID: eid, Owner: own, Delta: qtyDelta, Remain: want})
		return
	}

	// Loss of priority.
	side := domain.Side(b.side[slot])
	newLvl := lvl
	if newPrice != domain.PriceNone {
		newLvl = b.priceToLevel(newPrice)
	}
	b.unlink(slot)
	b.freeSlot(slot)

	remaining, outcome, _ := b.crossAgainst(side, newLvl, eid, own, want)
	if outcome == crossSelfTrade {
		// Self-trade cancels the taker: the replaced order is gone.
		b.emit(domain.Event{Kind: domain.EvCanceled, ID: eid, Owner: own})
		return
	}
	if remaining == 0 {
		b.emit(domain.Event{Kind: domain.EvFilled, ID: eid, Owner: own})
		return
	}
	if outcome == crossStopSelf {
		// Same reasoning as a new order: the remainder cannot rest against
		// the surviving same-owner maker.
		if remaining < want {
			b.emit(domain.Event{Kind: domain.EvFilled, ID: eid, Owner: own})
		} else {
			b.emit(domain.Event{Kind: domain.EvCanceled, ID: eid, Owner: own})
		}
		return
	}
	b.post(eid, own, side, newLvl, remaining)
	b.emit(domain.Event{
		Kind: domain.EvAck, ID: eid, Owner: own,
		Side: side, Price: b.levelToPrice(newLvl), Qty: remaining,
	})
}

// wouldCross reports whether a limit at lvl would take the opposing best.
func (b *Book) wouldCross(side domain.Side, lvl int32) bool {
	opp := b.best[side.Opposite()]
	if opp == nilIdx {
		return false
	}
	if side == domain.Buy {
		return opp <= lvl
	}
	return opp >= lvl
}

// crossAgainst runs the crossing phase: the taker sweeps opposing levels
// from the best toward limit, trading only against each level's head so FIFO
// priority is preserved. Decrement-maker STP reductions are capped, in
// total, by the taker quantity at phase start; exhausting the cap ends the
// phase with crossStopSelf. The reduced flag reports whether any maker
// reduction mutated the book.
func (b *Book) crossAgainst(side domain.Side, limit int32, takerID, takerOwner uint32, qty int64) (int64, crossOutcome, bool) {
	remaining := qty
	stpBudget := qty
	reduced := false
	opp := side.Opposite()

	for remaining > 0 {
		lvl := b.best[opp]
		if lvl == nilIdx {
			break
		}
		if side == domain.Buy && lvl > limit {
			break
		}
		if side == domain.Sell && lvl < limit {
			break
		}
		px := b.levelToPrice(lvl)

		for remaining > 0 {
			head := b.heads[opp][lvl]
			if head == nilIdx {
				break
			}
			if b.active[head] == 0 {
				// Defensive: a stale entry must not block the queue.
				b.unlink(head)
				b.freeSlot(head)
				continue
			}

			makerOwner := b.owner[head]
			if b.cfg.STP != domain.STPOff && makerOwner == takerOwner {
				if b.cfg.STP == domain.STPCancelTaker {
					return remaining, crossSelfTrade, reduced
				}
				// Decrement-maker: shrink the resting order, emit no trade,
				// and leave the taker quantity untouched.
				red := min64(int64(b.qty[head]), remaining)
				red = min64(red, stpBudget)
				stpBudget -= red
				b.qty[head] -= int32(red)
				reduced = true
				makerID := b.extID[head]
				rem := int64(b.qty[head])
				b.emit(domain.Event{Kind: domain.EvReduced, ID: makerID, Owner: makerOwner, Delta: -red, Remain: rem})
				if rem == 0 {
					b.unlink(head)
					b.freeSlot(head)
					b.emit(domain.Event{Kind: domain.EvFilled, ID: makerID, Owner: makerOwner})
				}
				if stpBudget == 0 {
					return remaining, crossStopSelf, reduced
				}
				continue
			}

			tradeQty := min64(int64(b.qty[head]), remaining)
			b.qty[head] -= int32(tradeQty)
			remaining -= tradeQty
			makerID := b.extID[head]
			b.emit(domain.Event{
				Kind: domain.EvTrade, ID: makerID, Owner: takerOwner,
				Price: px, Qty: tradeQty,
				MakerOwner: makerOwner, TakerOwner: takerOwner,
			})
			if b.qty[head] == 0 {
				b.unlink(head)
				b.freeSlot(head)
				b.emit(domain.Event{Kind: domain.EvFilled, ID: makerID, Owner: makerOwner})
			} else {
				// Partial maker fill: the taker is spent and the head keeps
				// its place at the front.
				b.emit(domain.Event{Kind: domain.EvReduced, ID: makerID, Owner: makerOwner, Delta: -tradeQty, Remain: int64(b.qty[head])})
			}
		}
	}
	return remaining, crossDone, reduced
}

// availableLiquidity sums remaining quantity on the opposing side from the
// best level toward limit, stopping once need is covered. A dry run: no
// mutation, no events.
func (b *Book) availableLiquidity(side domain.Side, limit int32, need int64) int64 {
	opp := side.Opposite()
	lvl := b.best[opp]
	var sum int64
	for lvl != nilIdx && sum < need {
		if side == domain.Buy && lvl > limit {
			break
		}
		if side == domain.Sell && lvl < limit {
			break
		}
		for s := b.heads[opp][lvl]; s != nilIdx; s = b.next[s] {
			if b.active[s] == 1 {
				sum += int64(b.qty[s])
				if sum >= need {
					break
				}
			}
		}
		if side == domain.Buy {
			lvl = b.occ[opp].NextSet(lvl + 1)
		} else {
			lvl = b.occ[opp].PrevSet(lvl - 1)
		}
	}
	return min64(sum, need)
}

// post allocates a slot for the remainder and enqueues it at the tail of its
// level.
func (b *Book) post(eid, own uint32, side domain.Side, lvl int32, qty int64) {
	slot := b.alloc()
	b.owner[slot] = own
	b.extID[slot] = eid
	b.level[slot] = lvl
	b.qty[slot] = int32(qty)
	b.side[slot] = uint8(side)
	b.active[slot] = 1
	b.idToSlot[eid] = slot
	b.enqueueTail(slot)
}

// reject emits a REJECT event. Out-of-range identifiers are clamped to zero
// in the event record; the reason tag carries the diagnosis.
func (b *Book) reject(id, owner int64, reason domain.Reason) {
	ev := domain.Event{Kind: domain.EvReject, Reason: reason}
	if id >= 0 && id <= math.MaxUint32 {
		ev.ID = uint32(id)
	}
	if owner >= 0 && owner <= domain.MaxOwner {
		ev.Owner = uint32(owner)
	}
	b.emit(ev)
}

func (b *Book) maybeAssert() {
	if b.devAsserts {
		b.AssertInvariants()
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
