package book

import (
	"fmt"

	"github.com/quantarc/matchbook/internal/domain"
)

// AssertInvariants checks all book invariants. Panics on violation.
// Intended for tests and dev-assert runs; the walk is O(maxOrders + levels).
func (b *Book) AssertInvariants() {
	seen := make(map[int32]bool, b.cfg.MaxOrders)

	for s := 0; s < 2; s++ {
		side := domain.Side(s)
		for lvl := int32(0); lvl < b.levels; lvl++ {
			head := b.heads[s][lvl]
			occupied := b.occ[s].Test(lvl)
			if (head != nilIdx) != occupied {
				panic(fmt.Sprintf("level %d %s: head=%d but bitmap=%v", lvl, side, head, occupied))
			}
			if head == nilIdx {
				if b.tails[s][lvl] != nilIdx {
					panic(fmt.Sprintf("level %d %s: empty head but tail=%d", lvl, side, b.tails[s][lvl]))
				}
				continue
			}

			prev := nilIdx
			for slot := head; slot != nilIdx; slot = b.next[slot] {
				if seen[slot] {
					panic(fmt.Sprintf("slot %d reachable from more than one list position", slot))
				}
				seen[slot] = true
				if b.active[slot] != 1 {
					panic(fmt.Sprintf("inactive slot %d linked at level %d %s", slot, lvl, side))
				}
				if b.level[slot] != lvl || domain.Side(b.side[slot]) != side {
					panic(fmt.Sprintf("slot %d linked at level %d %s but stores level %d side %d",
						slot, lvl, side, b.level[slot], b.side[slot]))
				}
				if b.qty[slot] <= 0 {
					panic(fmt.Sprintf("slot %d resting with qty %d", slot, b.qty[slot]))
				}
				if b.prev[slot] != prev {
					panic(fmt.Sprintf("slot %d prev=%d, expected %d", slot, b.prev[slot], prev))
				}
				prev = slot
			}
			if b.tails[s][lvl] != prev {
				panic(fmt.Sprintf("level %d %s: tail=%d, expected %d", lvl, side, b.tails[s][lvl], prev))
			}
		}

		// Best index must be the extreme set bit.
		var want int32
		if side == domain.Buy {
			want = b.occ[s].PrevSet(b.levels - 1)
		} else {
			want = b.occ[s].NextSet(0)
		}
		if b.best[s] != want {
			panic(fmt.Sprintf("best %s = %d, bitmap says %d", side, b.best[s], want))
		}
	}

	// No crossed book at rest.
	bb, ba := b.best[domain.Buy], b.best[domain.Sell]
	if bb != nilIdx && ba != nilIdx && bb >= ba {
		panic(fmt.Sprintf("crossed book: best bid level %d >= best ask level %d", bb, ba))
	}

	// Every active order is reachable from exactly one list; the id map
	// round-trips; inactive slots are unmapped.
	for slot := int32(0); slot < b.cfg.MaxOrders; slot++ {
		if b.active[slot] == 1 {
			if !seen[slot] {
				panic(fmt.Sprintf("active slot %d not reachable from any level list", slot))
			}
			if b.idToSlot[b.extID[slot]] != slot {
				panic(fmt.Sprintf("id map broken: id %d -> %d, slot is %d",
					b.extID[slot], b.idToSlot[b.extID[slot]], slot))
			}
		} else if seen[slot] {
			panic(fmt.Sprintf("inactive slot %d linked in a level list", slot))
		}
	}

	// Free-list accounts for every inactive slot exactly once.
	freeCount := int32(0)
	for slot := b.freeTop; slot != nilIdx; slot = b.next[slot] {
		if b.active[slot] == 1 {
			panic(fmt.Sprintf("active slot %d on the free-list", slot))
		}
		freeCount++
		if freeCount > b.cfg.MaxOrders {
			panic("free-list cycle")
		}
	}
	activeCount := int32(0)
	for slot := int32(0); slot < b.cfg.MaxOrders; slot++ {
		if b.active[slot] == 1 {
			activeCount++
		}
	}
	if freeCount+activeCount != b.cfg.MaxOrders {
		panic(fmt.Sprintf("slot leak: %d free + %d active != %d", freeCount, activeCount, b.cfg.MaxOrders))
	}
}
