// Package book implements a single-symbol in-memory limit order book with
// price-time priority matching.
//
// The book owns all of its storage: order fields live in struct-of-arrays
// columns indexed by slot, free slots are threaded through the next column,
// per-level FIFO queues are doubly linked lists through the prev/next
// columns, and level occupancy is tracked in one bitset per side. All
// mutation happens on the caller's goroutine; the book performs no I/O and
// never blocks.
package book

import (
	"fmt"

	"github.com/quantarc/matchbook/internal/bitset"
	"github.com/quantarc/matchbook/internal/domain"
)

// nilIdx is the sentinel for "no slot" and "no level" alike.
const nilIdx = int32(-1)

// DefaultEventCap is the event ring capacity used when Config.EventCap is 0.
const DefaultEventCap = 1 << 16

// Config fixes the shape of a book for its whole life.
type Config struct {
	Tick      int64            `json:"tick" yaml:"tick"`
	PriceMin  int64            `json:"price_min" yaml:"price_min"`
	PriceMax  int64            `json:"price_max" yaml:"price_max"`
	MaxOrders int32            `json:"max_orders" yaml:"max_orders"`
	STP       domain.STPPolicy `json:"stp" yaml:"-"`
	EventCap  int              `json:"event_cap,omitempty" yaml:"event_cap"`
}

// Validate checks the config shape. Any failure here is a caller bug, not
// user input.
func (c Config) Validate() error {
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be positive, got %d", c.Tick)
	}
	if c.PriceMin < 0 {
		return fmt.Errorf("price_min must be non-negative, got %d", c.PriceMin)
	}
	if c.PriceMax < c.PriceMin {
		return fmt.Errorf("price_max %d below price_min %d", c.PriceMax, c.PriceMin)
	}
	if c.MaxOrders <= 0 {
		return fmt.Errorf("max_orders must be positive, got %d", c.MaxOrders)
	}
	if c.EventCap < 0 || (c.EventCap != 0 && c.EventCap&(c.EventCap-1) != 0) {
		return fmt.Errorf("event_cap must be a power of two, got %d", c.EventCap)
	}
	return nil
}

// Levels returns the number of price levels on the grid.
func (c Config) Levels() int32 {
	return int32((c.PriceMax-c.PriceMin)/c.Tick) + 1
}

// Counters are pure functions of the accepted command sequence. A rejected
// command touches only Rejects and EventHash.
type Counters struct {
	Acks     uint64 `json:"acks"`
	Rejects  uint64 `json:"rejects"`
	Trades   uint64 `json:"trades"`
	Reduced  uint64 `json:"reduced"`
	Canceled uint64 `json:"canceled"`
	Filled   uint64 `json:"filled"`

	TradeQty      int64 `json:"trade_qty"`      // total lots traded
	TradeNotional int64 `json:"trade_notional"` // sum of price_ticks * qty over trades

	TradeChecksum uint64 `json:"trade_checksum"` // rolling 53-bit trade mix
	EventHash     uint64 `json:"event_hash"`     // rolling 53-bit event-stream mix
}

// Book is a single-symbol limit order book. Not safe for concurrent use;
// embed behind a single-writer boundary if shared.
type Book struct {
	cfg    Config
	levels int32

	// Order storage, one column per field, indexed by slot.
	owner  []uint32
	extID  []uint32
	level  []int32
	qty    []int32
	side   []uint8
	prev   []int32
	next   []int32
	active []uint8

	// Free slots form a stack threaded through the next column.
	freeTop int32

	// External id -> slot, dense, bounded by MaxOrders.
	idToSlot []int32

	// Per-side level FIFOs and occupancy. Indexed by domain.Side.
	heads [2][]int32
	tails [2][]int32
	occ   [2]*bitset.Set

	// Best level per side: highest non-empty bid, lowest non-empty ask.
	best [2]int32

	ring *eventRing
	cnt  Counters
	ops  uint64

	devAsserts bool
}

// New builds a book from cfg. The book must be built before the first
// command; an invalid config is a hard error.
func New(cfg Config) (*Book, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("book config: %w", err)
	}
	if cfg.EventCap == 0 {
		cfg.EventCap = DefaultEventCap
	}

	n := int(cfg.MaxOrders)
	levels := cfg.Levels()

	b := &Book{
		cfg:    cfg,
		levels: levels,

		owner:  make([]uint32, n),
		extID:  make([]uint32, n),
		level:  make([]int32, n),
		qty:    make([]int32, n),
		side:   make([]uint8, n),
		prev:   make([]int32, n),
		next:   make([]int32, n),
		active: make([]uint8, n),

		idToSlot: make([]int32, n),

		ring: newEventRing(cfg.EventCap),
	}
	for s := 0; s < 2; s++ {
		b.heads[s] = make([]int32, levels)
		b.tails[s] = make([]int32, levels)
		b.occ[s] = bitset.New(levels)
	}
	b.resetState()
	return b, nil
}

// resetState puts every column back into the empty-book shape.
func (b *Book) resetState() {
	n := int32(b.cfg.MaxOrders)
	for i := int32(0); i < n; i++ {
		b.owner[i], b.extID[i] = 0, 0
		b.level[i], b.qty[i] = 0, 0
		b.side[i], b.active[i] = 0, 0
		b.prev[i] = nilIdx
		b.next[i] = i + 1
		b.idToSlot[i] = nilIdx
	}
	b.next[n-1] = nilIdx
	b.freeTop = 0

	for s := 0; s < 2; s++ {
		for l := int32(0); l < b.levels; l++ {
			b.heads[s][l] = nilIdx
			b.tails[s][l] = nilIdx
		}
		b.occ[s].Reset()
		b.best[s] = nilIdx
	}

	b.ring.reset()
	b.cnt = Counters{}
	b.ops = 0
}

// Config returns the immutable configuration.
func (b *Book) Config() Config { return b.cfg }

// EnableDevAsserts toggles the full invariant walk after every command.
func (b *Book) EnableDevAsserts(on bool) { b.devAsserts = on }

// Counters returns a copy of the counters and rolling hashes.
func (b *Book) Counters() Counters { return b.cnt }

// Ops returns the number of commands applied so far.
func (b *Book) Ops() uint64 { return b.ops }

// --- Price grid ---

func (b *Book) priceToLevel(p int64) int32 {
	return int32((p - b.cfg.PriceMin) / b.cfg.Tick)
}

func (b *Book) levelToPrice(l int32) int64 {
	return b.cfg.PriceMin + int64(l)*b.cfg.Tick
}

// validPrice reports whether p is on the grid.
func (b *Book) validPrice(p int64) bool {
	return p >= b.cfg.PriceMin && p <= b.cfg.PriceMax && (p-b.cfg.PriceMin)%b.cfg.Tick == 0
}

// BestBidPrice returns the best bid in ticks, or -1 when no bids rest.
func (b *Book) BestBidPrice() int64 {
	if b.best[domain.Buy] == nilIdx {
		return -1
	}
	return b.levelToPrice(b.best[domain.Buy])
}

// BestAskPrice returns the best ask in ticks, or -1 when no asks rest.
func (b *Book) BestAskPrice() int64 {
	if b.best[domain.Sell] == nilIdx {
		return -1
	}
	return b.levelToPrice(b.best[domain.Sell])
}

// --- Slot allocation ---

func (b *Book) alloc() int32 {
	slot := b.freeTop
	if slot == nilIdx {
		// Unreachable while ids are bounded by MaxOrders, but a silent drop
		// here would corrupt the id map.
		panic("book: order slots exhausted")
	}
	b.freeTop = b.next[slot]
	b.prev[slot] = nilIdx
	b.next[slot] = nilIdx
	return slot
}

// freeSlot returns slot to the free-list and clears the id mapping. Columns
// are zeroed so a recycled slot can never leak stale fields.
func (b *Book) freeSlot(slot int32) {
	b.idToSlot[b.extID[slot]] = nilIdx
	b.owner[slot], b.extID[slot] = 0, 0
	b.level[slot], b.qty[slot] = 0, 0
	b.side[slot] = 0
	b.active[slot] = 0
	b.prev[slot] = nilIdx
	b.next[slot] = b.freeTop
	b.freeTop = slot
}

// --- Level FIFOs ---

// enqueueTail appends slot at the back of its level queue and maintains the
// occupancy bit and best index.
func (b *Book) enqueueTail(slot int32) {
	s := b.side[slot]
	lvl := b.level[slot]
	tail := b.tails[s][lvl]
	if tail == nilIdx {
		b.heads[s][lvl] = slot
		b.occ[s].Set(lvl)
		if b.best[s] == nilIdx ||
			(domain.Side(s) == domain.Buy && lvl > b.best[s]) ||
			(domain.Side(s) == domain.Sell && lvl < b.best[s]) {
			b.best[s] = lvl
		}
	} else {
		b.next[tail] = slot
		b.prev[slot] = tail
	}
	b.tails[s][lvl] = slot
}

// unlink detaches slot from its level queue. When the level empties, the
// occupancy bit is cleared and the best index advances via bit scan.
func (b *Book) unlink(slot int32) {
	s := b.side[slot]
	lvl := b.level[slot]

	if b.prev[slot] != nilIdx {
		b.next[b.prev[slot]] = b.next[slot]
	} else {
		b.heads[s][lvl] = b.next[slot]
	}
	if b.next[slot] != nilIdx {
		b.prev[b.next[slot]] = b.prev[slot]
	} else {
		b.tails[s][lvl] = b.prev[slot]
	}
	b.prev[slot] = nilIdx
	b.next[slot] = nilIdx

	if b.heads[s][lvl] == nilIdx {
		b.occ[s].Clear(lvl)
		if b.best[s] == lvl {
			if domain.Side(s) == domain.Buy {
				b.best[s] = b.occ[s].PrevSet(lvl) // bitset.None == nilIdx
			} else {
				b.best[s] = b.occ[s].NextSet(lvl)
			}
		}
	}
}

// RestingSummary walks the active flags and returns the number of resting
// orders and their total remaining lots.
func (b *Book) RestingSummary() (orders int64, lots int64) {
	for i := int32(0); i < b.cfg.MaxOrders; i++ {
		if b.active[i] == 1 {
			orders++
			lots += int64(b.qty[i])
		}
	}
	return orders, lots
}
