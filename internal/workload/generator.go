package workload

import (
	"math/rand"

	"github.com/quantarc/matchbook/internal/domain"
)

// Generator produces the command stream for a profile. All randomness comes
// from one seeded source, so a (profile, seed) pair is a complete
// description of the stream.
type Generator struct {
	p   *Profile
	rng *rand.Rand

	nextID int64
	live   []int64 // ids we have issued new orders for; some are long gone
	mid    int64   // current center of placement, in ticks
}

// NewGenerator builds a generator for a validated profile.
func NewGenerator(p *Profile) *Generator {
	return &Generator{
		p:   p,
		rng: rand.New(rand.NewSource(p.Seed)),
		mid: (p.Book.PriceMin + p.Book.PriceMax) / 2,
	}
}

// Generate returns the full command stream for the profile.
func (g *Generator) Generate() []domain.Command {
	cmds := make([]domain.Command, 0, g.p.Ops)
	for i := 0; i < g.p.Ops; i++ {
		cmds = append(cmds, g.next())
	}
	return cmds
}

// next draws one command. Cancels and replaces target previously issued
// ids without tracking fills, so a share of them reject with "not found",
// matching the flow a real gateway produces.
func (g *Generator) next() domain.Command {
	r := g.rng.Float64()
	switch {
	case r < g.p.CancelRatio && len(g.live) > 0:
		id := g.pickID()
		return domain.NewCancel(g.owner(), id)
	case r < g.p.CancelRatio+g.p.ReplaceRatio && len(g.live) > 0:
		id := g.pickID()
		newPrice := domain.PriceNone
		if g.rng.Intn(2) == 0 {
			newPrice = g.price()
		}
		delta := int64(g.rng.Intn(int(g.p.MaxQty))) - g.p.MaxQty/2
		return domain.NewReplace(g.owner(), id, newPrice, delta)
	default:
		return g.newOrder()
	}
}

func (g *Generator) newOrder() domain.Command {
	g.walk()
	id := g.nextID % int64(g.p.Book.MaxOrders)
	g.nextID++
	g.live = append(g.live, id)
	if len(g.live) > 4096 {
		g.live = g.live[len(g.live)-4096:]
	}

	cmd := domain.Command{
		Kind:  domain.CmdNew,
		Owner: g.owner(),
		ID:    id,
		Side:  domain.Side(g.rng.Intn(2)),
		Price: g.price(),
		Qty:   1 + int64(g.rng.Intn(int(g.p.MaxQty))),
		TIF:   domain.GTC,
	}
	t := g.rng.Float64()
	switch {
	case t < g.p.IOCRatio:
		cmd.TIF = domain.IOC
	case t < g.p.IOCRatio+g.p.FOKRatio:
		cmd.TIF = domain.FOK
	}
	if cmd.TIF == domain.GTC && g.rng.Float64() < g.p.PostOnlyRatio {
		cmd.PostOnly = true
	}
	return cmd
}

// walk nudges the placement center one tick at a time inside the grid.
func (g *Generator) walk() {
	g.mid += int64(g.rng.Intn(3)-1) * g.p.Book.Tick
	lo := g.p.Book.PriceMin + g.p.PriceBand*g.p.Book.Tick
	hi := g.p.Book.PriceMax - g.p.PriceBand*g.p.Book.Tick
	if g.mid < lo {
		g.mid = lo
	}
	if g.mid > hi {
		g.mid = hi
	}
}

// price draws an on-grid price within the band around the walk center.
func (g *Generator) price() int64 {
	off := int64(g.rng.Intn(int(2*g.p.PriceBand+1))) - g.p.PriceBand
	p := g.mid + off*g.p.Book.Tick
	if p < g.p.Book.PriceMin {
		p = g.p.Book.PriceMin
	}
	if p > g.p.Book.PriceMax {
		p = g.p.Book.PriceMax
	}
	// Snap onto the grid relative to PriceMin.
	p -= (p - g.p.Book.PriceMin) % g.p.Book.Tick
	return p
}

func (g *Generator) owner() int64 {
	return 1 + int64(g.rng.Intn(g.p.Owners))
}

func (g *Generator) pickID() int64 {
	return g.live[g.rng.Intn(len(g.live))]
}
