// Package workload generates deterministic seeded command streams for
// exercising the book: golden-snapshot runs, determinism checks, and
// throughput measurements all consume the same generator.
package workload

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quantarc/matchbook/internal/book"
	"github.com/quantarc/matchbook/internal/domain"
)

// Profile holds all parameters for one generated run. The same profile and
// seed always produce the same command stream.
type Profile struct {
	Name string `yaml:"name"`
	Seed int64  `yaml:"seed"`
	Ops  int    `yaml:"ops"`

	Book book.Config `yaml:"book"`
	STP  string      `yaml:"stp"` // off, cancel-taker, decrement-maker

	Owners    int   `yaml:"owners"`
	PriceBand int64 `yaml:"price_band"` // half-width of order placement around the mid walk, in ticks
	MaxQty    int64 `yaml:"max_qty"`

	// Command mix. CancelRatio and ReplaceRatio are shares of all commands;
	// the rest are new orders. IOCRatio and FOKRatio are shares of those new
	// orders, and PostOnlyRatio is a share of the new orders left as GTC.
	CancelRatio   float64 `yaml:"cancel_ratio"`
	ReplaceRatio  float64 `yaml:"replace_ratio"`
	IOCRatio      float64 `yaml:"ioc_ratio"`
	FOKRatio      float64 `yaml:"fok_ratio"`
	PostOnlyRatio float64 `yaml:"post_only_ratio"`
}

// Validate resolves the textual STP policy and checks the profile shape.
func (p *Profile) Validate() error {
	stp, err := domain.ParseSTPPolicy(p.STP)
	if err != nil {
		return err
	}
	p.Book.STP = stp
	if err := p.Book.Validate(); err != nil {
		return err
	}
	if p.Ops <= 0 {
		return fmt.Errorf("ops must be positive, got %d", p.Ops)
	}
	if p.Owners <= 0 {
		return fmt.Errorf("owners must be positive, got %d", p.Owners)
	}
	if p.MaxQty <= 0 || p.MaxQty > domain.MaxQty {
		return fmt.Errorf("max_qty out of range: %d", p.MaxQty)
	}
	return nil
}

// Calm is a balanced flow: mostly resting limit orders, light cancels,
// occasional aggression.
func Calm(seed int64) *Profile {
	return &Profile{
		Name: "calm",
		Seed: seed,
		Ops:  20_000,
		Book: book.Config{
			Tick:      1,
			PriceMin:  0,
			PriceMax:  1000,
			MaxOrders: 4096,
		},
		Owners:       16,
		PriceBand:    20,
		MaxQty:       50,
		CancelRatio:  0.20,
		ReplaceRatio: 0.05,
		IOCRatio:     0.05,
		FOKRatio:     0.02,
	}
}

// Churn hammers cancel/replace so the free-list and FIFO links recycle
// constantly.
func Churn(seed int64) *Profile {
	p := Calm(seed)
	p.Name = "churn"
	p.CancelRatio = 0.35
	p.ReplaceRatio = 0.20
	return p
}

// CrossHeavy drives aggressive flow through the crossing phase, with
// post-only probes and decrement-maker self-trades.
func CrossHeavy(seed int64) *Profile {
	p := Calm(seed)
	p.Name = "crossheavy"
	p.PriceBand = 5
	p.IOCRatio = 0.20
	p.FOKRatio = 0.10
	p.PostOnlyRatio = 0.10
	p.Owners = 4
	p.STP = "decrement-maker"
	return p
}

// Get returns a built-in profile by name, or nil.
func Get(name string, seed int64) *Profile {
	switch name {
	case "calm":
		return Calm(seed)
	case "churn":
		return Churn(seed)
	case "crossheavy":
		return CrossHeavy(seed)
	default:
		return nil
	}
}

// Names lists the built-in profiles.
func Names() []string {
	return []string{"calm", "churn", "crossheavy"}
}

// FromYAML loads a profile from a YAML file, starting from the calm
// defaults so files only need to state overrides.
func FromYAML(path string, seed int64) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	p := Calm(seed)
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", path, err)
	}
	if p.Seed == 0 {
		p.Seed = seed
	}
	return p, nil
}
