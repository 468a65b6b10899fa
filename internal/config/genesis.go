package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"TroveLedger/internal/event"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"

	"gopkg.in/yaml.v3"
)

// Amount is a Precision-scaled value written as a decimal in YAML
// ("1.2", "2000.5").
type Amount uint64

func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: amount must be a scalar", node.Line)
	}
	v, err := fpmath.ParseAmount(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*a = Amount(v)
	return nil
}

// Genesis is the initial protocol setup applied to an empty state.
type Genesis struct {
	Admin  state.Identity `yaml:"admin"`
	Time   time.Time      `yaml:"time"`
	Assets []GenesisAsset `yaml:"assets"`
}

// GenesisAsset registers one collateral. Unset parameters take the
// defaults of state.DefaultAssetParams.
type GenesisAsset struct {
	Symbol string         `yaml:"symbol"`
	Oracle state.Identity `yaml:"oracle"`
	Price  *Amount        `yaml:"price"` // optional first price, posted by the oracle

	MCR                  *Amount `yaml:"mcr"`
	PostLiquidationRatio *Amount `yaml:"post_liquidation_ratio"`
	LiquidationPenalty   *Amount `yaml:"liquidation_penalty"`
	GasCompensationRate  *Amount `yaml:"gas_compensation_rate"`
	MaxGasCompensation   *Amount `yaml:"max_gas_compensation"`
	MinNetDebt           *Amount `yaml:"min_net_debt"`
	MaxListSize          *uint64 `yaml:"max_list_size"`
	BorrowingFeeFloor    *Amount `yaml:"borrowing_fee_floor"`
	MaxBorrowingFee      *Amount `yaml:"max_borrowing_fee"`
	RedemptionFeeFloor   *Amount `yaml:"redemption_fee_floor"`
}

// Params overlays the configured values on the defaults.
func (g GenesisAsset) Params() state.AssetParams {
	p := state.DefaultAssetParams(g.Symbol, g.Oracle)
	set := func(dst *uint64, v *Amount) {
		if v != nil {
			*dst = uint64(*v)
		}
	}
	set(&p.MCR, g.MCR)
	set(&p.PostLiquidationRatio, g.PostLiquidationRatio)
	set(&p.LiquidationPenalty, g.LiquidationPenalty)
	set(&p.GasCompensationRate, g.GasCompensationRate)
	set(&p.MaxGasCompensation, g.MaxGasCompensation)
	set(&p.MinNetDebt, g.MinNetDebt)
	set(&p.BorrowingFeeFloor, g.BorrowingFeeFloor)
	set(&p.MaxBorrowingFee, g.MaxBorrowingFee)
	set(&p.RedemptionFeeFloor, g.RedemptionFeeFloor)
	if g.MaxListSize != nil {
		p.MaxListSize = *g.MaxListSize
	}
	return p
}

// LoadGenesis reads and validates a genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open genesis: %w", err)
	}
	defer file.Close()

	var g Genesis
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

func (g *Genesis) Validate() error {
	if g.Admin.IsZero() {
		return fmt.Errorf("genesis: admin is required")
	}
	seen := make(map[string]bool, len(g.Assets))
	for i := range g.Assets {
		a := &g.Assets[i]
		a.Symbol = strings.TrimSpace(a.Symbol)
		if a.Symbol == "" {
			return fmt.Errorf("genesis: asset %d has no symbol", i)
		}
		if seen[a.Symbol] {
			return fmt.Errorf("genesis: asset %s listed twice", a.Symbol)
		}
		seen[a.Symbol] = true
		params := a.Params()
		if err := state.ValidateAssetParams(&params); err != nil {
			return fmt.Errorf("genesis: asset %s: %w", a.Symbol, err)
		}
		if a.Price != nil && *a.Price == 0 {
			return fmt.Errorf("genesis: asset %s: price must be positive", a.Symbol)
		}
	}
	return nil
}

// Commands renders the genesis as the admin commands that create it. Keys
// are fixed so a re-run after a crash is dropped as a duplicate.
func (g *Genesis) Commands() []event.Event {
	ts := g.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	meta := func(key string, seq int64) event.Meta {
		return event.Meta{RequestID: key, Sequence: seq, TimestampUs: ts.UnixMicro()}
	}

	cmds := []event.Event{&event.ProtocolInit{Meta: meta("genesis:init", 0), Admin: g.Admin}}
	for i, a := range g.Assets {
		cmds = append(cmds, &event.RegisterAsset{
			Meta:   meta("genesis:asset:"+a.Symbol, int64(i+1)),
			Sender: g.Admin,
			Params: a.Params(),
		})
	}
	for _, a := range g.Assets {
		if a.Price == nil {
			continue
		}
		cmds = append(cmds, &event.PriceUpdate{
			Meta:          meta("genesis:price:"+a.Symbol, 0),
			Source:        a.Oracle,
			Asset:         a.Symbol,
			Price:         uint64(*a.Price),
			PriceSequence: 0,
		})
	}
	return cmds
}
