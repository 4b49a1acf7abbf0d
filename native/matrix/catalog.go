package matrix

import (
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Level defines the exact price of a level and the capacity of its nodes.
type Level struct {
	Price *big.Int
	Arity uint8
}

// Catalog maps level indexes, starting at 1, to their definitions.
type Catalog struct {
	levels []Level
}

// usdt is one whole token in minor units (6 decimals).
const usdt = 1_000_000

var defaultPrices = []int64{2, 2, 4, 8, 20, 40, 80, 160, 320, 640, 1280, 2560}

// NewCatalog validates the supplied level table. Level i+1 is levels[i].
func NewCatalog(levels []Level) (*Catalog, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("%w: no levels", ErrInvalidCatalog)
	}
	if len(levels) > 255 {
		return nil, fmt.Errorf("%w: %d levels exceeds 255", ErrInvalidCatalog, len(levels))
	}
	cloned := make([]Level, len(levels))
	for i, lvl := range levels {
		if lvl.Price == nil || lvl.Price.Sign() <= 0 {
			return nil, fmt.Errorf("%w: level %d price must be positive", ErrInvalidCatalog, i+1)
		}
		if lvl.Arity != 3 && lvl.Arity != 4 {
			return nil, fmt.Errorf("%w: level %d arity %d not in {3,4}", ErrInvalidCatalog, i+1, lvl.Arity)
		}
		cloned[i] = Level{Price: new(big.Int).Set(lvl.Price), Arity: lvl.Arity}
	}
	return &Catalog{levels: cloned}, nil
}

// DefaultCatalog returns the twelve level USDT table. Level 1 and even levels
// use 3-slot nodes, odd levels from 3 upward use 4-slot nodes.
func DefaultCatalog() *Catalog {
	levels := make([]Level, len(defaultPrices))
	for i, whole := range defaultPrices {
		index := i + 1
		arity := uint8(4)
		if index == 1 || index%2 == 0 {
			arity = 3
		}
		levels[i] = Level{Price: new(big.Int).Mul(big.NewInt(whole), big.NewInt(usdt)), Arity: arity}
	}
	catalog, err := NewCatalog(levels)
	if err != nil {
		panic(err)
	}
	return catalog
}

// MaxLevel returns the highest purchasable level.
func (c *Catalog) MaxLevel() uint8 { return uint8(len(c.levels)) }

func (c *Catalog) lookup(level uint8) (Level, error) {
	if c == nil || level == 0 || int(level) > len(c.levels) {
		return Level{}, ErrInvalidLevel
	}
	return c.levels[level-1], nil
}

// PriceOf returns the exact payment required for level.
func (c *Catalog) PriceOf(level uint8) (*big.Int, error) {
	lvl, err := c.lookup(level)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(lvl.Price), nil
}

// ArityOf returns the node capacity used at level.
func (c *Catalog) ArityOf(level uint8) (uint8, error) {
	lvl, err := c.lookup(level)
	if err != nil {
		return 0, err
	}
	return lvl.Arity, nil
}

// Levels returns a copy of the level table.
func (c *Catalog) Levels() []Level {
	out := make([]Level, len(c.levels))
	for i, lvl := range c.levels {
		out[i] = Level{Price: new(big.Int).Set(lvl.Price), Arity: lvl.Arity}
	}
	return out
}

// catalogEntry mirrors the YAML representation of one level.
type catalogEntry struct {
	Level int    `yaml:"level"`
	Price string `yaml:"price"`
	Arity int    `yaml:"arity"`
}

// LoadCatalog reads a level table from the YAML file at path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML list of {level, price, arity} entries. Prices
// are decimal integers in the token minor unit and levels must cover 1..n.
func ParseCatalog(data []byte) (*Catalog, error) {
	var entries []catalogEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Level < entries[j].Level })
	levels := make([]Level, 0, len(entries))
	for i, entry := range entries {
		if entry.Level != i+1 {
			return nil, fmt.Errorf("%w: expected level %d, found %d", ErrInvalidCatalog, i+1, entry.Level)
		}
		price, ok := new(big.Int).SetString(strings.TrimSpace(entry.Price), 10)
		if !ok {
			return nil, fmt.Errorf("%w: level %d price %q", ErrInvalidCatalog, entry.Level, entry.Price)
		}
		if entry.Arity < 0 || entry.Arity > 255 {
			return nil, fmt.Errorf("%w: level %d arity %d", ErrInvalidCatalog, entry.Level, entry.Arity)
		}
		levels = append(levels, Level{Price: price, Arity: uint8(entry.Arity)})
	}
	return NewCatalog(levels)
}
