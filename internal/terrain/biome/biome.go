package biome

import (
	"fmt"
	"math"
)

type Biome uint8

// Declaration order is the preset scan priority.
const (
	DeepOcean Biome = iota
	ShallowOcean
	Desert
	Savanna
	Forest
	Rainforest
	Grassland
	Jungle
	Mountains
	SnowMountains
	Tundra
	Beach
	Ice
	River
	Lake

	count
)

var names = [count]string{
	DeepOcean:     "deep_ocean",
	ShallowOcean:  "shallow_ocean",
	Desert:        "desert",
	Savanna:       "savanna",
	Forest:        "forest",
	Rainforest:    "rainforest",
	Grassland:     "grassland",
	Jungle:        "jungle",
	Mountains:     "mountains",
	SnowMountains: "snow_mountains",
	Tundra:        "tundra",
	Beach:         "beach",
	Ice:           "ice",
	River:         "river",
	Lake:          "lake",
}

func (b Biome) String() string {
	if b >= count {
		return fmt.Sprintf("biome(%d)", uint8(b))
	}
	return names[b]
}

func (b Biome) Valid() bool { return b < count }

// IsWater reports the biomes decided before the preset scan.
func (b Biome) IsWater() bool {
	switch b {
	case DeepOcean, ShallowOcean, River, Lake:
		return true
	}
	return false
}

func Parse(s string) (Biome, error) {
	for i, n := range names {
		if n == s {
			return Biome(i), nil
		}
	}
	return 0, fmt.Errorf("unknown biome %q", s)
}

// All returns every biome in scan order.
func All() []Biome {
	out := make([]Biome, 0, count)
	for b := Biome(0); b < count; b++ {
		out = append(out, b)
	}
	return out
}

func (b Biome) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *Biome) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Preset is the threshold rule for a biome. A nil MaxHeight is unbounded.
type Preset struct {
	MinHeight   float64
	MaxHeight   *float64
	MinMoisture float64
	MinHeat     float64
}

func (p Preset) Matches(h, m, t float64) bool {
	if h < p.MinHeight {
		return false
	}
	if p.MaxHeight != nil && h > *p.MaxHeight {
		return false
	}
	return m >= p.MinMoisture && t >= p.MinHeat
}

func bound(v float64) *float64 { return &v }

var presets = [count]Preset{
	DeepOcean:     {MinHeight: -1, MaxHeight: bound(-0.5), MinMoisture: -1, MinHeat: -1},
	ShallowOcean:  {MinHeight: -0.5, MaxHeight: bound(-0.1), MinMoisture: -1, MinHeat: -1},
	Desert:        {MinHeight: 0.2, MinMoisture: -0.5, MinHeat: 0.6},
	Savanna:       {MinHeight: 0.1, MinMoisture: -0.2, MinHeat: 0.4},
	Forest:        {MinHeight: 0.1, MinMoisture: 0.2, MinHeat: -0.4},
	Rainforest:    {MinHeight: 0.1, MinMoisture: 0.6, MinHeat: 0.2},
	Grassland:     {MinHeight: 0.1, MinMoisture: -0.6, MinHeat: -0.6},
	Jungle:        {MinHeight: 0.1, MinMoisture: 0.4, MinHeat: 0.2},
	Mountains:     {MinHeight: 0.4, MinMoisture: -1, MinHeat: -0.2},
	SnowMountains: {MinHeight: 0.5, MinMoisture: -1, MinHeat: -0.8},
	Tundra:        {MinHeight: 0.2, MinMoisture: 0.8, MinHeat: -0.8},
	Beach:         {MinHeight: -0.1, MaxHeight: bound(0.1), MinMoisture: -1, MinHeat: -1},
	Ice:           {MinHeight: -0.1, MinMoisture: -1, MinHeat: -0.9},
	River:         {MinHeight: -0.2, MaxHeight: bound(0.3), MinMoisture: 0.3, MinHeat: -1},
	Lake:          {MinHeight: -0.3, MaxHeight: bound(0.1), MinMoisture: 0.4, MinHeat: -1},
}

func PresetFor(b Biome) (Preset, bool) {
	if !b.Valid() {
		return Preset{}, false
	}
	return presets[b], true
}

// HSL is the base color a renderer paints a biome with.
type HSL struct {
	H float64 `json:"h"`
	S float64 `json:"s"`
	L float64 `json:"l"`
}

var colors = [count]HSL{
	DeepOcean:     {200, 70, 35},
	ShallowOcean:  {200, 70, 45},
	Desert:        {35, 80, 75},
	Savanna:       {50, 70, 45},
	Forest:        {120, 70, 25},
	Rainforest:    {140, 80, 15},
	Grassland:     {100, 60, 40},
	Jungle:        {140, 80, 20},
	Mountains:     {0, 30, 60},
	SnowMountains: {0, 10, 80},
	Tundra:        {200, 25, 75},
	Beach:         {45, 70, 70},
	Ice:           {200, 20, 85},
	River:         {210, 70, 50},
	Lake:          {200, 60, 40},
}

func (b Biome) Color() HSL {
	if !b.Valid() {
		return colors[Grassland]
	}
	return colors[b]
}

// Hex converts to a #rrggbb string. S and L are percentages.
func (c HSL) Hex() string {
	s := c.S / 100
	l := c.L / 100
	k := func(n float64) float64 { return math.Mod(n+c.H/30, 12) }
	a := s * math.Min(l, 1-l)
	ch := func(n float64) uint8 {
		v := l - a*math.Max(-1, math.Min(math.Min(k(n)-3, 9-k(n)), 1))
		return uint8(math.Round(v * 255))
	}
	return fmt.Sprintf("#%02x%02x%02x", ch(0), ch(8), ch(4))
}
