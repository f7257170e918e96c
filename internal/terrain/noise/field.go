package noise

import (
	"fmt"
	"math"
)

// Field holds the four channel generators derived from one seed.
// It is immutable and owned by a single synthesizer.
type Field struct {
	seed    string
	backend Backend

	height   Source
	moisture Source
	heat     Source
	rivers   Source
}

type Sample struct {
	Height   float64
	Moisture float64
	Heat     float64
}

func NewField(seed string, backend Backend) (*Field, error) {
	f := &Field{seed: seed, backend: backend}
	for _, c := range []struct {
		ch  Channel
		dst *Source
	}{
		{ChannelHeight, &f.height},
		{ChannelMoisture, &f.moisture},
		{ChannelHeat, &f.heat},
		{ChannelRivers, &f.rivers},
	} {
		src, err := DeriveChannel(backend, seed, c.ch)
		if err != nil {
			return nil, fmt.Errorf("derive %s: %w", c.ch, err)
		}
		*c.dst = src
	}
	return f, nil
}

func (f *Field) Seed() string     { return f.seed }
func (f *Field) Backend() Backend { return f.backend }

func (f *Field) Sample(x, y float64, p Params) Sample {
	return Sample{
		Height:   FBm(f.height, x, y, p),
		Moisture: FBm(f.moisture, x, y, p),
		Heat:     FBm(f.heat, x, y, p),
	}
}

func (f *Field) River(x, y float64) float64 {
	return FBm(f.rivers, x, y, RiverParams)
}

func IsRiver(riverValue, moisture float64) bool {
	return math.Abs(riverValue) < 0.05 && moisture > 0.3
}
