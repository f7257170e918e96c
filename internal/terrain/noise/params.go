package noise

import (
	"errors"
	"fmt"

	"terraflow.ai/internal/mathx"
)

var ErrInvalidParams = errors.New("invalid generation params")

const MaxOctaves = 32

type Params struct {
	Octaves     int     `yaml:"octaves" json:"octaves"`
	Persistence float64 `yaml:"persistence" json:"persistence"`
	Scale       float64 `yaml:"scale" json:"scale"`
	Amplitude   float64 `yaml:"amplitude" json:"amplitude"`
	Frequency   float64 `yaml:"frequency" json:"frequency"`
}

func DefaultParams() Params {
	return Params{
		Octaves:     8,
		Persistence: 0.5,
		Scale:       0.005,
		Amplitude:   1,
		Frequency:   1,
	}
}

// RiverParams drives the rivers channel regardless of the world params.
var RiverParams = Params{
	Octaves:     4,
	Persistence: 0.5,
	Scale:       0.005,
	Amplitude:   1,
	Frequency:   1,
}

func (p Params) Validate() error {
	if p.Octaves < 1 || p.Octaves > MaxOctaves {
		return fmt.Errorf("%w: octaves=%d (want 1..%d)", ErrInvalidParams, p.Octaves, MaxOctaves)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"persistence", p.Persistence},
		{"scale", p.Scale},
		{"amplitude", p.Amplitude},
		{"frequency", p.Frequency},
	} {
		if !mathx.IsFinite(f.v) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidParams, f.name)
		}
	}
	if p.Scale <= 0 {
		return fmt.Errorf("%w: scale=%v (want > 0)", ErrInvalidParams, p.Scale)
	}
	if p.Frequency <= 0 {
		return fmt.Errorf("%w: frequency=%v (want > 0)", ErrInvalidParams, p.Frequency)
	}
	return nil
}
