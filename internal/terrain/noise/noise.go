package noise

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/aquilax/go-perlin"
	"github.com/ojrac/opensimplex-go"
)

// Source is a 2D coherent noise function with output roughly in [-1, 1].
type Source interface {
	Eval2(x, y float64) float64
}

type Backend string

const (
	BackendSimplex Backend = "simplex"
	BackendPerlin  Backend = "perlin"
)

var ErrUnknownBackend = errors.New("unknown noise backend")

func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackendSimplex:
		return BackendSimplex, nil
	case BackendPerlin:
		return BackendPerlin, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
	}
}

// Channel salts the world seed so every channel gets an independent generator.
type Channel string

const (
	ChannelHeight   Channel = "_height"
	ChannelMoisture Channel = "_moisture"
	ChannelHeat     Channel = "_heat"
	ChannelRivers   Channel = "_rivers"
)

// Perlin shape, same as the usual go-perlin setup.
const (
	perlinAlpha = 2
	perlinBeta  = 2
	perlinN     = 3
)

// SeedFor maps seed+channel to a stable 64-bit generator seed.
func SeedFor(seed string, ch Channel) int64 {
	sum := sha256.Sum256([]byte(seed + string(ch)))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

func DeriveChannel(backend Backend, seed string, ch Channel) (Source, error) {
	s := SeedFor(seed, ch)
	switch backend {
	case BackendSimplex, "":
		return opensimplex.New(s), nil
	case BackendPerlin:
		return perlinSource{p: perlin.NewPerlin(perlinAlpha, perlinBeta, perlinN, s)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

type perlinSource struct{ p *perlin.Perlin }

func (s perlinSource) Eval2(x, y float64) float64 { return s.p.Noise2D(x, y) }

// FBm sums p.Octaves layers of src. Amplitude is scaled by persistence and
// frequency doubled per octave. The result is not clamped.
func FBm(src Source, x, y float64, p Params) float64 {
	var (
		total = 0.0
		amp   = p.Amplitude
		freq  = p.Frequency
	)
	for i := 0; i < p.Octaves; i++ {
		total += src.Eval2(x*freq*p.Scale, y*freq*p.Scale) * amp
		amp *= p.Persistence
		freq *= 2
	}
	return total
}
