package chunk

import (
	"fmt"

	"terraflow.ai/internal/terrain/biome"
	"terraflow.ai/internal/terrain/noise"
)

// Synthesizer builds chunks from a lazily derived noise field. It owns its
// field and classifier and must be used by one goroutine at a time.
type Synthesizer struct {
	dims    Dims
	backend noise.Backend

	field      *noise.Field
	classifier *biome.Classifier

	derivations int
}

func NewSynthesizer(dims Dims, backend noise.Backend, memo int) *Synthesizer {
	return &Synthesizer{
		dims:       dims,
		backend:    backend,
		classifier: biome.NewClassifier(nil, memo),
	}
}

func (s *Synthesizer) Dims() Dims { return s.dims }

// Derivations counts how many times the noise field was rebuilt.
func (s *Synthesizer) Derivations() int { return s.derivations }

func (s *Synthesizer) ensureField(seed string) error {
	if s.field != nil && s.field.Seed() == seed {
		return nil
	}
	f, err := noise.NewField(seed, s.backend)
	if err != nil {
		return err
	}
	s.field = f
	s.classifier.Reset(f)
	s.derivations++
	return nil
}

func (s *Synthesizer) Synthesize(off Offset, seed string, p noise.Params) (*Chunk, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.ensureField(seed); err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	size := s.dims.ChunkSize
	c := &Chunk{
		Pos:    PositionForOffset(off, size),
		Size:   size,
		Seed:   seed,
		Params: p,
		Tiles:  make([]Tile, size*size),
	}
	for ly := 0; ly < size; ly++ {
		for lx := 0; lx < size; lx++ {
			c.Tiles[ly*size+lx] = s.tile(lx-off.X, ly-off.Y, p)
		}
	}
	return c, nil
}

func (s *Synthesizer) SynthesizeAt(pos Position, seed string, p noise.Params) (*Chunk, error) {
	return s.Synthesize(OffsetFor(pos, s.dims.ChunkSize), seed, p)
}

// TileAt computes a single tile without building its chunk.
func (s *Synthesizer) TileAt(x, y int, seed string, p noise.Params) (Tile, error) {
	if err := p.Validate(); err != nil {
		return Tile{}, err
	}
	if err := s.ensureField(seed); err != nil {
		return Tile{}, err
	}
	return s.tile(x, y, p), nil
}

func (s *Synthesizer) tile(x, y int, p noise.Params) Tile {
	v := s.field.Sample(float64(x), float64(y), p)
	ts := s.dims.TileSize
	return Tile{
		X:      x,
		Y:      y,
		PosX:   x * ts,
		PosY:   y * ts,
		W:      ts,
		H:      ts,
		Values: [3]float64{v.Height, v.Moisture, v.Heat},
		Biome:  s.classifier.Classify(v.Height, v.Moisture, v.Heat, x, y),
	}
}
