package chunk

import (
	"fmt"

	"terraflow.ai/internal/mathx"
	"terraflow.ai/internal/terrain/biome"
	"terraflow.ai/internal/terrain/noise"
)

// Dims fixes the grid geometry shared by synthesis and streaming.
type Dims struct {
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	TileSize  int `yaml:"tile_size" json:"tile_size"`
}

func DefaultDims() Dims { return Dims{ChunkSize: 60, TileSize: 6} }

// Footprint is the chunk edge length in pixels.
func (d Dims) Footprint() int { return d.ChunkSize * d.TileSize }

func (d Dims) Validate() error {
	if d.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be > 0 (got %d)", d.ChunkSize)
	}
	if d.TileSize <= 0 {
		return fmt.Errorf("tile_size must be > 0 (got %d)", d.TileSize)
	}
	return nil
}

// Position is a chunk-grid coordinate.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Position) Key() string { return fmt.Sprintf("%d,%d", p.X, p.Y) }

func (p Position) String() string { return p.Key() }

// Containing returns the chunk holding world tile (x, y).
func Containing(x, y, size int) Position {
	return Position{X: mathx.FloorDiv(x, size), Y: mathx.FloorDiv(y, size)}
}

// Offset is the pan offset passed to synthesis; world = local - offset.
type Offset struct {
	X int
	Y int
}

func OffsetFor(p Position, size int) Offset {
	return Offset{X: -p.X * size, Y: -p.Y * size}
}

func PositionForOffset(o Offset, size int) Position {
	return Position{X: mathx.FloorDiv(-o.X, size), Y: mathx.FloorDiv(-o.Y, size)}
}

const (
	ValueHeight = iota
	ValueMoisture
	ValueHeat
)

type Tile struct {
	X      int         `json:"x"`
	Y      int         `json:"y"`
	PosX   int         `json:"pos_x"`
	PosY   int         `json:"pos_y"`
	W      int         `json:"w"`
	H      int         `json:"h"`
	Values [3]float64  `json:"values"`
	Biome  biome.Biome `json:"biome"`
}

// Chunk is a Size x Size row-major tile grid. It is never mutated after synthesis.
type Chunk struct {
	Pos    Position
	Size   int
	Seed   string
	Params noise.Params
	Tiles  []Tile
}

// Origin is the world coordinate of the first tile.
func (c *Chunk) Origin() (int, int) {
	if len(c.Tiles) == 0 {
		return c.Pos.X * c.Size, c.Pos.Y * c.Size
	}
	return c.Tiles[0].X, c.Tiles[0].Y
}

func (c *Chunk) At(lx, ly int) (Tile, bool) {
	if c == nil || lx < 0 || ly < 0 || lx >= c.Size || ly >= c.Size {
		return Tile{}, false
	}
	return c.Tiles[ly*c.Size+lx], true
}

// TileAtWorld returns world tile (x, y) when this chunk holds it.
func (c *Chunk) TileAtWorld(x, y int) (Tile, bool) {
	if c == nil || c.Size <= 0 || Containing(x, y, c.Size) != c.Pos {
		return Tile{}, false
	}
	return c.At(mathx.Mod(x, c.Size), mathx.Mod(y, c.Size))
}

// BiomeCounts tallies tiles per biome.
func (c *Chunk) BiomeCounts() map[biome.Biome]int {
	out := map[biome.Biome]int{}
	for _, t := range c.Tiles {
		out[t.Biome]++
	}
	return out
}

// Dominant is the most frequent biome, lowest enum value on ties.
func (c *Chunk) Dominant() biome.Biome {
	counts := c.BiomeCounts()
	best, bestN := biome.Grassland, -1
	for _, b := range biome.All() {
		if n := counts[b]; n > bestN {
			best, bestN = b, n
		}
	}
	return best
}
