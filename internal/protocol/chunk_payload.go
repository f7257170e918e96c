package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"terraflow.ai/internal/terrain/biome"
	"terraflow.ai/internal/terrain/chunk"
)

// ChunkPayload is the column-oriented tile data of one chunk. Arrays are
// row-major, Size*Size long. Biomes travel run-length encoded in BiomeRuns;
// Expand fills Biomes after decoding.
type ChunkPayload struct {
	CX        int           `json:"cx"`
	CY        int           `json:"cy"`
	Size      int           `json:"size"`
	TileSize  int           `json:"tile_size"`
	OriginX   int           `json:"origin_x"`
	OriginY   int           `json:"origin_y"`
	BiomeRuns string        `json:"biome_runs"`
	Biomes    []biome.Biome `json:"-"`
	Height    []float32     `json:"height"`
	Moisture  []float32     `json:"moisture"`
	Heat      []float32     `json:"heat"`
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ = zstd.NewReader(nil)
)

func PayloadFor(c *chunk.Chunk, tileSize int) ChunkPayload {
	n := len(c.Tiles)
	p := ChunkPayload{
		CX:       c.Pos.X,
		CY:       c.Pos.Y,
		Size:     c.Size,
		TileSize: tileSize,
		Biomes:   make([]biome.Biome, n),
		Height:   make([]float32, n),
		Moisture: make([]float32, n),
		Heat:     make([]float32, n),
	}
	p.OriginX, p.OriginY = c.Origin()
	for i, t := range c.Tiles {
		p.Biomes[i] = t.Biome
		p.Height[i] = float32(t.Values[chunk.ValueHeight])
		p.Moisture[i] = float32(t.Values[chunk.ValueMoisture])
		p.Heat[i] = float32(t.Values[chunk.ValueHeat])
	}
	p.BiomeRuns = EncodeBiomeRuns(p.Biomes)
	return p
}

// EncodeChunk builds a CHUNK message for c.
func EncodeChunk(epoch uint64, c *chunk.Chunk, tileSize int, compress bool) (ChunkMsg, error) {
	raw, err := json.Marshal(PayloadFor(c, tileSize))
	if err != nil {
		return ChunkMsg{}, err
	}
	enc := EncodingJSON
	if compress {
		raw = encoder.EncodeAll(raw, make([]byte, 0, len(raw)/4))
		enc = EncodingZstdJSON
	}
	return ChunkMsg{
		Type:            TypeChunk,
		ProtocolVersion: Version,
		Epoch:           epoch,
		CX:              c.Pos.X,
		CY:              c.Pos.Y,
		Encoding:        enc,
		Data:            base64.StdEncoding.EncodeToString(raw),
	}, nil
}

func DecodeChunk(m ChunkMsg) (ChunkPayload, error) {
	var p ChunkPayload
	raw, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		return p, fmt.Errorf("chunk data: %w", err)
	}
	switch m.Encoding {
	case EncodingJSON:
	case EncodingZstdJSON:
		raw, err = decoder.DecodeAll(raw, nil)
		if err != nil {
			return p, fmt.Errorf("chunk zstd: %w", err)
		}
	default:
		return p, fmt.Errorf("unknown chunk encoding %q", m.Encoding)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("chunk payload: %w", err)
	}
	return p, p.Expand()
}

// Expand decodes BiomeRuns into Biomes and checks the column lengths.
func (p *ChunkPayload) Expand() error {
	n := p.Size * p.Size
	if p.Size <= 0 || len(p.Height) != n || len(p.Moisture) != n || len(p.Heat) != n {
		return fmt.Errorf("chunk payload: size %d does not match columns", p.Size)
	}
	b, err := DecodeBiomeRuns(p.BiomeRuns, n)
	if err != nil {
		return fmt.Errorf("chunk biomes: %w", err)
	}
	p.Biomes = b
	return nil
}

func TileInfoFor(t chunk.Tile) TileInfo {
	return TileInfo{
		X:        t.X,
		Y:        t.Y,
		PosX:     t.PosX,
		PosY:     t.PosY,
		W:        t.W,
		H:        t.H,
		Height:   t.Values[chunk.ValueHeight],
		Moisture: t.Values[chunk.ValueMoisture],
		Heat:     t.Values[chunk.ValueHeat],
		Biome:    t.Biome.String(),
		Color:    t.Biome.Color().Hex(),
	}
}
