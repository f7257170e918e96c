package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"terraflow.ai/internal/mathx"
	"terraflow.ai/internal/protocol"
	"terraflow.ai/internal/terrain/chunk"
	"terraflow.ai/internal/terrain/noise"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	World      World        `yaml:"world"`
	Generation noise.Params `yaml:"generation"`
	Streaming  Streaming    `yaml:"streaming"`
	Workers    Workers      `yaml:"workers"`
	Viewer     Viewer       `yaml:"viewer"`
}

type World struct {
	Seed         string `yaml:"seed"`
	NoiseBackend string `yaml:"noise_backend"`
	ChunkSize    int    `yaml:"chunk_size"`
	TileSize     int    `yaml:"tile_size"`
}

type Streaming struct {
	ViewportPadding int `yaml:"viewport_padding"`
	ChunkCacheSize  int `yaml:"chunk_cache_size"`
	BiomeMemoSize   int `yaml:"biome_memo_size"`
	ReapEveryMs     int `yaml:"reap_every_ms"`
}

type Workers struct {
	Count       int `yaml:"count"`
	TimeoutMs   int `yaml:"timeout_ms"`
	MaxAttempts int `yaml:"max_attempts"`
}

type Viewer struct {
	MaxSessions    int     `yaml:"max_sessions"`
	ViewportRateHz float64 `yaml:"viewport_rate_hz"`
	ViewportBurst  int     `yaml:"viewport_burst"`
	CompressChunks bool    `yaml:"compress_chunks"`
	OutBuffer      int     `yaml:"out_buffer"`
	MinZoom        float64 `yaml:"min_zoom"`
	MaxZoom        float64 `yaml:"max_zoom"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: protocol.Version,
		World: World{
			Seed:         "terraflow",
			NoiseBackend: string(noise.BackendSimplex),
			ChunkSize:    60,
			TileSize:     6,
		},
		Generation: noise.DefaultParams(),
		Streaming: Streaming{
			ViewportPadding: 2,
			ChunkCacheSize:  100,
			BiomeMemoSize:   65536,
			ReapEveryMs:     1000,
		},
		Workers: Workers{
			Count:       20,
			TimeoutMs:   10000,
			MaxAttempts: 3,
		},
		Viewer: Viewer{
			MaxSessions:    64,
			ViewportRateHz: 30,
			ViewportBurst:  5,
			CompressChunks: true,
			OutBuffer:      4096,
			MinZoom:        0.5,
			MaxZoom:        4,
		},
	}
}

// Load reads path on top of Defaults. An empty path yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	t.ProtocolVersion = strings.TrimSpace(t.ProtocolVersion)
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = protocol.Version
	}
	t.World.Seed = strings.TrimSpace(t.World.Seed)
	t.World.NoiseBackend = strings.ToLower(strings.TrimSpace(t.World.NoiseBackend))
	if t.World.NoiseBackend == "" {
		t.World.NoiseBackend = string(noise.BackendSimplex)
	}
	if t.Streaming.ViewportPadding < 0 {
		t.Streaming.ViewportPadding = 0
	}
	if t.Streaming.BiomeMemoSize < 0 {
		t.Streaming.BiomeMemoSize = 0
	}
	t.Streaming.ReapEveryMs = mathx.ClampInt(t.Streaming.ReapEveryMs, 10, 60000, 1000)
	t.Workers.Count = mathx.ClampInt(t.Workers.Count, 1, 256, 20)
	t.Viewer.MaxSessions = mathx.ClampInt(t.Viewer.MaxSessions, 1, 4096, 64)
	t.Viewer.OutBuffer = mathx.ClampInt(t.Viewer.OutBuffer, 16, 1<<16, 4096)
	t.Viewer.ViewportBurst = mathx.ClampInt(t.Viewer.ViewportBurst, 1, 100, 5)
	if t.Viewer.ViewportRateHz <= 0 {
		t.Viewer.ViewportRateHz = 30
	}
	if t.Viewer.MinZoom <= 0 {
		t.Viewer.MinZoom = 0.5
	}
	if t.Viewer.MaxZoom <= 0 {
		t.Viewer.MaxZoom = 4
	}
}

func (t Tuning) Validate() error {
	if t.ProtocolVersion != protocol.Version {
		return fmt.Errorf("protocol_version %q is not supported (want %q)", t.ProtocolVersion, protocol.Version)
	}
	if _, err := noise.ParseBackend(t.World.NoiseBackend); err != nil {
		return fmt.Errorf("world.noise_backend: %w", err)
	}
	if err := t.Dims().Validate(); err != nil {
		return fmt.Errorf("world: %w", err)
	}
	if err := t.Generation.Validate(); err != nil {
		return fmt.Errorf("generation: %w", err)
	}
	if t.Streaming.ChunkCacheSize <= 0 {
		return fmt.Errorf("streaming.chunk_cache_size must be > 0 (got %d)", t.Streaming.ChunkCacheSize)
	}
	if t.Workers.TimeoutMs < 0 {
		return fmt.Errorf("workers.timeout_ms must be >= 0 (got %d)", t.Workers.TimeoutMs)
	}
	if t.Workers.MaxAttempts < 0 {
		return fmt.Errorf("workers.max_attempts must be >= 0 (got %d)", t.Workers.MaxAttempts)
	}
	if t.Viewer.MinZoom > t.Viewer.MaxZoom {
		return fmt.Errorf("viewer.min_zoom %v > max_zoom %v", t.Viewer.MinZoom, t.Viewer.MaxZoom)
	}
	return nil
}

func (t Tuning) Dims() chunk.Dims {
	return chunk.Dims{ChunkSize: t.World.ChunkSize, TileSize: t.World.TileSize}
}

func (t Tuning) Backend() noise.Backend {
	b, err := noise.ParseBackend(t.World.NoiseBackend)
	if err != nil {
		return noise.BackendSimplex
	}
	return b
}

func (t Tuning) WorkerTimeout() time.Duration {
	return time.Duration(t.Workers.TimeoutMs) * time.Millisecond
}

func (t Tuning) ReapEvery() time.Duration {
	return time.Duration(t.Streaming.ReapEveryMs) * time.Millisecond
}
