package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"terraflow.ai/internal/terrain/noise"
)

func TestLoad_RepoConfigMatchesDefaults(t *testing.T) {
	got, err := Load("../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load tuning.yaml: %v", err)
	}
	want := Defaults()
	if got != want {
		t.Fatalf("configs/tuning.yaml drifted from defaults:\n got=%+v\nwant=%+v", got, want)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := "world:\n  seed: \"  abc \"\n  noise_backend: PERLIN\n  chunk_size: 50\n  tile_size: 10\nstreaming:\n  chunk_cache_size: 4\n"
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.World.Seed != "abc" || got.Backend() != noise.BackendPerlin {
		t.Fatalf("world=%+v", got.World)
	}
	if got.Dims().Footprint() != 500 || got.Streaming.ChunkCacheSize != 4 {
		t.Fatalf("dims=%+v cache=%d", got.Dims(), got.Streaming.ChunkCacheSize)
	}
	if got.Generation != noise.DefaultParams() || got.Workers.Count != 20 {
		t.Fatalf("defaults lost: gen=%+v workers=%+v", got.Generation, got.Workers)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"octaves":  "generation:\n  octaves: 0\n",
		"backend":  "world:\n  noise_backend: worley\n",
		"chunk":    "world:\n  chunk_size: -1\n",
		"cache":    "streaming:\n  chunk_cache_size: 0\n",
		"zoom":     "viewer:\n  min_zoom: 5\n  max_zoom: 2\n",
		"protocol": "protocol_version: \"2.0\"\n",
		"bad yaml": "world: [",
	}
	for name, raw := range cases {
		p := filepath.Join(t.TempDir(), "tuning.yaml")
		if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		_, err := Load(p)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !strings.HasPrefix(err.Error(), "tuning.yaml: ") {
			t.Fatalf("%s: error not wrapped: %v", name, err)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("err=%v want not-exist", err)
	}
	if got, err := Load(""); err != nil || got.Workers.Count != 20 {
		t.Fatalf("empty path: %+v %v", got, err)
	}
}

func TestNormalize_Clamps(t *testing.T) {
	tu := Defaults()
	tu.Workers.Count = 0
	tu.Viewer.MaxSessions = 1 << 20
	tu.Streaming.ViewportPadding = -3
	tu.Normalize()
	if tu.Workers.Count != 20 || tu.Viewer.MaxSessions != 4096 || tu.Streaming.ViewportPadding != 0 {
		t.Fatalf("normalize: %+v", tu)
	}
}
