package biome

import (
	"testing"
)

type fixedRiver float64

func (f fixedRiver) River(x, y float64) float64 { return float64(f) }

// farRiver never yields a river.
const farRiver = fixedRiver(1)

func TestClassify_Ordering(t *testing.T) {
	c := NewClassifier(farRiver, 0)
	cases := []struct {
		name    string
		h, m, t float64
		want    Biome
	}{
		{"deep", -0.9, 1, 1, DeepOcean},
		{"deep edge", -0.5000001, 0, 0, DeepOcean},
		{"shallow", -0.5, 0, 0, ShallowOcean},
		{"shallow top", -0.1000001, 0.9, 0.9, ShallowOcean},
		{"lake", 0.05, 0.7, 0, Lake},
		{"no lake dry", 0.05, 0.5, 0, Beach},
		{"desert", 0.3, 0, 0.7, Desert},
		{"savanna", 0.15, 0, 0.5, Savanna},
		{"forest", 0.15, 0.3, 0, Forest},
		{"forest shadows rainforest", 0.15, 0.7, 0.3, Forest},
		{"grassland", 0.15, -0.5, -0.5, Grassland},
		{"beach before ice", 0.0, -0.9, -0.85, Beach},
		{"ice", 0.15, -0.9, -0.85, Ice},
		{"default", 0.15, -0.9, -0.95, Grassland},
	}
	for _, tc := range cases {
		if got := c.Classify(tc.h, tc.m, tc.t, 0, 0); got != tc.want {
			t.Fatalf("%s: got=%s want=%s", tc.name, got, tc.want)
		}
	}
}

func TestClassify_River(t *testing.T) {
	c := NewClassifier(fixedRiver(0.01), 0)
	if got := c.Classify(0.3, 0.5, 0, 4, 9); got != River {
		t.Fatalf("got=%s want=river", got)
	}
	// Too dry for a river.
	if got := c.Classify(0.3, 0.2, 0.7, 4, 9); got != Desert {
		t.Fatalf("got=%s want=desert", got)
	}
	// Oceans win over rivers.
	if got := c.Classify(-0.7, 0.9, 0, 4, 9); got != DeepOcean {
		t.Fatalf("got=%s want=deep_ocean", got)
	}
}

func TestClassify_Total(t *testing.T) {
	c := NewClassifier(fixedRiver(0.02), 128)
	for h := -1.0; h <= 1.0; h += 0.05 {
		for m := -1.0; m <= 1.0; m += 0.1 {
			for tt := -1.0; tt <= 1.0; tt += 0.1 {
				b := c.Classify(h, m, tt, 1, 2)
				if !b.Valid() {
					t.Fatalf("invalid biome for (%v,%v,%v)", h, m, tt)
				}
				if h < -0.5 && b != DeepOcean {
					t.Fatalf("h=%v gave %s", h, b)
				}
			}
		}
	}
}

type countingRiver struct{ calls int }

func (r *countingRiver) River(x, y float64) float64 {
	r.calls++
	return 1
}

func TestClassify_MemoRoundsAndIsBounded(t *testing.T) {
	r := &countingRiver{}
	c := NewClassifier(r, 4)
	a := c.Classify(0.30001, 0.1, 0.1, 3, 3)
	b := c.Classify(0.30004, 0.1, 0.1, 3, 3)
	if a != b || r.calls != 1 {
		t.Fatalf("expected memo hit: calls=%d", r.calls)
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 1 {
		t.Fatalf("hits=%d misses=%d", hits, misses)
	}
	for i := 0; i < 10; i++ {
		c.Classify(0.3, 0.1, 0.1, i, 100)
	}
	if c.Len() != 4 {
		t.Fatalf("memo len=%d want=4", c.Len())
	}
	c.Reset(r)
	if c.Len() != 0 {
		t.Fatalf("memo len after reset=%d", c.Len())
	}
}

func TestBiomeNamesAndColors(t *testing.T) {
	if len(All()) != 15 {
		t.Fatalf("biomes=%d want=15", len(All()))
	}
	for _, b := range All() {
		p, err := Parse(b.String())
		if err != nil || p != b {
			t.Fatalf("parse %s: %v", b, err)
		}
	}
	if got := Grassland.Color(); got != (HSL{100, 60, 40}) {
		t.Fatalf("grassland color=%v", got)
	}
	if got := (HSL{0, 0, 100}).Hex(); got != "#ffffff" {
		t.Fatalf("white hex=%s", got)
	}
	if got := (HSL{0, 100, 50}).Hex(); got != "#ff0000" {
		t.Fatalf("red hex=%s", got)
	}
}
