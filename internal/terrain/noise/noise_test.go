package noise

import (
	"errors"
	"math"
	"testing"
)

type constSource float64

func (c constSource) Eval2(x, y float64) float64 { return float64(c) }

type recordSource struct{ xs, ys []float64 }

func (r *recordSource) Eval2(x, y float64) float64 {
	r.xs = append(r.xs, x)
	r.ys = append(r.ys, y)
	return 0
}

func TestFBm_AmplitudeAndFrequency(t *testing.T) {
	p := Params{Octaves: 3, Persistence: 0.5, Scale: 0.1, Amplitude: 2, Frequency: 1}
	got := FBm(constSource(1), 5, 7, p)
	if want := 2 + 1 + 0.5; math.Abs(got-want) > 1e-12 {
		t.Fatalf("fbm=%v want=%v", got, want)
	}

	rec := &recordSource{}
	FBm(rec, 10, 20, p)
	if len(rec.xs) != 3 {
		t.Fatalf("octaves sampled=%d want=3", len(rec.xs))
	}
	wantX := []float64{1, 2, 4}
	wantY := []float64{2, 4, 8}
	for i := range wantX {
		if math.Abs(rec.xs[i]-wantX[i]) > 1e-12 || math.Abs(rec.ys[i]-wantY[i]) > 1e-12 {
			t.Fatalf("octave %d sampled (%v,%v) want (%v,%v)", i, rec.xs[i], rec.ys[i], wantX[i], wantY[i])
		}
	}
}

func TestFBm_NoClamp(t *testing.T) {
	p := Params{Octaves: 4, Persistence: 1, Scale: 1, Amplitude: 1, Frequency: 1}
	if got := FBm(constSource(1), 0, 0, p); got != 4 {
		t.Fatalf("fbm=%v want=4", got)
	}
}

func TestDeriveChannel_Deterministic(t *testing.T) {
	for _, b := range []Backend{BackendSimplex, BackendPerlin} {
		a1, err := DeriveChannel(b, "abc", ChannelHeight)
		if err != nil {
			t.Fatalf("%s: %v", b, err)
		}
		a2, _ := DeriveChannel(b, "abc", ChannelHeight)
		for i := 0; i < 50; i++ {
			x, y := float64(i)*0.37+0.11, float64(i)*-0.53+0.29
			if a1.Eval2(x, y) != a2.Eval2(x, y) {
				t.Fatalf("%s: not deterministic at (%v,%v)", b, x, y)
			}
		}
	}
}

func TestDeriveChannel_ChannelsIndependent(t *testing.T) {
	if SeedFor("abc", ChannelHeight) == SeedFor("abc", ChannelMoisture) {
		t.Fatalf("channel seeds collide")
	}
	if SeedFor("abc", ChannelHeight) == SeedFor("abd", ChannelHeight) {
		t.Fatalf("world seeds collide")
	}
	h, _ := DeriveChannel(BackendSimplex, "abc", ChannelHeight)
	m, _ := DeriveChannel(BackendSimplex, "abc", ChannelMoisture)
	same := 0
	for i := 0; i < 32; i++ {
		x, y := float64(i)*0.7+0.3, float64(i)*0.2+0.9
		if h.Eval2(x, y) == m.Eval2(x, y) {
			same++
		}
	}
	if same == 32 {
		t.Fatalf("height and moisture channels are identical")
	}
}

func TestDeriveChannel_UnknownBackend(t *testing.T) {
	if _, err := DeriveChannel("worley", "abc", ChannelHeat); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("err=%v want ErrUnknownBackend", err)
	}
	if _, err := ParseBackend("Perlin"); err != nil {
		t.Fatalf("ParseBackend: %v", err)
	}
	if b, _ := ParseBackend(""); b != BackendSimplex {
		t.Fatalf("default backend=%q", b)
	}
}

func TestParamsValidate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	bad := []Params{
		{Octaves: 0, Persistence: 0.5, Scale: 0.005, Amplitude: 1, Frequency: 1},
		{Octaves: 8, Persistence: math.NaN(), Scale: 0.005, Amplitude: 1, Frequency: 1},
		{Octaves: 8, Persistence: 0.5, Scale: math.Inf(1), Amplitude: 1, Frequency: 1},
		{Octaves: 8, Persistence: 0.5, Scale: 0, Amplitude: 1, Frequency: 1},
		{Octaves: 8, Persistence: 0.5, Scale: 0.005, Amplitude: math.Inf(-1), Frequency: 1},
		{Octaves: 8, Persistence: 0.5, Scale: 0.005, Amplitude: 1, Frequency: 0},
		{Octaves: MaxOctaves + 1, Persistence: 0.5, Scale: 0.005, Amplitude: 1, Frequency: 1},
	}
	for i, p := range bad {
		if err := p.Validate(); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("case %d: err=%v want ErrInvalidParams", i, err)
		}
	}
}

func TestField_SampleDeterministic(t *testing.T) {
	f1, err := NewField("seed", BackendSimplex)
	if err != nil {
		t.Fatalf("NewField: %v", err)
	}
	f2, _ := NewField("seed", BackendSimplex)
	p := DefaultParams()
	for i := -20; i < 20; i++ {
		x, y := float64(i*13), float64(i*-7)
		if f1.Sample(x, y, p) != f2.Sample(x, y, p) {
			t.Fatalf("sample mismatch at (%v,%v)", x, y)
		}
		if f1.River(x, y) != f2.River(x, y) {
			t.Fatalf("river mismatch at (%v,%v)", x, y)
		}
	}
}

func TestIsRiver(t *testing.T) {
	if !IsRiver(0.01, 0.5) || !IsRiver(-0.049, 0.31) {
		t.Fatalf("expected river")
	}
	if IsRiver(0.05, 0.5) || IsRiver(0.01, 0.3) {
		t.Fatalf("expected no river")
	}
}
