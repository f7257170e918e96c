package mathx

import (
	"math"
	"testing"
)

func TestFloorDivMod(t *testing.T) {
	cases := []struct{ a, b, q, m int }{
		{0, 50, 0, 0},
		{49, 50, 0, 49},
		{50, 50, 1, 0},
		{-1, 50, -1, 49},
		{-50, 50, -1, 0},
		{-51, 50, -2, 49},
	}
	for _, c := range cases {
		if got := FloorDiv(c.a, c.b); got != c.q {
			t.Fatalf("FloorDiv(%d,%d)=%d want=%d", c.a, c.b, got, c.q)
		}
		if got := Mod(c.a, c.b); got != c.m {
			t.Fatalf("Mod(%d,%d)=%d want=%d", c.a, c.b, got, c.m)
		}
	}
}

func TestClampInt(t *testing.T) {
	if got := ClampInt(0, 1, 10, 4); got != 4 {
		t.Fatalf("default: got=%d", got)
	}
	if got := ClampInt(-3, 1, 10, 4); got != 1 {
		t.Fatalf("min: got=%d", got)
	}
	if got := ClampInt(99, 1, 10, 4); got != 10 {
		t.Fatalf("max: got=%d", got)
	}
}

func TestQuantize(t *testing.T) {
	if Quantize(0.12341, 3) != Quantize(0.12349, 3) {
		t.Fatalf("expected same bucket")
	}
	if Quantize(0.1234, 3) == Quantize(0.1236, 3) {
		t.Fatalf("expected different buckets")
	}
	if IsFinite(math.NaN()) || IsFinite(math.Inf(1)) || !IsFinite(1) {
		t.Fatalf("IsFinite mismatch")
	}
}
