package biome

import (
	"terraflow.ai/internal/mathx"
	"terraflow.ai/internal/terrain/noise"
)

// RiverSampler provides the rivers channel at a world coordinate.
type RiverSampler interface {
	River(x, y float64) float64
}

type memoKey struct {
	h, m, t int64
	x, y    int
}

// Classifier maps channel values to a biome. It memoizes results in a
// bounded FIFO cache and is not safe for concurrent use.
type Classifier struct {
	river RiverSampler

	capacity int
	memo     map[memoKey]Biome
	ring     []memoKey
	next     int

	hits   uint64
	misses uint64
}

// NewClassifier returns a classifier. capacity <= 0 disables memoization;
// a nil river sampler disables the river test.
func NewClassifier(river RiverSampler, capacity int) *Classifier {
	c := &Classifier{river: river, capacity: capacity}
	if capacity > 0 {
		c.memo = make(map[memoKey]Biome, capacity)
		c.ring = make([]memoKey, 0, capacity)
	}
	return c
}

func (c *Classifier) Classify(h, m, t float64, x, y int) Biome {
	if c.capacity <= 0 {
		return c.classify(h, m, t, x, y)
	}
	k := memoKey{
		h: mathx.Quantize(h, 3),
		m: mathx.Quantize(m, 3),
		t: mathx.Quantize(t, 3),
		x: x,
		y: y,
	}
	if b, ok := c.memo[k]; ok {
		c.hits++
		return b
	}
	c.misses++
	b := c.classify(h, m, t, x, y)
	c.remember(k, b)
	return b
}

func (c *Classifier) remember(k memoKey, b Biome) {
	if len(c.ring) < c.capacity {
		c.ring = append(c.ring, k)
	} else {
		delete(c.memo, c.ring[c.next])
		c.ring[c.next] = k
		c.next = (c.next + 1) % c.capacity
	}
	c.memo[k] = b
}

func (c *Classifier) classify(h, m, t float64, x, y int) Biome {
	switch {
	case h < -0.5:
		return DeepOcean
	case h < -0.1:
		return ShallowOcean
	}
	if c.river != nil && noise.IsRiver(c.river.River(float64(x), float64(y)), m) {
		return River
	}
	if h > -0.1 && h < 0.1 && m > 0.6 {
		return Lake
	}
	for b := Biome(0); b < count; b++ {
		if b.IsWater() {
			continue
		}
		if presets[b].Matches(h, m, t) {
			return b
		}
	}
	return Grassland
}

// Reset drops memoized entries and swaps the river sampler, used when the seed changes.
func (c *Classifier) Reset(river RiverSampler) {
	c.river = river
	if c.capacity > 0 {
		clear(c.memo)
		c.ring = c.ring[:0]
		c.next = 0
	}
}

func (c *Classifier) Len() int { return len(c.memo) }

func (c *Classifier) Stats() (hits, misses uint64) { return c.hits, c.misses }
