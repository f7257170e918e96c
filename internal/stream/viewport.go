package stream

import (
	"math"
	"sort"

	"terraflow.ai/internal/mathx"
	"terraflow.ai/internal/terrain/chunk"
)

// Viewport is the camera state reported by a viewer. Offsets are world
// pixels; a positive offset moves the sampled window backward.
type Viewport struct {
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Zoom    float64 `json:"zoom"`
}

// Bounds returns the visible world pixel rectangle [minX,maxX) x [minY,maxY).
func (v Viewport) Bounds() (minX, minY, maxX, maxY float64) {
	zoom := v.Zoom
	if zoom <= 0 {
		zoom = 1
	}
	minX, minY = -v.OffsetX, -v.OffsetY
	return minX, minY, minX + v.Width/zoom, minY + v.Height/zoom
}

// Center returns the chunk-space coordinate of the viewport center.
func (v Viewport) Center(dims chunk.Dims) (float64, float64) {
	minX, minY, maxX, maxY := v.Bounds()
	f := float64(dims.Footprint())
	return (minX + maxX) / 2 / f, (minY + maxY) / 2 / f
}

const (
	// maxChunkIndex bounds chunk coordinates to the range float64 holds exactly.
	maxChunkIndex    = 1 << 52
	// maxVisibleChunks caps the padded visible set.
	maxVisibleChunks = 1 << 16
)

// VisibleChunks lists the chunks intersecting the viewport, grown by padding
// chunks on every side, nearest to the viewport center first. A viewport
// outside the addressable chunk range, or one covering more than
// maxVisibleChunks chunks, has no visible chunks.
func VisibleChunks(v Viewport, dims chunk.Dims, padding int) []chunk.Position {
	minX, minY, maxX, maxY := v.Bounds()
	x0, x1, okX := chunkSpan(minX, maxX, dims)
	y0, y1, okY := chunkSpan(minY, maxY, dims)
	if !okX || !okY {
		return nil
	}
	padding = mathx.ClampInt(padding, 0, maxVisibleChunks, 0)
	x0, y0 = x0-padding, y0-padding
	x1, y1 = x1+padding, y1+padding
	w, h := x1-x0+1, y1-y0+1
	if w > maxVisibleChunks || h > maxVisibleChunks || w*h > maxVisibleChunks {
		return nil
	}

	cx, cy := v.Center(dims)
	type item struct {
		p    chunk.Position
		dist float64
	}
	items := make([]item, 0, w*h)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			dx := float64(x) + 0.5 - cx
			dy := float64(y) + 0.5 - cy
			items = append(items, item{p: chunk.Position{X: x, Y: y}, dist: dx*dx + dy*dy})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].dist != items[j].dist {
			return items[i].dist < items[j].dist
		}
		if items[i].p.X != items[j].p.X {
			return items[i].p.X < items[j].p.X
		}
		return items[i].p.Y < items[j].p.Y
	})
	out := make([]chunk.Position, 0, len(items))
	for _, it := range items {
		out = append(out, it.p)
	}
	return out
}

// chunkSpan maps a pixel interval to the inclusive range of chunk indices it
// touches. ok is false when either end is not finite or lies beyond
// maxChunkIndex.
func chunkSpan(min, max float64, dims chunk.Dims) (first, last int, ok bool) {
	f := float64(dims.Footprint())
	lo, hi := math.Floor(min/f), math.Ceil(max/f)-1
	if !mathx.IsFinite(lo) || !mathx.IsFinite(hi) || math.Abs(lo) > maxChunkIndex || math.Abs(hi) > maxChunkIndex {
		return 0, 0, false
	}
	first, last = int(lo), int(hi)
	if last < first {
		last = first
	}
	return first, last, true
}

// Missing returns visible positions that are neither cached nor pending,
// keeping the visible order.
func Missing(visible []chunk.Position, cache *Cache, pending map[chunk.Position]struct{}) []chunk.Position {
	var out []chunk.Position
	for _, p := range visible {
		if cache.Has(p) {
			continue
		}
		if _, ok := pending[p]; ok {
			continue
		}
		out = append(out, p)
	}
	return out
}

func positionSet(ps []chunk.Position) map[chunk.Position]struct{} {
	out := make(map[chunk.Position]struct{}, len(ps))
	for _, p := range ps {
		out[p] = struct{}{}
	}
	return out
}

// ClampZoom keeps zoom inside [min, max]; non-positive zoom becomes 1.
func ClampZoom(zoom, min, max float64) float64 {
	if zoom <= 0 || !mathx.IsFinite(zoom) {
		zoom = 1
	}
	return mathx.ClampFloat(zoom, min, max)
}
