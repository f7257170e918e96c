package chunk

// QualityScale picks the tile grouping factor for a zoom level.
func QualityScale(zoom float64) int {
	switch {
	case zoom < 0.7:
		return 5
	case zoom < 1.4:
		return 3
	case zoom < 2.0:
		return 2
	default:
		return 1
	}
}

// Downsample merges scale x scale tile groups into one tile each. Values are
// averaged; position and biome come from the group's top-left tile.
// Edge groups may be smaller when scale does not divide the chunk size.
func Downsample(c *Chunk, scale int) []Tile {
	if c == nil {
		return nil
	}
	if scale <= 1 {
		out := make([]Tile, len(c.Tiles))
		copy(out, c.Tiles)
		return out
	}
	var out []Tile
	for gy := 0; gy < c.Size; gy += scale {
		for gx := 0; gx < c.Size; gx += scale {
			out = append(out, group(c, gx, gy, scale))
		}
	}
	return out
}

func group(c *Chunk, gx, gy, scale int) Tile {
	out := c.Tiles[gy*c.Size+gx]
	var (
		sum [3]float64
		n   int
	)
	for y := gy; y < gy+scale && y < c.Size; y++ {
		for x := gx; x < gx+scale && x < c.Size; x++ {
			t := c.Tiles[y*c.Size+x]
			for i := range sum {
				sum[i] += t.Values[i]
			}
			n++
		}
	}
	out.W *= scale
	out.H *= scale
	for i := range sum {
		out.Values[i] = sum[i] / float64(n)
	}
	return out
}
