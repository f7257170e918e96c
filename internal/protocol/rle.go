package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"terraflow.ai/internal/terrain/biome"
)

// EncodeBiomeRuns encodes a biome column as base64(varint pairs), the pairs
// being (biome id, run length) repeated. Chunks are mostly long runs of the
// same biome, so this is far smaller than one number per tile.
func EncodeBiomeRuns(ids []biome.Biome) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	for i := 0; i < len(ids); {
		b := ids[i]
		run := 1
		for j := i + 1; j < len(ids) && ids[j] == b; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(b))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeBiomeRuns reverses EncodeBiomeRuns. The result must hold exactly want
// tiles; longer streams are rejected before they are expanded.
func DecodeBiomeRuns(b64 string, want int) ([]biome.Biome, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	out := make([]biome.Biome, 0, want)
	for i := 0; i < len(raw); {
		id, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if id > 0xFF || !biome.Biome(id).Valid() {
			return nil, fmt.Errorf("unknown biome id %d", id)
		}
		if run == 0 || run > uint64(want-len(out)) {
			return nil, fmt.Errorf("run of %d overflows %d tiles", run, want)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, biome.Biome(id))
		}
	}
	if len(out) != want {
		return nil, fmt.Errorf("biome runs cover %d tiles, want %d", len(out), want)
	}
	return out, nil
}
