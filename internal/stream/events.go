package stream

import (
	"terraflow.ai/internal/terrain/chunk"
	"terraflow.ai/internal/terrain/noise"
)

// Sink receives streaming notifications from the Manager goroutine. Calls
// must not block.
type Sink interface {
	ChunkReady(epoch uint64, c *chunk.Chunk)
	ChunkEvicted(epoch uint64, pos chunk.Position)
	WorldReady(epoch uint64)
	WorldReset(w World)
}

// Recorder receives generation telemetry. Calls must not block.
type Recorder interface {
	RecordWorld(e WorldEvent)
	RecordChunk(e ChunkEvent)
}

type WorldEvent struct {
	Session string       `json:"session"`
	Epoch   uint64       `json:"epoch"`
	Seed    string       `json:"seed"`
	Params  noise.Params `json:"params"`
	AtMS    int64        `json:"at_ms"`
}

const (
	ChunkOK        = "ok"
	ChunkFailed    = "failed"
	ChunkTimeout   = "timeout"
	ChunkAbandoned = "abandoned"
	ChunkDiscarded = "discarded"
)

type ChunkEvent struct {
	Session   string `json:"session"`
	Epoch     uint64 `json:"epoch"`
	CX        int    `json:"cx"`
	CY        int    `json:"cy"`
	Status    string `json:"status"`
	Worker    int    `json:"worker"`
	Attempt   int    `json:"attempt"`
	ElapsedUS int64  `json:"elapsed_us"`
	Dominant  string `json:"dominant,omitempty"`
	Error     string `json:"error,omitempty"`
	AtMS      int64  `json:"at_ms"`
}

type nopSink struct{}

func (nopSink) ChunkReady(uint64, *chunk.Chunk)     {}
func (nopSink) ChunkEvicted(uint64, chunk.Position) {}
func (nopSink) WorldReady(uint64)                   {}
func (nopSink) WorldReset(World)                    {}

type nopRecorder struct{}

func (nopRecorder) RecordWorld(WorldEvent) {}
func (nopRecorder) RecordChunk(ChunkEvent) {}

// MultiRecorder fans events out to every non-nil recorder.
type MultiRecorder []Recorder

func (m MultiRecorder) RecordWorld(e WorldEvent) {
	for _, r := range m {
		if r != nil {
			r.RecordWorld(e)
		}
	}
}

func (m MultiRecorder) RecordChunk(e ChunkEvent) {
	for _, r := range m {
		if r != nil {
			r.RecordChunk(e)
		}
	}
}
