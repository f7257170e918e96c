package stream

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"terraflow.ai/internal/stream/pool"
	"terraflow.ai/internal/terrain/chunk"
	"terraflow.ai/internal/terrain/noise"
)

type recordingSink struct {
	mu      sync.Mutex
	ready   []chunk.Position
	evicted []chunk.Position
	worlds  []World
	readyAt []uint64
}

func (s *recordingSink) ChunkReady(epoch uint64, c *chunk.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = append(s.ready, c.Pos)
}

func (s *recordingSink) ChunkEvicted(epoch uint64, p chunk.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evicted = append(s.evicted, p)
}

func (s *recordingSink) WorldReady(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyAt = append(s.readyAt, epoch)
}

func (s *recordingSink) WorldReset(w World) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worlds = append(s.worlds, w)
}

type recordingRecorder struct {
	mu     sync.Mutex
	chunks []ChunkEvent
	worlds []WorldEvent
}

func (r *recordingRecorder) RecordWorld(e WorldEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.worlds = append(r.worlds, e)
}

func (r *recordingRecorder) RecordChunk(e ChunkEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, e)
}

func (r *recordingRecorder) statuses() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]int{}
	for _, e := range r.chunks {
		out[e.Status]++
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func startManager(t *testing.T, cfg Config, opts Options) (*Manager, context.CancelFunc) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	m, err := NewManager(cfg, "abc", noise.DefaultParams(), opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-m.Done()
	})
	return m, cancel
}

func managerStats(t *testing.T, m *Manager) Stats {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	return st
}

func TestManager_WorkerSaturation(t *testing.T) {
	var running, peak atomic.Int32
	gate := make(chan struct{})
	gens := func() pool.Generator {
		return pool.GeneratorFunc(func(req pool.Request) (*chunk.Chunk, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-gate
			running.Add(-1)
			return fakeChunk(req), nil
		})
	}
	sink := &recordingSink{}
	m, _ := startManager(t, Config{
		Settings: Settings{Dims: scenarioDims, Capacity: 100},
		Pool:     pool.Config{Workers: 2, MaxAttempts: 3},
	}, Options{Sink: sink, Generators: gens})

	ctx := context.Background()
	if err := m.SetViewport(ctx, Viewport{Width: 2500, Height: 500, Zoom: 1}); err != nil {
		t.Fatalf("SetViewport: %v", err)
	}
	waitFor(t, "two busy workers", func() bool {
		st := managerStats(t, m)
		return st.Pool.Busy == 2 && st.Pool.Queued == 3
	})
	close(gate)
	waitFor(t, "all chunks cached", func() bool { return managerStats(t, m).Cached == 5 })
	if p := peak.Load(); p > 2 {
		t.Fatalf("peak concurrency=%d want<=2", p)
	}
	st := managerStats(t, m)
	if st.Pending != 0 || st.Generated != 5 || !st.Ready {
		t.Fatalf("stats=%+v", st)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.ready) != 5 || len(sink.readyAt) != 1 {
		t.Fatalf("sink ready=%d world ready=%d", len(sink.ready), len(sink.readyAt))
	}
}

func TestManager_SeedChangeAndInvalidParams(t *testing.T) {
	sink := &recordingSink{}
	rec := &recordingRecorder{}
	m, _ := startManager(t, Config{
		Settings:  Settings{Dims: scenarioDims, Capacity: 100},
		Pool:      pool.Config{Workers: 4, MaxAttempts: 3},
		Backend:   noise.BackendSimplex,
		BiomeMemo: 1024,
	}, Options{Sink: sink, Recorder: rec})

	ctx := context.Background()
	_ = m.SetViewport(ctx, Viewport{Width: 1000, Height: 1000, Zoom: 1})
	waitFor(t, "first world cached", func() bool { return managerStats(t, m).Cached == 4 })

	tile, ok, err := m.TileAt(ctx, 10, 10)
	if err != nil || !ok || tile.X != 10 || tile.Y != 10 {
		t.Fatalf("TileAt: %+v ok=%v err=%v", tile, ok, err)
	}
	if _, ok, err := m.TileAt(ctx, 10000, 10000); err != nil || ok {
		t.Fatalf("expected absent tile, ok=%v err=%v", ok, err)
	}

	bad := noise.DefaultParams()
	bad.Octaves = 0
	w, err := m.SetWorld(ctx, "zzz", bad)
	if !errors.Is(err, noise.ErrInvalidParams) {
		t.Fatalf("err=%v want ErrInvalidParams", err)
	}
	if w.Seed != "abc" || w.Epoch != 1 {
		t.Fatalf("world changed on invalid params: %+v", w)
	}
	if managerStats(t, m).Cached != 4 {
		t.Fatalf("cache dropped on invalid params")
	}

	w, err = m.SetWorld(ctx, "b", noise.DefaultParams())
	if err != nil || w.Epoch != 2 || w.Seed != "b" {
		t.Fatalf("SetWorld: %+v err=%v", w, err)
	}
	waitFor(t, "second world cached", func() bool {
		st := managerStats(t, m)
		return st.Cached == 4 && st.Ready
	})
	snap, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	for p, c := range snap {
		if c.Seed != "b" {
			t.Fatalf("chunk %v from seed %q after reset", p, c.Seed)
		}
	}
	sink.mu.Lock()
	if len(sink.worlds) != 1 || len(sink.readyAt) != 2 || sink.readyAt[1] != 2 {
		t.Fatalf("sink worlds=%v ready=%v", sink.worlds, sink.readyAt)
	}
	sink.mu.Unlock()
	if st := rec.statuses(); st[ChunkOK] != 8 {
		t.Fatalf("recorded=%v", st)
	}
	rec.mu.Lock()
	if len(rec.worlds) != 2 {
		t.Fatalf("world events=%d want=2", len(rec.worlds))
	}
	rec.mu.Unlock()
}

func TestManager_FailingChunkNeverStuckPending(t *testing.T) {
	gens := func() pool.Generator {
		return pool.GeneratorFunc(func(req pool.Request) (*chunk.Chunk, error) {
			if req.Pos.X == 1 {
				panic("bad chunk")
			}
			return fakeChunk(req), nil
		})
	}
	rec := &recordingRecorder{}
	m, _ := startManager(t, Config{
		Settings: Settings{Dims: scenarioDims, Capacity: 100},
		Pool:     pool.Config{Workers: 2, MaxAttempts: 3},
	}, Options{Recorder: rec, Generators: gens})

	_ = m.SetViewport(context.Background(), Viewport{Width: 1000, Height: 500, Zoom: 1})
	waitFor(t, "failure settled", func() bool {
		st := managerStats(t, m)
		return st.Cached == 1 && st.Pending == 0 && st.Abandoned == 1
	})
	st := rec.statuses()
	if st[ChunkFailed] != 2 || st[ChunkAbandoned] != 1 || st[ChunkOK] != 1 {
		t.Fatalf("recorded=%v", st)
	}
	if ps := managerStats(t, m).Pool; ps.Replaced != 3 {
		t.Fatalf("replaced=%d want=3", ps.Replaced)
	}
}

func TestManager_StoppedReturnsErrClosed(t *testing.T) {
	m, cancel := startManager(t, Config{
		Settings: Settings{Dims: scenarioDims, Capacity: 4},
		Pool:     pool.Config{Workers: 1},
	}, Options{})
	cancel()
	<-m.Done()
	if err := m.SetViewport(context.Background(), Viewport{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("SetViewport err=%v", err)
	}
	if _, err := m.SetWorld(context.Background(), "x", noise.DefaultParams()); !errors.Is(err, ErrClosed) {
		t.Fatalf("SetWorld err=%v", err)
	}
}

func hangingGenerators(gate chan struct{}, hangAttempts int) func() pool.Generator {
	return func() pool.Generator {
		return pool.GeneratorFunc(func(req pool.Request) (*chunk.Chunk, error) {
			if req.Pos.X == 1 && req.Attempt < hangAttempts {
				<-gate
			}
			return fakeChunk(req), nil
		})
	}
}

func TestManager_HungWorkerRecordsTimeout(t *testing.T) {
	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	rec := &recordingRecorder{}
	m, _ := startManager(t, Config{
		Settings:  Settings{Dims: scenarioDims, Capacity: 100},
		Pool:      pool.Config{Workers: 2, Timeout: 50 * time.Millisecond, MaxAttempts: 3},
		ReapEvery: 10 * time.Millisecond,
	}, Options{Recorder: rec, Generators: hangingGenerators(gate, 1)})

	_ = m.SetViewport(context.Background(), Viewport{Width: 1000, Height: 500, Zoom: 1})
	waitFor(t, "retry after timeout", func() bool {
		st := managerStats(t, m)
		return st.Cached == 2 && st.Pending == 0
	})
	st := rec.statuses()
	if st[ChunkTimeout] != 1 || st[ChunkOK] != 2 || st[ChunkAbandoned] != 0 {
		t.Fatalf("recorded=%v", st)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, e := range rec.chunks {
		if e.Status != ChunkTimeout {
			continue
		}
		if e.CX != 1 || e.Attempt != 0 || e.Worker < 0 || e.ElapsedUS < 50000 || e.Error == "" {
			t.Fatalf("timeout event=%+v", e)
		}
	}
}

func TestManager_HungWorkerAbandonsAfterAttempts(t *testing.T) {
	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	rec := &recordingRecorder{}
	m, _ := startManager(t, Config{
		Settings:  Settings{Dims: scenarioDims, Capacity: 100},
		Pool:      pool.Config{Workers: 2, Timeout: 30 * time.Millisecond, MaxAttempts: 2},
		ReapEvery: 10 * time.Millisecond,
	}, Options{Recorder: rec, Generators: hangingGenerators(gate, 2)})

	_ = m.SetViewport(context.Background(), Viewport{Width: 1000, Height: 500, Zoom: 1})
	waitFor(t, "abandon after timeouts", func() bool {
		st := managerStats(t, m)
		return st.Cached == 1 && st.Pending == 0 && st.Abandoned == 1
	})
	st := rec.statuses()
	if st[ChunkTimeout] != 2 || st[ChunkAbandoned] != 1 || st[ChunkOK] != 1 {
		t.Fatalf("recorded=%v", st)
	}
	if ps := managerStats(t, m).Pool; ps.Timeouts != 2 {
		t.Fatalf("pool timeouts=%d want=2", ps.Timeouts)
	}
}
