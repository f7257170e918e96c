package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"terraflow.ai/internal/stream/pool"
	"terraflow.ai/internal/terrain/chunk"
	"terraflow.ai/internal/terrain/noise"
)

var ErrClosed = errors.New("stream manager stopped")

const errWorkerTimeout = "worker timed out"

type Config struct {
	SessionID string

	Settings  Settings
	Pool      pool.Config
	Backend   noise.Backend
	BiomeMemo int

	// ReapEvery is the watchdog period for hung workers.
	ReapEvery time.Duration
}

type Options struct {
	Sink     Sink
	Recorder Recorder
	Logger   *log.Logger

	// Generators overrides the per-worker generator factory.
	Generators func() pool.Generator
}

type Stats struct {
	World     World      `json:"world"`
	Cached    int        `json:"cached"`
	Pending   int        `json:"pending"`
	Visible   int        `json:"visible"`
	Ready     bool       `json:"ready"`
	Generated uint64     `json:"generated"`
	Evicted   uint64     `json:"evicted"`
	Discarded uint64     `json:"discarded"`
	Failed    uint64     `json:"failed"`
	Abandoned uint64     `json:"abandoned"`
	Pool      pool.Stats `json:"pool"`
}

type worldReq struct {
	Seed   string
	Params noise.Params
	Resp   chan worldResp
}

type worldResp struct {
	World World
	Err   error
}

type tileReq struct {
	X, Y int
	Resp chan tileResp
}

type tileResp struct {
	Tile chunk.Tile
	OK   bool
}

type snapshotReq struct {
	Resp chan map[chunk.Position]*chunk.Chunk
}

type statsReq struct {
	Resp chan Stats
}

// Manager runs a Streamer and a worker pool on a single goroutine. All
// public methods talk to that goroutine over channels.
type Manager struct {
	cfg  Config
	sink Sink
	rec  Recorder
	log  *log.Logger
	gens func() pool.Generator

	viewport chan Viewport
	world    chan worldReq
	lookup   chan tileReq
	snapshot chan snapshotReq
	stats    chan statsReq
	exited   chan struct{}

	// Owned by Run.
	streamer *Streamer
	pool     *pool.Pool
	counters Stats
}

func NewManager(cfg Config, seed string, params noise.Params, opts Options) (*Manager, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Settings.Dims.Validate(); err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	if cfg.ReapEvery <= 0 {
		cfg.ReapEvery = time.Second
	}
	m := &Manager{
		cfg:      cfg,
		sink:     opts.Sink,
		rec:      opts.Recorder,
		log:      opts.Logger,
		gens:     opts.Generators,
		viewport: make(chan Viewport, 1),
		world:    make(chan worldReq, 4),
		lookup:   make(chan tileReq, 64),
		snapshot: make(chan snapshotReq, 4),
		stats:    make(chan statsReq, 4),
		exited:   make(chan struct{}),
		streamer: NewStreamer(cfg.Settings, seed, params),
	}
	if m.sink == nil {
		m.sink = nopSink{}
	}
	if m.rec == nil {
		m.rec = nopRecorder{}
	}
	if m.log == nil {
		m.log = log.Default()
	}
	if m.gens == nil {
		m.gens = pool.SynthFactory(cfg.Settings.Dims, cfg.Backend, cfg.BiomeMemo)
	}
	return m, nil
}

func (m *Manager) Run(ctx context.Context) error {
	defer close(m.exited)

	m.pool = pool.New(m.cfg.Pool, m.gens)
	defer m.pool.Close()

	ticker := time.NewTicker(m.cfg.ReapEvery)
	defer ticker.Stop()

	m.recordWorld()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v := <-m.viewport:
			m.apply(m.streamer.SetViewport(v))
		case req := <-m.world:
			req.Resp <- m.handleWorld(req)
		case req := <-m.lookup:
			t, ok := m.streamer.TileAt(req.X, req.Y)
			req.Resp <- tileResp{Tile: t, OK: ok}
		case req := <-m.snapshot:
			req.Resp <- m.streamer.Cache().Snapshot()
		case req := <-m.stats:
			req.Resp <- m.snapshotStats()
		case res := <-m.pool.Results():
			m.handleResult(res)
		case now := <-ticker.C:
			for _, to := range m.pool.Reap(now) {
				m.handleTimeout(to)
			}
		}
	}
}

func (m *Manager) apply(up Update) {
	epoch := m.streamer.World().Epoch
	for _, req := range up.Requests {
		m.pool.Dispatch(req)
	}
	if up.Inserted != nil {
		m.counters.Generated++
		m.sink.ChunkReady(epoch, up.Inserted)
	}
	for _, p := range up.Evicted {
		m.counters.Evicted++
		m.sink.ChunkEvicted(epoch, p)
	}
	if up.Ready {
		m.sink.WorldReady(epoch)
	}
}

func (m *Manager) handleWorld(req worldReq) worldResp {
	if err := req.Params.Validate(); err != nil {
		return worldResp{World: m.streamer.World(), Err: err}
	}
	m.pool.Reset()
	up := m.streamer.Reset(req.Seed, req.Params)
	w := m.streamer.World()
	m.sink.WorldReset(w)
	m.recordWorld()
	m.apply(up)
	return worldResp{World: w}
}

func (m *Manager) handleResult(res pool.Result) {
	out := m.pool.Complete(res)
	switch out {
	case pool.Stale:
		return
	case pool.Completed:
		up := m.streamer.Complete(res.Request, res.Chunk)
		if up.Inserted == nil {
			m.counters.Discarded++
			m.rec.RecordChunk(m.chunkEvent(res, ChunkDiscarded))
			return
		}
		ev := m.chunkEvent(res, ChunkOK)
		ev.Dominant = res.Chunk.Dominant().String()
		m.rec.RecordChunk(ev)
		m.apply(up)
	case pool.Retried:
		m.counters.Failed++
		m.log.Printf("session=%s chunk=%s attempt=%d failed, retrying: %v", m.cfg.SessionID, res.Pos, res.Attempt, res.Err)
		m.rec.RecordChunk(m.chunkEvent(res, ChunkFailed))
	case pool.Abandoned:
		m.counters.Failed++
		m.abandon(res.Request, errString(res.Err))
	}
}

func (m *Manager) handleTimeout(to pool.Timeout) {
	m.counters.Failed++
	m.rec.RecordChunk(ChunkEvent{
		Session:   m.cfg.SessionID,
		Epoch:     to.Epoch,
		CX:        to.Pos.X,
		CY:        to.Pos.Y,
		Status:    ChunkTimeout,
		Worker:    to.Worker,
		Attempt:   to.Attempt,
		ElapsedUS: to.Elapsed.Microseconds(),
		Error:     errWorkerTimeout,
		AtMS:      time.Now().UnixMilli(),
	})
	if to.Outcome == pool.Abandoned {
		m.abandon(to.Request, errWorkerTimeout)
		return
	}
	m.log.Printf("session=%s chunk=%s attempt=%d timed out on worker %d, retrying", m.cfg.SessionID, to.Pos, to.Attempt, to.Worker)
}

func (m *Manager) abandon(req pool.Request, reason string) {
	m.counters.Abandoned++
	m.streamer.Abandon(req)
	m.log.Printf("session=%s chunk=%s abandoned after %d attempts: %s", m.cfg.SessionID, req.Pos, req.Attempt+1, reason)
	m.rec.RecordChunk(ChunkEvent{
		Session: m.cfg.SessionID,
		Epoch:   req.Epoch,
		CX:      req.Pos.X,
		CY:      req.Pos.Y,
		Status:  ChunkAbandoned,
		Attempt: req.Attempt,
		Worker:  -1,
		Error:   reason,
		AtMS:    time.Now().UnixMilli(),
	})
}

func (m *Manager) chunkEvent(res pool.Result, status string) ChunkEvent {
	return ChunkEvent{
		Session:   m.cfg.SessionID,
		Epoch:     res.Epoch,
		CX:        res.Pos.X,
		CY:        res.Pos.Y,
		Status:    status,
		Worker:    res.Worker,
		Attempt:   res.Attempt,
		ElapsedUS: res.Elapsed.Microseconds(),
		Error:     errString(res.Err),
		AtMS:      time.Now().UnixMilli(),
	}
}

func (m *Manager) recordWorld() {
	w := m.streamer.World()
	m.rec.RecordWorld(WorldEvent{
		Session: m.cfg.SessionID,
		Epoch:   w.Epoch,
		Seed:    w.Seed,
		Params:  w.Params,
		AtMS:    time.Now().UnixMilli(),
	})
}

func (m *Manager) snapshotStats() Stats {
	s := m.counters
	s.World = m.streamer.World()
	s.Cached = m.streamer.Cache().Len()
	s.Pending = m.streamer.Pending()
	s.Visible = len(m.streamer.visible)
	s.Ready = m.streamer.IsReady()
	s.Pool = m.pool.Stats()
	return s
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// SetViewport replaces any viewport update the manager has not picked up yet.
func (m *Manager) SetViewport(ctx context.Context, v Viewport) error {
	for {
		select {
		case <-m.exited:
			return ErrClosed
		default:
		}
		select {
		case m.viewport <- v:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-m.exited:
			return ErrClosed
		default:
		}
		// Drop the stale update and retry.
		select {
		case <-m.viewport:
		default:
		}
	}
}

// SetWorld switches seed and params. Invalid params are rejected and the
// current world stays in effect.
func (m *Manager) SetWorld(ctx context.Context, seed string, params noise.Params) (World, error) {
	req := worldReq{Seed: seed, Params: params, Resp: make(chan worldResp, 1)}
	select {
	case m.world <- req:
	case <-ctx.Done():
		return World{}, ctx.Err()
	case <-m.exited:
		return World{}, ErrClosed
	}
	select {
	case resp := <-req.Resp:
		return resp.World, resp.Err
	case <-ctx.Done():
		return World{}, ctx.Err()
	case <-m.exited:
		return World{}, ErrClosed
	}
}

// TileAt looks up a cached tile. A tile whose chunk is not resident is reported as absent.
func (m *Manager) TileAt(ctx context.Context, x, y int) (chunk.Tile, bool, error) {
	req := tileReq{X: x, Y: y, Resp: make(chan tileResp, 1)}
	select {
	case m.lookup <- req:
	case <-ctx.Done():
		return chunk.Tile{}, false, ctx.Err()
	case <-m.exited:
		return chunk.Tile{}, false, ErrClosed
	}
	select {
	case resp := <-req.Resp:
		return resp.Tile, resp.OK, nil
	case <-ctx.Done():
		return chunk.Tile{}, false, ctx.Err()
	case <-m.exited:
		return chunk.Tile{}, false, ErrClosed
	}
}

// Snapshot returns a read-only view of the cache.
func (m *Manager) Snapshot(ctx context.Context) (map[chunk.Position]*chunk.Chunk, error) {
	req := snapshotReq{Resp: make(chan map[chunk.Position]*chunk.Chunk, 1)}
	select {
	case m.snapshot <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.exited:
		return nil, ErrClosed
	}
	select {
	case out := <-req.Resp:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.exited:
		return nil, ErrClosed
	}
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	req := statsReq{Resp: make(chan Stats, 1)}
	select {
	case m.stats <- req:
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-m.exited:
		return Stats{}, ErrClosed
	}
	select {
	case s := <-req.Resp:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-m.exited:
		return Stats{}, ErrClosed
	}
}

// Done is closed once Run returned.
func (m *Manager) Done() <-chan struct{} { return m.exited }
