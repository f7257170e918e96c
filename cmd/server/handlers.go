package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"terraflow.ai/internal/protocol"
	"terraflow.ai/internal/stream"
	"terraflow.ai/internal/terrain/biome"
	"terraflow.ai/internal/terrain/chunk"
	"terraflow.ai/internal/terrain/noise"
	"terraflow.ai/internal/transport/viewer"
	"terraflow.ai/internal/tuning"
)

// app holds what the HTTP handlers share.
type app struct {
	cfg    tuning.Tuning
	log    *log.Logger
	viewer *viewer.Server
	idx    runtimeIndex
	genLog interface {
		Errors() uint64
		Dropped() uint64
	}

	// Synthesizers are not safe for concurrent use; handlers borrow one each.
	synths sync.Pool
}

func newApp(cfg tuning.Tuning, logger *log.Logger, vs *viewer.Server, idx runtimeIndex) *app {
	a := &app{cfg: cfg, log: logger, viewer: vs, idx: idx}
	dims, backend, memo := cfg.Dims(), cfg.Backend(), cfg.Streaming.BiomeMemoSize
	a.synths.New = func() any { return chunk.NewSynthesizer(dims, backend, memo) }
	return a
}

func (a *app) routes(enablePprof bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	r.Get("/metrics", a.handleMetrics)
	if a.viewer != nil {
		r.Get("/v1/ws", a.viewer.WSHandler())
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/chunks/{cx}/{cy}", a.handleChunk)
		r.Get("/tiles/{x}/{y}", a.handleTile)
		r.Get("/biomes", a.handleBiomes)
		r.Get("/sessions/{id}", a.handleSession)
	})

	if enablePprof {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return r
}

func (a *app) world(r *http.Request) (string, noise.Params) {
	seed := a.cfg.World.Seed
	if s := r.URL.Query().Get("seed"); s != "" {
		seed = s
	}
	return seed, a.cfg.Generation
}

type chunkResponse struct {
	Chunk    protocol.ChunkPayload `json:"chunk"`
	Seed     string                `json:"seed"`
	Dominant string                `json:"dominant"`
	Scale    int                   `json:"scale"`
	LOD      []protocol.TileInfo   `json:"lod,omitempty"`
}

func (a *app) handleChunk(rw http.ResponseWriter, r *http.Request) {
	cx, errX := strconv.Atoi(chi.URLParam(r, "cx"))
	cy, errY := strconv.Atoi(chi.URLParam(r, "cy"))
	if errX != nil || errY != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, "chunk coordinates must be integers")
		return
	}
	scale := 1
	if z := r.URL.Query().Get("zoom"); z != "" {
		zoom, err := strconv.ParseFloat(z, 64)
		if err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, "bad zoom")
			return
		}
		scale = chunk.QualityScale(stream.ClampZoom(zoom, a.cfg.Viewer.MinZoom, a.cfg.Viewer.MaxZoom))
	}

	seed, params := a.world(r)
	s := a.synths.Get().(*chunk.Synthesizer)
	c, err := s.SynthesizeAt(chunk.Position{X: cx, Y: cy}, seed, params)
	a.synths.Put(s)
	if err != nil {
		a.log.Printf("http chunk %d,%d: %v", cx, cy, err)
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}

	resp := chunkResponse{
		Chunk:    protocol.PayloadFor(c, a.cfg.World.TileSize),
		Seed:     seed,
		Dominant: c.Dominant().String(),
		Scale:    scale,
	}
	if scale > 1 {
		for _, t := range chunk.Downsample(c, scale) {
			resp.LOD = append(resp.LOD, protocol.TileInfoFor(t))
		}
	}
	writeJSON(rw, resp)
}

func (a *app) handleTile(rw http.ResponseWriter, r *http.Request) {
	x, errX := strconv.Atoi(chi.URLParam(r, "x"))
	y, errY := strconv.Atoi(chi.URLParam(r, "y"))
	if errX != nil || errY != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, "tile coordinates must be integers")
		return
	}
	seed, params := a.world(r)
	s := a.synths.Get().(*chunk.Synthesizer)
	t, err := s.TileAt(x, y, seed, params)
	a.synths.Put(s)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	pos := chunk.Containing(x, y, a.cfg.World.ChunkSize)
	writeJSON(rw, struct {
		protocol.TileInfo
		CX   int    `json:"cx"`
		CY   int    `json:"cy"`
		Seed string `json:"seed"`
	}{protocol.TileInfoFor(t), pos.X, pos.Y, seed})
}

type biomeInfo struct {
	Name  string     `json:"name"`
	ID    int        `json:"id"`
	Water bool       `json:"water"`
	Color biome.HSL  `json:"color"`
	Hex   string     `json:"hex"`
	Rule  *ruleBound `json:"rule,omitempty"`
}

type ruleBound struct {
	MinHeight   float64  `json:"min_height"`
	MaxHeight   *float64 `json:"max_height,omitempty"`
	MinMoisture float64  `json:"min_moisture"`
	MinHeat     float64  `json:"min_heat"`
}

func (a *app) handleBiomes(rw http.ResponseWriter, r *http.Request) {
	var out []biomeInfo
	for _, b := range biome.All() {
		bi := biomeInfo{Name: b.String(), ID: int(b), Water: b.IsWater(), Color: b.Color(), Hex: b.Color().Hex()}
		if p, ok := biome.PresetFor(b); ok {
			bi.Rule = &ruleBound{MinHeight: p.MinHeight, MaxHeight: p.MaxHeight, MinMoisture: p.MinMoisture, MinHeat: p.MinHeat}
		}
		out = append(out, bi)
	}
	writeJSON(rw, out)
}

func (a *app) handleSession(rw http.ResponseWriter, r *http.Request) {
	if a.idx == nil {
		writeError(rw, http.StatusNotFound, protocol.ErrProtoBadRequest, "index disabled")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := a.idx.Flush(ctx); err != nil {
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrInternal, err.Error())
		return
	}
	sum, ok, err := a.idx.Session(ctx, chi.URLParam(r, "id"))
	switch {
	case err != nil:
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
	case !ok:
		writeError(rw, http.StatusNotFound, protocol.ErrProtoBadRequest, "unknown session")
	default:
		writeJSON(rw, sum)
	}
}

func (a *app) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	// Minimal Prometheus exposition format.
	if a.viewer != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		s := a.viewer.Stats(ctx)
		cancel()

		fmt.Fprintf(rw, "# HELP terraflow_viewer_sessions Current number of viewer sessions.\n")
		fmt.Fprintf(rw, "# TYPE terraflow_viewer_sessions gauge\n")
		fmt.Fprintf(rw, "terraflow_viewer_sessions %d\n", s.Active)

		fmt.Fprintf(rw, "# HELP terraflow_viewer_sessions_total Viewer sessions accepted.\n")
		fmt.Fprintf(rw, "# TYPE terraflow_viewer_sessions_total counter\n")
		fmt.Fprintf(rw, "terraflow_viewer_sessions_total %d\n", s.Total)

		fmt.Fprintf(rw, "# HELP terraflow_viewer_rejected_total Viewer sessions rejected because the server was full.\n")
		fmt.Fprintf(rw, "# TYPE terraflow_viewer_rejected_total counter\n")
		fmt.Fprintf(rw, "terraflow_viewer_rejected_total %d\n", s.Rejected)

		fmt.Fprintf(rw, "# HELP terraflow_viewer_slow_closed_total Viewer sessions closed because their out buffer filled.\n")
		fmt.Fprintf(rw, "# TYPE terraflow_viewer_slow_closed_total counter\n")
		fmt.Fprintf(rw, "terraflow_viewer_slow_closed_total %d\n", s.SlowClosed)

		fmt.Fprintf(rw, "# HELP terraflow_viewer_messages_total Viewer messages by outcome.\n")
		fmt.Fprintf(rw, "# TYPE terraflow_viewer_messages_total counter\n")
		fmt.Fprintf(rw, "terraflow_viewer_messages_total{outcome=%q} %d\n", "sent", s.Sent)
		fmt.Fprintf(rw, "terraflow_viewer_messages_total{outcome=%q} %d\n", "dropped", s.Dropped)
		fmt.Fprintf(rw, "terraflow_viewer_messages_total{outcome=%q} %d\n", "rejected", s.BadMessages)
		fmt.Fprintf(rw, "terraflow_viewer_messages_total{outcome=%q} %d\n", "tile_query", s.TileQueries)

		fmt.Fprintf(rw, "# HELP terraflow_chunks_total Chunk generation outcomes across live sessions.\n")
		fmt.Fprintf(rw, "# TYPE terraflow_chunks_total counter\n")
		fmt.Fprintf(rw, "terraflow_chunks_total{outcome=%q} %d\n", "generated", s.Generated)
		fmt.Fprintf(rw, "terraflow_chunks_total{outcome=%q} %d\n", "evicted", s.Evicted)
		fmt.Fprintf(rw, "terraflow_chunks_total{outcome=%q} %d\n", "failed", s.Failed)
		fmt.Fprintf(rw, "terraflow_chunks_total{outcome=%q} %d\n", "abandoned", s.Abandoned)

		fmt.Fprintf(rw, "# HELP terraflow_chunks Chunk state across live sessions.\n")
		fmt.Fprintf(rw, "# TYPE terraflow_chunks gauge\n")
		fmt.Fprintf(rw, "terraflow_chunks{state=%q} %d\n", "cached", s.Cached)
		fmt.Fprintf(rw, "terraflow_chunks{state=%q} %d\n", "pending", s.Pending)

		fmt.Fprintf(rw, "# HELP terraflow_worker_queue_depth Generation requests waiting for a worker.\n")
		fmt.Fprintf(rw, "# TYPE terraflow_worker_queue_depth gauge\n")
		fmt.Fprintf(rw, "terraflow_worker_queue_depth %d\n", s.Queued)

		fmt.Fprintf(rw, "# HELP terraflow_workers_busy Workers currently generating.\n")
		fmt.Fprintf(rw, "# TYPE terraflow_workers_busy gauge\n")
		fmt.Fprintf(rw, "terraflow_workers_busy %d\n", s.Busy)
	}

	if a.idx != nil {
		s := a.idx.Stats()
		fmt.Fprintf(rw, "# HELP terraflow_index_queue_depth Current index write queue depth.\n")
		fmt.Fprintf(rw, "# TYPE terraflow_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "terraflow_index_queue_depth %d\n", s.QueueDepth)

		fmt.Fprintf(rw, "# HELP terraflow_index_queue_capacity Index write queue capacity.\n")
		fmt.Fprintf(rw, "# TYPE terraflow_index_queue_capacity gauge\n")
		fmt.Fprintf(rw, "terraflow_index_queue_capacity %d\n", s.QueueCapacity)

		fmt.Fprintf(rw, "# HELP terraflow_index_dropped_total Index events dropped because the queue was full.\n")
		fmt.Fprintf(rw, "# TYPE terraflow_index_dropped_total counter\n")
		fmt.Fprintf(rw, "terraflow_index_dropped_total{kind=%q} %d\n", "world", s.DropWorldTotal)
		fmt.Fprintf(rw, "terraflow_index_dropped_total{kind=%q} %d\n", "chunk", s.DropChunkTotal)
		fmt.Fprintf(rw, "terraflow_index_dropped_total{kind=%q} %d\n", "session", s.DropSessionTotal)

		fmt.Fprintf(rw, "# HELP terraflow_index_write_errors_total Failed index writes.\n")
		fmt.Fprintf(rw, "# TYPE terraflow_index_write_errors_total counter\n")
		fmt.Fprintf(rw, "terraflow_index_write_errors_total %d\n", s.WriteErrorTotal)
	}

	if a.genLog != nil {
		fmt.Fprintf(rw, "# HELP terraflow_event_log_errors_total Generation log entries that could not be written.\n")
		fmt.Fprintf(rw, "# TYPE terraflow_event_log_errors_total counter\n")
		fmt.Fprintf(rw, "terraflow_event_log_errors_total %d\n", a.genLog.Errors())

		fmt.Fprintf(rw, "# HELP terraflow_event_log_dropped_total Generation log entries dropped because the queue was full.\n")
		fmt.Fprintf(rw, "# TYPE terraflow_event_log_dropped_total counter\n")
		fmt.Fprintf(rw, "terraflow_event_log_dropped_total %d\n", a.genLog.Dropped())
	}
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(protocol.NewError(code, msg))
}
