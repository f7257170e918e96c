package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"terraflow.ai/internal/protocol"
	"terraflow.ai/internal/stream"
	"terraflow.ai/internal/stream/pool"
	"terraflow.ai/internal/terrain/noise"
	"terraflow.ai/internal/tuning"
)

// SessionHook is told when viewer sessions start and end.
type SessionHook interface {
	SessionStarted(id, viewer string, at time.Time)
	SessionEnded(id string, at time.Time)
}

type Options struct {
	Recorder stream.Recorder
	Sessions SessionHook
	// LoopbackOnly rejects non-loopback peers.
	LoopbackOnly bool
}

var errSlowViewer = errors.New("viewer too slow")

type Server struct {
	cfg  tuning.Tuning
	log  *log.Logger
	opts Options

	validator *protocol.Validator
	upgrader  websocket.Upgrader

	active     atomic.Int64
	total      atomic.Uint64
	rejected   atomic.Uint64
	badMsgs    atomic.Uint64
	sent       atomic.Uint64
	dropped    atomic.Uint64
	slowClosed atomic.Uint64
	tileQuery  atomic.Uint64

	mu       sync.Mutex
	sessions map[string]*session
}

func NewServer(cfg tuning.Tuning, logger *log.Logger, opts Options) (*Server, error) {
	v, err := protocol.NewValidator()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		cfg:       cfg,
		log:       logger,
		opts:      opts,
		validator: v,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: map[string]*session{},
	}, nil
}

type Stats struct {
	Active      int64  `json:"active"`
	Total       uint64 `json:"total"`
	Rejected    uint64 `json:"rejected"`
	BadMessages uint64 `json:"bad_messages"`
	Sent        uint64 `json:"sent"`
	Dropped     uint64 `json:"dropped"`
	SlowClosed  uint64 `json:"slow_closed"`
	TileQueries uint64 `json:"tile_queries"`

	// Summed over live sessions.
	Generated uint64 `json:"generated"`
	Evicted   uint64 `json:"evicted"`
	Failed    uint64 `json:"failed"`
	Abandoned uint64 `json:"abandoned"`
	Cached    int    `json:"cached"`
	Pending   int    `json:"pending"`
	Queued    int    `json:"queued"`
	Busy      int    `json:"busy"`
}

// Stats reports transport counters plus the streaming state of every live
// session. Sessions that do not answer before ctx ends are skipped.
func (s *Server) Stats(ctx context.Context) Stats {
	out := Stats{
		Active:      s.active.Load(),
		Total:       s.total.Load(),
		Rejected:    s.rejected.Load(),
		BadMessages: s.badMsgs.Load(),
		Sent:        s.sent.Load(),
		Dropped:     s.dropped.Load(),
		SlowClosed:  s.slowClosed.Load(),
		TileQueries: s.tileQuery.Load(),
	}
	s.mu.Lock()
	mgrs := make([]*stream.Manager, 0, len(s.sessions))
	for _, sess := range s.sessions {
		mgrs = append(mgrs, sess.mgr)
	}
	s.mu.Unlock()

	for _, m := range mgrs {
		st, err := m.Stats(ctx)
		if err != nil {
			continue
		}
		out.Generated += st.Generated
		out.Evicted += st.Evicted
		out.Failed += st.Failed
		out.Abandoned += st.Abandoned
		out.Cached += st.Cached
		out.Pending += st.Pending
		out.Queued += st.Pool.Queued
		out.Busy += st.Pool.Busy
	}
	return out
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.opts.LoopbackOnly && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if n := s.active.Add(1); n > int64(s.cfg.Viewer.MaxSessions) {
			s.active.Add(-1)
			s.rejected.Add(1)
			_ = writeJSON(conn, protocol.NewError(protocol.ErrBusy, "too many viewer sessions"))
			closeWith(conn, websocket.CloseTryAgainLater, "server busy")
			return
		}
		defer s.active.Add(-1)

		hello, ok := s.handshake(conn)
		if !ok {
			return
		}
		s.serve(conn, hello)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (protocol.HelloMsg, bool) {
	var hello protocol.HelloMsg

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return hello, false
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return hello, false
	}
	if base.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return hello, false
	}
	if err := s.validator.Validate(protocol.TypeHello, msg); err != nil {
		code := protocol.ErrProtoBadRequest
		if strings.Contains(err.Error(), "params") {
			code = protocol.ErrBadParams
		}
		_ = writeJSON(conn, protocol.NewError(code, err.Error()))
		closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return hello, false
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return hello, false
	}
	if hello.Params != nil {
		if err := hello.Params.Validate(); err != nil {
			_ = writeJSON(conn, protocol.NewError(protocol.ErrBadParams, err.Error()))
			closeWith(conn, websocket.ClosePolicyViolation, "bad params")
			return hello, false
		}
	}
	if hello.ViewerName == "" {
		hello.ViewerName = "viewer"
	}
	return hello, true
}

func (s *Server) serve(conn *websocket.Conn, hello protocol.HelloMsg) {
	seed := s.cfg.World.Seed
	if hello.Seed != nil {
		seed = *hello.Seed
	}
	params := s.cfg.Generation
	if hello.Params != nil {
		params = *hello.Params
	}
	compress := s.cfg.Viewer.CompressChunks
	if hello.Compress != nil {
		compress = *hello.Compress
	}

	sess := newSession(s, uuid.NewString(), s.cfg.Viewer.OutBuffer, compress)
	mgr, err := stream.NewManager(stream.Config{
		SessionID: sess.id,
		Settings: stream.Settings{
			Dims:     s.cfg.Dims(),
			Padding:  s.cfg.Streaming.ViewportPadding,
			Capacity: s.cfg.Streaming.ChunkCacheSize,
		},
		Pool: pool.Config{
			Workers:     s.cfg.Workers.Count,
			Timeout:     s.cfg.WorkerTimeout(),
			MaxAttempts: s.cfg.Workers.MaxAttempts,
		},
		Backend:   s.cfg.Backend(),
		BiomeMemo: s.cfg.Streaming.BiomeMemoSize,
		ReapEvery: s.cfg.ReapEvery(),
	}, seed, params, stream.Options{
		Sink:     sess,
		Recorder: s.opts.Recorder,
		Logger:   s.log,
	})
	if err != nil {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrInternal, err.Error()))
		closeWith(conn, websocket.CloseInternalServerErr, "session setup failed")
		return
	}
	sess.mgr = mgr

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		World:           s.worldInfo(stream.World{Seed: seed, Params: params, Epoch: 1}),
		Limits: protocol.Limits{
			MinZoom:         s.cfg.Viewer.MinZoom,
			MaxZoom:         s.cfg.Viewer.MaxZoom,
			ViewportPadding: s.cfg.Streaming.ViewportPadding,
			ChunkCacheSize:  s.cfg.Streaming.ChunkCacheSize,
			Workers:         s.cfg.Workers.Count,
			ViewportRateHz:  s.cfg.Viewer.ViewportRateHz,
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return
	}

	s.total.Add(1)
	s.register(sess)
	defer s.unregister(sess)
	s.log.Printf("viewer session=%s name=%q seed=%q joined", sess.id, hello.ViewerName, seed)
	if s.opts.Sessions != nil {
		s.opts.Sessions.SessionStarted(sess.id, hello.ViewerName, time.Now())
		defer func() { s.opts.Sessions.SessionEnded(sess.id, time.Now()) }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Printf("viewer session=%s stream manager: %v", sess.id, err)
		}
	}()

	// Writer goroutine.
	writeErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				writeErr <- ctx.Err()
				return
			case <-sess.slow:
				closeWith(conn, websocket.CloseTryAgainLater, "viewer too slow")
				cancel()
				// Unblock the reader.
				_ = conn.Close()
				writeErr <- errSlowViewer
				return
			case b := <-sess.out:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					writeErr <- err
					return
				}
				s.sent.Add(1)
			}
		}
	}()

	// Viewport forwarder: latest update wins, at most ViewportRateHz per second.
	views := make(chan stream.Viewport, 1)
	go s.forwardViewports(ctx, mgr, views)
	if hello.Viewport != nil {
		offerViewport(views, s.viewportFrom(*hello.Viewport))
	}

	r := reader{
		srv:   s,
		sess:  sess,
		views: views,
		seed:  seed,
		par:   params,
		tiles: rate.NewLimiter(rate.Limit(s.cfg.Viewer.ViewportRateHz), s.cfg.Viewer.ViewportBurst*4),
	}
	r.loop(ctx, conn)

	cancel()
	closeWith(conn, websocket.CloseNormalClosure, "bye")

	// Best-effort wait for the writer and the manager so they don't outlive conn.
	select {
	case <-writeErr:
	case <-time.After(500 * time.Millisecond):
	}
	select {
	case <-mgr.Done():
	case <-time.After(time.Second):
	}
	s.log.Printf("viewer session=%s left", sess.id)
}

func (s *Server) forwardViewports(ctx context.Context, mgr *stream.Manager, views chan stream.Viewport) {
	lim := rate.NewLimiter(rate.Limit(s.cfg.Viewer.ViewportRateHz), s.cfg.Viewer.ViewportBurst)
	for {
		var v stream.Viewport
		select {
		case <-ctx.Done():
			return
		case v = <-views:
		}
		if err := lim.Wait(ctx); err != nil {
			return
		}
		// Anything that arrived while throttled supersedes v.
		select {
		case v = <-views:
		default:
		}
		if err := mgr.SetViewport(ctx, v); err != nil {
			return
		}
	}
}

func offerViewport(views chan stream.Viewport, v stream.Viewport) {
	for {
		select {
		case views <- v:
			return
		default:
		}
		select {
		case <-views:
		default:
		}
	}
}

func (s *Server) viewportFrom(m protocol.ViewportMsg) stream.Viewport {
	return stream.Viewport{
		OffsetX: m.OffsetX,
		OffsetY: m.OffsetY,
		Width:   m.Width,
		Height:  m.Height,
		Zoom:    stream.ClampZoom(m.Zoom, s.cfg.Viewer.MinZoom, s.cfg.Viewer.MaxZoom),
	}
}

func (s *Server) worldInfo(w stream.World) protocol.WorldInfo {
	return protocol.WorldInfo{
		Seed:         w.Seed,
		Params:       w.Params,
		Epoch:        w.Epoch,
		ChunkSize:    s.cfg.World.ChunkSize,
		TileSize:     s.cfg.World.TileSize,
		NoiseBackend: string(s.cfg.Backend()),
	}
}

func (s *Server) register(sess *session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
}

type reader struct {
	srv   *Server
	sess  *session
	views chan stream.Viewport
	seed  string
	par   noise.Params
	tiles *rate.Limiter
}

func (r *reader) loop(ctx context.Context, conn *websocket.Conn) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			r.reject(protocol.ErrProtoBadRequest, "malformed json")
			continue
		}
		if base.ProtocolVersion != protocol.Version {
			r.reject(protocol.ErrProtoBadRequest, "bad protocol_version")
			continue
		}
		if err := r.srv.validator.Validate(base.Type, msg); err != nil {
			code := protocol.ErrProtoBadRequest
			if base.Type == protocol.TypeWorld && strings.Contains(err.Error(), "params") {
				code = protocol.ErrBadParams
			}
			r.reject(code, err.Error())
			continue
		}

		switch base.Type {
		case protocol.TypeViewport:
			var vm protocol.ViewportMsg
			if err := json.Unmarshal(msg, &vm); err != nil {
				r.reject(protocol.ErrProtoBadRequest, err.Error())
				continue
			}
			offerViewport(r.views, r.srv.viewportFrom(vm))

		case protocol.TypeWorld:
			var wm protocol.WorldMsg
			if err := json.Unmarshal(msg, &wm); err != nil {
				r.reject(protocol.ErrProtoBadRequest, err.Error())
				continue
			}
			r.switchWorld(ctx, wm)

		case protocol.TypeTileQuery:
			var q protocol.TileQueryMsg
			if err := json.Unmarshal(msg, &q); err != nil {
				r.reject(protocol.ErrProtoBadRequest, err.Error())
				continue
			}
			r.queryTile(ctx, q)

		default:
			r.reject(protocol.ErrProtoBadRequest, "unexpected message type "+base.Type)
		}
	}
}

func (r *reader) switchWorld(ctx context.Context, wm protocol.WorldMsg) {
	seed, params := r.seed, r.par
	if wm.Seed != nil {
		seed = *wm.Seed
	}
	if wm.Params != nil {
		params = *wm.Params
	}
	w, err := r.sess.mgr.SetWorld(ctx, seed, params)
	switch {
	case errors.Is(err, noise.ErrInvalidParams):
		r.reject(protocol.ErrBadParams, err.Error())
	case err != nil:
		r.reject(protocol.ErrInternal, err.Error())
	default:
		r.seed, r.par = w.Seed, w.Params
	}
}

func (r *reader) queryTile(ctx context.Context, q protocol.TileQueryMsg) {
	r.srv.tileQuery.Add(1)
	if !r.tiles.Allow() {
		r.reject(protocol.ErrRateLimit, "too many tile queries")
		return
	}
	t, ok, err := r.sess.mgr.TileAt(ctx, q.X, q.Y)
	if err != nil {
		r.reject(protocol.ErrInternal, err.Error())
		return
	}
	resp := protocol.TileMsg{
		Type:            protocol.TypeTile,
		ProtocolVersion: protocol.Version,
		ReqID:           q.ReqID,
		Found:           ok,
	}
	if ok {
		info := protocol.TileInfoFor(t)
		resp.Tile = &info
	}
	r.sess.send(resp)
}

func (r *reader) reject(code, msg string) {
	r.srv.badMsgs.Add(1)
	r.sess.send(protocol.NewError(code, msg))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
