package viewer

import (
	"encoding/json"
	"sync"

	"terraflow.ai/internal/protocol"
	"terraflow.ai/internal/stream"
	"terraflow.ai/internal/terrain/chunk"
)

// session is the stream.Sink of one viewer connection. Its methods run on
// the manager goroutine and never block.
//
// Stream messages (CHUNK, CHUNK_EVICT, READY, WORLD_RESET) carry state the
// viewer cannot recover if one is lost, so a full out buffer marks the
// session slow and the writer closes it. Replies (TILE, ERROR) are dropped
// and counted instead.
type session struct {
	id       string
	srv      *Server
	mgr      *stream.Manager
	out      chan []byte
	compress bool
	tileSize int

	slow     chan struct{}
	slowOnce sync.Once
}

func newSession(srv *Server, id string, buffer int, compress bool) *session {
	return &session{
		id:       id,
		srv:      srv,
		out:      make(chan []byte, buffer),
		compress: compress,
		tileSize: srv.cfg.World.TileSize,
		slow:     make(chan struct{}),
	}
}

func (s *session) ChunkReady(epoch uint64, c *chunk.Chunk) {
	msg, err := protocol.EncodeChunk(epoch, c, s.tileSize, s.compress)
	if err != nil {
		s.srv.log.Printf("viewer session=%s encode chunk %s: %v", s.id, c.Pos, err)
		return
	}
	s.sendState(msg)
}

func (s *session) ChunkEvicted(epoch uint64, pos chunk.Position) {
	s.sendState(protocol.ChunkEvictMsg{
		Type:            protocol.TypeChunkEvict,
		ProtocolVersion: protocol.Version,
		Epoch:           epoch,
		CX:              pos.X,
		CY:              pos.Y,
	})
}

func (s *session) WorldReady(epoch uint64) {
	s.sendState(protocol.ReadyMsg{
		Type:            protocol.TypeReady,
		ProtocolVersion: protocol.Version,
		Epoch:           epoch,
	})
}

func (s *session) WorldReset(w stream.World) {
	s.sendState(protocol.WorldResetMsg{
		Type:            protocol.TypeWorldReset,
		ProtocolVersion: protocol.Version,
		World:           s.srv.worldInfo(w),
	})
}

// send queues a reply, dropping it when the viewer is behind.
func (s *session) send(v any) {
	if !s.enqueue(v) {
		s.srv.dropped.Add(1)
	}
}

// sendState queues a stream message; a viewer too far behind to take it is
// disconnected.
func (s *session) sendState(v any) {
	if s.enqueue(v) {
		return
	}
	s.slowOnce.Do(func() {
		s.srv.slowClosed.Add(1)
		s.srv.log.Printf("viewer session=%s out buffer full, closing", s.id)
		close(s.slow)
	})
}

func (s *session) enqueue(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		s.srv.log.Printf("viewer session=%s marshal: %v", s.id, err)
		return true
	}
	select {
	case <-s.slow:
		return false
	default:
	}
	select {
	case s.out <- b:
		return true
	default:
		return false
	}
}
