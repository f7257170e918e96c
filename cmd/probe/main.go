package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"terraflow.ai/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "probe", "viewer name")
		seed     = flag.String("seed", "", "world seed (empty: server default)")
		width    = flag.Float64("width", 1280, "viewport width in px")
		height   = flag.Float64("height", 720, "viewport height in px")
		zoom     = flag.Float64("zoom", 1, "viewport zoom")
		panEvery = flag.Duration("pan_every", 2*time.Second, "pan interval (0 disables panning)")
		panStep  = flag.Float64("pan_step", 200, "pixels moved per pan")
		compress = flag.Bool("compress", true, "request zstd chunk payloads")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[probe] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	vp := protocol.ViewportMsg{Width: *width, Height: *height, Zoom: *zoom}
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ViewerName:      *name,
		Viewport:        &vp,
		Compress:        compress,
	}
	if *seed != "" {
		hello.Seed = seed
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	msgs := make(chan []byte, 256)
	go func() {
		defer close(msgs)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Printf("read: %v", err)
				return
			}
			msgs <- msg
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	var pan <-chan time.Time
	if *panEvery > 0 {
		t := time.NewTicker(*panEvery)
		defer t.Stop()
		pan = t.C
	}

	st := &probeStats{}
	start := time.Now()
	for {
		select {
		case <-stop:
			logger.Printf("bye: %s", st)
			return
		case <-pan:
			vp.OffsetX -= *panStep
			vp.Type = protocol.TypeViewport
			vp.ProtocolVersion = protocol.Version
			if err := conn.WriteJSON(vp); err != nil {
				logger.Fatalf("send VIEWPORT: %v", err)
			}
		case msg, ok := <-msgs:
			if !ok {
				logger.Printf("closed: %s", st)
				return
			}
			st.handle(logger, msg, start)
		}
	}
}

type probeStats struct {
	chunks  int
	evicted int
	ready   int
	bytes   int
	epoch   uint64
}

func (s *probeStats) String() string {
	b, _ := json.Marshal(map[string]any{
		"epoch":   s.epoch,
		"chunks":  s.chunks,
		"evicted": s.evicted,
		"ready":   s.ready,
		"bytes":   s.bytes,
	})
	return string(b)
}

func (s *probeStats) handle(logger *log.Logger, msg []byte, start time.Time) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return
		}
		s.epoch = w.World.Epoch
		logger.Printf("WELCOME session=%s seed=%q chunk=%d tile=%d backend=%s", w.SessionID, w.World.Seed, w.World.ChunkSize, w.World.TileSize, w.World.NoiseBackend)

	case protocol.TypeChunk:
		var c protocol.ChunkMsg
		if err := json.Unmarshal(msg, &c); err != nil {
			return
		}
		p, err := protocol.DecodeChunk(c)
		if err != nil {
			logger.Printf("bad CHUNK %d,%d: %v", c.CX, c.CY, err)
			return
		}
		s.chunks++
		s.bytes += len(c.Data)
		if s.chunks%25 == 0 {
			logger.Printf("chunks=%d last=%d,%d tiles=%d", s.chunks, p.CX, p.CY, len(p.Biomes))
		}

	case protocol.TypeChunkEvict:
		s.evicted++

	case protocol.TypeReady:
		var r protocol.ReadyMsg
		_ = json.Unmarshal(msg, &r)
		s.ready++
		logger.Printf("READY epoch=%d after %s: %s", r.Epoch, time.Since(start).Round(time.Millisecond), s)

	case protocol.TypeWorldReset:
		var r protocol.WorldResetMsg
		_ = json.Unmarshal(msg, &r)
		s.epoch = r.World.Epoch
		logger.Printf("WORLD_RESET epoch=%d seed=%q", r.World.Epoch, r.World.Seed)

	case protocol.TypeError:
		var e protocol.ErrorMsg
		_ = json.Unmarshal(msg, &e)
		logger.Printf("ERROR %s: %s", e.Code, e.Message)
	}
}
