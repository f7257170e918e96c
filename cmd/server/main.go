package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	persistlog "terraflow.ai/internal/persistence/log"
	"terraflow.ai/internal/stream"
	"terraflow.ai/internal/transport/viewer"
	"terraflow.ai/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		seed       = flag.String("seed", "", "default world seed (overrides tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the generation telemetry index")
		disableLog = flag.Bool("disable_event_log", false, "disable the zstd JSONL generation log")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if s := strings.TrimSpace(*seed); s != "" {
		tune.World.Seed = s
	}
	logger.Printf("world seed=%q backend=%s chunk=%dx%d tile=%dpx workers=%d",
		tune.World.Seed, tune.Backend(), tune.World.ChunkSize, tune.World.ChunkSize, tune.World.TileSize, tune.Workers.Count)

	var recorders stream.MultiRecorder
	var sessions viewer.SessionHook

	// Optional: read-model index backend.
	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		recorders = append(recorders, idx)
		sessions = idx
	}

	var genLog *persistlog.GenerationLogger
	if !*disableLog {
		genLog = persistlog.NewGenerationLogger(*dataDir)
		defer genLog.Close()
		recorders = append(recorders, genLog)
	}

	vs, err := viewer.NewServer(tune, logger, viewer.Options{
		Recorder:     recorders,
		Sessions:     sessions,
		LoopbackOnly: envBool("TF_VIEWER_LOOPBACK_ONLY", false),
	})
	if err != nil {
		logger.Fatalf("viewer: %v", err)
	}

	a := newApp(tune, logger, vs, idx)
	if genLog != nil {
		a.genLog = genLog
	}

	enablePprofHTTP := envBool("TF_ENABLE_PPROF_HTTP", false)
	if !enablePprofHTTP {
		logger.Printf("pprof endpoints disabled (TF_ENABLE_PPROF_HTTP=false)")
	}

	ctx, cancel := signalContext()
	defer cancel()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           a.routes(enablePprofHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), time.Duration(envInt("TF_SHUTDOWN_TIMEOUT_MS", 5000))*time.Millisecond)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
