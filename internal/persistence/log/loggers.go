package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"terraflow.ai/internal/stream"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// ReadJSONL decodes every line of a zstd JSONL file, calling fn per line.
// Appended files hold several zstd frames; the decoder reads through all of them.
func ReadJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

const (
	KindWorld = "world"
	KindChunk = "chunk"
)

// Entry is one line of the generation log. Exactly one of World, Chunk is set.
type Entry struct {
	Kind  string             `json:"kind"`
	World *stream.WorldEvent `json:"world,omitempty"`
	Chunk *stream.ChunkEvent `json:"chunk,omitempty"`
}

// generationQueue bounds the entries waiting for the file writer.
const generationQueue = 4096

// GenerationLogger is a stream.Recorder writing world changes and chunk
// generation outcomes to compressed hourly JSONL files. Record calls only
// enqueue; a single goroutine owns the file. Entries that do not fit the
// queue are dropped and counted.
type GenerationLogger struct {
	w    *JSONLZstdWriter
	ch   chan Entry
	done chan struct{}

	mu     sync.RWMutex
	closed bool

	errors  atomic.Uint64
	dropped atomic.Uint64
}

func NewGenerationLogger(dataDir string) *GenerationLogger {
	return newGenerationLogger(NewJSONLZstdWriter(filepath.Join(dataDir, "events"), "generation"), generationQueue)
}

func newGenerationLogger(w *JSONLZstdWriter, queue int) *GenerationLogger {
	l := &GenerationLogger{
		w:    w,
		ch:   make(chan Entry, queue),
		done: make(chan struct{}),
	}
	go l.loop()
	return l
}

func (l *GenerationLogger) RecordWorld(e stream.WorldEvent) {
	l.enqueue(Entry{Kind: KindWorld, World: &e})
}

func (l *GenerationLogger) RecordChunk(e stream.ChunkEvent) {
	l.enqueue(Entry{Kind: KindChunk, Chunk: &e})
}

func (l *GenerationLogger) enqueue(e Entry) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.dropped.Add(1)
		return
	}
	select {
	case l.ch <- e:
	default:
		l.dropped.Add(1)
	}
}

func (l *GenerationLogger) loop() {
	defer close(l.done)
	for e := range l.ch {
		if err := l.w.Write(e); err != nil {
			l.errors.Add(1)
		}
	}
}

// Close writes out everything queued so far and closes the current file.
func (l *GenerationLogger) Close() error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
	l.mu.Unlock()
	<-l.done
	return l.w.Close()
}

// Errors counts entries that could not be written.
func (l *GenerationLogger) Errors() uint64 { return l.errors.Load() }

// Dropped counts entries refused because the queue was full or closed.
func (l *GenerationLogger) Dropped() uint64 { return l.dropped.Load() }
