package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"terraflow.ai/internal/stream"
)

// SQLiteIndex is a queryable secondary index of generation telemetry. Writes
// are queued and applied by one goroutine in batched transactions; when the
// queue is full the event is dropped and counted. The JSONL generation log
// remains the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropWorld   atomic.Uint64
	dropChunk   atomic.Uint64
	dropSession atomic.Uint64
	writeErrors atomic.Uint64
}

type reqKind int

const (
	reqWorld reqKind = iota + 1
	reqChunk
	reqSessionStart
	reqSessionEnd
	reqFlush
)

type req struct {
	kind reqKind

	world   stream.WorldEvent
	chunk   stream.ChunkEvent
	session sessionRow
	done    chan struct{}
}

type sessionRow struct {
	ID     string
	Viewer string
	At     string
}

type Stats struct {
	QueueDepth       int
	QueueCapacity    int
	DropWorldTotal   uint64
	DropChunkTotal   uint64
	DropSessionTotal uint64
	WriteErrorTotal  uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Panning across a large viewport completes hundreds of chunks in a burst.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			viewer TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS worlds (
			session_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			seed TEXT NOT NULL,
			params_json TEXT NOT NULL,
			at_ms INTEGER NOT NULL,
			PRIMARY KEY (session_id, epoch)
		);`,
		`CREATE TABLE IF NOT EXISTS chunk_generations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			status TEXT NOT NULL,
			worker INTEGER NOT NULL,
			attempt INTEGER NOT NULL,
			elapsed_us INTEGER NOT NULL,
			dominant TEXT,
			at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_generations_session_epoch ON chunk_generations(session_id, epoch);`,
		`CREATE TABLE IF NOT EXISTS chunk_failures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			status TEXT NOT NULL,
			worker INTEGER NOT NULL,
			attempt INTEGER NOT NULL,
			error TEXT,
			at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_failures_pos ON chunk_failures(cx, cy);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) RecordWorld(e stream.WorldEvent) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqWorld, world: e}:
	default:
		s.dropWorld.Add(1)
	}
}

func (s *SQLiteIndex) RecordChunk(e stream.ChunkEvent) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqChunk, chunk: e}:
	default:
		s.dropChunk.Add(1)
	}
}

func (s *SQLiteIndex) SessionStarted(id, viewer string, at time.Time) {
	s.enqueueSession(reqSessionStart, sessionRow{ID: id, Viewer: viewer, At: at.UTC().Format(time.RFC3339Nano)})
}

func (s *SQLiteIndex) SessionEnded(id string, at time.Time) {
	s.enqueueSession(reqSessionEnd, sessionRow{ID: id, At: at.UTC().Format(time.RFC3339Nano)})
}

func (s *SQLiteIndex) enqueueSession(kind reqKind, row sessionRow) {
	if s == nil || s.closed.Load() || row.ID == "" {
		return
	}
	select {
	case s.ch <- req{kind: kind, session: row}:
	default:
		s.dropSession.Add(1)
	}
}

// Flush blocks until everything queued before it is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropWorldTotal:   s.dropWorld.Load(),
		DropChunkTotal:   s.dropChunk.Load(),
		DropSessionTotal: s.dropSession.Load(),
		WriteErrorTotal:  s.writeErrors.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertWorld, _ := s.db.Prepare(`INSERT OR REPLACE INTO worlds(session_id,epoch,seed,params_json,at_ms) VALUES(?,?,?,?,?)`)
	insertChunk, _ := s.db.Prepare(`INSERT INTO chunk_generations(session_id,epoch,cx,cy,status,worker,attempt,elapsed_us,dominant,at_ms) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertFailure, _ := s.db.Prepare(`INSERT INTO chunk_failures(session_id,epoch,cx,cy,status,worker,attempt,error,at_ms) VALUES(?,?,?,?,?,?,?,?,?)`)
	startSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(session_id,viewer,started_at) VALUES(?,?,?)`)
	endSession, _ := s.db.Prepare(`UPDATE sessions SET ended_at=? WHERE session_id=?`)
	defer func() {
		for _, st := range []*sql.Stmt{insertWorld, insertChunk, insertFailure, startSession, endSession} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		s.writeErrors.Add(1)
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	handle := func(r req) {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			return
		}
		begin()
		if tx == nil {
			s.writeErrors.Add(1)
			return
		}
		switch r.kind {
		case reqWorld:
			w := r.world
			params, _ := json.Marshal(w.Params)
			exec(insertWorld, w.Session, int64(w.Epoch), w.Seed, string(params), w.AtMS)

		case reqChunk:
			c := r.chunk
			switch c.Status {
			case stream.ChunkOK, stream.ChunkDiscarded:
				exec(insertChunk, c.Session, int64(c.Epoch), c.CX, c.CY, c.Status, c.Worker, c.Attempt, c.ElapsedUS, c.Dominant, c.AtMS)
			default:
				exec(insertFailure, c.Session, int64(c.Epoch), c.CX, c.CY, c.Status, c.Worker, c.Attempt, c.Error, c.AtMS)
			}

		case reqSessionStart:
			exec(startSession, r.session.ID, r.session.Viewer, r.session.At)

		case reqSessionEnd:
			exec(endSession, r.session.At, r.session.ID)
		}
		if tx != nil && opCount >= commitEvery {
			commit()
		}
	}

	// Idle sessions still get their tail committed.
	ticker := time.NewTicker(commitMaxWait / 4)
	defer ticker.Stop()
	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			handle(r)
		case <-ticker.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}
