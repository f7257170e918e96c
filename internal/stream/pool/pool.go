package pool

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"terraflow.ai/internal/terrain/chunk"
	"terraflow.ai/internal/terrain/noise"
)

// Request asks for one chunk under one world epoch.
type Request struct {
	Pos     chunk.Position
	Seed    string
	Params  noise.Params
	Epoch   uint64
	Attempt int
}

type Result struct {
	Request
	Chunk   *chunk.Chunk
	Err     error
	Worker  int
	Elapsed time.Duration

	token uint64
}

// Generator runs inside exactly one worker goroutine.
type Generator interface {
	Generate(req Request) (*chunk.Chunk, error)
}

type GeneratorFunc func(req Request) (*chunk.Chunk, error)

func (f GeneratorFunc) Generate(req Request) (*chunk.Chunk, error) { return f(req) }

// SynthFactory gives every worker its own synthesizer, so noise state is never shared.
func SynthFactory(dims chunk.Dims, backend noise.Backend, memo int) func() Generator {
	return func() Generator {
		s := chunk.NewSynthesizer(dims, backend, memo)
		return GeneratorFunc(func(req Request) (*chunk.Chunk, error) {
			return s.SynthesizeAt(req.Pos, req.Seed, req.Params)
		})
	}
}

type Config struct {
	Workers     int
	Timeout     time.Duration
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{Workers: 20, Timeout: 10 * time.Second, MaxAttempts: 3}
}

type Outcome int

const (
	// Stale results come from a retired worker or a cleared assignment.
	Stale Outcome = iota
	Completed
	Retried
	Abandoned
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Retried:
		return "retried"
	case Abandoned:
		return "abandoned"
	default:
		return "stale"
	}
}

type Stats struct {
	Workers    int    `json:"workers"`
	Idle       int    `json:"idle"`
	Busy       int    `json:"busy"`
	Queued     int    `json:"queued"`
	Dispatched uint64 `json:"dispatched"`
	Completed  uint64 `json:"completed"`
	Failed     uint64 `json:"failed"`
	Timeouts   uint64 `json:"timeouts"`
	Replaced   uint64 `json:"replaced"`
	Abandoned  uint64 `json:"abandoned"`
	Stale      uint64 `json:"stale"`
}

type job struct {
	req   Request
	token uint64
}

type worker struct {
	id int
	in chan job
}

type assignment struct {
	req     Request
	token   uint64
	started time.Time
}

// Pool is a fixed set of generation workers plus a FIFO overflow queue.
// Dispatch, Complete, Reap, Reset and Close must be called from a single
// coordinating goroutine; workers only talk to it through Results.
type Pool struct {
	cfg     Config
	factory func() Generator

	results chan Result
	done    chan struct{}
	wg      sync.WaitGroup

	workers []*worker
	idle    []int
	queue   []Request
	busy    map[int]assignment
	token   uint64
	closed  bool
	now     func() time.Time

	stats Stats
}

func New(cfg Config, factory func() Generator) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	p := &Pool{
		cfg:     cfg,
		factory: factory,
		results: make(chan Result, cfg.Workers*2),
		done:    make(chan struct{}),
		workers: make([]*worker, cfg.Workers),
		busy:    map[int]assignment{},
		now:     time.Now,
	}
	for id := cfg.Workers - 1; id >= 0; id-- {
		p.spawn(id)
	}
	return p
}

func (p *Pool) Results() <-chan Result { return p.results }

func (p *Pool) spawn(id int) {
	w := &worker{id: id, in: make(chan job, 1)}
	p.workers[id] = w
	p.idle = append(p.idle, id)
	gen := p.factory()
	p.wg.Add(1)
	go p.run(w, gen)
}

func (p *Pool) run(w *worker, gen Generator) {
	defer p.wg.Done()
	for j := range w.in {
		res := execute(w.id, gen, j)
		select {
		case p.results <- res:
		case <-p.done:
			return
		}
	}
}

func execute(id int, gen Generator, j job) (res Result) {
	start := time.Now()
	res = Result{Request: j.req, Worker: id, token: j.token}
	defer func() {
		if r := recover(); r != nil {
			res.Chunk = nil
			res.Err = fmt.Errorf("worker %d panic: %v", id, r)
		}
		res.Elapsed = time.Since(start)
	}()
	res.Chunk, res.Err = gen.Generate(j.req)
	if res.Err == nil && res.Chunk == nil {
		res.Err = fmt.Errorf("worker %d: empty result", id)
	}
	return res
}

// Dispatch assigns req to an idle worker, or queues it. It reports whether
// the request started immediately.
func (p *Pool) Dispatch(req Request) bool {
	if p.closed {
		return false
	}
	p.stats.Dispatched++
	if len(p.idle) == 0 {
		p.queue = append(p.queue, req)
		return false
	}
	p.assign(p.popIdle(), req)
	return true
}

func (p *Pool) popIdle() int {
	id := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	return id
}

func (p *Pool) assign(id int, req Request) {
	p.token++
	p.busy[id] = assignment{req: req, token: p.token, started: p.now()}
	p.workers[id].in <- job{req: req, token: p.token}
}

func (p *Pool) drain() {
	for len(p.idle) > 0 && len(p.queue) > 0 {
		req := p.queue[0]
		p.queue = p.queue[1:]
		p.assign(p.popIdle(), req)
	}
}

// Complete accounts for a worker result. On success the worker picks up the
// oldest queued request. On failure the worker is replaced and the request
// is retried at the head of the queue until MaxAttempts is reached.
func (p *Pool) Complete(res Result) Outcome {
	a, ok := p.busy[res.Worker]
	if p.closed || !ok || a.token != res.token {
		p.stats.Stale++
		return Stale
	}
	delete(p.busy, res.Worker)

	if res.Err != nil {
		p.stats.Failed++
		p.replace(res.Worker)
		out := p.retry(a.req)
		p.drain()
		return out
	}

	p.stats.Completed++
	p.idle = append(p.idle, res.Worker)
	p.drain()
	return Completed
}

// Timeout describes an assignment the watchdog took away from a hung worker.
type Timeout struct {
	Request
	Worker  int
	Elapsed time.Duration
	// Outcome is Retried when the request went back to the head of the
	// queue, Abandoned when it ran out of attempts.
	Outcome Outcome
}

// Reap retires workers whose assignment outlived the timeout and reports
// every reaped assignment in worker order.
func (p *Pool) Reap(now time.Time) []Timeout {
	if p.closed || p.cfg.Timeout <= 0 {
		return nil
	}
	var hung []int
	for id, a := range p.busy {
		if now.Sub(a.started) >= p.cfg.Timeout {
			hung = append(hung, id)
		}
	}
	sort.Ints(hung)
	out := make([]Timeout, len(hung))
	// Requeue from the back so the lowest worker's request ends up first.
	for i := len(hung) - 1; i >= 0; i-- {
		id := hung[i]
		a := p.busy[id]
		delete(p.busy, id)
		p.stats.Timeouts++
		p.replace(id)
		out[i] = Timeout{
			Request: a.req,
			Worker:  id,
			Elapsed: now.Sub(a.started),
			Outcome: p.retry(a.req),
		}
	}
	p.drain()
	return out
}

func (p *Pool) retry(req Request) Outcome {
	req.Attempt++
	if p.cfg.MaxAttempts > 0 && req.Attempt >= p.cfg.MaxAttempts {
		p.stats.Abandoned++
		return Abandoned
	}
	p.queue = append([]Request{req}, p.queue...)
	return Retried
}

// replace retires the worker in slot id. A retired worker finishes its
// current job in the background and its result is ignored.
func (p *Pool) replace(id int) {
	close(p.workers[id].in)
	p.stats.Replaced++
	p.spawn(id)
}

// Reset drops queued work and replaces busy workers.
func (p *Pool) Reset() {
	if p.closed {
		return
	}
	p.queue = nil
	ids := make([]int, 0, len(p.busy))
	for id := range p.busy {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		delete(p.busy, id)
		p.replace(id)
	}
}

// Close stops all workers and clears the queue. It does not wait.
func (p *Pool) Close() {
	if p.closed {
		return
	}
	p.closed = true
	close(p.done)
	for _, w := range p.workers {
		close(w.in)
	}
	p.queue = nil
	p.idle = nil
	clear(p.busy)
}

// Wait blocks until every worker goroutine exited or d elapsed.
func (p *Pool) Wait(d time.Duration) bool {
	ch := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}

func (p *Pool) Queued() int { return len(p.queue) }

func (p *Pool) Stats() Stats {
	s := p.stats
	s.Workers = len(p.workers)
	s.Idle = len(p.idle)
	s.Busy = len(p.busy)
	s.Queued = len(p.queue)
	return s
}
