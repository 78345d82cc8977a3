package server

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"

	"github.com/twinj/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Result is the outcome of one tile job.  Exactly one of Body and Err is meaningful.
type Result struct {
	Body        []byte
	Filename    string
	ContentType string
	Err         *pixbuf.Error
}

// Failed returns a Result holding a classified failure.
func Failed(err *pixbuf.Error) Result {
	return Result{Err: err}
}

// Processor turns a tile request into a Result.  It runs on dispatcher workers, never on
// the goroutine serving the HTTP request.
type Processor interface {
	Process(ctx context.Context, addr pixbuf.TileAddress, cred pixbuf.Credential) Result
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, addr pixbuf.TileAddress, cred pixbuf.Credential) Result

func (f ProcessorFunc) Process(ctx context.Context, addr pixbuf.TileAddress, cred pixbuf.Credential) Result {
	return f(ctx, addr, cred)
}

// Releaser is held by a job until it completes.  Session leases satisfy it.
type Releaser interface {
	Release()
}

// JobState tracks a ticket through Submitted -> Running -> Succeeded | Failed.
type JobState int32

const (
	JobSubmitted JobState = iota
	JobRunning
	JobSucceeded
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobSubmitted:
		return "submitted"
	case JobRunning:
		return "running"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	default:
		return fmt.Sprintf("JobState(%d)", int32(s))
	}
}

// Ticket is the handle on a submitted job.  Its Done channel delivers exactly one Result.
type Ticket struct {
	ID    string
	state int32
	done  chan Result
}

func newTicket() *Ticket {
	return &Ticket{ID: uuid.NewV4().String(), done: make(chan Result, 1)}
}

// Done returns the channel the job's Result is delivered on.
func (t *Ticket) Done() <-chan Result {
	return t.done
}

// State returns the current lifecycle state of the job.
func (t *Ticket) State() JobState {
	return JobState(atomic.LoadInt32(&t.state))
}

func (t *Ticket) advance(from, to JobState) bool {
	return atomic.CompareAndSwapInt32(&t.state, int32(from), int32(to))
}

// envelope is what crosses the job queue.  The address and credential travel as
// msgpack so the worker owns its own copy of both.
type envelope struct {
	ticket     *Ticket
	requestID  string
	span       trace.SpanContext
	address    []byte
	credential []byte
	lease      Releaser
}

// Dispatcher runs tile jobs on a fixed pool of workers fed by a bounded queue.  A job
// that finds the queue full is rejected with KindOverloaded rather than waiting.
type Dispatcher struct {
	proc    Processor
	jobs    chan *envelope
	workers int

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	submitted  uint64
	rejected   uint64
	running    int64
	onOverload func()
}

// NewDispatcher starts workers goroutines running proc.  At most queueSize jobs wait
// for a free worker.  A non-positive worker count means one worker per CPU.
func NewDispatcher(proc Processor, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize < 0 {
		queueSize = 0
	}
	d := &Dispatcher{
		proc:    proc,
		jobs:    make(chan *envelope, queueSize),
		workers: workers,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	pixbuf.Infof("Started %d tile workers with a queue of %d jobs\n", workers, queueSize)
	return d
}

// OnOverload registers a callback run for every rejected submission.  It must be set
// before the dispatcher receives jobs.
func (d *Dispatcher) OnOverload(f func()) {
	d.onOverload = f
}

// Submit enqueues a job without blocking.  Submit takes ownership of lease: it is
// released when the job completes, or immediately if the job is rejected.  The job
// does not inherit the cancellation of ctx, only its trace.
func (d *Dispatcher) Submit(ctx context.Context, requestID string, addr pixbuf.TileAddress, cred pixbuf.Credential, lease Releaser) (*Ticket, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		release(lease)
		return nil, pixbuf.NewError(pixbuf.KindOverloaded, "tile dispatcher is shut down")
	}
	address, err := addr.MarshalMsg(nil)
	if err != nil {
		release(lease)
		return nil, pixbuf.WrapError(pixbuf.KindInternal, "submit", err)
	}
	credential, err := cred.MarshalMsg(nil)
	if err != nil {
		release(lease)
		return nil, pixbuf.WrapError(pixbuf.KindInternal, "submit", err)
	}
	env := &envelope{
		ticket:     newTicket(),
		requestID:  requestID,
		span:       trace.SpanContextFromContext(ctx),
		address:    address,
		credential: credential,
		lease:      lease,
	}
	select {
	case d.jobs <- env:
		atomic.AddUint64(&d.submitted, 1)
		return env.ticket, nil
	default:
		release(lease)
		atomic.AddUint64(&d.rejected, 1)
		if d.onOverload != nil {
			d.onOverload()
		}
		return nil, pixbuf.NewError(pixbuf.KindOverloaded, "tile queue full: %d queued for %d workers", len(d.jobs), d.workers)
	}
}

// Close stops accepting jobs, lets queued jobs finish and waits for the workers to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
	pixbuf.Infof("Tile workers stopped after %d jobs\n", d.Submitted())
}

// Workers returns the size of the worker pool.
func (d *Dispatcher) Workers() int { return d.workers }

// QueueCapacity returns how many jobs may wait for a worker.
func (d *Dispatcher) QueueCapacity() int { return cap(d.jobs) }

// QueueDepth returns how many jobs are waiting for a worker.
func (d *Dispatcher) QueueDepth() int { return len(d.jobs) }

// Running returns how many jobs are being processed.
func (d *Dispatcher) Running() int { return int(atomic.LoadInt64(&d.running)) }

// Submitted returns how many jobs have been accepted.
func (d *Dispatcher) Submitted() uint64 { return atomic.LoadUint64(&d.submitted) }

// Rejected returns how many submissions failed with KindOverloaded on a full queue.
func (d *Dispatcher) Rejected() uint64 { return atomic.LoadUint64(&d.rejected) }

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for env := range d.jobs {
		d.run(env)
	}
}

func (d *Dispatcher) run(env *envelope) {
	env.ticket.advance(JobSubmitted, JobRunning)
	atomic.AddInt64(&d.running, 1)
	res := d.execute(env)
	atomic.AddInt64(&d.running, -1)
	release(env.lease)

	state := JobSucceeded
	if res.Err != nil {
		state = JobFailed
	}
	env.ticket.advance(JobRunning, state)
	env.ticket.done <- res
}

// execute runs the processor, converting a panic into a KindInternal result so the
// worker survives it.
func (d *Dispatcher) execute(env *envelope) (res Result) {
	tlog := pixbuf.NewRequestLog(env.requestID, env.ticket.ID)
	defer func() {
		if r := recover(); r != nil {
			tlog.Criticalf("panic in tile job: %v\n%s", r, debug.Stack())
			res = Failed(pixbuf.NewError(pixbuf.KindInternal, "tile job panicked: %v", r))
		}
	}()

	var addr pixbuf.TileAddress
	if _, err := addr.UnmarshalMsg(env.address); err != nil {
		return Failed(pixbuf.WrapError(pixbuf.KindInternal, "decode job", err))
	}
	var cred pixbuf.Credential
	if _, err := cred.UnmarshalMsg(env.credential); err != nil {
		return Failed(pixbuf.WrapError(pixbuf.KindInternal, "decode job", err))
	}
	ctx := context.Background()
	if env.span.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, env.span)
	}
	res = d.proc.Process(ctx, addr, cred)
	if res.Err != nil {
		tlog.Debugf("%s failed: %v", addr, res.Err)
	} else {
		tlog.Debugf("%s done, %d bytes", addr, len(res.Body))
	}
	return res
}

func release(r Releaser) {
	if r != nil {
		r.Release()
	}
}
