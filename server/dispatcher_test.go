package server

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"

	"go.uber.org/goleak"
)

// opencensus, pulled in by gocloud.dev, runs a package-level worker for the whole process.
var leakOpts = goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start")

type countingLease struct {
	n int32
}

func (l *countingLease) Release() { atomic.AddInt32(&l.n, 1) }

func (l *countingLease) released() int32 { return atomic.LoadInt32(&l.n) }

func testAddress(id int64) pixbuf.TileAddress {
	return pixbuf.TileAddress{ImageID: id, Resolution: pixbuf.FullResolution, Region: pixbuf.Region{Width: 4, Height: 4}}
}

func waitResult(t *testing.T, ticket *Ticket) Result {
	select {
	case res := <-ticket.Done():
		return res
	case <-time.After(5 * time.Second):
		t.Fatalf("no result for job %s in state %s\n", ticket.ID, ticket.State())
		return Result{}
	}
}

func TestDispatcherRuns(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts)

	cred := pixbuf.Credential{SessionKey: "abc", UserID: 7, GroupIDs: []int64{1, 2}}
	proc := ProcessorFunc(func(ctx context.Context, addr pixbuf.TileAddress, got pixbuf.Credential) Result {
		if got.SessionKey != cred.SessionKey || got.UserID != 7 || len(got.GroupIDs) != 2 {
			return Failed(pixbuf.NewError(pixbuf.KindInternal, "credential not delivered: %+v", got))
		}
		return Result{Body: []byte{byte(addr.ImageID)}, Filename: addr.Filename()}
	})
	d := NewDispatcher(proc, 2, 4)
	defer d.Close()

	lease := &countingLease{}
	ticket, err := d.Submit(context.Background(), "req", testAddress(9), cred, lease)
	if err != nil {
		t.Fatalf("submit: %v\n", err)
	}
	if ticket.ID == "" {
		t.Errorf("ticket has no id\n")
	}
	res := waitResult(t, ticket)
	if res.Err != nil {
		t.Fatalf("job failed: %v\n", res.Err)
	}
	if len(res.Body) != 1 || res.Body[0] != 9 {
		t.Errorf("bad job body %v\n", res.Body)
	}
	if ticket.State() != JobSucceeded {
		t.Errorf("expected succeeded ticket, got %s\n", ticket.State())
	}
	if lease.released() != 1 {
		t.Errorf("lease released %d times, expected once\n", lease.released())
	}
	if d.Submitted() != 1 {
		t.Errorf("expected 1 submitted job, got %d\n", d.Submitted())
	}
}

func TestDispatcherBounded(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts)

	const workers, queue = 2, 3
	started := make(chan int64, workers+queue)
	unblock := make(chan struct{})
	proc := ProcessorFunc(func(ctx context.Context, addr pixbuf.TileAddress, cred pixbuf.Credential) Result {
		started <- addr.ImageID
		<-unblock
		return Result{Body: []byte("ok")}
	})
	d := NewDispatcher(proc, workers, queue)
	defer d.Close()

	var tickets []*Ticket
	for i := 1; i <= workers; i++ {
		ticket, err := d.Submit(context.Background(), "", testAddress(int64(i)), pixbuf.Credential{}, nil)
		if err != nil {
			t.Fatalf("submit %d: %v\n", i, err)
		}
		tickets = append(tickets, ticket)
	}
	for i := 0; i < workers; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatalf("workers did not pick up jobs\n")
		}
	}
	if d.Running() != workers {
		t.Errorf("expected %d running jobs, got %d\n", workers, d.Running())
	}

	for i := workers + 1; i <= workers+queue; i++ {
		ticket, err := d.Submit(context.Background(), "", testAddress(int64(i)), pixbuf.Credential{}, nil)
		if err != nil {
			t.Fatalf("submit %d with room in queue: %v\n", i, err)
		}
		tickets = append(tickets, ticket)
	}
	if d.QueueDepth() != queue {
		t.Errorf("expected full queue of %d, got %d\n", queue, d.QueueDepth())
	}

	lease := &countingLease{}
	if _, err := d.Submit(context.Background(), "", testAddress(99), pixbuf.Credential{}, lease); pixbuf.KindOf(err) != pixbuf.KindOverloaded {
		t.Fatalf("expected Overloaded submitting to full queue, got %v\n", err)
	}
	if lease.released() != 1 {
		t.Errorf("rejected job's lease not released\n")
	}
	if d.Rejected() != 1 {
		t.Errorf("expected 1 rejected job, got %d\n", d.Rejected())
	}

	close(unblock)
	for _, ticket := range tickets {
		if res := waitResult(t, ticket); res.Err != nil {
			t.Errorf("job %s failed: %v\n", ticket.ID, res.Err)
		}
	}
}

func TestDispatcherPanic(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts)

	proc := ProcessorFunc(func(ctx context.Context, addr pixbuf.TileAddress, cred pixbuf.Credential) Result {
		if addr.ImageID == 13 {
			panic("unlucky image")
		}
		return Result{Body: []byte("ok")}
	})
	d := NewDispatcher(proc, 1, 2)
	defer d.Close()

	lease := &countingLease{}
	ticket, err := d.Submit(context.Background(), "", testAddress(13), pixbuf.Credential{}, lease)
	if err != nil {
		t.Fatalf("submit: %v\n", err)
	}
	res := waitResult(t, ticket)
	if res.Err == nil || res.Err.Kind != pixbuf.KindInternal {
		t.Fatalf("expected Internal failure from panicking job, got %+v\n", res)
	}
	if ticket.State() != JobFailed {
		t.Errorf("expected failed ticket, got %s\n", ticket.State())
	}
	if lease.released() != 1 {
		t.Errorf("panicking job's lease not released\n")
	}

	// the single worker must have survived
	ticket, err = d.Submit(context.Background(), "", testAddress(14), pixbuf.Credential{}, nil)
	if err != nil {
		t.Fatalf("submit after panic: %v\n", err)
	}
	if res := waitResult(t, ticket); res.Err != nil {
		t.Errorf("job after panic failed: %v\n", res.Err)
	}
}

func TestDispatcherClose(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts)

	var mu sync.Mutex
	var done []int64
	proc := ProcessorFunc(func(ctx context.Context, addr pixbuf.TileAddress, cred pixbuf.Credential) Result {
		time.Sleep(time.Millisecond)
		mu.Lock()
		done = append(done, addr.ImageID)
		mu.Unlock()
		return Result{}
	})
	d := NewDispatcher(proc, 1, 8)
	for i := 1; i <= 5; i++ {
		if _, err := d.Submit(context.Background(), "", testAddress(int64(i)), pixbuf.Credential{}, nil); err != nil {
			t.Fatalf("submit %d: %v\n", i, err)
		}
	}
	d.Close()
	d.Close()

	mu.Lock()
	if len(done) != 5 {
		t.Errorf("queued jobs not drained on close: %v\n", done)
	}
	mu.Unlock()

	lease := &countingLease{}
	if _, err := d.Submit(context.Background(), "", testAddress(6), pixbuf.Credential{}, lease); pixbuf.KindOf(err) != pixbuf.KindOverloaded {
		t.Errorf("expected Overloaded after close, got %v\n", err)
	}
	if lease.released() != 1 {
		t.Errorf("lease of job submitted after close not released\n")
	}
}

func TestJobStates(t *testing.T) {
	ticket := newTicket()
	if ticket.State() != JobSubmitted {
		t.Fatalf("new ticket in state %s\n", ticket.State())
	}
	if ticket.advance(JobRunning, JobSucceeded) {
		t.Errorf("ticket advanced from a state it was not in\n")
	}
	if !ticket.advance(JobSubmitted, JobRunning) || !ticket.advance(JobRunning, JobFailed) {
		t.Errorf("ticket failed to advance\n")
	}
	if ticket.State().String() != "failed" {
		t.Errorf("bad state name %q\n", ticket.State())
	}
}
