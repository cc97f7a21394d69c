// Package executor implements the Worker: a single-owner actor that accepts
// typed task packets on a bounded channel and spawns each as a detached
// handler against a cloned, cheap-to-copy State.
package executor

import (
	"context"
	"errors"
	"sync"

	"github.com/bitswarm/tracker/bittorrent"
	"github.com/bitswarm/tracker/pkg/stop"
	"github.com/bitswarm/tracker/storage"
)

// DefaultQueueSize is the default capacity of a Worker's task channel.
const DefaultQueueSize = 10000

// ErrWorkerClosed is returned by Submit once the Worker has been stopped,
// and to any task still queued when Shutdown is processed.
var ErrWorkerClosed = errors.New("executor: worker closed")

// State is the handle every spawned handler runs against: the storage
// capability plus whatever configuration the handlers need. It is cheap to
// copy by value, matching UpdateState's "swap the whole handle" semantics.
type State struct {
	Storage storage.PeerStore
	Config  interface{}
}

// Task is the sealed set of packets a Worker accepts.
type Task interface{ isTask() }

// AnnounceTask carries a parsed announce request through to the Announce
// handler.
type AnnounceTask struct {
	Request bittorrent.AnnounceRequest
}

func (AnnounceTask) isTask() {}

// ScrapeTask carries a parsed scrape request (empty InfoHashes means full
// scrape) through to the Scrape handler.
type ScrapeTask struct {
	Request bittorrent.ScrapeRequest
}

func (ScrapeTask) isTask() {}

// FullScrapeTask requests the precomputed full-scrape payload.
type FullScrapeTask struct{}

func (FullScrapeTask) isTask() {}

// UpdateStateTask atomically replaces the Worker's in-actor State, used by
// tests and live reconfiguration.
type UpdateStateTask struct {
	State State
}

func (UpdateStateTask) isTask() {}

// ShutdownTask asks the Worker to stop accepting new work and drain.
type ShutdownTask struct{}

func (ShutdownTask) isTask() {}

// Output is the sealed set of results a Worker can produce.
type Output interface{ isOutput() }

// AnnounceOutput wraps an announce response.
type AnnounceOutput struct{ Response bittorrent.AnnounceResponse }

func (AnnounceOutput) isOutput() {}

// ScrapeOutput wraps a scrape response.
type ScrapeOutput struct{ Response bittorrent.ScrapeResponse }

func (ScrapeOutput) isOutput() {}

// FullScrapeOutput wraps the precomputed full-scrape payload.
type FullScrapeOutput struct{ Payload []byte }

func (FullScrapeOutput) isOutput() {}

// NoneOutput is returned by control tasks (UpdateState, Shutdown) that carry
// no data.
type NoneOutput struct{}

func (NoneOutput) isOutput() {}

// Handlers supplies the typed logic a Worker dispatches to. They live
// outside this package (in the tracker package) so the executor has no
// dependency on announce/scrape semantics.
type Handlers struct {
	Announce   func(ctx context.Context, s State, req bittorrent.AnnounceRequest) (bittorrent.AnnounceResponse, error)
	Scrape     func(ctx context.Context, s State, req bittorrent.ScrapeRequest) (bittorrent.ScrapeResponse, error)
	FullScrape func(ctx context.Context, s State) ([]byte, error)
}

type result struct {
	output Output
	err    error
}

type packet struct {
	task  Task
	reply chan result
}

// Worker is the task executor: one actor goroutine reading the submit
// channel, spawning every task as a detached goroutine against the current
// State.
type Worker struct {
	state    State
	handlers Handlers

	submit chan packet
	closed chan struct{}
	once   sync.Once
	done   chan struct{}
}

// New starts a Worker with the given initial state and handler set. A
// queueSize <= 0 uses DefaultQueueSize.
func New(state State, h Handlers, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	w := &Worker{
		state:    state,
		handlers: h,
		submit:   make(chan packet, queueSize),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.done)

	state := w.state
	for {
		select {
		case pkt := <-w.submit:
			w.dispatch(&state, pkt)
			if _, isShutdown := pkt.task.(ShutdownTask); isShutdown {
				w.once.Do(func() { close(w.closed) })
				w.drain()
				return
			}
		case <-w.closed:
			w.drain()
			return
		}
	}
}

func (w *Worker) dispatch(state *State, pkt packet) {
	switch t := pkt.task.(type) {
	case AnnounceTask:
		s := *state
		go spawn(pkt.reply, func() (Output, error) {
			resp, err := w.handlers.Announce(context.Background(), s, t.Request)
			return AnnounceOutput{Response: resp}, err
		})
	case ScrapeTask:
		s := *state
		go spawn(pkt.reply, func() (Output, error) {
			resp, err := w.handlers.Scrape(context.Background(), s, t.Request)
			return ScrapeOutput{Response: resp}, err
		})
	case FullScrapeTask:
		s := *state
		go spawn(pkt.reply, func() (Output, error) {
			payload, err := w.handlers.FullScrape(context.Background(), s)
			return FullScrapeOutput{Payload: payload}, err
		})
	case UpdateStateTask:
		*state = t.State
		pkt.reply <- result{output: NoneOutput{}}
	case ShutdownTask:
		pkt.reply <- result{output: NoneOutput{}}
	}
}

func spawn(reply chan result, fn func() (Output, error)) {
	out, err := fn()
	reply <- result{output: out, err: err}
}

// drain replies ErrWorkerClosed to every packet still buffered in the
// submit channel once the Worker has decided to stop.
func (w *Worker) drain() {
	for {
		select {
		case pkt := <-w.submit:
			pkt.reply <- result{err: ErrWorkerClosed}
		default:
			return
		}
	}
}

// Submit enqueues task and waits for its handler's single reply. A full
// queue makes Submit block, which is the Worker's backpressure surface; if
// ctx is done first, the reply channel is abandoned and the handler's
// eventual result (if any) is discarded.
func (w *Worker) Submit(ctx context.Context, task Task) (Output, error) {
	reply := make(chan result, 1)

	select {
	case w.submit <- packet{task: task, reply: reply}:
	case <-w.closed:
		return nil, ErrWorkerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.output, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop closes the Worker off from new submissions and waits for the actor
// goroutine to drain and exit.
func (w *Worker) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		w.once.Do(func() { close(w.closed) })
		<-w.done
		c.Done()
	}()
	return c.Result()
}
