// Package delivery implements the endpoint a reception flow hands ready
// frames to. It supports exactly one of two mutually exclusive modes at a
// time: pull, where a caller polls a FIFO queue, or push, where a
// callback runs synchronously on the processor goroutine as each frame
// becomes ready. Switching modes after frames have been delivered in the
// other mode is rejected.
package delivery

import (
	"errors"
	"sync"
	"time"

	"github.com/opd-ai/rtpflow/frame"
	"github.com/opd-ai/rtpflow/internal/logging"
)

// ErrModeConflict is returned when a caller tries to use pull-mode
// methods on an endpoint configured for push, or vice versa.
var ErrModeConflict = errors.New("delivery: pull and push modes are mutually exclusive")

// ErrClosed is returned from Pull once the endpoint is closed and its
// queue has been drained.
var ErrClosed = errors.New("delivery: endpoint closed")

// pullPollInterval is how often PullBlocking re-checks the queue.
const pullPollInterval = 5 * time.Millisecond

// timeoutPollInterval is the finer-grained poll used by PullWithTimeout,
// so short timeouts aren't rounded up to the blocking interval.
const timeoutPollInterval = 1 * time.Millisecond

// Callback is invoked synchronously, on the processor goroutine, for
// every frame delivered in push mode. It must not block for long.
type Callback func(frame.Frame)

type mode int

const (
	modeUnset mode = iota
	modePull
	modePush
)

// Endpoint is the delivery sink a reception flow publishes frames to.
type Endpoint struct {
	mu       sync.Mutex
	mode     mode
	queue    []frame.Frame
	callback Callback
	closed   bool

	clock TimeProvider
	log   *logging.Helper
}

// New creates an endpoint with no mode selected yet; the mode is fixed by
// whichever of SetCallback (push), Deliver or Pull (both pull) runs
// first.
func New() *Endpoint {
	return &Endpoint{clock: systemTimeProvider{}, log: logging.New("delivery")}
}

// SetTimeProvider overrides the clock PullWithTimeout uses, for
// deterministic tests. Pass nil to restore the system clock.
func (e *Endpoint) SetTimeProvider(tp TimeProvider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tp == nil {
		tp = systemTimeProvider{}
	}
	e.clock = tp
}

// SetCallback switches the endpoint into push mode. Returns
// ErrModeConflict if the endpoint has already been used in pull mode.
func (e *Endpoint) SetCallback(cb Callback) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == modePull {
		return ErrModeConflict
	}
	e.mode = modePush
	e.callback = cb
	return nil
}

// Deliver publishes a frame. In push mode, cb runs inline before Deliver
// returns. In pull mode (or before any mode is selected), the frame is
// queued for a later Pull/PullBlocking/PullWithTimeout call.
func (e *Endpoint) Deliver(f frame.Frame) error {
	e.mu.Lock()
	if e.mode == modeUnset {
		e.mode = modePull
	}
	if e.mode == modePush {
		cb := e.callback
		e.mu.Unlock()
		if cb != nil {
			cb(f)
		}
		return nil
	}
	e.queue = append(e.queue, f)
	e.mu.Unlock()
	return nil
}

// Pull returns the oldest queued frame without blocking. ok is false if
// the queue is currently empty.
func (e *Endpoint) Pull() (f frame.Frame, ok bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == modePush {
		return nil, false, ErrModeConflict
	}
	e.mode = modePull

	if len(e.queue) == 0 {
		if e.closed {
			return nil, false, ErrClosed
		}
		return nil, false, nil
	}
	f = e.queue[0]
	e.queue = e.queue[1:]
	return f, true, nil
}

// PullBlocking polls the queue at a fixed interval until a frame is
// available or the endpoint is closed. It returns (nil, false) on
// shutdown, and on a mode conflict; it never returns an error.
func (e *Endpoint) PullBlocking() (frame.Frame, bool) {
	for {
		f, ok, err := e.Pull()
		if err != nil {
			return nil, false
		}
		if ok {
			return f, true
		}
		time.Sleep(pullPollInterval)
	}
}

// PullWithTimeout polls the queue at a finer interval until a frame is
// available, the endpoint is closed, or timeout elapses. It returns
// (nil, false) on shutdown or timeout; it never returns an error.
func (e *Endpoint) PullWithTimeout(timeout time.Duration) (frame.Frame, bool) {
	e.mu.Lock()
	clock := e.clock
	e.mu.Unlock()

	start := clock.Now()
	for {
		f, ok, err := e.Pull()
		if err != nil {
			return nil, false
		}
		if ok {
			return f, true
		}
		if clock.Since(start) >= timeout {
			return nil, false
		}
		time.Sleep(timeoutPollInterval)
	}
}

// Close marks the endpoint closed. Pending queued frames remain
// retrievable via Pull until drained; after that, pulls return
// ErrClosed.
func (e *Endpoint) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.log.Debug("delivery endpoint closed")
}

// QueueLen reports the number of frames currently queued, for
// diagnostics.
func (e *Endpoint) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}
