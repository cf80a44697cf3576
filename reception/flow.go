// Package reception wires together a ring buffer, a UDP socket, a
// handler registry and a delivery endpoint into one running pipeline: a
// Receiver goroutine that pulls datagrams off the wire as fast as
// possible, and a Processor goroutine that classifies, transforms and
// delivers them. The two communicate only through the ring buffer and a
// condition variable, matching the original design's single-mutex,
// single-cond-var handoff.
package reception

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/opd-ai/rtpflow/delivery"
	"github.com/opd-ai/rtpflow/frame"
	"github.com/opd-ai/rtpflow/handler"
	"github.com/opd-ai/rtpflow/internal/logging"
	"github.com/opd-ai/rtpflow/ring"
	"github.com/opd-ai/rtpflow/socket"
	"github.com/opd-ai/rtpflow/srtcp"
)

// elevatedPriority is the scheduling priority the receiver goroutine's OS
// thread requests when PriorityIntent is set; the processor goroutine's
// thread requests one step below it. Lower is higher priority under POSIX
// setpriority semantics.
const elevatedPriority = -10

// Flow owns one reception pipeline: a bound socket, its ring buffer, the
// installed handler chains, and the delivery endpoint frames surface
// through. Each Flow carries a correlation ID so its log lines can be
// traced across the receiver and processor goroutines.
type Flow struct {
	ID uuid.UUID

	cfg      Config
	sock     *socket.Endpoint
	buf      *ring.Buffer
	handlers *handler.Registry
	delivery *delivery.Endpoint

	srtcpMu  sync.RWMutex
	srtcpCtx *srtcp.Context

	mu        sync.Mutex
	cond      *sync.Cond
	stopping  atomic.Bool
	stopped   chan struct{}
	wg        sync.WaitGroup
	startedOk bool

	log *logging.Helper
}

// New constructs a Flow bound to cfg.ListenAddr but does not start its
// goroutines; call Start for that.
func New(cfg Config) (*Flow, error) {
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("reception: invalid log level %q: %w", cfg.LogLevel, err)
	}

	sock, err := socket.Listen(cfg.ListenAddr)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	f := &Flow{
		ID:       id,
		cfg:      cfg,
		sock:     sock,
		buf:      ring.New(cfg.BufferSizeBytes),
		handlers: handler.New(),
		delivery: delivery.New(),
		stopped:  make(chan struct{}),
		log:      logging.New("reception").With("flow_id", id.String()),
	}
	f.cond = sync.NewCond(&f.mu)
	return f, nil
}

// Handlers exposes the registry so callers can install primary/auxiliary
// handlers before or after Start.
func (f *Flow) Handlers() *handler.Registry { return f.handlers }

// Delivery exposes the delivery endpoint so callers can pull frames or
// install a push callback.
func (f *Flow) Delivery() *delivery.Endpoint { return f.delivery }

// SetSRTCPContext installs (or, passed nil, removes) the SRTCP transform
// context the processor consults for incoming RTCP datagrams. Once
// installed, every RTCP-classified datagram is authenticated and
// decrypted through ctx before being parsed; datagrams that fail
// authentication are logged and dropped rather than handed to the
// handler registry.
func (f *Flow) SetSRTCPContext(ctx *srtcp.Context) {
	f.srtcpMu.Lock()
	f.srtcpCtx = ctx
	f.srtcpMu.Unlock()
}

// LocalAddr returns the bound socket address.
func (f *Flow) LocalAddr() string {
	return f.sock.LocalAddr().String()
}

// Start launches the receiver and processor goroutines.
func (f *Flow) Start(ctx context.Context) {
	f.wg.Add(2)
	go f.receiverLoop(ctx)
	go f.processorLoop(ctx)
	f.startedOk = true
	f.log.Info("reception flow started")
}

// Stop signals both goroutines to exit, waits for them to finish, then
// closes the delivery endpoint and discards any frames still queued for
// pull.
func (f *Flow) Stop() {
	f.stopping.Store(true)
	f.mu.Lock()
	f.cond.Broadcast()
	f.mu.Unlock()

	_ = f.sock.Close()
	f.wg.Wait()

	f.delivery.Close()
	for {
		if _, ok, _ := f.delivery.Pull(); !ok {
			break
		}
	}
	close(f.stopped)
	f.log.Info("reception flow stopped")
}

// Done returns a channel closed once Stop has finished shutting the flow
// down.
func (f *Flow) Done() <-chan struct{} { return f.stopped }

func (f *Flow) receiverLoop(ctx context.Context) {
	defer f.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if f.cfg.PriorityIntent {
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, elevatedPriority); err != nil {
			f.log.WithError(err).Warn("could not elevate receiver thread priority")
		}
	}

	scratch := make([]byte, ring.SlotCapacity)

	for {
		if ctx.Err() != nil || f.stopping.Load() {
			return
		}

		n, _, result := f.sock.RecvFrom(scratch)
		switch result {
		case socket.TimedOut:
			continue
		case socket.Closed:
			return
		case socket.Failed:
			f.log.Error("receiver socket failed, stopping flow")
			f.stopping.Store(true)
			f.mu.Lock()
			f.cond.Broadcast()
			f.mu.Unlock()
			return
		case socket.Ready:
			f.publish(scratch[:n])
		}
	}
}

func (f *Flow) publish(data []byte) {
	w := f.buf.WriteIndex()
	next := f.buf.Next(w)
	if w == ring.NoIndex {
		next = 0
	}

	if f.buf.WouldOverrun(next) {
		f.buf.Grow(f.buf.GrowthIncrement())
		w = f.buf.WriteIndex()
		next = f.buf.Next(w)
		if w == ring.NoIndex {
			next = 0
		}
	}

	slot := f.buf.SlotAt(next)
	n := copy(slot.Data, data)
	f.buf.PublishWrite(next, n)

	f.mu.Lock()
	f.cond.Broadcast()
	f.mu.Unlock()
}

func (f *Flow) processorLoop(ctx context.Context) {
	defer f.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if f.cfg.PriorityIntent {
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, elevatedPriority+1); err != nil {
			f.log.WithError(err).Warn("could not elevate processor thread priority")
		}
	}

	for {
		f.mu.Lock()
		for {
			if ctx.Err() != nil || f.stopping.Load() {
				f.mu.Unlock()
				return
			}
			if _, _, _, ok := f.buf.Drainable(); ok {
				break
			}
			f.cond.Wait()
		}
		f.mu.Unlock()

		f.drainOnce()
	}
}

func (f *Flow) drainOnce() {
	for {
		from, to, n, ok := f.buf.Drainable()
		if !ok {
			return
		}

		idx := (from + 1) % n
		if from == ring.NoIndex {
			idx = 0
		}

		slot := f.buf.ClaimRead(idx)
		data := append([]byte{}, slot.Data[:slot.Read]...)
		f.dispatch(data)

		if idx == to {
			return
		}
	}
}

func (f *Flow) dispatch(data []byte) {
	var fr frame.Frame
	if frame.IsRTCP(data) {
		body := data
		f.srtcpMu.RLock()
		ctx := f.srtcpCtx
		f.srtcpMu.RUnlock()
		if ctx != nil {
			plain, err := ctx.Open(data)
			if err != nil {
				f.log.WithError(err).Warn("srtcp: rejected RTCP datagram")
				return
			}
			body = plain
		}
		parsed, err := frame.ParseRTCP(body)
		if err != nil {
			f.log.WithError(err).Warn("failed to parse RTCP datagram")
			return
		}
		fr = parsed
	} else {
		parsed, err := frame.ParseRTP(data)
		if err != nil {
			f.log.WithError(err).Warn("failed to parse RTP datagram")
			return
		}
		fr = parsed
	}

	res := f.handlers.Dispatch(fr, f.cfg.Flags)
	switch res.Outcome {
	case handler.Ready, handler.MultipleReady:
		for _, out := range res.Frames {
			if err := f.delivery.Deliver(out); err != nil {
				f.log.WithError(err).Warn("delivery failed")
			}
		}
	case handler.Error, handler.AuthTagMismatch, handler.InvalidValue:
		f.log.WithFields(map[string]interface{}{"outcome": res.Outcome.String()}).Warn("handler chain rejected frame")
	}
}
