// Package handler implements the keyed packet-handler registry that sits
// in the Processor's drain loop. Installing a handler returns a random,
// nonzero key the caller uses later to uninstall it; each key has exactly
// one primary handler and zero or more auxiliary handlers that run after
// it in installation order.
package handler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pion/randutil"

	"github.com/opd-ai/rtpflow/frame"
	"github.com/opd-ai/rtpflow/internal/logging"
)

// Outcome tags what a handler did with a frame. It replaces the original
// design's sentinel return codes with a closed set of named values a
// switch can exhaustively match.
type Outcome int

const (
	// Ok means the handler did not need to act; the frame is unchanged
	// and dispatch should stop visiting this key's auxiliary chain.
	Ok Outcome = iota
	// NotHandled means this handler does not apply to this frame kind.
	NotHandled
	// Modified means the handler transformed the frame in place; its
	// auxiliary chain runs next, seeing the new value.
	Modified
	// Ready means the handler produced a frame ready for delivery.
	Ready
	// MultipleReady means the handler produced more than one frame ready
	// for delivery (e.g. a depacketizer emitting several access units).
	MultipleReady
	// AuthTagMismatch means an SRTCP authentication check failed.
	AuthTagMismatch
	// InvalidValue means the handler rejected the frame as malformed or
	// replayed.
	InvalidValue
	// Interrupted means processing was aborted, e.g. on shutdown.
	Interrupted
	// Error means the handler failed unexpectedly.
	Error
)

func (o Outcome) String() string {
	switch o {
	case NotHandled:
		return "not_handled"
	case Modified:
		return "modified"
	case Ready:
		return "ready"
	case MultipleReady:
		return "multiple_ready"
	case AuthTagMismatch:
		return "auth_tag_mismatch"
	case InvalidValue:
		return "invalid_value"
	case Interrupted:
		return "interrupted"
	case Error:
		return "error"
	default:
		return "ok"
	}
}

// Result is what a handler returns: the tagged outcome, any frames ready
// for delivery (used with Ready/MultipleReady), and an error for Error.
type Result struct {
	Outcome Outcome
	Frames  []frame.Frame
	Err     error
}

// Func is the handler signature. A primary handler classifies and may
// transform a frame; an auxiliary handler observes (and may further
// transform) whatever the primary handler produced. flags carries the
// reception flow's configured handler flags through unchanged, letting a
// handler vary its own behavior (e.g. a null-cipher test mode) without a
// side channel back to the registry.
type Func func(f frame.Frame, flags int32) Result

// Getter is attached to an auxiliary handler that may have more than one
// frame ready after a single Func call. Dispatch calls it repeatedly,
// immediately after the auxiliary reports MultipleReady, for as long as it keeps
// reporting Ready, emitting each frame it returns; the first non-Ready
// result ends the drain.
type Getter func(flags int32) Result

// Key identifies an installed handler chain.
type Key uint32

type entry struct {
	primary    Func
	auxiliary  []auxEntry
	nextAuxSeq int
}

type auxEntry struct {
	seq    int
	fn     Func
	getter Getter
}

// Registry owns the installed primary/auxiliary handler chains and
// dispatches frames to them in key-registration order.
type Registry struct {
	mu      sync.RWMutex
	entries map[Key]*entry
	order   []Key
	rng     randutil.MathRandomGenerator

	log *logging.Helper
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[Key]*entry),
		rng:     randutil.NewMathRandomGenerator(),
		log:     logging.New("handler"),
	}
}

// InstallPrimary registers fn as the primary handler for a new key and
// returns that key. Keys are random and nonzero, mirroring the original
// design's install_handler key generation. A nil fn installs nothing and
// returns 0.
func (r *Registry) InstallPrimary(fn Func) Key {
	if fn == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.nextKey()
	r.entries[key] = &entry{primary: fn}
	r.order = append(r.order, key)
	r.log.With("key", uint32(key)).Debug("primary handler installed")
	return key
}

// InstallAuxiliary appends fn to the auxiliary chain for an already
// installed key. getter may be nil; when non-nil, Dispatch drains it
// for any additional ready frames whenever fn itself reports MultipleReady.
// Returns an error if the key is unknown or fn is nil.
func (r *Registry) InstallAuxiliary(key Key, fn Func, getter Getter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return fmt.Errorf("handler: unknown key %d", uint32(key))
	}
	if fn == nil {
		return fmt.Errorf("handler: nil auxiliary handler for key %d", uint32(key))
	}
	e.auxiliary = append(e.auxiliary, auxEntry{seq: e.nextAuxSeq, fn: fn, getter: getter})
	e.nextAuxSeq++
	sort.SliceStable(e.auxiliary, func(i, j int) bool { return e.auxiliary[i].seq < e.auxiliary[j].seq })
	return nil
}

// Uninstall removes a key and its whole chain.
func (r *Registry) Uninstall(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) nextKey() Key {
	for {
		k := Key(r.rng.Uint32())
		if k == 0 {
			continue
		}
		if _, exists := r.entries[k]; exists {
			continue
		}
		return k
	}
}

// Dispatch runs f through every installed chain, in registration order.
// For each key: the primary handler runs first; its auxiliary chain runs
// only when the primary reports Modified (Ok/NotHandled stop dispatching
// to that key's auxiliaries; Ready/MultipleReady are collected for
// delivery without running auxiliaries, since the primary considered the
// frame finished). Dispatch stops visiting further chains as soon as one
// handler returns Error, AuthTagMismatch, or InvalidValue, reporting that
// as the aggregate result; otherwise it collects every Ready/
// MultipleReady frame produced along the way.
func (r *Registry) Dispatch(f frame.Frame, flags int32) Result {
	r.mu.RLock()
	keys := make([]Key, len(r.order))
	copy(keys, r.order)
	entries := make(map[Key]*entry, len(r.entries))
	for k, e := range r.entries {
		entries[k] = e
	}
	r.mu.RUnlock()

	var ready []frame.Frame
	current := f

	for _, key := range keys {
		e := entries[key]
		if e == nil || e.primary == nil {
			continue
		}

		res := e.primary(current, flags)
		switch res.Outcome {
		case NotHandled, Ok:
			continue
		case Modified:
			current = soleFrame(res.Frames, current)
		case Ready, MultipleReady:
			ready = append(ready, res.Frames...)
			continue
		case Error, AuthTagMismatch, InvalidValue, Interrupted:
			return res
		}

		for _, aux := range e.auxiliary {
			auxRes := aux.fn(current, flags)
			switch auxRes.Outcome {
			case Modified:
				current = soleFrame(auxRes.Frames, current)
			case Ready, MultipleReady:
				ready = append(ready, auxRes.Frames...)
				if aux.getter != nil && auxRes.Outcome == MultipleReady {
					ready = append(ready, drainGetter(aux.getter, flags)...)
				}
			case Error, AuthTagMismatch, InvalidValue, Interrupted:
				return auxRes
			}
		}
	}

	if len(ready) > 1 {
		return Result{Outcome: MultipleReady, Frames: ready}
	}
	if len(ready) == 1 {
		return Result{Outcome: Ready, Frames: ready}
	}
	return Result{Outcome: Ok, Frames: []frame.Frame{current}}
}

// drainGetter calls getter repeatedly while it keeps reporting Ready,
// collecting every frame it produces; the first non-Ready result ends
// the drain without being reported further (it signals "nothing left").
func drainGetter(getter Getter, flags int32) []frame.Frame {
	var extra []frame.Frame
	for {
		res := getter(flags)
		if res.Outcome != Ready {
			return extra
		}
		extra = append(extra, res.Frames...)
	}
}

func soleFrame(frames []frame.Frame, fallback frame.Frame) frame.Frame {
	if len(frames) > 0 {
		return frames[0]
	}
	return fallback
}
