// Package ring implements the fixed-slot, growable single-producer/
// single-consumer datagram buffer that sits between the Receiver and
// Processor goroutines of a reception flow.
//
// A Buffer owns a sequence of Slot values. Exactly one goroutine (the
// producer) is permitted to write slot contents and advance WriteIndex;
// exactly one goroutine (the consumer) is permitted to advance ReadIndex.
// Growth is the one operation the producer performs under the Buffer's
// lock, since it mutates the logical layout the consumer is reading.
package ring

import (
	"sync"

	"github.com/opd-ai/rtpflow/internal/logging"
)

// SlotCapacity is the maximum size of a single UDP datagram that fits in
// one slot: the largest possible IP packet, minus the IPv4 and UDP headers.
const SlotCapacity = 0xffff - 20 - 8

// NoIndex is the sentinel value for "no slot has been read/written yet",
// distinct from any valid slot index. This replaces the original design's
// overloaded use of -1 feeding directly into modular arithmetic.
const NoIndex = -1

// Slot holds one received datagram. Read is the number of valid bytes in
// Data; a Read of 0 means the slot is logically empty.
type Slot struct {
	Data []byte
	Read int
}

// Buffer is the growable SPSC ring. All fields besides the slots slice
// itself are plain ints/the mutex; WriteIndex is written only by the
// producer, ReadIndex only by the consumer (except during growth, which
// runs on the producer under the lock).
type Buffer struct {
	mu    sync.Mutex
	slots []Slot

	writeIndex int
	readIndex  int

	log *logging.Helper
}

// New allocates a ring sized to hold approximately totalBytes worth of
// datagrams, with at least one slot.
func New(totalBytes int) *Buffer {
	n := totalBytes / SlotCapacity
	if n < 1 {
		n = 1
	}
	b := &Buffer{
		slots:      makeSlots(n),
		writeIndex: NoIndex,
		readIndex:  NoIndex,
		log:        logging.New("ring"),
	}
	b.log.With("slots", n).Debug("ring buffer created")
	return b
}

func makeSlots(n int) []Slot {
	slots := make([]Slot, n)
	for i := range slots {
		slots[i].Data = make([]byte, SlotCapacity)
	}
	return slots
}

// Len returns the current number of slots.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}

// Next returns (i+1) mod N for the buffer's current slot count. Callers
// must hold no assumption about N remaining stable across a growth; call
// this again after Grow.
func (b *Buffer) Next(i int) int {
	b.mu.Lock()
	n := len(b.slots)
	b.mu.Unlock()
	return next(i, n)
}

func next(i, n int) int {
	return (i + 1) % n
}

// WriteIndex returns the current write cursor.
func (b *Buffer) WriteIndex() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeIndex
}

// ReadIndex returns the current read cursor.
func (b *Buffer) ReadIndex() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readIndex
}

// SlotAt returns a read-only reference to the slot at index i. Callers in
// the consumer must only call this for indices they have already claimed
// via ClaimRead (I2): the data is guaranteed stable once WriteIndex has
// passed it (I1).
func (b *Buffer) SlotAt(i int) *Slot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &b.slots[i]
}

// WouldOverrun reports whether writing to slot w would catch up to the
// consumer's frontier, i.e. whether growth must happen before the write.
func (b *Buffer) WouldOverrun(w int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return w == b.readIndex
}

// PublishWrite records that slot w now holds a fully-written datagram of
// n bytes. This must only be called by the producer, and only after the
// bytes have actually been copied into the slot (I1).
func (b *Buffer) PublishWrite(w, n int) {
	b.mu.Lock()
	b.slots[w].Read = n
	b.writeIndex = w
	b.mu.Unlock()
}

// ClaimRead advances ReadIndex to r and returns the slot now owned by the
// consumer. Must only be called by the consumer, and before the slot's
// contents are inspected (I2).
func (b *Buffer) ClaimRead(r int) *Slot {
	b.mu.Lock()
	b.readIndex = r
	slot := &b.slots[r]
	b.mu.Unlock()
	return slot
}

// Drainable reports the slot indices the consumer should visit during one
// drain pass: every index strictly after the current ReadIndex up to and
// including WriteIndex. It does not mutate any cursor.
func (b *Buffer) Drainable() (from, to int, n int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeIndex == NoIndex {
		return 0, 0, len(b.slots), false
	}
	if b.readIndex == b.writeIndex {
		// Nothing new since the last drain.
		return 0, 0, len(b.slots), false
	}
	return b.readIndex, b.writeIndex, len(b.slots), true
}

// Grow inserts k fresh empty slots at next(WriteIndex, N) -- the same
// wraparound-aware position WouldOverrun checked against ReadIndex -- and
// shifts ReadIndex forward by k so that already-buffered, unread
// datagrams remain unread and in order (R2: the shift happens atomically
// with the insertion, under the same lock acquisition used by
// PublishWrite/ClaimRead). Using a raw writeIndex+1 here instead of the
// modulo-wrapped position would insert at the wrong end of the slice
// whenever growth fires at the ring's wraparound boundary.
//
// Inserting at insertAt also moves every slot at or after insertAt up by
// k positions. ReadIndex always lands there (that's the overrun
// condition that triggers growth), so it always needs the shift above.
// WriteIndex only needs the same shift when growth fires at the ring's
// wraparound boundary -- insertAt wraps to 0 while WriteIndex is still
// sitting at the old last slot, which is itself at or after insertAt in
// the underlying slice.
func (b *Buffer) Grow(k int) {
	if k < 1 {
		k = 1
	}

	b.mu.Lock()
	insertAt := next(b.writeIndex, len(b.slots))

	fresh := makeSlots(k)
	grown := make([]Slot, 0, len(b.slots)+k)
	grown = append(grown, b.slots[:insertAt]...)
	grown = append(grown, fresh...)
	grown = append(grown, b.slots[insertAt:]...)
	b.slots = grown

	if b.readIndex != NoIndex {
		b.readIndex += k
	}
	if b.writeIndex != NoIndex && b.writeIndex >= insertAt {
		b.writeIndex += k
	}
	newLen := len(b.slots)
	b.mu.Unlock()

	b.log.WithFields(map[string]interface{}{"added": k, "slots": newLen}).Debug("ring buffer grown")
}

// GrowthIncrement is the number of slots Grow should add per the §4.1
// growth policy: a quarter of the current size, floored at 1.
func (b *Buffer) GrowthIncrement() int {
	b.mu.Lock()
	n := len(b.slots)
	b.mu.Unlock()
	inc := n / 4
	if inc < 1 {
		inc = 1
	}
	return inc
}
