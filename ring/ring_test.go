package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSizesSlotsFromByteBudget(t *testing.T) {
	tests := []struct {
		name      string
		budget    int
		wantSlots int
	}{
		{"below one slot still allocates one", 100, 1},
		{"exact multiple", SlotCapacity * 4, 4},
		{"rounds down", SlotCapacity*4 + 10, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.budget)
			assert.Equal(t, tt.wantSlots, b.Len())
			assert.Equal(t, NoIndex, b.WriteIndex())
			assert.Equal(t, NoIndex, b.ReadIndex())
		})
	}
}

func TestPublishAndClaimAdvanceCursorsIndependently(t *testing.T) {
	b := New(SlotCapacity * 4)

	copy(b.SlotAt(0).Data, []byte("hello"))
	b.PublishWrite(0, 5)
	require.Equal(t, 0, b.WriteIndex())
	require.Equal(t, NoIndex, b.ReadIndex())

	slot := b.ClaimRead(0)
	assert.Equal(t, 5, slot.Read)
	assert.Equal(t, "hello", string(slot.Data[:slot.Read]))
}

func TestDrainableReportsNothingOnFreshBuffer(t *testing.T) {
	b := New(SlotCapacity * 4)
	_, _, _, ok := b.Drainable()
	assert.False(t, ok)
}

func TestDrainableReportsNewlyWrittenRange(t *testing.T) {
	b := New(SlotCapacity * 4)
	b.PublishWrite(0, 10)
	b.PublishWrite(1, 10)

	from, to, _, ok := b.Drainable()
	require.True(t, ok)
	assert.Equal(t, NoIndex, from)
	assert.Equal(t, 1, to)

	b.ClaimRead(0)
	b.ClaimRead(1)
	_, _, _, ok = b.Drainable()
	assert.False(t, ok, "nothing new after consumer caught up")
}

func TestGrowInsertsSlotsAfterWriteIndexAndShiftsReadIndex(t *testing.T) {
	b := New(SlotCapacity * 4)
	b.PublishWrite(0, 10)
	b.ClaimRead(0)
	b.PublishWrite(1, 10)

	before := b.Len()
	inc := b.GrowthIncrement()
	b.Grow(inc)

	assert.Equal(t, before+inc, b.Len())
	assert.Equal(t, 0+inc, b.ReadIndex(), "unread data after write index must stay unread")
}

func TestGrowAtWraparoundBoundaryKeepsUnreadSlotsReachable(t *testing.T) {
	b := New(SlotCapacity * 4) // 4 slots: indices 0..3

	copy(b.SlotAt(0).Data, []byte("zero"))
	b.PublishWrite(0, 4)
	b.ClaimRead(0) // readIndex = 0, consumed

	copy(b.SlotAt(1).Data, []byte("one"))
	b.PublishWrite(1, 3)
	copy(b.SlotAt(2).Data, []byte("two"))
	b.PublishWrite(2, 3)
	copy(b.SlotAt(3).Data, []byte("three"))
	b.PublishWrite(3, 5) // writeIndex = 3, the ring's last slot

	require.True(t, b.WouldOverrun(b.Next(3)), "write is about to catch up to the consumer")

	inc := b.GrowthIncrement()
	b.Grow(inc)

	assert.Equal(t, 0+inc, b.ReadIndex())
	assert.Equal(t, 3+inc, b.WriteIndex(), "writeIndex sits at or after insertAt and must shift with the slots it now refers to")

	from, to, n, ok := b.Drainable()
	require.True(t, ok)

	var seen []string
	idx := (from + 1) % n
	if from == NoIndex {
		idx = 0
	}
	for {
		slot := b.SlotAt(idx)
		seen = append(seen, string(slot.Data[:slot.Read]))
		if idx == to {
			break
		}
		idx = (idx + 1) % n
	}

	assert.Equal(t, []string{"one", "two", "three"}, seen, "no already-published, unread slot may be skipped across a wraparound grow")
}

func TestGrowthIncrementIsQuarterFlooredAtOne(t *testing.T) {
	b := New(SlotCapacity * 4)
	assert.Equal(t, 1, b.GrowthIncrement())

	for i := 0; i < 4; i++ {
		b.Grow(4)
	}
	assert.GreaterOrEqual(t, b.GrowthIncrement(), 1)
}

func TestWouldOverrunDetectsCollisionWithReadIndex(t *testing.T) {
	b := New(SlotCapacity * 2)
	b.PublishWrite(0, 10)
	b.ClaimRead(0)
	assert.True(t, b.WouldOverrun(0))
	assert.False(t, b.WouldOverrun(1))
}

func TestNextWrapsModuloCurrentSlotCount(t *testing.T) {
	b := New(SlotCapacity * 3)
	assert.Equal(t, 1, b.Next(0))
	assert.Equal(t, 0, b.Next(2))
}
