package buffer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/frame"
)

func newFrame(seq uint64) *frame.Frame {
	return &frame.Frame{Seq: seq, Data: []byte{byte(seq)}}
}

func TestPushRespectsCapacityBound(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for _, capacity := range []int{1, 2, 5} {
		r := NewRing(capacity)
		pushes := 50 + rng.Intn(200)
		for i := 0; i < pushes; i++ {
			r.Push(newFrame(uint64(i)))
			require.LessOrEqual(t, r.Len(), capacity, "size bound violated after push %d (cap %d)", i, capacity)
		}
	}
}

func TestDropOldestOrdering(t *testing.T) {
	const capacity = 3
	const total = 10

	r := NewRing(capacity)
	for i := 1; i <= total; i++ {
		r.Push(newFrame(uint64(i)))
	}

	// Draining yields the last C frames in original relative order.
	var got []uint64
	for {
		f, ok := r.Pop()
		if !ok {
			break
		}
		got = append(got, f.Seq)
	}
	assert.Equal(t, []uint64{8, 9, 10}, got)
}

func TestPopEmptyDoesNotBlock(t *testing.T) {
	r := NewRing(2)

	f, ok := r.Pop()
	assert.Nil(t, f)
	assert.False(t, ok)

	r.Push(newFrame(1))
	_, ok = r.Pop()
	require.True(t, ok)
	_, ok = r.Pop()
	assert.False(t, ok)
}

func TestDrain(t *testing.T) {
	r := NewRing(4)
	for i := 0; i < 4; i++ {
		r.Push(newFrame(uint64(i)))
	}
	r.Drain()
	assert.Equal(t, 0, r.Len())
	_, ok := r.Pop()
	assert.False(t, ok)

	// Still usable after a drain.
	r.Push(newFrame(9))
	f, ok := r.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(9), f.Seq)
}

func TestNonPositiveCapacityFallsBack(t *testing.T) {
	r := NewRing(0)
	assert.Equal(t, DefaultCapacity, r.Cap())
}
