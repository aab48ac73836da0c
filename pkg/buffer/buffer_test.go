package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRead(t *testing.T) {
	buf, err := NewRing[int](3)
	require.NoError(t, err)

	assert.True(t, buf.IsEmpty())
	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))

	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v, "reads come out oldest first")

	v, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = buf.Read()
	assert.False(t, ok)
}

func TestDropOldestOverflow(t *testing.T) {
	buf, err := NewRing[int](3)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, buf.Write(i))
	}

	assert.Equal(t, 3, buf.Size())
	assert.True(t, buf.IsFull())
	assert.Equal(t, []int{3, 4, 5}, buf.Snapshot(), "the two oldest items were evicted")
	assert.Equal(t, int64(2), buf.Stats().Drops())
}

func TestDropNewestOverflow(t *testing.T) {
	buf, err := NewRing[int](2, WithOverflowPolicy[int](DropNewest))
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3))

	assert.Equal(t, []int{1, 2}, buf.Snapshot(), "new items are rejected once full")
}

func TestDropCallback(t *testing.T) {
	var dropped []int
	buf, err := NewRing[int](2, WithDropCallback[int](func(item int) {
		dropped = append(dropped, item)
	}))
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3))

	assert.Equal(t, []int{1}, dropped)
}

func TestSnapshotDoesNotConsume(t *testing.T) {
	buf, err := NewRing[string](4)
	require.NoError(t, err)

	require.NoError(t, buf.Write("a"))
	require.NoError(t, buf.Write("b"))

	assert.Equal(t, []string{"a", "b"}, buf.Snapshot())
	assert.Equal(t, 2, buf.Size(), "Snapshot leaves the buffer untouched")

	v, ok := buf.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 2, buf.Size())
}

func TestSnapshotWrapsAround(t *testing.T) {
	buf, err := NewRing[int](3)
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, buf.Write(i))
	}
	buf.Read()
	require.NoError(t, buf.Write(5))

	assert.Equal(t, []int{3, 4, 5}, buf.Snapshot())
}

func TestClear(t *testing.T) {
	buf, err := NewRing[int](3)
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	buf.Clear()

	assert.True(t, buf.IsEmpty())
	assert.Empty(t, buf.Snapshot())
}

func TestMinimumCapacity(t *testing.T) {
	buf, err := NewRing[int](0)
	require.NoError(t, err)
	assert.Equal(t, 1, buf.Capacity(), "non-positive capacity is clamped to 1")
}

func TestOverflowPolicyString(t *testing.T) {
	assert.Equal(t, "DropOldest", DropOldest.String())
	assert.Equal(t, "DropNewest", DropNewest.String())
	assert.Equal(t, "Unknown", OverflowPolicy(9).String())
}
