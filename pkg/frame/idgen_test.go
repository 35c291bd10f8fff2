package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrame_MonotonicIDLayout(t *testing.T) {
	t.Parallel()

	require.Equal(t, int64(0), MonotonicID(0, 0))
	require.Equal(t, int64(5), MonotonicID(0, 5))
	require.Equal(t, int64(8589934592), MonotonicID(1, 0))
	require.Equal(t, int64(2*8589934592+7), MonotonicID(2, 7))

	id := MonotonicID(1000, 1<<PartitionShift-1)
	require.Equal(t, int64(1000), id>>PartitionShift)
	require.Equal(t, int64(1<<PartitionShift-1), id&(1<<PartitionShift-1))

	require.Less(t, MonotonicID(0, 1<<PartitionShift-1), MonotonicID(1, 0))
}
