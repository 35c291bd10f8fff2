package frame

// PartitionShift is the number of low bits reserved for the row index inside
// a partition. A partition may hold at most 1<<PartitionShift rows.
const PartitionShift = 33

// MonotonicID mirrors Session.MonotonicID for a single row.
func MonotonicID(partition, row int64) int64 {
	return partition<<PartitionShift + row
}
