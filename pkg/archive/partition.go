package archive

import "time"

// partitionLayout buckets an instant by UTC calendar day and hour. The leading
// and trailing separators belong to the layout; the object key generator
// collapses any doubling they cause when joined with a prefix.
const partitionLayout = "/dt=20060102/hour=15/"

// PartitionKey returns the archive partition for t, e.g.
// "/dt=20210823/hour=16/". Two instants in the same UTC hour always share a
// key; instants in adjacent hours never do. Partition membership is decided
// by time alone.
func PartitionKey(t time.Time) string {
	return t.UTC().Format(partitionLayout)
}
