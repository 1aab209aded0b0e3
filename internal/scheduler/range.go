package scheduler

import "fmt"

// IndexRange is an inclusive range of event ids or payout indexes.
type IndexRange struct {
	From uint64
	To   uint64
}

// Len returns the number of indexes in the range.
func (r IndexRange) Len() uint64 {
	return r.To - r.From + 1
}

// SplitRange splits an inclusive range into chunks of at most size.
func SplitRange(from, to, size uint64) ([]IndexRange, error) {
	if size == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("range end must be >= start")
	}

	ranges := make([]IndexRange, 0, (to-from)/size+1)
	start := from
	for {
		end := to
		if to-start >= size {
			end = start + size - 1
		}
		ranges = append(ranges, IndexRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}
	return ranges, nil
}
