package market

// FIFOQueue tracks matured, not-fully-funded withdrawal batch expiries in
// arrival order. Batches mature in increasing expiry order by construction,
// so the head is always the oldest outstanding batch.
//
// Head removal advances an index instead of shifting the backing slice; the
// slice is compacted once the dead prefix outgrows the live tail.
type FIFOQueue struct {
	items []uint64
	head  int
}

// NewFIFOQueue restores a queue from a persisted snapshot of expiries.
func NewFIFOQueue(items []uint64) *FIFOQueue {
	return &FIFOQueue{items: append([]uint64(nil), items...)}
}

// Len returns the number of queued expiries.
func (q *FIFOQueue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.items) - q.head
}

// Push appends an expiry to the tail of the queue.
func (q *FIFOQueue) Push(expiry uint64) {
	q.items = append(q.items, expiry)
}

// First returns the oldest queued expiry without removing it.
func (q *FIFOQueue) First() (uint64, error) {
	if q.Len() == 0 {
		return 0, ErrEmptyQueue
	}
	return q.items[q.head], nil
}

// Shift removes and returns the oldest queued expiry.
func (q *FIFOQueue) Shift() (uint64, error) {
	if q.Len() == 0 {
		return 0, ErrEmptyQueue
	}
	value := q.items[q.head]
	q.head++
	if q.head > len(q.items)/2 {
		q.items = append([]uint64(nil), q.items[q.head:]...)
		q.head = 0
	}
	return value, nil
}

// Values returns a snapshot of the queued expiries in order.
func (q *FIFOQueue) Values() []uint64 {
	if q == nil || q.Len() == 0 {
		return []uint64{}
	}
	return append([]uint64(nil), q.items[q.head:]...)
}
