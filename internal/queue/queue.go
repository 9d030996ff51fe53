package queue

import "container/heap"

// Compile time check to ensure PriorityQueue satisfies the heap interface.
var _ heap.Interface = (*PriorityQueue)(nil)

// PriorityQueueItem represents an item in the priority queue.
// Value-based (no pointers) to avoid per-item allocations.
type PriorityQueueItem struct {
	Node     uint64  // Node id.
	Distance float32 // Distance is the priority of the item in the queue.
}

// PriorityQueue is a binary heap of (distance, node id) pairs, configurable
// as a min-heap (closest on top) or max-heap (farthest on top).
//
// Equal distances are ordered by node id so that identical inputs always
// produce identical pop order.
type PriorityQueue struct {
	isMaxHeap bool
	items     []PriorityQueueItem
}

// NewMin initializes a new priority queue with minimum priority on top.
func NewMin(capacity int) *PriorityQueue {
	return &PriorityQueue{
		isMaxHeap: false,
		items:     make([]PriorityQueueItem, 0, capacity),
	}
}

// NewMax initializes a new priority queue with maximum priority on top.
func NewMax(capacity int) *PriorityQueue {
	return &PriorityQueue{
		isMaxHeap: true,
		items:     make([]PriorityQueueItem, 0, capacity),
	}
}

// TopItem returns the top element of the heap without removing it.
func (pq *PriorityQueue) TopItem() (PriorityQueueItem, bool) {
	if len(pq.items) == 0 {
		return PriorityQueueItem{}, false
	}
	return pq.items[0], true
}

// PushItem inserts an item while maintaining the heap invariant.
func (pq *PriorityQueue) PushItem(item PriorityQueueItem) {
	pq.items = append(pq.items, item)
	pq.siftUp(len(pq.items) - 1)
}

// PopItem removes and returns the top element while maintaining the heap
// invariant.
func (pq *PriorityQueue) PopItem() (PriorityQueueItem, bool) {
	n := len(pq.items)
	if n == 0 {
		return PriorityQueueItem{}, false
	}
	root := pq.items[0]
	last := pq.items[n-1]
	pq.items[n-1] = PriorityQueueItem{}
	pq.items = pq.items[:n-1]
	if n-1 > 0 {
		pq.items[0] = last
		pq.siftDown(0)
	}
	return root, true
}

// MinItem returns the item with the smallest Distance currently in the queue.
// For min-heaps this is the top element; for max-heaps this scans the backing
// slice.
func (pq *PriorityQueue) MinItem() (PriorityQueueItem, bool) {
	if len(pq.items) == 0 {
		return PriorityQueueItem{}, false
	}
	if !pq.isMaxHeap {
		return pq.items[0], true
	}
	best := pq.items[0]
	for i := 1; i < len(pq.items); i++ {
		if itemLess(pq.items[i], best) {
			best = pq.items[i]
		}
	}
	return best, true
}

// Items returns the backing slice in heap order. Read-only; valid until the
// next mutation.
func (pq *PriorityQueue) Items() []PriorityQueueItem { return pq.items }

// Reset clears the priority queue for reuse.
func (pq *PriorityQueue) Reset() { pq.items = pq.items[:0] }

// Len returns the number of elements in the priority queue.
func (pq *PriorityQueue) Len() int { return len(pq.items) }

// itemLess orders items by distance, then by node id for determinism.
func itemLess(a, b PriorityQueueItem) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Node < b.Node
}

func (pq *PriorityQueue) less(i, j int) bool {
	if pq.isMaxHeap {
		return itemLess(pq.items[j], pq.items[i])
	}
	return itemLess(pq.items[i], pq.items[j])
}

func (pq *PriorityQueue) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !pq.less(i, p) {
			return
		}
		pq.items[i], pq.items[p] = pq.items[p], pq.items[i]
		i = p
	}
}

func (pq *PriorityQueue) siftDown(i int) {
	n := len(pq.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && pq.less(r, l) {
			best = r
		}
		if !pq.less(best, i) {
			return
		}
		pq.items[i], pq.items[best] = pq.items[best], pq.items[i]
		i = best
	}
}

// Less reports whether the element with index i should sort before the
// element with index j. Part of heap.Interface.
func (pq *PriorityQueue) Less(i, j int) bool { return pq.less(i, j) }

// Swap swaps the elements with indexes i and j.
func (pq *PriorityQueue) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
}

// Push adds x to the priority queue. Part of heap.Interface.
func (pq *PriorityQueue) Push(x any) {
	pq.items = append(pq.items, x.(PriorityQueueItem))
}

// Pop removes and returns the last element. Part of heap.Interface.
func (pq *PriorityQueue) Pop() any {
	n := len(pq.items)
	if n == 0 {
		return PriorityQueueItem{}
	}
	item := pq.items[n-1]
	pq.items[n-1] = PriorityQueueItem{}
	pq.items = pq.items[:n-1]
	return item
}
