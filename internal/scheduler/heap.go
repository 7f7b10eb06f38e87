package scheduler

import "container/heap"

// taskHeap is a time-ordered priority queue of pending tasks, the Go
// stand-in for the teacher's `std::multimap<time_point, task>` index.
type taskHeap []*internalTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *taskHeap) Push(x any) {
	it := x.(*internalTask)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

func (h *taskHeap) remove(it *internalTask) bool {
	if it.index < 0 || it.index >= len(*h) || (*h)[it.index] != it {
		return false
	}
	heap.Remove(h, it.index)
	return true
}
