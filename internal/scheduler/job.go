package scheduler

import (
	"container/heap"

	"github.com/specialistvlad/chunkflow/internal/graph"
)

// Job is a READY node waiting for admission.
type Job struct {
	MemoryGB float64
	NProcs   int
	Node     graph.NodeID
}

// Less orders jobs by memory, then processors, then node id.
func (j Job) Less(o Job) bool {
	if j.MemoryGB != o.MemoryGB {
		return j.MemoryGB < o.MemoryGB
	}
	if j.NProcs != o.NProcs {
		return j.NProcs < o.NProcs
	}
	return j.Node < o.Node
}

type jobHeap []Job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)        { *h = append(*h, x.(Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	*h = old[:n-1]
	return j
}

// readyQueue is the min-heap of READY jobs.
type readyQueue struct {
	h jobHeap
}

func (q *readyQueue) push(j Job) { heap.Push(&q.h, j) }

func (q *readyQueue) len() int { return q.h.Len() }

// drain removes every job in admission order.
func (q *readyQueue) drain() []Job {
	out := make([]Job, 0, q.h.Len())
	for q.h.Len() > 0 {
		out = append(out, heap.Pop(&q.h).(Job))
	}
	return out
}
