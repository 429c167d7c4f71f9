package frontier

import (
	"container/heap"

	"github.com/myh0420/crawlerframework/internal/crawltypes"
)

// pqItem wraps a request with the fields the heap orders on. health
// is a snapshot of the domain's recent success rate taken at push
// time; it breaks priority ties toward healthier domains without the
// heap needing to re-read live state on every comparison.
type pqItem struct {
	req    *crawltypes.CrawlRequest
	health float64
	seq    int64
	index  int
}

// priorityQueue is a max-heap: higher Priority is popped first. Ties
// break by health descending, then by insertion order (seq
// ascending).
type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].req.Priority != pq[j].req.Priority {
		return pq[i].req.Priority > pq[j].req.Priority
	}
	if pq[i].health != pq[j].health {
		return pq[i].health > pq[j].health
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

var _ heap.Interface = (*priorityQueue)(nil)
