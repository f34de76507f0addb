package batch

import (
	"container/list"

	"curve-tracker/internal/domain"
)

const tierCount = int(domain.PriorityLow) + 1

// queue is a keyed FIFO per priority tier. Not safe for concurrent use.
type queue struct {
	tiers [tierCount]*list.List
	index map[string]*list.Element
}

func newQueue() *queue {
	q := &queue{index: make(map[string]*list.Element)}
	for i := range q.tiers {
		q.tiers[i] = list.New()
	}
	return q
}

func (q *queue) len() int {
	return len(q.index)
}

func (q *queue) contains(id string) bool {
	_, ok := q.index[id]
	return ok
}

// push appends rec to its tier. A record with a queued ID replaces the
// queued payload in place and keeps its position.
func (q *queue) push(rec *domain.PersistenceRecord) (replaced bool) {
	if el, ok := q.index[rec.ID]; ok {
		el.Value = rec
		return true
	}
	q.index[rec.ID] = q.tiers[tierOf(rec.Priority)].PushBack(rec)
	return false
}

// pop removes up to n records in strict tier order.
func (q *queue) pop(n int) []*domain.PersistenceRecord {
	out := make([]*domain.PersistenceRecord, 0, min(n, q.len()))
	for _, tier := range q.tiers {
		for len(out) < n {
			el := tier.Front()
			if el == nil {
				break
			}
			rec := tier.Remove(el).(*domain.PersistenceRecord)
			delete(q.index, rec.ID)
			out = append(out, rec)
		}
	}
	return out
}

// remove deletes every queued record matching match and returns how many it removed.
func (q *queue) remove(match func(*domain.PersistenceRecord) bool) int {
	n := 0
	for _, tier := range q.tiers {
		for el := tier.Front(); el != nil; {
			next := el.Next()
			if rec := el.Value.(*domain.PersistenceRecord); match(rec) {
				tier.Remove(el)
				delete(q.index, rec.ID)
				n++
			}
			el = next
		}
	}
	return n
}

func (q *queue) drain() []*domain.PersistenceRecord {
	return q.pop(q.len())
}

func tierOf(p domain.Priority) int {
	if p < domain.PriorityHigh || int(p) >= tierCount {
		return int(domain.PriorityLow)
	}
	return int(p)
}
