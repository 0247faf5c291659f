package pool

import "sort"

// waiter is one blocked Acquire call. grant is buffered so a release can
// hand over a connection without blocking under the pool lock.
type waiter struct {
	role     Role
	priority Priority
	seq      uint64
	grant    chan *Connection
}

// before reports whether w should be served ahead of o.
func (w *waiter) before(o *waiter) bool {
	if w.priority != o.priority {
		return w.priority > o.priority
	}
	return w.seq < o.seq
}

// waitQueue keeps waiters in service order: priority, then arrival.
type waitQueue struct {
	items []*waiter
}

func (q *waitQueue) push(w *waiter) {
	i := sort.Search(len(q.items), func(i int) bool { return w.before(q.items[i]) })
	q.items = append(q.items, nil)
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = w
}

func (q *waitQueue) peek() *waiter {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *waitQueue) pop() *waiter {
	w := q.peek()
	if w != nil {
		q.items[0] = nil
		q.items = q.items[1:]
	}
	return w
}

// remove drops w and reports whether it was still queued.
func (q *waitQueue) remove(w *waiter) bool {
	for i, it := range q.items {
		if it == w {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

func (q *waitQueue) len() int { return len(q.items) }
