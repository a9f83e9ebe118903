package teams

import "sync"

// frameQueue is an unbounded FIFO between the session's read goroutine and
// the event goroutine. push never blocks; ready is signalled after a push.
type frameQueue struct {
	mu    sync.Mutex
	items []string
	ready chan struct{}
}

func newFrameQueue() *frameQueue {
	return &frameQueue{ready: make(chan struct{}, 1)}
}

func (q *frameQueue) push(raw string) {
	q.mu.Lock()
	q.items = append(q.items, raw)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *frameQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	raw := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	return raw, true
}

func (q *frameQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
