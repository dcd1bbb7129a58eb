package bridge

import (
	"sync"

	"github.com/eapache/queue"
)

// sendQueue is the unbounded outbound buffer between audio producers and
// the upstream sender loop. Producers must never block on a slow upstream
// socket, so the queue grows instead of applying backpressure; audio frames
// are small and sessions are bounded by the registry ceiling.
type sendQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	q      *queue.Queue
	closed bool
}

func newSendQueue() *sendQueue {
	sq := &sendQueue{q: queue.New()}
	sq.cond = sync.NewCond(&sq.mu)
	return sq
}

// Put enqueues one message. Messages put after Close are dropped.
func (sq *sendQueue) Put(msg []byte) {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	if sq.closed {
		return
	}
	sq.q.Add(msg)
	sq.cond.Signal()
}

// Get blocks until a message is available or the queue is closed. The
// second result is false once the queue is closed and drained.
func (sq *sendQueue) Get() ([]byte, bool) {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	for sq.q.Length() == 0 && !sq.closed {
		sq.cond.Wait()
	}
	if sq.q.Length() == 0 {
		return nil, false
	}
	msg := sq.q.Remove().([]byte)
	return msg, true
}

// Len reports the number of queued messages.
func (sq *sendQueue) Len() int {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return sq.q.Length()
}

// Close wakes all blocked Gets. Queued messages may still be drained.
func (sq *sendQueue) Close() {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	if sq.closed {
		return
	}
	sq.closed = true
	sq.cond.Broadcast()
}
