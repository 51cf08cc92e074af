package can

import (
	"container/list"
	"sync"
	"time"
)

// DefaultQueueCapacity is used when NewQueue is given a non-positive capacity.
const DefaultQueueCapacity = 64

// Queue is a bounded frame buffer fed by push-style transports, whose
// driver callbacks deliver frames asynchronously. When full, the oldest
// frame is dropped. Push never blocks.
type Queue struct {
	Capacity int

	lock    sync.Mutex
	frames  list.List
	dropped uint64
	closed  bool
	notify  chan struct{}
}

// NewQueue creates a Queue.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{Capacity: capacity, notify: make(chan struct{}, 1)}
}

// Push appends a frame. It returns false if the queue is closed.
func (q *Queue) Push(f Frame) bool {
	q.lock.Lock()
	if q.closed {
		q.lock.Unlock()
		return false
	}
	for q.frames.Len() >= q.Capacity {
		q.frames.Remove(q.frames.Front())
		q.dropped++
	}
	q.frames.PushBack(f)
	q.lock.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of buffered frames.
func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.frames.Len()
}

// Dropped returns the number of frames dropped on overflow.
func (q *Queue) Dropped() uint64 {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.dropped
}

func (q *Queue) pop() (f Frame, ok bool, closed bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if elm := q.frames.Front(); elm != nil {
		q.frames.Remove(elm)
		return elm.Value.(Frame), true, false
	}
	return Frame{}, false, q.closed
}

// Receive implements Bus.Receive. Buffered frames are still delivered
// after Close, then ErrClosed is returned.
func (q *Queue) Receive(timeout time.Duration) (Frame, bool, error) {
	var timer *time.Timer
	for {
		f, ok, closed := q.pop()
		if ok {
			if timer != nil {
				timer.Stop()
			}
			return f, true, nil
		}
		if closed {
			return Frame{}, false, ErrClosed
		}
		if timer == nil {
			if timeout <= 0 {
				return Frame{}, false, nil
			}
			timer = time.NewTimer(timeout)
		}
		select {
		case <-q.notify:
		case <-timer.C:
			return Frame{}, false, nil
		}
	}
}

// Close wakes up a pending Receive.
func (q *Queue) Close() error {
	q.lock.Lock()
	q.closed = true
	q.lock.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}
