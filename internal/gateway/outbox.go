package gateway

import "sync"

// frame is one outbound WebSocket message. A close frame makes the writer
// send a close control message after data and stop.
type frame struct {
	data   []byte
	close  bool
	code   int
	reason string
}

// outbox is the FIFO between producers and the writer. It grows by doubling
// and never blocks a producer; once limit frames are queued Push fails and
// the client is treated as too slow.
type outbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []frame
	head   int
	count  int
	limit  int
	closed bool

	pushed int64
	popped int64
}

func newOutbox(initial, limit int) *outbox {
	if initial < 1 {
		initial = 1
	}
	b := &outbox{buf: make([]frame, initial), limit: limit}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push appends f. It returns false if the outbox is closed or full. A close
// frame ignores the limit and seals the outbox.
func (b *outbox) Push(f frame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || (!f.close && b.limit > 0 && b.count >= b.limit) {
		return false
	}
	if b.count == len(b.buf) {
		b.grow()
	}
	b.buf[(b.head+b.count)%len(b.buf)] = f
	b.count++
	b.pushed++
	if f.close {
		b.closed = true
	}
	b.cond.Signal()
	return true
}

// Pop removes the oldest frame, blocking until one is queued. It returns
// false once the outbox is closed and drained.
func (b *outbox) Pop() (frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		return frame{}, false
	}

	f := b.buf[b.head]
	b.buf[b.head] = frame{}
	b.head = (b.head + 1) % len(b.buf)
	b.count--
	b.popped++
	return f, true
}

// Close stops accepting frames. Queued frames can still be popped.
func (b *outbox) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

func (b *outbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *outbox) grow() {
	next := make([]frame, len(b.buf)*2)
	n := copy(next, b.buf[b.head:])
	copy(next[n:], b.buf[:b.head])
	b.buf = next
	b.head = 0
}
