package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/relaywire/relaywire/internal/task"
)

// MemoryBroker keeps all lanes in-process. It is the default for
// single-node deployments and the broker used by unit tests. The
// optional Now func lets tests drive visibility with a simulated clock.
type MemoryBroker struct {
	mu    sync.Mutex
	lanes map[task.Lane]*entryHeap
	seq   uint64
	now   func() time.Time
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		lanes: make(map[task.Lane]*entryHeap),
		now:   time.Now,
	}
}

// SetClock replaces the broker's time source. Test use only; not safe
// to call after the broker is in use.
func (b *MemoryBroker) SetClock(now func() time.Time) { b.now = now }

type entry struct {
	data    []byte
	readyAt time.Time // max(notBefore, push time): when it became/becomes visible
	seq     uint64    // push order tiebreak
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].readyAt.Before(h[j].readyAt)
}
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

func (b *MemoryBroker) lane(l task.Lane) *entryHeap {
	h, ok := b.lanes[l]
	if !ok {
		h = &entryHeap{}
		b.lanes[l] = h
	}
	return h
}

// Push stores an entry with delayed visibility.
func (b *MemoryBroker) Push(_ context.Context, lane task.Lane, data []byte, notBefore time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	readyAt := b.now()
	if notBefore.After(readyAt) {
		readyAt = notBefore
	}
	b.seq++
	heap.Push(b.lane(lane), entry{data: data, readyAt: readyAt, seq: b.seq})
	return nil
}

// Pop removes the oldest visible entry, if any.
func (b *MemoryBroker) Pop(_ context.Context, lane task.Lane) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.lane(lane)
	if h.Len() == 0 {
		return nil, false, nil
	}
	top := (*h)[0]
	if top.readyAt.After(b.now()) {
		return nil, false, nil
	}
	e := heap.Pop(h).(entry)
	return e.data, true, nil
}

// ReadyAge reports the wait of the oldest visible entry.
func (b *MemoryBroker) ReadyAge(_ context.Context, lane task.Lane) (time.Duration, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.lane(lane)
	if h.Len() == 0 {
		return 0, false, nil
	}
	top := (*h)[0]
	now := b.now()
	if top.readyAt.After(now) {
		return 0, false, nil
	}
	return now.Sub(top.readyAt), true, nil
}

// Depth returns the lane's total entry count.
func (b *MemoryBroker) Depth(_ context.Context, lane task.Lane) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(b.lane(lane).Len()), nil
}

// Ping always succeeds for the in-process broker.
func (b *MemoryBroker) Ping(context.Context) error { return nil }

// Close discards all entries.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lanes = make(map[task.Lane]*entryHeap)
	return nil
}
