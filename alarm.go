package netmock

import (
	"container/heap"
	"time"
)

// AlarmAction is invoked with the firing status: OK on a normal fire,
// CallbackCanceled at shutdown, ShutdownInProgress if setAlarm itself was
// called after shutdown.
type AlarmAction func(*StatusError)

// AlarmInfo is a single pending alarm: its caller handle (for cancellation
// lookup), fire time, and action.
type AlarmInfo struct {
	Handle  Handle
	FireAt  time.Time
	Action  AlarmAction
	seq     int
	index   int // maintained by container/heap
	dropped bool
}

// alarmHeap is a min-heap keyed by FireAt, FIFO tie-broken, with a separate
// cancellation set of handles: a cancelled alarm is ignored (and discarded)
// the next time it reaches the top of the heap, rather than removed on the
// spot. Grounded on the same container/heap priority-queue shape as
// responseQueue, generalized with an explicit cancellation set instead of
// physically removing entries, since removing by handle from a heap
// mid-structure is O(n) and cancellation is expected to be common in test
// code.
type alarmHeap struct {
	items     []*AlarmInfo
	nextSeq   int
	cancelled map[Handle]bool
}

func newAlarmHeap() *alarmHeap {
	return &alarmHeap{cancelled: make(map[Handle]bool)}
}

func (h *alarmHeap) Len() int { return len(h.items) }

func (h *alarmHeap) Less(i, j int) bool {
	if h.items[i].FireAt.Equal(h.items[j].FireAt) {
		return h.items[i].seq < h.items[j].seq
	}
	return h.items[i].FireAt.Before(h.items[j].FireAt)
}

func (h *alarmHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *alarmHeap) Push(x any) {
	a := x.(*AlarmInfo)
	a.index = len(h.items)
	h.items = append(h.items, a)
}

func (h *alarmHeap) Pop() any {
	n := len(h.items)
	a := h.items[n-1]
	h.items[n-1] = nil
	a.index = -1
	h.items = h.items[:n-1]
	return a
}

// push schedules a, assigning it a FIFO sequence number among alarms sharing
// a FireAt.
func (h *alarmHeap) push(a *AlarmInfo) {
	a.seq = h.nextSeq
	h.nextSeq++
	heap.Push(h, a)
}

// popReady removes and returns the top alarm if it is due at or before now
// and has not been cancelled, skipping (and discarding) any cancelled alarms at the top
// of the heap. Returns nil if nothing is due.
func (h *alarmHeap) popReady(now time.Time) *AlarmInfo {
	for len(h.items) > 0 {
		top := h.items[0]
		if top.FireAt.After(now) {
			return nil
		}
		heap.Pop(h)
		if h.cancelled[top.Handle] {
			delete(h.cancelled, top.Handle)
			continue
		}
		return top
	}
	return nil
}

// nextFireAt returns the fire time of the earliest non-cancelled alarm, and
// whether one exists. Cancelled alarms at the top are skipped (and popped)
// as a side effect, same as popReady's skip logic, so runUntil's horizon
// computation never stalls on garbage at the top of the heap.
func (h *alarmHeap) nextFireAt() (time.Time, bool) {
	for len(h.items) > 0 {
		top := h.items[0]
		if h.cancelled[top.Handle] {
			heap.Pop(h)
			delete(h.cancelled, top.Handle)
			continue
		}
		return top.FireAt, true
	}
	return time.Time{}, false
}

// cancel marks handle cancelled. If the alarm is already at or past the top
// of the heap this simply records it for popReady/nextFireAt to discard.
func (h *alarmHeap) cancel(handle Handle) {
	h.cancelled[handle] = true
}

// drainAll pops every remaining alarm (cancelled or not) for shutdown.
func (h *alarmHeap) drainAll() []*AlarmInfo {
	out := make([]*AlarmInfo, 0, len(h.items))
	for len(h.items) > 0 {
		a := heap.Pop(h).(*AlarmInfo)
		if h.cancelled[a.Handle] {
			delete(h.cancelled, a.Handle)
			continue
		}
		out = append(out, a)
	}
	return out
}
