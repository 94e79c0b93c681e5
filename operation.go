package netmock

import "time"

// Request is the opaque payload submitted by the executor, plus the set of
// target hosts the handshake pipeline must resolve before the operation
// becomes visible to the network driver. A single-host request is the
// common case: Hosts has one element.
type Request struct {
	Hosts   []Host
	Payload any
}

// Result is delivered to an operation's continuation: either a successful
// payload or a terminal status error.
type Result struct {
	Payload any
	Err     *StatusError
}

// OK reports whether the result represents success.
func (r Result) OK() bool { return r.Err == nil || r.Err.IsOK() }

// OnResponseFunc is invoked exactly once for a plain command, or one or more
// times (with a final call carrying the terminal result) for an exhaust
// command.
type OnResponseFunc func(Result)

// NetworkOperation is a single submitted remote command, with the lifecycle
// flags the coordination core mutates under its lock. Created on submission
// and stored in an append-only arena: its address is stable for the life of
// the Simulator, so driver-held references (e.g. from getNextReadyRequest)
// never dangle.
type NetworkOperation struct {
	Handle      Handle
	Request     Request
	RequestDate time.Time
	Deadline    *time.Time // optional virtual deadline; nil means none

	onResponse OnResponseFunc
	exhaust    bool

	isProcessing      bool
	isBlackholed      bool
	isFinished        bool
	responseScheduled bool // a NetworkResponse has been pushed for this operation at least once (suppresses deadline timeout synthesis)
	terminalScheduled bool // a *terminal* NetworkResponse has been pushed (spec.md §3's "scheduled" state); an exhaust op's intermediate replies don't set this, so it stays cancellable

	// isHandshake marks companion operations synthesized by the handshake
	// pipeline: they are observable by the driver like any other operation,
	// but their completion handler is wired internally rather than to the
	// caller's OnResponseFunc.
	isHandshake bool
	forHost     Host

	seq uint64 // arena insertion order; the arena's views keep FIFO order by slice position, not by this field
}

// IsProcessing reports whether the driver has taken ownership of this
// operation (via getNextReadyRequest, blackHole, cancellation, or timeout).
func (op *NetworkOperation) IsProcessing() bool { return op.isProcessing }

// IsBlackholed reports whether the driver has declared it will never
// respond to this operation.
func (op *NetworkOperation) IsBlackholed() bool { return op.isBlackholed }

// IsFinished reports whether a terminal response has been delivered.
func (op *NetworkOperation) IsFinished() bool { return op.isFinished }

// operationArena is the stable, append-only store of every NetworkOperation
// ever submitted: operations are never erased, only marked finished. Lookup
// by handle and the ordered "unscheduled" view are maintained alongside it.
// All mutation happens under CoordinationCore's single mutex; operationArena
// itself holds no lock.
type operationArena struct {
	all         []*NetworkOperation
	byHandle    map[Handle]*NetworkOperation
	unscheduled []*NetworkOperation // FIFO view: !isProcessing && !isFinished
	nextSeq     uint64
}

func newOperationArena() *operationArena {
	return &operationArena{
		byHandle: make(map[Handle]*NetworkOperation),
	}
}

// insertPending registers op in the arena (stable storage, lookup by
// handle) without making it visible in the unscheduled view yet. Used for
// operations still waiting on the handshake pipeline to resolve their
// target hosts.
func (a *operationArena) insertPending(op *NetworkOperation) {
	op.seq = a.nextSeq
	a.nextSeq++
	a.all = append(a.all, op)
	a.byHandle[op.Handle] = op
}

// publish makes a previously-pending operation visible in the unscheduled
// view, appending it after whatever is already there. The view is thus in
// publish order, which differs from arena insertion order for an operation
// that waited on a handshake companion.
func (a *operationArena) publish(op *NetworkOperation) {
	a.unscheduled = append(a.unscheduled, op)
}

// insert is insertPending followed immediately by publish, for operations
// (like handshake companion requests) that need no staging.
func (a *operationArena) insert(op *NetworkOperation) {
	a.insertPending(op)
	a.publish(op)
}

func (a *operationArena) byHandleLookup(h Handle) *NetworkOperation {
	return a.byHandle[h]
}

// removeFromUnscheduled drops op from the unscheduled view (it has become
// processing, finished, or was cancelled before the driver ever saw it). The
// arena entry itself is untouched.
func (a *operationArena) removeFromUnscheduled(op *NetworkOperation) {
	for i, candidate := range a.unscheduled {
		if candidate == op {
			a.unscheduled = append(a.unscheduled[:i], a.unscheduled[i+1:]...)
			return
		}
	}
}

func (a *operationArena) hasReady() bool {
	return len(a.unscheduled) > 0
}

func (a *operationArena) front() *NetworkOperation {
	if len(a.unscheduled) == 0 {
		return nil
	}
	return a.unscheduled[0]
}

func (a *operationArena) nth(n int) *NetworkOperation {
	if n < 0 || n >= len(a.unscheduled) {
		return nil
	}
	return a.unscheduled[n]
}

// snapshotPending returns every operation that has not yet finished, for
// test introspection.
func (a *operationArena) snapshotPending() []*NetworkOperation {
	out := make([]*NetworkOperation, 0, len(a.all))
	for _, op := range a.all {
		if !op.isFinished {
			out = append(out, op)
		}
	}
	return out
}
