package netmock

import (
	"sync"
	"time"
)

// runRole is the three-valued "who's driving" tag.
type runRole int

const (
	roleNone runRole = iota
	roleExecutor
	roleNetwork
)

// CoordinationCore is the two-thread mutex/condition state machine (C5).
// A single mutex protects all mutable state; wakeNetwork and wakeExecutor
// are the only synchronization primitives beyond it, mirroring this
// codebase's CycleCoordinator/CycleSignal cond-variable handoff but keyed
// to a running-role tag instead of a cycle counter.
type CoordinationCore struct {
	mu           sync.Mutex
	wakeNetwork  *sync.Cond
	wakeExecutor *sync.Cond

	currentlyRunning runRole
	waitingToRun     map[runRole]bool
	networkDepth     int

	executorNextWakeup *time.Time // published by waitForWork[Until]; nil means no pending release deadline

	inShutdown bool

	clock      *VirtualClock
	arena      *operationArena
	responses  *responseQueue
	alarms     *alarmHeap
	knownHosts map[Host]bool

	// failedHosts caches a host's handshake failure for the run: once a
	// host has failed, later operations targeting it fail the same way
	// without re-invoking connHook.
	failedHosts map[Host]*StatusError

	handshakeReplies map[Host]any
	connHook         ConnectionHook
	metaHook         MetadataHook
}

// newCoordinationCore builds the engine with an initially idle clock.
func newCoordinationCore(start time.Time) *CoordinationCore {
	c := &CoordinationCore{
		waitingToRun:     make(map[runRole]bool, 2),
		clock:            NewVirtualClock(start),
		arena:            newOperationArena(),
		responses:        newResponseQueue(),
		alarms:           newAlarmHeap(),
		knownHosts:       make(map[Host]bool),
		failedHosts:      make(map[Host]*StatusError),
		handshakeReplies: make(map[Host]any),
	}
	c.wakeNetwork = sync.NewCond(&c.mu)
	c.wakeExecutor = sync.NewCond(&c.mu)
	return c
}

// now returns the current virtual time. Safe to call without holding mu.
func (c *CoordinationCore) now() time.Time { return c.clock.Now() }

// requireNetworkRoleLocked asserts the caller holds the network role. Must
// be called with mu held. A violation is a programming error, not a
// recoverable failure.
func (c *CoordinationCore) requireNetworkRoleLocked() {
	if c.networkDepth == 0 {
		programmingErrorf("driver method called without holding the network role")
	}
}

// EnterNetwork acquires the network role for the calling goroutine,
// blocking until the executor is parked (or startup has not yet assigned
// the role to anyone). Reentrant: nested EnterNetwork calls just bump a
// depth counter.
func (c *CoordinationCore) EnterNetwork() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.networkDepth++
	if c.networkDepth > 1 {
		return
	}
	for c.currentlyRunning == roleExecutor {
		c.waitingToRun[roleNetwork] = true
		c.wakeNetwork.Wait()
	}
	c.waitingToRun[roleNetwork] = false
	c.currentlyRunning = roleNetwork
}

// ExitNetwork releases the network role once its depth reaches zero,
// unparking the executor. Calling it without a matching EnterNetwork is a
// no-op.
func (c *CoordinationCore) ExitNetwork() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.networkDepth == 0 {
		return
	}
	c.networkDepth--
	if c.networkDepth > 0 {
		return
	}
	if c.currentlyRunning == roleNetwork {
		c.currentlyRunning = roleNone
	}
	if c.waitingToRun[roleExecutor] {
		c.waitingToRun[roleExecutor] = false
		c.executorNextWakeup = nil
		c.currentlyRunning = roleExecutor
	}
	c.wakeExecutor.Broadcast()
}

// waitForWorkUntil is the executor-side parking point. deadline nil means
// "forever" (waitForWork calls through with a nil deadline). There turns
// out to be no behavioral difference worth implementing between a bare wait
// and a deadline-bounded one here: both just park the executor and publish
// a horizon hint that runUntil's time-advancement calculation can consult.
func (c *CoordinationCore) waitForWorkUntil(deadline *time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inShutdown {
		return
	}
	c.executorNextWakeup = deadline
	c.currentlyRunning = roleNetwork
	c.waitingToRun[roleExecutor] = true
	c.wakeNetwork.Broadcast()
	for c.waitingToRun[roleExecutor] && !c.inShutdown {
		c.wakeExecutor.Wait()
	}
}

// releaseExecutorLocked hands the running role back to the executor if it
// is currently parked, then blocks until the executor has taken its turn
// and parked again (the next waitForWorkUntil call hands the role back by
// setting currentlyRunning to roleNetwork and signalling wakeNetwork), so
// that the network-side caller never observes the executor mid-flight.
// Must be called with mu held.
func (c *CoordinationCore) releaseExecutorLocked() {
	if !c.waitingToRun[roleExecutor] {
		return
	}
	c.waitingToRun[roleExecutor] = false
	c.executorNextWakeup = nil
	c.currentlyRunning = roleExecutor
	c.wakeExecutor.Broadcast()
	for c.currentlyRunning == roleExecutor && !c.inShutdown {
		c.wakeNetwork.Wait()
	}
}

// nextEventTimeLocked returns the earliest time any queued work (a
// response, a non-cancelled alarm, the executor's published wakeup, or the
// deadline of an operation that could still time out) wants attention. Must be called with mu held and with no ready requests
// pending (runUntil only consults it once hasReadyRequests is false).
func (c *CoordinationCore) nextEventTimeLocked() (time.Time, bool) {
	var best time.Time
	found := false
	consider := func(t time.Time) {
		if !found || t.Before(best) {
			best = t
			found = true
		}
	}
	if r := c.responses.peek(); r != nil {
		consider(r.DeliverAt)
	}
	if t, ok := c.alarms.nextFireAt(); ok {
		consider(t)
	}
	if c.executorNextWakeup != nil {
		consider(*c.executorNextWakeup)
	}
	for _, op := range c.arena.all {
		if !op.isFinished && !op.responseScheduled && !op.isBlackholed && op.Deadline != nil {
			consider(*op.Deadline)
		}
	}
	return best, found
}

// runReadyNetworkOperations drains every response and alarm due at or
// before now, invoking continuations with mu released, then hands the
// running role back to the executor if it is parked.
func (c *CoordinationCore) runReadyNetworkOperations() {
	c.mu.Lock()
	c.requireNetworkRoleLocked()
	for {
		progressed := c.synthesizeDeadlineTimeoutsLocked()

		for {
			top := c.responses.peek()
			if top == nil || top.DeliverAt.After(c.clock.Now()) {
				break
			}
			c.responses.pop()
			op := top.Op
			if !top.MoreToCome {
				op.isFinished = true
				c.arena.removeFromUnscheduled(op)
			}
			cb := op.onResponse
			result := top.Result
			c.mu.Unlock()
			if cb != nil {
				cb(result)
			}
			c.mu.Lock()
			progressed = true
		}

		for {
			a := c.alarms.popReady(c.clock.Now())
			if a == nil {
				break
			}
			action := a.Action
			c.mu.Unlock()
			if action != nil {
				action(statusOK)
			}
			c.mu.Lock()
			progressed = true
		}

		if !progressed {
			break
		}
	}
	c.releaseExecutorLocked()
	c.mu.Unlock()
}

// synthesizeDeadlineTimeoutsLocked finalizes, with a NetworkTimeout
// response at now, every operation whose deadline has elapsed with no
// response ever scheduled for it. Blackholed operations are skipped: they
// complete only at shutdown. Returns whether it finalized anything, so
// callers can fold it into their drain-until-no-progress loop. Must be
// called with mu held.
func (c *CoordinationCore) synthesizeDeadlineTimeoutsLocked() bool {
	now := c.clock.Now()
	progressed := false
	for _, op := range c.arena.all {
		if op.isFinished || op.responseScheduled || op.isBlackholed || op.Deadline == nil {
			continue
		}
		if op.Deadline.After(now) {
			continue
		}
		op.isProcessing = true
		op.isFinished = true
		c.arena.removeFromUnscheduled(op)
		c.responses.push(&NetworkResponse{
			Op:        op,
			DeliverAt: now,
			Result:    Result{Err: NewStatus(NetworkTimeout, "operation deadline elapsed with no scheduled response")},
		})
		progressed = true
	}
	return progressed
}

// runUntil advances virtual time to t, running ready responses and alarms
// as time passes it, but returns early (before reaching t) the moment a
// previously-unscheduled operation becomes ready — giving the driver a
// chance to act on it.
func (c *CoordinationCore) runUntil(t time.Time) {
	for {
		c.mu.Lock()
		c.requireNetworkRoleLocked()
		if c.arena.hasReady() {
			c.mu.Unlock()
			return
		}
		tNext, ok := c.nextEventTimeLocked()
		if !ok || !tNext.Before(t) {
			c.clock.advanceTo(t)
			c.mu.Unlock()
			c.runReadyNetworkOperations()
			return
		}
		c.clock.advanceTo(tNext)
		c.mu.Unlock()
		c.runReadyNetworkOperations()
	}
}

// advanceTime moves virtual time directly to t without draining queues in
// between advances (used when a test wants to jump forward and then call
// runReadyNetworkOperations itself).
func (c *CoordinationCore) advanceTime(t time.Time) {
	c.mu.Lock()
	c.requireNetworkRoleLocked()
	c.clock.advanceTo(t)
	c.mu.Unlock()
}

// shutdown cancels every unfinished operation and pending alarm with
// CallbackCanceled, then unblocks both conditions. An operation whose
// terminal response is already queued receives that response instead of a
// cancellation.
func (c *CoordinationCore) shutdown() {
	c.mu.Lock()
	if c.inShutdown {
		c.mu.Unlock()
		return
	}
	c.inShutdown = true

	now := c.clock.Now()
	for _, op := range c.arena.all {
		if op.isFinished {
			continue
		}
		op.isProcessing = true
		op.isFinished = true
		c.arena.removeFromUnscheduled(op)
		if op.terminalScheduled {
			continue
		}
		c.responses.push(&NetworkResponse{
			Op:        op,
			DeliverAt: now,
			Result:    Result{Err: NewStatus(CallbackCanceled, "shutdown")},
		})
	}

	alarms := c.alarms.drainAll()

	c.wakeNetwork.Broadcast()
	c.wakeExecutor.Broadcast()
	c.mu.Unlock()

	// Run the synthesized cancellations and alarm cancellations outside the
	// lock, same as every other callback invocation in this engine.
	for {
		c.mu.Lock()
		top := c.responses.peek()
		if top == nil {
			c.mu.Unlock()
			break
		}
		c.responses.pop()
		cb := top.Op.onResponse
		result := top.Result
		c.mu.Unlock()
		if cb != nil {
			cb(result)
		}
	}
	for _, a := range alarms {
		if a.Action != nil {
			a.Action(NewStatus(CallbackCanceled, "shutdown"))
		}
	}
}
