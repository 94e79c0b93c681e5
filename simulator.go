package netmock

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Simulator is the public entry point: the executor under test calls its
// facade methods (StartCommand, SetAlarm, ...), test code driving the
// simulated network calls its driver methods (GetNextReadyRequest,
// ScheduleResponse, RunUntil, ...), and both sides coordinate through the
// embedded core.
type Simulator struct {
	core *CoordinationCore
}

// NewSimulator constructs a Simulator with the given options applied over
// the zero Config.
func NewSimulator(opts ...Option) *Simulator {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	core := newCoordinationCore(cfg.StartTime)
	core.connHook = cfg.ConnectionHook
	core.metaHook = cfg.MetadataHook
	return &Simulator{core: core}
}

// ---- C7: NetworkInterface facade (executor side) ----

// StartCommand submits a request for host(s), returning OK if accepted or
// ShutdownInProgress if the simulator has shut down. onResponse fires
// exactly once with the terminal result. deadline is optional; pass nil for
// no timeout.
func (s *Simulator) StartCommand(handle Handle, req Request, onResponse OnResponseFunc, deadline *time.Time) *StatusError {
	c := s.core
	c.mu.Lock()
	if c.inShutdown {
		c.mu.Unlock()
		return NewStatus(ShutdownInProgress, "startCommand called after shutdown")
	}
	c.mu.Unlock()

	GetLogger().WithFields(logrus.Fields{
		"handle": handle,
		"hosts":  req.Hosts,
	}).Debug("startCommand")

	op := &NetworkOperation{
		Handle:      handle,
		Request:     req,
		RequestDate: c.now(),
		Deadline:    deadline,
		onResponse:  onResponse,
	}
	s.core.submitOperation(op)
	return statusOK
}

// StartExhaustCommand is StartCommand for an operation whose onResponse may
// fire more than once before the terminal call.
func (s *Simulator) StartExhaustCommand(handle Handle, req Request, onResponse OnResponseFunc, deadline *time.Time) *StatusError {
	c := s.core
	c.mu.Lock()
	if c.inShutdown {
		c.mu.Unlock()
		return NewStatus(ShutdownInProgress, "startExhaustCommand called after shutdown")
	}
	c.mu.Unlock()

	GetLogger().WithFields(logrus.Fields{
		"handle": handle,
		"hosts":  req.Hosts,
	}).Debug("startExhaustCommand")

	op := &NetworkOperation{
		Handle:      handle,
		Request:     req,
		RequestDate: c.now(),
		Deadline:    deadline,
		onResponse:  onResponse,
		exhaust:     true,
	}
	s.core.submitOperation(op)
	return statusOK
}

// CancelCommand cancels the operation identified by handle if it is still
// unscheduled or processing. A race against an already-scheduled or
// already-finished response is a no-op, not an error.
func (s *Simulator) CancelCommand(handle Handle) {
	c := s.core
	c.mu.Lock()
	op := c.arena.byHandleLookup(handle)
	if op == nil || op.isFinished {
		c.mu.Unlock()
		return
	}
	// A terminal response already in the response queue wins the race: only
	// cancel if the operation hasn't reached spec.md §3's "scheduled" state
	// yet. An exhaust operation that has only received intermediate
	// (moreToCome) replies is still "processing", not "scheduled", and stays
	// cancellable.
	if op.terminalScheduled {
		c.mu.Unlock()
		return
	}
	c.arena.removeFromUnscheduled(op)
	op.isProcessing = true
	op.responseScheduled = true
	op.terminalScheduled = true
	c.responses.push(&NetworkResponse{
		Op:        op,
		DeliverAt: c.clock.Now(),
		Result:    Result{Err: NewStatus(CallbackCanceled, "cancelled by executor")},
	})
	c.wakeNetwork.Broadcast()
	c.mu.Unlock()

	GetLogger().WithField("handle", handle).Debug("cancelCommand")
}

// SetAlarm schedules action to fire at when. If when has already elapsed,
// the action runs on the next RunReadyNetworkOperations with OK status. If
// the simulator has already shut down, action runs immediately (on the
// calling goroutine, not the network thread) with ShutdownInProgress.
func (s *Simulator) SetAlarm(handle Handle, when time.Time, action AlarmAction) {
	c := s.core
	c.mu.Lock()
	if c.inShutdown {
		c.mu.Unlock()
		if action != nil {
			action(NewStatus(ShutdownInProgress, "setAlarm called after shutdown"))
		}
		return
	}
	a := &AlarmInfo{Handle: handle, FireAt: when, Action: action}
	c.alarms.push(a)
	c.wakeNetwork.Broadcast()
	c.mu.Unlock()

	GetLogger().WithFields(logrus.Fields{"handle": handle, "when": when}).Debug("setAlarm")
}

// CancelAlarm marks handle cancelled; it is dropped, not fired, the next
// time it would reach the top of the alarm heap.
func (s *Simulator) CancelAlarm(handle Handle) {
	c := s.core
	c.mu.Lock()
	c.alarms.cancel(handle)
	c.mu.Unlock()

	GetLogger().WithField("handle", handle).Debug("cancelAlarm")
}

// Schedule enqueues action as an immediate executor-side task, modelled as
// an alarm firing at the current virtual time.
func (s *Simulator) Schedule(handle Handle, action AlarmAction) {
	s.SetAlarm(handle, s.core.now(), action)
}

// WaitForWork parks the executor until the network thread has exhausted
// its work.
func (s *Simulator) WaitForWork() {
	GetLogger().Debug("waitForWork")
	s.core.waitForWorkUntil(nil)
}

// WaitForWorkUntil parks the executor until either work is exhausted or
// virtual time reaches deadline.
func (s *Simulator) WaitForWorkUntil(deadline time.Time) {
	GetLogger().WithField("deadline", deadline).Debug("waitForWorkUntil")
	s.core.waitForWorkUntil(&deadline)
}

// ---- C9: InNetworkGuard ----

// EnterNetwork acquires the network role, blocking until it is available.
func (s *Simulator) EnterNetwork() { s.core.EnterNetwork() }

// ExitNetwork releases the network role. A no-op without a matching
// EnterNetwork.
func (s *Simulator) ExitNetwork() { s.core.ExitNetwork() }

// Guard returns a scoped InNetworkGuard, already holding the network role.
func (s *Simulator) Guard() *InNetworkGuard { return NewInNetworkGuard(s.core) }

// ---- C8: Simulation driver API (network side) ----

// HasReadyRequests reports whether any operation is unscheduled (submitted
// but not yet observed by the driver).
func (s *Simulator) HasReadyRequests() bool {
	c := s.core
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requireNetworkRoleLocked()
	return c.arena.hasReady()
}

// GetNextReadyRequest blocks until an operation is ready, then marks it
// processing and returns it.
func (s *Simulator) GetNextReadyRequest() *NetworkOperation {
	c := s.core
	c.mu.Lock()
	c.requireNetworkRoleLocked()
	for !c.arena.hasReady() {
		c.wakeNetwork.Wait()
	}
	op := c.arena.front()
	c.arena.removeFromUnscheduled(op)
	op.isProcessing = true
	c.mu.Unlock()
	return op
}

// GetFrontOfUnscheduledQueue peeks the first unscheduled operation without
// taking ownership of it. Returns nil if none are ready.
func (s *Simulator) GetFrontOfUnscheduledQueue() *NetworkOperation {
	c := s.core
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requireNetworkRoleLocked()
	return c.arena.front()
}

// GetNthUnscheduledRequest peeks the nth (0-indexed) unscheduled operation.
// Returns nil if there are fewer than n+1 unscheduled operations.
func (s *Simulator) GetNthUnscheduledRequest(n int) *NetworkOperation {
	c := s.core
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requireNetworkRoleLocked()
	return c.arena.nth(n)
}

// ScheduleResponse enqueues result for delivery at when. when must not
// precede now, and op must not be blackholed: both are programming errors.
// moreToCome true keeps an exhaust operation in the processing state rather
// than finishing it.
func (s *Simulator) ScheduleResponse(op *NetworkOperation, when time.Time, result Result, moreToCome bool) {
	c := s.core
	c.mu.Lock()
	c.requireNetworkRoleLocked()
	if op.isBlackholed {
		c.mu.Unlock()
		programmingErrorf("scheduleResponse called for a blackholed operation")
		return
	}
	if when.Before(c.clock.Now()) {
		c.mu.Unlock()
		programmingErrorf("scheduleResponse called with when=%v before now=%v", when, c.clock.Now())
		return
	}
	op.responseScheduled = true
	if !moreToCome {
		op.terminalScheduled = true
	}
	if c.metaHook != nil {
		resp := &NetworkResponse{Op: op, DeliverAt: when, Result: result, MoreToCome: moreToCome}
		c.metaHook(op, resp)
		c.responses.push(resp)
	} else {
		c.responses.push(&NetworkResponse{Op: op, DeliverAt: when, Result: result, MoreToCome: moreToCome})
	}
	c.mu.Unlock()
}

// ScheduleSuccessfulResponse is a convenience wrapper: defaults op to the
// next ready request and when to now, returning the request it scheduled
// for so tests can assert on it in one line.
func (s *Simulator) ScheduleSuccessfulResponse(payload any) *NetworkOperation {
	op := s.GetNextReadyRequest()
	s.ScheduleResponse(op, s.core.now(), Result{Payload: payload}, false)
	return op
}

// ScheduleErrorResponse is ScheduleSuccessfulResponse's error counterpart.
func (s *Simulator) ScheduleErrorResponse(err *StatusError) *NetworkOperation {
	op := s.GetNextReadyRequest()
	s.ScheduleResponse(op, s.core.now(), Result{Err: err}, false)
	return op
}

// BlackHole declares that op will never receive a response until shutdown.
func (s *Simulator) BlackHole(op *NetworkOperation) {
	c := s.core
	c.mu.Lock()
	c.requireNetworkRoleLocked()
	c.arena.removeFromUnscheduled(op)
	op.isProcessing = true
	op.isBlackholed = true
	c.mu.Unlock()
}

// RunUntil advances virtual time to t, draining ready responses and alarms
// as time passes them, but returns early if a previously-unscheduled
// operation becomes ready.
func (s *Simulator) RunUntil(t time.Time) { s.core.runUntil(t) }

// AdvanceTime moves virtual time to t without draining queues.
func (s *Simulator) AdvanceTime(t time.Time) { s.core.advanceTime(t) }

// RunReadyNetworkOperations drains every response and alarm due at or
// before now.
func (s *Simulator) RunReadyNetworkOperations() { s.core.runReadyNetworkOperations() }

// Now returns the simulator's current virtual time.
func (s *Simulator) Now() time.Time { return s.core.now() }

// Shutdown cancels every unfinished operation and pending alarm with
// CallbackCanceled and fails all subsequent facade calls with
// ShutdownInProgress. An operation whose terminal response is already queued
// receives that response instead of a cancellation.
func (s *Simulator) Shutdown() {
	GetLogger().Debug("shutdown")
	s.core.shutdown()
}

// ---- introspection ----

// KnownHosts returns every host the handshake pipeline has resolved.
func (s *Simulator) KnownHosts() []Host { return s.core.KnownHosts() }

// ForgetHost removes host from the known-hosts set.
func (s *Simulator) ForgetHost(host Host) { s.core.ForgetHost(host) }

// SetConnectionHook installs (or replaces) the handshake mediator.
func (s *Simulator) SetConnectionHook(hook ConnectionHook) { s.core.SetConnectionHook(hook) }

// SetHandshakeReply registers the canned reply a host's next handshake
// attempt will see.
func (s *Simulator) SetHandshakeReply(host Host, reply any) { s.core.SetHandshakeReply(host, reply) }

// PendingOperations returns every operation that has not yet finished.
func (s *Simulator) PendingOperations() []*NetworkOperation {
	c := s.core
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arena.snapshotPending()
}

// PendingAlarms returns a snapshot of every alarm still on the heap,
// including ones marked cancelled but not yet popped.
func (s *Simulator) PendingAlarms() []*AlarmInfo {
	c := s.core
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*AlarmInfo, len(c.alarms.items))
	copy(out, c.alarms.items)
	return out
}
