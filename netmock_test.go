package netmock

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func epoch() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

func at(ms int) time.Time { return epoch().Add(time.Duration(ms) * time.Millisecond) }

// S1 — round trip: submit, schedule a success reply, run forward.
func TestRoundTrip(t *testing.T) {
	sim := NewSimulator(WithStartTime(epoch()))
	sim.EnterNetwork()
	defer sim.ExitNetwork()

	var got Result
	var calls int
	require.NoError(t, statusErrAsErr(sim.StartCommand("h1", Request{Hosts: []Host{"A"}, Payload: "ping"}, func(r Result) {
		calls++
		got = r
	}, nil)))

	req := sim.ScheduleSuccessfulResponse(map[string]int{"ok": 1})
	assert.Equal(t, Host("A"), req.Request.Hosts[0])

	sim.RunUntil(at(10))

	assert.Equal(t, 1, calls)
	assert.True(t, got.OK())
	assert.Equal(t, at(0), req.RequestDate)
	assert.Equal(t, at(10), sim.Now())
}

// S2 — an alarm scheduled in the future does not fire until virtual time
// reaches it.
func TestAlarmFiresAfterDeadline(t *testing.T) {
	sim := NewSimulator(WithStartTime(epoch()))
	sim.EnterNetwork()
	defer sim.ExitNetwork()

	fired := 0
	var lastStatus *StatusError
	sim.SetAlarm("a1", at(100), func(s *StatusError) {
		fired++
		lastStatus = s
	})

	sim.RunUntil(at(50))
	assert.Equal(t, 0, fired)

	sim.RunUntil(at(100))
	assert.Equal(t, 1, fired)
	assert.True(t, lastStatus.IsOK())
}

// S3 — a cancellation that wins the race against the driver pulling the
// request: the driver sees nothing, the executor observes CallbackCanceled.
func TestCancellationBeforeDriverPull(t *testing.T) {
	sim := NewSimulator(WithStartTime(epoch()))
	sim.EnterNetwork()
	defer sim.ExitNetwork()

	var got Result
	require.NoError(t, statusErrAsErr(sim.StartCommand("h1", Request{Hosts: []Host{"A"}}, func(r Result) {
		got = r
	}, nil)))

	sim.CancelCommand("h1")

	assert.False(t, sim.HasReadyRequests())

	sim.RunReadyNetworkOperations()
	require.NotNil(t, got.Err)
	assert.Equal(t, CallbackCanceled, got.Err.Code)
}

// S4 — handshake with an installed hook: the driver observes a companion
// handshake request before the user's operation.
type scriptedHook struct {
	payload any
}

func (h *scriptedHook) ValidateHost(host Host, reply any) *StatusError { return nil }
func (h *scriptedHook) GenerateRequest(host Host) (any, bool)          { return h.payload, true }

func TestHandshakeWithHook(t *testing.T) {
	sim := NewSimulator(WithStartTime(epoch()), WithConnectionHook(&scriptedHook{payload: "isMaster"}))
	sim.EnterNetwork()
	defer sim.ExitNetwork()

	var userResult Result
	require.NoError(t, statusErrAsErr(sim.StartCommand("h1", Request{Hosts: []Host{"new-host"}}, func(r Result) {
		userResult = r
	}, nil)))

	handshakeOp := sim.GetNextReadyRequest()
	assert.Equal(t, "isMaster", handshakeOp.Request.Payload)

	sim.ScheduleResponse(handshakeOp, sim.Now(), Result{Payload: "ok"}, false)
	sim.RunReadyNetworkOperations()

	require.True(t, sim.HasReadyRequests())
	userOp := sim.GetNextReadyRequest()
	assert.Equal(t, Handle("h1"), userOp.Handle)

	sim.ScheduleResponse(userOp, sim.Now(), Result{Payload: "done"}, false)
	sim.RunReadyNetworkOperations()

	assert.True(t, userResult.OK())
	assert.Equal(t, "done", userResult.Payload)
	assert.Contains(t, sim.KnownHosts(), Host("new-host"))
}

// S5 — a blackholed operation only ever completes at shutdown.
func TestBlackholeThenShutdown(t *testing.T) {
	sim := NewSimulator(WithStartTime(epoch()))
	sim.EnterNetwork()
	defer sim.ExitNetwork()

	var got Result
	var calls int
	require.NoError(t, statusErrAsErr(sim.StartCommand("h1", Request{Hosts: []Host{"A"}}, func(r Result) {
		calls++
		got = r
	}, nil)))

	op := sim.GetNextReadyRequest()
	sim.BlackHole(op)

	sim.RunReadyNetworkOperations()
	assert.Equal(t, 0, calls)

	sim.Shutdown()

	assert.Equal(t, 1, calls)
	require.NotNil(t, got.Err)
	assert.Equal(t, CallbackCanceled, got.Err.Code)
}

// S6 — responses scheduled out of chronological order still fire in
// deliver-at order.
func TestOrderingAcrossOutOfOrderScheduling(t *testing.T) {
	sim := NewSimulator(WithStartTime(epoch()))
	sim.EnterNetwork()
	defer sim.ExitNetwork()

	var order []string
	require.NoError(t, statusErrAsErr(sim.StartCommand("late", Request{Hosts: []Host{"A"}}, func(r Result) {
		order = append(order, "late")
	}, nil)))
	require.NoError(t, statusErrAsErr(sim.StartCommand("early", Request{Hosts: []Host{"A"}}, func(r Result) {
		order = append(order, "early")
	}, nil)))

	op1 := sim.GetNextReadyRequest()
	op2 := sim.GetNextReadyRequest()
	sim.ScheduleResponse(op1, at(10), Result{}, false)
	sim.ScheduleResponse(op2, at(5), Result{}, false)

	sim.RunUntil(at(10))

	require.Len(t, order, 2)
	assert.Equal(t, []string{"early", "late"}, order)
}

// S7 — an operation with a virtual deadline and no scheduled response
// times out exactly once at the deadline.
func TestDeadlineTimeout(t *testing.T) {
	sim := NewSimulator(WithStartTime(epoch()))
	sim.EnterNetwork()
	defer sim.ExitNetwork()

	var got Result
	var calls int
	deadline := at(20)
	require.NoError(t, statusErrAsErr(sim.StartCommand("h1", Request{Hosts: []Host{"A"}}, func(r Result) {
		calls++
		got = r
	}, &deadline)))

	// The driver observes the request but never schedules a response for it.
	sim.GetNextReadyRequest()

	sim.RunUntil(at(25))

	assert.Equal(t, 1, calls)
	require.NotNil(t, got.Err)
	assert.Equal(t, NetworkTimeout, got.Err.Code)
	assert.Equal(t, at(25), sim.Now())
}

// S8 — a multi-host operation only runs its handshake against the
// unresolved host; an already-known host is skipped.
func TestMultiHostHandshakeSkipsKnownHost(t *testing.T) {
	hook := &scriptedHook{payload: "hello"}
	sim := NewSimulator(WithStartTime(epoch()), WithConnectionHook(hook))
	sim.EnterNetwork()
	defer sim.ExitNetwork()

	sim.SetHandshakeReply("A", "already-fine")
	// Pre-resolve A by running a throwaway single-host operation through it.
	require.NoError(t, statusErrAsErr(sim.StartCommand("warmup", Request{Hosts: []Host{"A"}}, func(Result) {}, nil)))
	warmupHandshake := sim.GetNextReadyRequest()
	sim.ScheduleResponse(warmupHandshake, sim.Now(), Result{Payload: "ok"}, false)
	sim.RunReadyNetworkOperations()
	warmupOp := sim.GetNextReadyRequest()
	sim.ScheduleResponse(warmupOp, sim.Now(), Result{Payload: "ok"}, false)
	sim.RunReadyNetworkOperations()

	require.Contains(t, sim.KnownHosts(), Host("A"))

	require.NoError(t, statusErrAsErr(sim.StartCommand("main", Request{Hosts: []Host{"A", "B"}}, func(Result) {}, nil)))

	op := sim.GetNextReadyRequest()
	assert.Equal(t, Host("B"), op.forHost)
	assert.True(t, op.isHandshake)
}

// rejectingHook always rejects ValidateHost and counts how many times it
// was invoked, so tests can assert the handshake pipeline doesn't
// re-invoke it for a host whose failure is already cached.
type rejectingHook struct {
	validateCalls int
	status        *StatusError
}

func (h *rejectingHook) ValidateHost(host Host, reply any) *StatusError {
	h.validateCalls++
	return h.status
}

func (h *rejectingHook) GenerateRequest(host Host) (any, bool) { return nil, false }

// Supplemented feature: a host's handshake failure is cached for the run.
// A second operation targeting the same host fails immediately with the
// same status, without re-invoking the connection hook.
func TestHandshakeFailureCachedPerHost(t *testing.T) {
	hook := &rejectingHook{status: NewStatus(HandshakeFailed, "not writable primary")}
	sim := NewSimulator(WithStartTime(epoch()), WithConnectionHook(hook))
	sim.EnterNetwork()
	defer sim.ExitNetwork()

	var first, second Result
	require.NoError(t, statusErrAsErr(sim.StartCommand("h1", Request{Hosts: []Host{"A"}}, func(r Result) {
		first = r
	}, nil)))
	sim.RunReadyNetworkOperations()

	require.NotNil(t, first.Err)
	assert.Equal(t, HandshakeFailed, first.Err.Code)
	assert.Equal(t, 1, hook.validateCalls)

	require.NoError(t, statusErrAsErr(sim.StartCommand("h2", Request{Hosts: []Host{"A"}}, func(r Result) {
		second = r
	}, nil)))
	sim.RunReadyNetworkOperations()

	require.NotNil(t, second.Err)
	assert.Equal(t, HandshakeFailed, second.Err.Code)
	// The cached failure short-circuits the handshake: ValidateHost is not
	// invoked a second time.
	assert.Equal(t, 1, hook.validateCalls)
	assert.False(t, sim.HasReadyRequests())
}

// ForgetHost clears a cached handshake failure, forcing the hook to run
// again on the next operation targeting that host.
func TestForgetHostClearsCachedFailure(t *testing.T) {
	hook := &rejectingHook{status: NewStatus(HandshakeFailed, "not writable primary")}
	sim := NewSimulator(WithStartTime(epoch()), WithConnectionHook(hook))
	sim.EnterNetwork()
	defer sim.ExitNetwork()

	require.NoError(t, statusErrAsErr(sim.StartCommand("h1", Request{Hosts: []Host{"A"}}, func(Result) {}, nil)))
	sim.RunReadyNetworkOperations()
	assert.Equal(t, 1, hook.validateCalls)

	sim.ForgetHost("A")

	require.NoError(t, statusErrAsErr(sim.StartCommand("h2", Request{Hosts: []Host{"A"}}, func(Result) {}, nil)))
	sim.RunReadyNetworkOperations()
	assert.Equal(t, 2, hook.validateCalls)
}

// An exhaust operation that has only received an intermediate (moreToCome)
// reply is still "processing", not "scheduled", and stays cancellable: the
// cancellation must win and deliver CallbackCanceled rather than silently
// no-op against the intermediate reply.
func TestCancelExhaustAfterIntermediateReply(t *testing.T) {
	sim := NewSimulator(WithStartTime(epoch()))
	sim.EnterNetwork()
	defer sim.ExitNetwork()

	var results []Result
	require.NoError(t, statusErrAsErr(sim.StartExhaustCommand("h1", Request{Hosts: []Host{"A"}}, func(r Result) {
		results = append(results, r)
	}, nil)))

	op := sim.GetNextReadyRequest()
	sim.ScheduleResponse(op, sim.Now(), Result{Payload: "partial"}, true)
	sim.RunReadyNetworkOperations()

	require.Len(t, results, 1)
	assert.Equal(t, "partial", results[0].Payload)
	assert.False(t, op.IsFinished())

	sim.CancelCommand("h1")
	sim.RunReadyNetworkOperations()

	require.Len(t, results, 2)
	require.NotNil(t, results[1].Err)
	assert.Equal(t, CallbackCanceled, results[1].Err.Code)
}

// Property 1: exclusivity. Instrumenting both sides with a shared
// non-atomic counter, no interleaving is ever observed: the executor
// goroutine and the network-side loop below each get an exclusive window
// on shared, handed off through GetNextReadyRequest's block-until-ready and
// an acknowledgement channel rather than any extra locking of their own.
func TestExclusivity(t *testing.T) {
	const rounds = 50

	sim := NewSimulator(WithStartTime(epoch()))
	sim.EnterNetwork()
	defer sim.ExitNetwork()

	var shared int
	acked := make(chan struct{})

	go func() {
		for i := 0; i < rounds; i++ {
			shared++
			sim.StartCommand(Handle("h"+strconv.Itoa(i)), Request{Hosts: []Host{"A"}}, func(Result) {}, nil)
			<-acked
		}
	}()

	for i := 0; i < rounds; i++ {
		op := sim.GetNextReadyRequest()
		before := shared
		shared += 1000
		assert.Equal(t, before+1000, shared)
		shared -= 1000
		sim.ScheduleResponse(op, sim.Now(), Result{}, false)
		sim.RunReadyNetworkOperations()
		acked <- struct{}{}
	}
}

// Property 2: monotonic time.
func TestMonotonicTime(t *testing.T) {
	sim := NewSimulator(WithStartTime(epoch()))
	sim.EnterNetwork()
	defer sim.ExitNetwork()

	last := sim.Now()
	for _, ms := range []int{5, 5, 10, 100} {
		sim.RunUntil(at(ms))
		assert.False(t, sim.Now().Before(last))
		last = sim.Now()
	}
}

// Property 4: FIFO tie-break for responses scheduled at the same time.
func TestFIFOTieBreak(t *testing.T) {
	sim := NewSimulator(WithStartTime(epoch()))
	sim.EnterNetwork()
	defer sim.ExitNetwork()

	var order []string
	require.NoError(t, statusErrAsErr(sim.StartCommand("first", Request{Hosts: []Host{"A"}}, func(Result) {
		order = append(order, "first")
	}, nil)))
	require.NoError(t, statusErrAsErr(sim.StartCommand("second", Request{Hosts: []Host{"A"}}, func(Result) {
		order = append(order, "second")
	}, nil)))

	op1 := sim.GetNextReadyRequest()
	op2 := sim.GetNextReadyRequest()
	sim.ScheduleResponse(op1, at(5), Result{}, false)
	sim.ScheduleResponse(op2, at(5), Result{}, false)

	sim.RunUntil(at(5))
	assert.Equal(t, []string{"first", "second"}, order)
}

// Property 5: idempotent ExitNetwork.
func TestIdempotentExitNetwork(t *testing.T) {
	sim := NewSimulator(WithStartTime(epoch()))
	assert.NotPanics(t, func() {
		sim.ExitNetwork()
		sim.ExitNetwork()
	})
}

// Property 6: cancellation racing an already-scheduled response leaves the
// original response intact.
func TestCancellationRacesCompletion(t *testing.T) {
	sim := NewSimulator(WithStartTime(epoch()))
	sim.EnterNetwork()
	defer sim.ExitNetwork()

	var got Result
	require.NoError(t, statusErrAsErr(sim.StartCommand("h1", Request{Hosts: []Host{"A"}}, func(r Result) {
		got = r
	}, nil)))

	op := sim.GetNextReadyRequest()
	sim.ScheduleResponse(op, sim.Now(), Result{Payload: "winner"}, false)

	sim.CancelCommand("h1")
	sim.RunReadyNetworkOperations()

	assert.True(t, got.OK())
	assert.Equal(t, "winner", got.Payload)
}

// Property 7: a blackholed operation receives exactly one terminal
// callback, and only at shutdown.
func TestBlackholeExactlyOneCallback(t *testing.T) {
	sim := NewSimulator(WithStartTime(epoch()))
	sim.EnterNetwork()
	defer sim.ExitNetwork()

	var calls int
	require.NoError(t, statusErrAsErr(sim.StartCommand("h1", Request{Hosts: []Host{"A"}}, func(Result) {
		calls++
	}, nil)))

	op := sim.GetNextReadyRequest()
	sim.BlackHole(op)

	sim.RunUntil(at(1000))
	assert.Equal(t, 0, calls)

	sim.Shutdown()
	assert.Equal(t, 1, calls)

	sim.Shutdown()
	assert.Equal(t, 1, calls)
}

// Property 8: a cancelled alarm never invokes its action.
func TestAlarmCancellationSuppressesAction(t *testing.T) {
	sim := NewSimulator(WithStartTime(epoch()))
	sim.EnterNetwork()
	defer sim.ExitNetwork()

	fired := false
	sim.SetAlarm("a1", at(50), func(*StatusError) { fired = true })
	sim.CancelAlarm("a1")

	sim.RunUntil(at(100))
	assert.False(t, fired)
}

// statusErrAsErr adapts *StatusError to the error interface for
// require.NoError, treating a nil or OK status as success.
func statusErrAsErr(s *StatusError) error {
	if s.IsOK() {
		return nil
	}
	return s
}
