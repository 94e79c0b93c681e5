package netmock

// submitOperation registers op in the arena and starts resolving the hosts
// its request targets. If every host is already known, op becomes visible
// to the driver immediately; otherwise a companion handshake request is
// synthesized for the first unresolved host and op stays hidden until the
// whole chain resolves.
func (c *CoordinationCore) submitOperation(op *NetworkOperation) {
	c.mu.Lock()
	c.arena.insertPending(op)
	c.resolveNextHostLocked(op)
	c.wakeNetwork.Broadcast()
	c.mu.Unlock()
}

// resolveNextHostLocked walks op's target hosts in order, skipping those
// already known. The first unresolved host either gets marked known
// directly (no connection hook installed, or the hook declines to generate
// a companion request) or spawns a companion handshake operation whose
// completion resumes this walk. Must be called with mu held.
func (c *CoordinationCore) resolveNextHostLocked(op *NetworkOperation) {
	for _, h := range op.Request.Hosts {
		if c.knownHosts[h] {
			continue
		}

		if cached, failed := c.failedHosts[h]; failed {
			c.failOperationLocked(op, cached)
			return
		}

		if c.connHook == nil {
			c.knownHosts[h] = true
			continue
		}

		reply := c.handshakeReplies[h]
		if status := c.connHook.ValidateHost(h, reply); status != nil && !status.IsOK() {
			failure := status
			c.failedHosts[h] = failure
			c.failOperationLocked(op, failure)
			return
		}

		payload, ok := c.connHook.GenerateRequest(h)
		if !ok {
			c.knownHosts[h] = true
			continue
		}

		host := h
		companion := &NetworkOperation{
			Handle:      NewHandle(),
			Request:     Request{Hosts: []Host{host}, Payload: payload},
			RequestDate: c.clock.Now(),
			isHandshake: true,
			forHost:     host,
		}
		companion.onResponse = func(r Result) {
			c.mu.Lock()
			if r.OK() {
				c.knownHosts[host] = true
				c.resolveNextHostLocked(op)
				c.wakeNetwork.Broadcast()
				c.mu.Unlock()
				return
			}
			failure := r.Err
			c.failedHosts[host] = failure
			c.failOperationLocked(op, failure)
			c.mu.Unlock()
		}
		c.arena.insert(companion)
		return
	}

	// every targeted host is known
	c.arena.publish(op)
}

// failOperationLocked synthesizes an immediate error response for op,
// bypassing the unscheduled queue entirely: the caller never sees op as
// ready because it never became resolvable. An operation that is already
// finished or has a terminal response queued is left alone.
func (c *CoordinationCore) failOperationLocked(op *NetworkOperation, err *StatusError) {
	if op.isFinished || op.terminalScheduled {
		return
	}
	op.isProcessing = true
	op.responseScheduled = true
	op.terminalScheduled = true
	c.responses.push(&NetworkResponse{
		Op:        op,
		DeliverAt: c.clock.Now(),
		Result:    Result{Err: err},
	})
}

// SetConnectionHook installs the handshake mediator. Must be called before
// any operation referencing an unresolved host is submitted; the handshake
// pipeline reads it with mu held.
func (c *CoordinationCore) SetConnectionHook(hook ConnectionHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connHook = hook
}

// SetHandshakeReply registers the canned reply ValidateHost will see for
// host on its next (or first) handshake attempt.
func (c *CoordinationCore) SetHandshakeReply(host Host, reply any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handshakeReplies[host] = reply
}

// KnownHosts returns a snapshot of every host the handshake pipeline has
// resolved so far.
func (c *CoordinationCore) KnownHosts() []Host {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Host, 0, len(c.knownHosts))
	for h := range c.knownHosts {
		out = append(out, h)
	}
	return out
}

// ForgetHost removes host from the known set and clears its cached
// handshake failure (if any), forcing the next operation that targets it to
// run the handshake pipeline again.
func (c *CoordinationCore) ForgetHost(host Host) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.knownHosts, host)
	delete(c.failedHosts, host)
}
