package netmock

// InNetworkGuard is a scope-based wrapper around EnterNetwork/ExitNetwork:
// construct it on entry to a network-thread function, defer its Release,
// and it exits the network role exactly once even across multiple return
// paths. Dismiss suppresses the deferred release for callers that want to
// hand ownership of the role off explicitly (e.g. into a callback that will
// call ExitNetwork itself later).
type InNetworkGuard struct {
	core      *CoordinationCore
	dismissed bool
}

// NewInNetworkGuard enters the network role and returns a guard that will
// release it on Release, unless Dismiss is called first.
func NewInNetworkGuard(c *CoordinationCore) *InNetworkGuard {
	c.EnterNetwork()
	return &InNetworkGuard{core: c}
}

// Dismiss suppresses the guard's release, leaving the network role held.
func (g *InNetworkGuard) Dismiss() {
	g.dismissed = true
}

// Release exits the network role, unless the guard was dismissed. Safe to
// call multiple times; only the first call (if any, pre-dismiss) has an
// effect.
func (g *InNetworkGuard) Release() {
	if g.dismissed {
		return
	}
	g.dismissed = true
	g.core.ExitNetwork()
}
