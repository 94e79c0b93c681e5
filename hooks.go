package netmock

// ConnectionHook mediates the first-contact-per-host handshake. Both methods
// are optional in spirit — a Simulator with no hook installed treats every
// host as immediately known. Set at setup; the core reads it, like the
// metadata hook, with its coordination mutex held.
type ConnectionHook interface {
	// ValidateHost is fed the canned handshake reply registered for host
	// (or an empty one by default) and returns the status the handshake
	// should fail with, or a nil/OK status to proceed.
	ValidateHost(host Host, handshakeReply any) *StatusError
	// GenerateRequest optionally returns a post-connection command to send
	// to host before the host is marked known. ok=false means no
	// companion command is needed.
	GenerateRequest(host Host) (payload any, ok bool)
}

// MetadataHook is invoked when a response is enqueued, letting a test
// observe or rewrite metadata traveling alongside the response. Not on the
// hot path of coordination — purely a side-channel for assertions.
type MetadataHook func(op *NetworkOperation, resp *NetworkResponse)
