package netmock

import "github.com/google/uuid"

// Handle is the opaque identity assigned to a submitted operation or an
// alarm. The core never interprets a Handle's contents; it only uses it for
// lookup, cancellation, and equality. Callers may mint their own (any
// comparable string works) or call NewHandle for a collision-free one.
type Handle string

// NewHandle mints a fresh, collision-free opaque handle. Tests that don't
// want to manage their own identity space for callback handles or alarm
// handles can use this instead.
func NewHandle() Handle {
	return Handle(uuid.New().String())
}

// Host identifies a target for an operation. Opaque to the core beyond
// equality and use as a known-hosts / handshake-reply map key.
type Host string
