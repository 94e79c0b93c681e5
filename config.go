package netmock

import "time"

// Config is the only configuration surface for a Simulator: no CLI flags,
// no environment variables, no config file. NewSimulator applies the With*
// options over a zero Config; it does not accept a Config value directly.
type Config struct {
	// StartTime is the virtual time the simulator's clock begins at. The
	// zero time.Time is used if unset.
	StartTime time.Time

	// ConnectionHook mediates the per-host handshake. Nil means every host
	// is treated as known immediately.
	ConnectionHook ConnectionHook

	// MetadataHook observes/rewrites metadata alongside enqueued responses.
	MetadataHook MetadataHook
}

// Option configures a Simulator at construction time.
type Option func(*Config)

// WithStartTime sets the virtual clock's initial value.
func WithStartTime(t time.Time) Option {
	return func(c *Config) { c.StartTime = t }
}

// WithConnectionHook installs the handshake mediator.
func WithConnectionHook(hook ConnectionHook) Option {
	return func(c *Config) { c.ConnectionHook = hook }
}

// WithMetadataHook installs the response metadata observer.
func WithMetadataHook(hook MetadataHook) Option {
	return func(c *Config) { c.MetadataHook = hook }
}
