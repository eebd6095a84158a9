package domain

import "fmt"

// Admission rejection reasons.
const (
	ReasonMaxConnections = "max_connections"
	ReasonRateLimit      = "rate_limit"
)

// NotFound wraps custom 404 not found errors
type NotFound struct {
	Err error
}

func (n NotFound) Error() string { return n.Err.Error() }
func (n NotFound) Unwrap() error { return n.Err }

// Conflict wraps custom 409 conflict errors
type Conflict struct {
	Err error
}

func (c Conflict) Error() string { return c.Err.Error() }
func (c Conflict) Unwrap() error { return c.Err }

// ConfigError marks configuration that failed eager validation. It keeps the
// offending frontend from starting and never touches the others.
type ConfigError struct {
	Err error
}

func (e ConfigError) Error() string { return e.Err.Error() }
func (e ConfigError) Unwrap() error { return e.Err }

// BindError marks a listen failure (address in use, permission denied)
// during one frontend's startup.
type BindError struct {
	Frontend string
	Err      error
}

func (e BindError) Error() string {
	return fmt.Sprintf("frontend %s: %s", e.Frontend, e.Err.Error())
}
func (e BindError) Unwrap() error { return e.Err }

// DialError marks an unreachable backend. Counted per connection, never
// retried.
type DialError struct {
	Backend string
	Err     error
}

func (e DialError) Error() string {
	return fmt.Sprintf("backend %s: %s", e.Backend, e.Err.Error())
}
func (e DialError) Unwrap() error { return e.Err }

// TLSError covers bad certificate material at frontend startup and failed
// handshakes on individual connections.
type TLSError struct {
	Err error
}

func (e TLSError) Error() string { return e.Err.Error() }
func (e TLSError) Unwrap() error { return e.Err }

// AdmissionError reports a connection-cap or rate-limit rejection. Not an
// error-level event; the client owns any retry.
type AdmissionError struct {
	Reason string
	Limit  int
}

func (e AdmissionError) Error() string {
	return fmt.Sprintf("admission denied: %s limit %d reached", e.Reason, e.Limit)
}

// IPDeniedError reports a source address rejected by the IP filter.
type IPDeniedError struct {
	IP string
}

func (e IPDeniedError) Error() string {
	return fmt.Sprintf("ip %s denied by filter", e.IP)
}
