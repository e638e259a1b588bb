package tunnel

import (
	"errors"
	"fmt"
)

// Sentinel errors for tunnel provisioning. Callers should use errors.Is.
var (
	// ErrMissingCredential means no tunnel credential is configured. It is
	// a configuration fault and retrying cannot fix it.
	ErrMissingCredential = errors.New("tunnel credential not configured")

	// ErrTunnelTimeout means the tunnel never reported a public URL.
	ErrTunnelTimeout = errors.New("tunnel did not report a public url in time")

	// ErrTunnelExited means the tunnel process ended before reporting a URL.
	ErrTunnelExited = errors.New("tunnel process exited")
)

// TunnelError wraps a provisioning failure with the step and local port.
type TunnelError struct {
	Port int
	Op   string
	Err  error
}

func (e *TunnelError) Error() string {
	if e.Port != 0 {
		return fmt.Sprintf("tunnel for port %d: %s: %v", e.Port, e.Op, e.Err)
	}
	return fmt.Sprintf("tunnel: %s: %v", e.Op, e.Err)
}

func (e *TunnelError) Unwrap() error {
	return e.Err
}
