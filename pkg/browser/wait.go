package browser

import (
	"context"
	"net"
	"strconv"
	"time"
)

const (
	dialAttemptTimeout = 200 * time.Millisecond
	dialRetryInterval  = 100 * time.Millisecond
)

// WaitForPort polls host:port until a TCP connection succeeds, timeout
// elapses (*PortTimeoutError) or ctx is done (ctx.Err()).
func WaitForPort(ctx context.Context, host string, port int, timeout time.Duration) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	dialer := net.Dialer{Timeout: dialAttemptTimeout}
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return &PortTimeoutError{Port: port, Timeout: timeout}
		case <-time.After(dialRetryInterval):
		}
	}
}
