// Package ports hands out local TCP ports for browser debugging endpoints so
// that concurrent sessions never share one.
package ports

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
)

// ErrExhausted is returned when every port in the range is in use.
var ErrExhausted = errors.New("ports: no free port in range")

// Pool is a fixed range of loopback ports. The zero value is not usable.
type Pool struct {
	start, end int
	next       int

	mu    sync.Mutex
	inUse map[int]struct{}

	// probe reports whether a port is free at the OS level
	probe func(port int) bool
}

// NewPool creates a pool over the inclusive range [start, end].
func NewPool(start, end int) (*Pool, error) {
	if start <= 0 || end > 65535 || start > end {
		return nil, fmt.Errorf("invalid port range %d-%d", start, end)
	}
	return &Pool{
		start: start,
		end:   end,
		next:  start,
		inUse: make(map[int]struct{}),
		probe: probeListen,
	}, nil
}

// Acquire reserves a port. Ports bound by other processes are skipped.
// Allocation rotates through the range so a just-released port is not
// immediately handed out again.
func (p *Pool) Acquire() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := p.end - p.start + 1
	for i := 0; i < size; i++ {
		port := p.next
		p.next++
		if p.next > p.end {
			p.next = p.start
		}

		if _, taken := p.inUse[port]; taken {
			continue
		}
		if !p.probe(port) {
			continue
		}
		p.inUse[port] = struct{}{}
		return port, nil
	}
	return 0, fmt.Errorf("%w %d-%d", ErrExhausted, p.start, p.end)
}

// Release returns a port to the pool. Releasing a port that is not held is
// a no-op.
func (p *Pool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, port)
}

// InUse returns the number of reserved ports.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}

// Range returns the inclusive bounds of the pool.
func (p *Pool) Range() (start, end int) {
	return p.start, p.end
}

func probeListen(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
