package browser

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrLaunch         = errors.New("browser launch failed")
	ErrPortTimeout    = errors.New("debugging port did not open in time")
	ErrNavigation     = errors.New("navigation failed")
	ErrClosed         = errors.New("browser instance closed")
	ErrUnknownAction  = errors.New("unknown pointer action")
	ErrNotInitialized = errors.New("browser launcher not initialized")
)

// LaunchError reports which launch step failed.
type LaunchError struct {
	Op  string
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("browser launch: %s: %v", e.Op, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Is makes every LaunchError match ErrLaunch.
func (e *LaunchError) Is(target error) bool {
	return target == ErrLaunch
}

// PortTimeoutError is returned when a debugging port stays closed.
type PortTimeoutError struct {
	Port    int
	Timeout time.Duration
}

func (e *PortTimeoutError) Error() string {
	return fmt.Sprintf("port %d not connectable after %v", e.Port, e.Timeout)
}

// Is makes every PortTimeoutError match ErrPortTimeout.
func (e *PortTimeoutError) Is(target error) bool {
	return target == ErrPortTimeout
}

// NavigationError wraps a failed page load.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate to %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// Is makes every NavigationError match ErrNavigation.
func (e *NavigationError) Is(target error) bool {
	return target == ErrNavigation
}
