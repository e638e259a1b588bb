package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/authrelay/pkg/process"
)

// Cookie is a browser cookie as seen by the page's context.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	HTTPOnly bool
	Secure   bool
}

// Instance is one running browser attached over CDP. It is exclusively
// owned by a single session.
type Instance struct {
	port       int
	viewport   Viewport
	navTimeout time.Duration

	proc       *process.Process
	browser    playwright.Browser
	page       playwright.Page
	profileDir string

	// mu serialises page operations so pointer sequences stay ordered
	mu        sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Done is closed when the browser process exits.
func (i *Instance) Done() <-chan struct{} {
	return i.proc.Done()
}

// URL returns the current page URL, empty once closed.
func (i *Instance) URL() string {
	if i.closed.Load() || i.page == nil {
		return ""
	}
	return i.page.URL()
}

// Navigate loads url and returns once the DOM is parsed. It does not wait
// for network idle; login pages keep long-polling connections open.
func (i *Instance) Navigate(ctx context.Context, url string) error {
	timeout := i.navTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	timeoutMs := float64(timeout.Milliseconds())

	_, err := call(ctx, i, func() (struct{}, error) {
		_, err := i.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   &timeoutMs,
		})
		return struct{}{}, err
	})
	if err != nil {
		return &NavigationError{URL: url, Err: err}
	}
	return nil
}

// Cookies returns every cookie in the page's browser context.
func (i *Instance) Cookies(ctx context.Context) ([]Cookie, error) {
	return call(ctx, i, func() ([]Cookie, error) {
		raw, err := i.page.Context().Cookies()
		if err != nil {
			return nil, fmt.Errorf("failed to read cookies: %w", err)
		}
		cookies := make([]Cookie, len(raw))
		for n, c := range raw {
			cookies[n] = Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				HTTPOnly: c.HttpOnly,
				Secure:   c.Secure,
			}
		}
		return cookies, nil
	})
}

// Evaluate runs script in the page and returns its result.
func (i *Instance) Evaluate(ctx context.Context, script string) (interface{}, error) {
	return call(ctx, i, func() (interface{}, error) {
		result, err := i.page.Evaluate(script)
		if err != nil {
			return nil, fmt.Errorf("script evaluation failed: %w", err)
		}
		return result, nil
	})
}

// Pointer dispatches a synthetic pointer action at normalised coordinates.
func (i *Instance) Pointer(ctx context.Context, action Action, x, y float64) error {
	if !action.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	_, err := call(ctx, i, func() (struct{}, error) {
		return struct{}{}, dispatchPointer(i.page.Mouse(), i.viewport, action, x, y)
	})
	return err
}

// Close disconnects CDP, stops the browser process group and removes the
// throwaway profile. Safe to call multiple times.
func (i *Instance) Close() error {
	i.closeOnce.Do(func() {
		// In-flight page calls fail once CDP disconnects
		i.closed.Store(true)

		var errs []error
		if i.browser != nil {
			if err := i.browser.Close(); err != nil {
				debugLog.Debugf("CDP disconnect on port %d: %v", i.port, err)
			}
		}
		if i.proc != nil {
			if err := i.proc.Stop(stopGrace); err != nil {
				errs = append(errs, err)
			}
		}
		if i.profileDir != "" {
			if err := os.RemoveAll(i.profileDir); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove profile: %w", err))
			}
		}
		i.closeErr = errors.Join(errs...)
		debugLog.Debugf("Browser on port %d closed", i.port)
	})
	return i.closeErr
}

// call runs fn under the instance lock and abandons it when ctx is done.
// playwright calls are not cancellable, so fn keeps running in the
// background until the driver returns.
func call[T any](ctx context.Context, i *Instance, fn func() (T, error)) (T, error) {
	var zero T
	if i.closed.Load() {
		return zero, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		i.mu.Lock()
		defer i.mu.Unlock()
		if i.closed.Load() {
			ch <- result{err: ErrClosed}
			return
		}
		v, err := fn()
		ch <- result{value: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
