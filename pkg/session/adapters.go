package session

import (
	"context"

	"github.com/entrhq/authrelay/pkg/audit"
	"github.com/entrhq/authrelay/pkg/browser"
	"github.com/entrhq/authrelay/pkg/capture"
	"github.com/entrhq/authrelay/pkg/tunnel"
)

// Browser is the page surface a session drives. *browser.Instance
// satisfies it.
type Browser interface {
	capture.Inspector
	Navigate(ctx context.Context, url string) error
	Pointer(ctx context.Context, action browser.Action, x, y float64) error
	URL() string
	Close() error
	// Done is closed when the browser process exits
	Done() <-chan struct{}
}

// Launcher starts browsers.
type Launcher interface {
	Launch(ctx context.Context, opts browser.LaunchOptions) (Browser, error)
}

// Tunnel is a live public endpoint.
type Tunnel interface {
	PublicURL() string
	Close() error
	// Done is closed when the tunnel process exits
	Done() <-chan struct{}
}

// Provisioner starts tunnels. Ready is the credential preflight.
type Provisioner interface {
	Ready() error
	Provision(ctx context.Context, sessionID string, localPort int) (Tunnel, error)
}

// PortPool hands out exclusive debug ports. *ports.Pool satisfies it.
type PortPool interface {
	Acquire() (int, error)
	Release(port int)
}

// Auditor records lifecycle events. *audit.Log satisfies it.
type Auditor interface {
	Record(ctx context.Context, e audit.Event) error
}

type browserLauncher struct {
	l *browser.Launcher
}

// NewBrowserLauncher adapts a *browser.Launcher.
func NewBrowserLauncher(l *browser.Launcher) Launcher {
	return browserLauncher{l: l}
}

func (b browserLauncher) Launch(ctx context.Context, opts browser.LaunchOptions) (Browser, error) {
	inst, err := b.l.Launch(ctx, opts)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

type tunnelProvisioner struct {
	p *tunnel.Provisioner
}

// NewTunnelProvisioner adapts a *tunnel.Provisioner.
func NewTunnelProvisioner(p *tunnel.Provisioner) Provisioner {
	return tunnelProvisioner{p: p}
}

func (t tunnelProvisioner) Ready() error {
	return t.p.Ready()
}

func (t tunnelProvisioner) Provision(ctx context.Context, sessionID string, localPort int) (Tunnel, error) {
	tun, err := t.p.Provision(ctx, sessionID, localPort)
	if err != nil {
		return nil, err
	}
	return tunnelHandle{tun}, nil
}

type tunnelHandle struct {
	*tunnel.Tunnel
}

func (h tunnelHandle) PublicURL() string {
	return h.URL
}
