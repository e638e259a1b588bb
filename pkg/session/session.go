package session

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/entrhq/authrelay/pkg/capture"
)

var (
	// ErrSessionNotFound is returned for ids that were never issued or were
	// already torn down.
	ErrSessionNotFound = errors.New("session not found")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrShutdown is returned by Start once Shutdown has been called.
	ErrShutdown = errors.New("session manager is shut down")
)

// ValidationError reports a bad or missing request field. It is returned
// before any session state is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Start stages, used in StartError and metric labels.
const (
	StageCredential = "credential"
	StagePorts      = "ports"
	StageLaunch     = "launch"
	StageNavigate   = "navigate"
	StageTunnel     = "tunnel"
	StageRegister   = "register"
)

// StartError wraps a provisioning failure with the stage that failed. All
// resources acquired before the failure have been released.
type StartError struct {
	Stage string
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start session: %s: %v", e.Stage, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// State of a session. Sessions only move from active to terminated.
type State string

const (
	StateActive     State = "active"
	StateTerminated State = "terminated"
)

// TeardownReason records which terminal event ended a session.
type TeardownReason string

const (
	ReasonCaptured TeardownReason = "captured"
	ReasonExpired  TeardownReason = "expired"
	ReasonCleanup  TeardownReason = "cleanup"
	ReasonShutdown TeardownReason = "shutdown"

	// The browser or tunnel process died on its own; its partner is torn
	// down with it.
	ReasonBrowserExited TeardownReason = "browser_exited"
	ReasonTunnelExited  TeardownReason = "tunnel_exited"
)

// Session owns one browser, one tunnel and one debug port.
type Session struct {
	ID        string
	OwnerID   string
	LoginURL  string
	TunnelURL string
	DebugPort int
	CreatedAt time.Time
	ExpiresAt time.Time

	browser Browser
	tunnel  Tunnel
	timer   *time.Timer
	limiter *rate.Limiter
	// stop is closed by the teardown that removed the session
	stop chan struct{}
}

// Info is a handle-free snapshot of a session.
type Info struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	LoginURL  string    `json:"loginUrl"`
	TunnelURL string    `json:"tunnelUrl"`
	DebugPort int       `json:"debugPort"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	State     State     `json:"state"`
}

func (s *Session) info() Info {
	return Info{
		ID:        s.ID,
		OwnerID:   s.OwnerID,
		LoginURL:  s.LoginURL,
		TunnelURL: s.TunnelURL,
		DebugPort: s.DebugPort,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
		State:     StateActive,
	}
}

// StartRequest asks for a new session. LoginURL is optional.
type StartRequest struct {
	OwnerID  string
	LoginURL string
}

// StartResult is returned only for a fully provisioned session.
type StartResult struct {
	SessionID string
	TunnelURL string
	ExpiresAt time.Time
}

// CaptureResult is the outcome of one capture poll. A miss is not an error.
type CaptureResult struct {
	OK     bool
	Token  *capture.Token
	Reason string
}

// RelayRequest carries a pointer action at normalized coordinates. X and Y
// are pointers so that zero can be told apart from missing.
type RelayRequest struct {
	SessionID string
	Action    string
	X         *float64
	Y         *float64
}

// RelayResult echoes the dispatched action and the page URL afterwards.
type RelayResult struct {
	Action string  `json:"action"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	URL    string  `json:"url"`
}
