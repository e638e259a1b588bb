package browser

import (
	"fmt"

	"github.com/playwright-community/playwright-go"
)

// Action is a synthetic pointer action.
type Action string

const (
	ActionClick    Action = "click"
	ActionDblClick Action = "dblclick"
	ActionMove     Action = "move"
	ActionDown     Action = "down"
	ActionUp       Action = "up"
	// ActionScroll treats y as a wheel delta: 0.5 is no movement, 0 and 1
	// scroll a full viewport up and down.
	ActionScroll Action = "scroll"
)

// Actions lists every supported action.
func Actions() []Action {
	return []Action{ActionClick, ActionDblClick, ActionMove, ActionDown, ActionUp, ActionScroll}
}

// Valid reports whether a is a supported action.
func (a Action) Valid() bool {
	for _, known := range Actions() {
		if a == known {
			return true
		}
	}
	return false
}

// ParseAction converts a wire value into an Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	return a, nil
}

// mouse is the subset of playwright.Mouse used for pointer relay.
type mouse interface {
	Click(x, y float64, options ...playwright.MouseClickOptions) error
	Dblclick(x, y float64, options ...playwright.MouseDblclickOptions) error
	Move(x, y float64, options ...playwright.MouseMoveOptions) error
	Down(options ...playwright.MouseDownOptions) error
	Up(options ...playwright.MouseUpOptions) error
	Wheel(deltaX, deltaY float64) error
}

// scale converts normalised coordinates to viewport pixels.
func scale(v Viewport, x, y float64) (float64, float64) {
	return x * float64(v.Width), y * float64(v.Height)
}

// scrollDelta maps y in [0,1] to a vertical wheel delta in pixels.
func scrollDelta(v Viewport, y float64) float64 {
	return (y - 0.5) * 2 * float64(v.Height)
}

func dispatchPointer(m mouse, v Viewport, action Action, x, y float64) error {
	px, py := scale(v, x, y)

	switch action {
	case ActionClick:
		return m.Click(px, py)
	case ActionDblClick:
		return m.Dblclick(px, py)
	case ActionMove:
		return m.Move(px, py)
	case ActionDown:
		if err := m.Move(px, py); err != nil {
			return err
		}
		return m.Down()
	case ActionUp:
		if err := m.Move(px, py); err != nil {
			return err
		}
		return m.Up()
	case ActionScroll:
		if err := m.Move(px, float64(v.Height)/2); err != nil {
			return err
		}
		return m.Wheel(0, scrollDelta(v, y))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}
