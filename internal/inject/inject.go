// Package inject provides input event injection for the client role: events
// forwarded by the server are replayed into the local session.
package inject

import "tx2tx/internal/types"

// Injector replays forwarded input events on the local machine. Positions
// arrive already denormalized to local pixel coordinates.
type Injector interface {
	// MouseMove moves the local pointer to an absolute position.
	MouseMove(pos types.Position) error

	// Button presses or releases a mouse button (1=left, 2=middle, 3=right).
	Button(button int, pressed bool) error

	// Scroll emits one scroll tick; negative delta scrolls up/left.
	Scroll(button int, delta int) error

	// Key presses or releases a key by X11 keycode.
	Key(keycode uint32, pressed bool) error

	// Close releases injection resources.
	Close() error
}
