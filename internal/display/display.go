// Package display defines the narrow backend contract the server core uses
// to talk to the host display server: cursor query/warp, grabs, cursor
// visibility, and raw input event draining.
package display

import (
	"errors"

	"tx2tx/internal/types"
)

// ErrGrabFailed is returned when the display server refuses a pointer or
// keyboard grab. Grab failures are recoverable: the entry transition aborts
// and the user retries the edge crossing.
var ErrGrabFailed = errors.New("display: grab failed")

// Backend is the capability set the core needs from a display server. Two
// implementations exist: a native X11 client and an out-of-process Wayland
// helper driven over local IPC. All methods are treated as non-blocking by
// the polling loop; EventsDrain in particular must never block.
type Backend interface {
	// Geometry returns the screen dimensions. Fatal at startup only.
	Geometry() (types.Screen, error)

	// PointerQuery returns the current pointer position. On transient
	// failure implementations return the last known position and log.
	PointerQuery() (types.Position, error)

	// PointerWarp moves the pointer. It never fails hard: uncooperative
	// compositors may silently drop the request, and callers must not
	// depend on the warp being visible.
	PointerWarp(pos types.Position) error

	// PointerGrab claims exclusive pointer input. Returns ErrGrabFailed
	// when the display server refuses.
	PointerGrab() error

	// PointerUngrab releases the pointer grab, best-effort.
	PointerUngrab() error

	// KeyboardGrab claims exclusive keyboard input. Returns ErrGrabFailed
	// when the display server refuses.
	KeyboardGrab() error

	// KeyboardUngrab releases the keyboard grab, best-effort.
	KeyboardUngrab() error

	// CursorHide hides the cursor (or shows the remote-mode overlay);
	// may silently no-op, never fatal.
	CursorHide() error

	// CursorShow restores the cursor.
	CursorShow() error

	// EventsDrain returns all buffered raw input events plus the current
	// modifier mask, without blocking.
	EventsDrain() ([]types.InputEvent, uint16, error)

	// Sync flushes any buffered requests to the display server.
	Sync()

	// Native reports whether the backend drives the display server
	// directly; helper-mediated backends return false and get the
	// deferred-warp treatment.
	Native() bool

	// Close releases the display connection.
	Close() error
}
