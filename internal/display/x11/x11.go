// Package x11 implements the display backend against a running X server
// using the pure-Go X protocol client.
package x11

import (
	"fmt"
	"log"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xfixes"
	"github.com/jezek/xgb/xproto"

	"tx2tx/internal/display"
	"tx2tx/internal/types"
)

const grabEventMask = xproto.EventMaskButtonPress |
	xproto.EventMaskButtonRelease |
	xproto.EventMaskPointerMotion

// Backend drives a native X server: XFixes for cursor visibility, core
// protocol grabs for input capture, and the connection event queue for raw
// events while grabbed.
type Backend struct {
	conn   *xgb.Conn
	root   xproto.Window
	screen *xproto.ScreenInfo

	keysyms          []xproto.Keysym
	keysymsPerCode   int
	minKeycode       xproto.Keycode
	cursorHidden     bool
	lastPosition     types.Position
	lastModifierMask uint16
}

// New connects to the X server named by display (empty means $DISPLAY) and
// prepares the XFixes extension used for cursor hiding.
func New(displayName string) (*Backend, error) {
	conn, err := xgb.NewConnDisplay(displayName)
	if err != nil {
		return nil, fmt.Errorf("x11: connect: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	b := &Backend{
		conn:       conn,
		root:       screen.Root,
		screen:     screen,
		minKeycode: setup.MinKeycode,
	}

	if err := xfixes.Init(conn); err != nil {
		log.Printf("X11: XFixes unavailable, cursor hiding disabled: %v", err)
	} else if _, err := xfixes.QueryVersion(conn, 4, 0).Reply(); err != nil {
		log.Printf("X11: XFixes version query failed, cursor hiding disabled: %v", err)
	}

	count := byte(setup.MaxKeycode - setup.MinKeycode + 1)
	mapping, err := xproto.GetKeyboardMapping(conn, setup.MinKeycode, count).Reply()
	if err != nil {
		log.Printf("X11: keyboard mapping query failed, keysyms unavailable: %v", err)
	} else {
		b.keysyms = mapping.Keysyms
		b.keysymsPerCode = int(mapping.KeysymsPerKeycode)
	}

	return b, nil
}

// Geometry returns the root window dimensions.
func (b *Backend) Geometry() (types.Screen, error) {
	return types.Screen{
		Width:  int(b.screen.WidthInPixels),
		Height: int(b.screen.HeightInPixels),
	}, nil
}

// PointerQuery returns the pointer position on the root window. Transient
// failures return the last known position.
func (b *Backend) PointerQuery() (types.Position, error) {
	reply, err := xproto.QueryPointer(b.conn, b.root).Reply()
	if err != nil {
		log.Printf("X11: pointer query failed, using last known position: %v", err)
		return b.lastPosition, nil
	}
	b.lastPosition = types.Position{X: int(reply.RootX), Y: int(reply.RootY)}
	return b.lastPosition, nil
}

// PointerWarp moves the pointer to pos on the root window.
func (b *Backend) PointerWarp(pos types.Position) error {
	err := xproto.WarpPointerChecked(
		b.conn, xproto.WindowNone, b.root,
		0, 0, 0, 0,
		int16(pos.X), int16(pos.Y),
	).Check()
	if err != nil {
		log.Printf("X11: warp to (%d, %d) failed: %v", pos.X, pos.Y, err)
	}
	return nil
}

// PointerGrab claims an async pointer grab on the root window.
func (b *Backend) PointerGrab() error {
	reply, err := xproto.GrabPointer(
		b.conn, true, b.root, grabEventMask,
		xproto.GrabModeAsync, xproto.GrabModeAsync,
		b.root, xproto.CursorNone, xproto.TimeCurrentTime,
	).Reply()
	if err != nil {
		return fmt.Errorf("%w: %v", display.ErrGrabFailed, err)
	}
	if reply.Status != xproto.GrabStatusSuccess {
		return fmt.Errorf("%w: status %d", display.ErrGrabFailed, reply.Status)
	}
	return nil
}

// PointerUngrab releases the pointer grab.
func (b *Backend) PointerUngrab() error {
	if err := xproto.UngrabPointerChecked(b.conn, xproto.TimeCurrentTime).Check(); err != nil {
		log.Printf("X11: pointer ungrab failed: %v", err)
	}
	return nil
}

// KeyboardGrab claims an async keyboard grab on the root window.
func (b *Backend) KeyboardGrab() error {
	reply, err := xproto.GrabKeyboard(
		b.conn, true, b.root, xproto.TimeCurrentTime,
		xproto.GrabModeAsync, xproto.GrabModeAsync,
	).Reply()
	if err != nil {
		return fmt.Errorf("%w: %v", display.ErrGrabFailed, err)
	}
	if reply.Status != xproto.GrabStatusSuccess {
		return fmt.Errorf("%w: status %d", display.ErrGrabFailed, reply.Status)
	}
	return nil
}

// KeyboardUngrab releases the keyboard grab.
func (b *Backend) KeyboardUngrab() error {
	if err := xproto.UngrabKeyboardChecked(b.conn, xproto.TimeCurrentTime).Check(); err != nil {
		log.Printf("X11: keyboard ungrab failed: %v", err)
	}
	return nil
}

// CursorHide hides the cursor via XFixes on the root window.
func (b *Backend) CursorHide() error {
	if err := xfixes.HideCursorChecked(b.conn, b.root).Check(); err != nil {
		log.Printf("X11: hide cursor failed: %v", err)
		return nil
	}
	b.cursorHidden = true
	return nil
}

// CursorShow restores the cursor via XFixes on the root window.
func (b *Backend) CursorShow() error {
	if err := xfixes.ShowCursorChecked(b.conn, b.root).Check(); err != nil {
		log.Printf("X11: show cursor failed: %v", err)
		return nil
	}
	b.cursorHidden = false
	return nil
}

// EventsDrain empties the connection event queue. Key, button and scroll
// events are translated; motion only updates the last known position;
// everything else is dropped.
func (b *Backend) EventsDrain() ([]types.InputEvent, uint16, error) {
	var events []types.InputEvent
	for {
		ev, xerr := b.conn.PollForEvent()
		if xerr != nil {
			log.Printf("X11: event read error: %v", xerr)
			continue
		}
		if ev == nil {
			break
		}

		switch e := ev.(type) {
		case xproto.KeyPressEvent:
			b.lastModifierMask = e.State
			events = append(events, b.keyEvent(types.EventKeyPress, e.Detail, e.State))
		case xproto.KeyReleaseEvent:
			b.lastModifierMask = e.State
			events = append(events, b.keyEvent(types.EventKeyRelease, e.Detail, e.State))
		case xproto.ButtonPressEvent:
			b.lastModifierMask = e.State
			events = append(events, buttonEvent(types.EventMouseButtonPress, e.Detail, e.RootX, e.RootY))
		case xproto.ButtonReleaseEvent:
			b.lastModifierMask = e.State
			if e.Detail >= 4 && e.Detail <= 7 {
				// Scroll ticks already produced an event on press.
				continue
			}
			events = append(events, buttonEvent(types.EventMouseButtonRelease, e.Detail, e.RootX, e.RootY))
		case xproto.MotionNotifyEvent:
			b.lastModifierMask = e.State
			b.lastPosition = types.Position{X: int(e.RootX), Y: int(e.RootY)}
		}
	}
	return events, b.lastModifierMask, nil
}

// Sync round-trips the connection so queued requests reach the server.
func (b *Backend) Sync() {
	// GetInputFocus is the conventional cheap round-trip.
	_, _ = xproto.GetInputFocus(b.conn).Reply()
}

// Native reports that this backend drives the display server directly.
func (b *Backend) Native() bool { return true }

// Close shows the cursor if we hid it and drops the connection.
func (b *Backend) Close() error {
	if b.cursorHidden {
		_ = b.CursorShow()
	}
	b.conn.Close()
	return nil
}

// keysymFor maps a keycode to its unshifted keysym, 0 when unknown.
func (b *Backend) keysymFor(code xproto.Keycode) uint32 {
	if b.keysymsPerCode == 0 {
		return 0
	}
	idx := int(code-b.minKeycode) * b.keysymsPerCode
	if idx < 0 || idx >= len(b.keysyms) {
		return 0
	}
	return uint32(b.keysyms[idx])
}

func (b *Backend) keyEvent(t types.EventType, code xproto.Keycode, state uint16) types.KeyEvent {
	return types.KeyEvent{
		EventType: t,
		Keycode:   uint32(code),
		Keysym:    b.keysymFor(code),
		State:     state,
		HasState:  true,
	}
}

// buttonEvent translates a button press/release. X buttons 4-7 are scroll
// ticks and become scroll events with a signed delta.
func buttonEvent(t types.EventType, button xproto.Button, x, y int16) types.MouseEvent {
	pos := types.Position{X: int(x), Y: int(y)}
	if button >= 4 && button <= 7 {
		delta := 1
		if button == 4 || button == 6 {
			delta = -1
		}
		return types.MouseEvent{
			EventType: types.EventMouseScroll,
			Position:  &pos,
			Button:    int(button),
			Delta:     delta,
		}
	}
	return types.MouseEvent{
		EventType: t,
		Position:  &pos,
		Button:    int(button),
	}
}
