package inject

import (
	"fmt"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/jezek/xgb/xtest"

	"tx2tx/internal/types"
)

// X11Injector replays events into an X session through the XTEST extension.
type X11Injector struct {
	conn *xgb.Conn
	root xproto.Window
}

// NewX11Injector connects to the X server and verifies XTEST is available.
func NewX11Injector(displayName string) (*X11Injector, error) {
	conn, err := xgb.NewConnDisplay(displayName)
	if err != nil {
		return nil, fmt.Errorf("inject: connect: %w", err)
	}
	if err := xtest.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("inject: XTEST unavailable: %w", err)
	}
	if _, err := xtest.GetVersion(conn, 2, 2).Reply(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("inject: XTEST version: %w", err)
	}

	screen := xproto.Setup(conn).DefaultScreen(conn)
	return &X11Injector{conn: conn, root: screen.Root}, nil
}

func (i *X11Injector) fake(eventType byte, detail byte, x, y int16) error {
	// Time 0 is CurrentTime for fake input.
	return xtest.FakeInputChecked(
		i.conn, eventType, detail, 0,
		i.root, x, y, 0,
	).Check()
}

// MouseMove warps the pointer to an absolute position.
func (i *X11Injector) MouseMove(pos types.Position) error {
	// Detail 0 selects absolute motion for a MotionNotify fake event.
	return i.fake(xproto.MotionNotify, 0, int16(pos.X), int16(pos.Y))
}

// Button presses or releases a mouse button at the current position.
func (i *X11Injector) Button(button int, pressed bool) error {
	eventType := byte(xproto.ButtonPress)
	if !pressed {
		eventType = byte(xproto.ButtonRelease)
	}
	return i.fake(eventType, byte(button), 0, 0)
}

// Scroll emits one press/release pair on the scroll button.
func (i *X11Injector) Scroll(button int, delta int) error {
	if button < 4 || button > 7 {
		// Map a bare delta onto the vertical scroll buttons.
		button = 5
		if delta < 0 {
			button = 4
		}
	}
	if err := i.fake(xproto.ButtonPress, byte(button), 0, 0); err != nil {
		return err
	}
	return i.fake(xproto.ButtonRelease, byte(button), 0, 0)
}

// Key presses or releases a key by X11 keycode.
func (i *X11Injector) Key(keycode uint32, pressed bool) error {
	eventType := byte(xproto.KeyPress)
	if !pressed {
		eventType = byte(xproto.KeyRelease)
	}
	return i.fake(eventType, byte(keycode), 0, 0)
}

// Close drops the X connection.
func (i *X11Injector) Close() error {
	i.conn.Close()
	return nil
}

var _ Injector = (*X11Injector)(nil)
