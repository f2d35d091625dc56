package wayland

import (
	"encoding/json"
	"fmt"

	"github.com/godbus/dbus/v5"

	"tx2tx/internal/types"
)

const (
	gnomeShellDest = "org.gnome.Shell"
	gnomeShellPath = "/org/gnome/Shell"
	gnomeShellEval = "org.gnome.Shell.Eval"
	pointerScript  = "JSON.stringify(global.get_pointer())"
)

// GnomePointer reads pointer coordinates from GNOME Shell over the session
// D-Bus. It exists because some helper setups cannot observe the pointer
// while GNOME Shell always can.
type GnomePointer struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// NewGnomePointer connects to the session bus.
func NewGnomePointer() (*GnomePointer, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("wayland: session bus: %w", err)
	}
	return &GnomePointer{
		conn: conn,
		obj:  conn.Object(gnomeShellDest, gnomeShellPath),
	}, nil
}

// PointerPosition evaluates global.get_pointer() in GNOME Shell and parses
// the resulting "[x, y, modifiers]" JSON array.
func (g *GnomePointer) PointerPosition() (types.Position, error) {
	var ok bool
	var out string
	if err := g.obj.Call(gnomeShellEval, 0, pointerScript).Store(&ok, &out); err != nil {
		return types.Position{}, fmt.Errorf("wayland: gnome eval: %w", err)
	}
	if !ok {
		return types.Position{}, fmt.Errorf("wayland: gnome eval rejected (unsafe mode disabled?)")
	}

	var coords []int
	if err := json.Unmarshal([]byte(out), &coords); err != nil {
		return types.Position{}, fmt.Errorf("wayland: unexpected gnome output %q: %w", out, err)
	}
	if len(coords) < 2 {
		return types.Position{}, fmt.Errorf("wayland: short gnome pointer reply %q", out)
	}
	return types.Position{X: coords[0], Y: coords[1]}, nil
}
