// Package wayland implements the helper-mediated display backend used on
// Wayland sessions. Compositors do not expose global pointer control to
// ordinary clients, so a privileged helper process performs the display
// operations and this package drives it over line-delimited JSON on its
// stdin/stdout.
package wayland

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"

	"tx2tx/internal/display"
	"tx2tx/internal/types"
)

// PointerProvider answers pointer position queries. The helper itself is the
// default provider; GNOME sessions can use the Shell D-Bus interface instead
// because some helper configurations cannot observe the pointer.
type PointerProvider interface {
	PointerPosition() (types.Position, error)
}

type request struct {
	Cmd     string          `json:"cmd"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type response struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Backend runs display operations through a helper subprocess.
type Backend struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   *json.Encoder
	stdout  *bufio.Reader
	pointer PointerProvider

	geometryOverride types.Screen
	lastPosition     types.Position
	lastModifiers    uint16
}

// Options configures the helper backend.
type Options struct {
	// HelperCommand is the helper executable, optionally with arguments.
	HelperCommand string

	// PointerProvider is "helper" or "gnome".
	PointerProvider string

	// ScreenWidth/ScreenHeight override geometry when non-zero.
	ScreenWidth  int
	ScreenHeight int
}

// New spawns the helper process and wires the pointer provider.
func New(opts Options) (*Backend, error) {
	if opts.HelperCommand == "" {
		return nil, errors.New("wayland: no helper_command configured")
	}

	parts := strings.Fields(opts.HelperCommand)
	cmd := exec.Command(parts[0], parts[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("wayland: helper stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("wayland: helper stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("wayland: start helper %q: %w", opts.HelperCommand, err)
	}
	log.Printf("Wayland: helper started (pid %d): %s", cmd.Process.Pid, opts.HelperCommand)

	b := &Backend{
		cmd:    cmd,
		stdin:  json.NewEncoder(stdin),
		stdout: bufio.NewReader(stdout),
		geometryOverride: types.Screen{
			Width:  opts.ScreenWidth,
			Height: opts.ScreenHeight,
		},
	}

	switch opts.PointerProvider {
	case "", "helper":
		b.pointer = helperPointer{b}
	case "gnome":
		provider, err := NewGnomePointer()
		if err != nil {
			b.Close()
			return nil, err
		}
		b.pointer = provider
	default:
		b.Close()
		return nil, fmt.Errorf("wayland: unknown pointer_provider %q", opts.PointerProvider)
	}

	return b, nil
}

// call issues one request and decodes its response, serialised under the
// backend mutex because the helper speaks one request at a time.
func (b *Backend) call(cmd string, payload interface{}, result interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	req := request{Cmd: cmd}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("wayland: encode %s: %w", cmd, err)
		}
		req.Payload = raw
	}
	if err := b.stdin.Encode(req); err != nil {
		return fmt.Errorf("wayland: write %s: %w", cmd, err)
	}

	line, err := b.stdout.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("wayland: read %s reply: %w", cmd, err)
	}
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("wayland: decode %s reply: %w", cmd, err)
	}
	if !resp.OK {
		return fmt.Errorf("wayland: helper %s: %s", cmd, resp.Error)
	}
	if result != nil && len(resp.Result) > 0 {
		return json.Unmarshal(resp.Result, result)
	}
	return nil
}

// Geometry returns the helper-reported screen size, or the configured
// override when set.
func (b *Backend) Geometry() (types.Screen, error) {
	if b.geometryOverride.Width > 0 && b.geometryOverride.Height > 0 {
		return b.geometryOverride, nil
	}
	var result struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if err := b.call("geometry", nil, &result); err != nil {
		return types.Screen{}, err
	}
	return types.Screen{Width: result.Width, Height: result.Height}, nil
}

// PointerQuery asks the configured pointer provider; transient failures
// return the last known position.
func (b *Backend) PointerQuery() (types.Position, error) {
	pos, err := b.pointer.PointerPosition()
	if err != nil {
		log.Printf("Wayland: pointer query failed, using last known position: %v", err)
		return b.lastPosition, nil
	}
	b.lastPosition = pos
	return pos, nil
}

// PointerWarp asks the helper to move the pointer. Compositors may ignore
// the visual update; callers never depend on it.
func (b *Backend) PointerWarp(pos types.Position) error {
	payload := map[string]int{"x": pos.X, "y": pos.Y}
	if err := b.call("pointer_set", payload, nil); err != nil {
		log.Printf("Wayland: warp to (%d, %d) failed: %v", pos.X, pos.Y, err)
	}
	return nil
}

// PointerGrab asks the helper to claim the pointer.
func (b *Backend) PointerGrab() error {
	if err := b.call("pointer_grab", nil, nil); err != nil {
		return fmt.Errorf("%w: %v", display.ErrGrabFailed, err)
	}
	return nil
}

// PointerUngrab releases the pointer grab, best-effort.
func (b *Backend) PointerUngrab() error {
	if err := b.call("pointer_ungrab", nil, nil); err != nil {
		log.Printf("Wayland: pointer ungrab failed: %v", err)
	}
	return nil
}

// KeyboardGrab asks the helper to claim the keyboard.
func (b *Backend) KeyboardGrab() error {
	if err := b.call("keyboard_grab", nil, nil); err != nil {
		return fmt.Errorf("%w: %v", display.ErrGrabFailed, err)
	}
	return nil
}

// KeyboardUngrab releases the keyboard grab, best-effort.
func (b *Backend) KeyboardUngrab() error {
	if err := b.call("keyboard_ungrab", nil, nil); err != nil {
		log.Printf("Wayland: keyboard ungrab failed: %v", err)
	}
	return nil
}

// CursorHide asks the helper to hide the cursor or show its overlay.
func (b *Backend) CursorHide() error {
	if err := b.call("cursor_hide", nil, nil); err != nil {
		log.Printf("Wayland: cursor hide failed: %v", err)
	}
	return nil
}

// CursorShow restores the cursor.
func (b *Backend) CursorShow() error {
	if err := b.call("cursor_show", nil, nil); err != nil {
		log.Printf("Wayland: cursor show failed: %v", err)
	}
	return nil
}

type helperEvent struct {
	Type    string `json:"type"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Button  int    `json:"button"`
	Delta   int    `json:"delta"`
	Keycode uint32 `json:"keycode"`
	Keysym  uint32 `json:"keysym"`
	State   uint16 `json:"state"`
}

// EventsDrain fetches buffered events from the helper.
func (b *Backend) EventsDrain() ([]types.InputEvent, uint16, error) {
	var result struct {
		Events    []helperEvent `json:"events"`
		Modifiers uint16        `json:"modifiers"`
	}
	if err := b.call("events_read", nil, &result); err != nil {
		return nil, b.lastModifiers, err
	}
	b.lastModifiers = result.Modifiers

	events := make([]types.InputEvent, 0, len(result.Events))
	for _, ev := range result.Events {
		switch types.EventType(ev.Type) {
		case types.EventKeyPress, types.EventKeyRelease:
			events = append(events, types.KeyEvent{
				EventType: types.EventType(ev.Type),
				Keycode:   ev.Keycode,
				Keysym:    ev.Keysym,
				State:     ev.State,
				HasState:  true,
			})
		case types.EventMouseButtonPress, types.EventMouseButtonRelease, types.EventMouseScroll:
			pos := types.Position{X: ev.X, Y: ev.Y}
			events = append(events, types.MouseEvent{
				EventType: types.EventType(ev.Type),
				Position:  &pos,
				Button:    ev.Button,
				Delta:     ev.Delta,
			})
		default:
			log.Printf("Wayland: dropping unknown helper event type %q", ev.Type)
		}
	}
	return events, result.Modifiers, nil
}

// Sync asks the helper to flush its pending work.
func (b *Backend) Sync() {
	if err := b.call("sync", nil, nil); err != nil {
		log.Printf("Wayland: sync failed: %v", err)
	}
}

// Native reports false: warps go through the helper and may be deferred.
func (b *Backend) Native() bool { return false }

// Close stops the helper process.
func (b *Backend) Close() error {
	if b.cmd == nil || b.cmd.Process == nil {
		return nil
	}
	_ = b.cmd.Process.Kill()
	_ = b.cmd.Wait()
	return nil
}

// helperPointer routes pointer queries through the helper itself.
type helperPointer struct {
	b *Backend
}

func (h helperPointer) PointerPosition() (types.Position, error) {
	var result struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	if err := h.b.call("pointer_get", nil, &result); err != nil {
		return types.Position{}, err
	}
	return types.Position{X: result.X, Y: result.Y}, nil
}
