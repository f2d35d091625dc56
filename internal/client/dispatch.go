// Package client implements the client role: it connects to the server,
// announces itself, and replays forwarded input events into the local
// session.
package client

import (
	"log"

	"tx2tx/internal/inject"
	"tx2tx/internal/protocol"
	"tx2tx/internal/types"
)

// Dispatcher routes server messages to the local injector. It tracks the
// hide state: after the hide signal nothing is injected until the next
// in-range coordinate arrives.
type Dispatcher struct {
	injector inject.Injector
	geom     types.Screen
	hidden   bool
}

// NewDispatcher wires a dispatcher over the local injector and screen
// geometry. The cursor starts hidden: the server addresses this client only
// after an entry transition.
func NewDispatcher(injector inject.Injector, geom types.Screen) *Dispatcher {
	return &Dispatcher{injector: injector, geom: geom, hidden: true}
}

// Hidden reports whether injection is currently suppressed.
func (d *Dispatcher) Hidden() bool { return d.hidden }

// Handle processes one server message.
func (d *Dispatcher) Handle(msg protocol.Message) {
	switch msg.MsgType {
	case protocol.TypeMouseEvent:
		payload, err := protocol.DecodeMouseEvent(msg)
		if err != nil {
			log.Printf("Client: bad mouse_event: %v", err)
			return
		}
		d.handleMouse(payload)

	case protocol.TypeKeyEvent:
		payload, err := protocol.DecodeKeyEvent(msg)
		if err != nil {
			log.Printf("Client: bad key_event: %v", err)
			return
		}
		d.handleKey(payload)

	case protocol.TypeHello:
		if hello, err := protocol.DecodeHello(msg); err == nil {
			log.Printf("Client: server hello: name=%s version=%s", hello.Name, hello.Version)
		}

	case protocol.TypeKeepalive:
		// Liveness only.

	case protocol.TypeError:
		if p, err := protocol.DecodeError(msg); err == nil {
			log.Printf("Client: server error: %s", p.Message)
		}

	default:
		log.Printf("Client: unexpected message type %s", msg.MsgType)
	}
}

func (d *Dispatcher) handleMouse(p protocol.MouseEventPayload) {
	point := types.NormalizedPoint{X: p.NormX, Y: p.NormY}

	if p.Event == "move" && point.Hide() {
		if !d.hidden {
			log.Printf("Client: hide signal received, suspending injection")
		}
		d.hidden = true
		return
	}

	switch p.Event {
	case "move":
		// An in-range coordinate always reactivates injection.
		d.hidden = false
		pos := d.geom.Denormalize(point)
		if err := d.injector.MouseMove(pos); err != nil {
			log.Printf("Client: mouse move injection failed: %v", err)
		}

	case "press", "release":
		if d.hidden {
			return
		}
		if err := d.injector.Button(p.Button, p.Event == "press"); err != nil {
			log.Printf("Client: button injection failed: %v", err)
		}

	case "scroll":
		if d.hidden {
			return
		}
		if err := d.injector.Scroll(p.Button, p.Delta); err != nil {
			log.Printf("Client: scroll injection failed: %v", err)
		}

	default:
		log.Printf("Client: unknown mouse event %q", p.Event)
	}
}

func (d *Dispatcher) handleKey(p protocol.KeyEventPayload) {
	if d.hidden {
		return
	}
	switch p.Event {
	case "press", "release":
		if err := d.injector.Key(p.Keycode, p.Event == "press"); err != nil {
			log.Printf("Client: key injection failed: %v", err)
		}
	default:
		log.Printf("Client: unknown key event %q", p.Event)
	}
}
