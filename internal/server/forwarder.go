package server

import (
	"log"

	"tx2tx/internal/protocol"
	"tx2tx/internal/types"
)

// remoteTick executes one polling step while the context is REMOTE: enforce
// the deferred warp, evaluate the return condition, forward the pointer
// position on change, then drain and route captured input.
func (r *Runtime) remoteTick(pos types.Position, velocity float64) {
	name := r.activeClientName()
	if name == "" || !r.transport.HasClient(name) {
		// Keep the event queue from backing up while we bail out.
		_, _, _ = r.backend.EventsDrain()
		log.Printf("Server: context %s has no connected client, reverting", r.state.Context)
		r.ctrl.ReturnToCenter(pos)
		return
	}

	if r.ctrl.DeferredWarpTick() {
		// No coordinates go out while the warp is unconfirmed, but panic
		// and jump keys must still work.
		r.handleRemoteInput(name, pos, false)
		return
	}

	if r.ctrl.ReturnTriggered(pos, velocity) {
		r.ctrl.ReturnToCenter(pos)
		return
	}

	if r.state.PositionChanged(pos) {
		norm := r.geom.Normalize(pos)
		if !r.transport.SendTo(name, protocol.NewMouseMove(norm)) {
			log.Printf("Server: movement send to %q failed, reverting", name)
			r.ctrl.ReturnToCenter(pos)
			return
		}
		r.state.MarkSent(pos)
		debugf("Server: sent (%d, %d) to %s", pos.X, pos.Y, name)
	}

	r.handleRemoteInput(name, pos, true)
}

// activeClientName resolves the forwarding target from the routing map,
// correcting stale state left by config reloads.
func (r *Runtime) activeClientName() string {
	if name, ok := r.ctrl.routes[r.state.Context]; ok && name != "" {
		if r.state.ActiveClient != name {
			if r.state.ActiveClient != "" {
				log.Printf("Server: correcting stale target %q -> %q for context %s",
					r.state.ActiveClient, name, r.state.Context)
			}
			r.state.ActiveClient = name
		}
		return name
	}
	return r.state.ActiveClient
}

// handleRemoteInput drains captured events, runs the jump and panic
// recognisers, and forwards whatever passes through. With forward false the
// surviving events are dropped instead of sent.
func (r *Runtime) handleRemoteInput(name string, pos types.Position, forward bool) {
	events, modifiers, err := r.backend.EventsDrain()
	if err != nil {
		debugf("Server: event drain error: %v", err)
	}

	filtered, target, jumped := ProcessJumpEvents(events, modifiers, r.jumpCfg, r.state, r.now())
	if jumped {
		r.ctrl.ApplyJump(target, pos)
		return
	}

	if r.panicCfg.PanicPressed(filtered, modifiers) {
		log.Printf("Server: PANIC key pressed, forcing return to CENTER")
		r.ctrl.ReturnToCenter(pos)
		return
	}

	if !forward {
		return
	}

	for _, ev := range filtered {
		msg, ok := r.eventMessage(ev, pos)
		if !ok {
			continue
		}
		if !r.transport.SendTo(name, msg) {
			log.Printf("Server: forwarding %s to %q failed, reverting", ev.Type(), name)
			r.ctrl.ReturnToCenter(pos)
			return
		}
	}
}

// eventMessage converts a captured event into its wire form, normalizing
// any position payload against the server geometry.
func (r *Runtime) eventMessage(ev types.InputEvent, current types.Position) (protocol.Message, bool) {
	switch e := ev.(type) {
	case types.MouseEvent:
		pos := current
		if e.Position != nil {
			pos = *e.Position
		}
		norm := r.geom.Normalize(pos)

		switch e.EventType {
		case types.EventMouseButtonPress:
			debugf("Server: button %d press", e.Button)
			return protocol.NewMouseButton("press", norm, e.Button), true
		case types.EventMouseButtonRelease:
			debugf("Server: button %d release", e.Button)
			return protocol.NewMouseButton("release", norm, e.Button), true
		case types.EventMouseScroll:
			return protocol.NewMouseScroll(norm, e.Button, e.Delta), true
		default:
			return protocol.Message{}, false
		}

	case types.KeyEvent:
		event := "press"
		if e.EventType == types.EventKeyRelease {
			event = "release"
		} else if e.EventType != types.EventKeyPress {
			return protocol.Message{}, false
		}
		debugf("Server: key %s keycode=%d", event, e.Keycode)
		return protocol.NewKeyEvent(event, e.Keycode, e.Keysym), true
	}
	return protocol.Message{}, false
}
