package server

import (
	"log"
	"strings"

	"tx2tx/internal/protocol"
)

// HandleClientMessage processes one inbound control-plane message. Input
// never flows client-to-server, so everything here is handshake metadata,
// keepalives, and diagnostics.
func (r *Runtime) HandleClientMessage(client *Client, msg protocol.Message) {
	switch msg.MsgType {
	case protocol.TypeHello:
		r.handleHello(client, msg)

	case protocol.TypeScreenInfo:
		info, err := protocol.DecodeScreenInfo(msg)
		if err != nil {
			log.Printf("Server: bad screen_info from %s: %v", client.Addr(), err)
			return
		}
		client.setScreen(info.Width, info.Height)
		log.Printf("Server: %s reports screen %dx%d", client.Addr(), info.Width, info.Height)

	case protocol.TypeKeepalive:
		debugf("Server: keepalive from %s", client.Addr())

	case protocol.TypeError:
		if p, err := protocol.DecodeError(msg); err == nil {
			log.Printf("Server: error from %s: %s", client.Addr(), p.Message)
		}

	default:
		log.Printf("Server: unexpected %s from %s", msg.MsgType, client.Addr())
	}
}

func (r *Runtime) handleHello(client *Client, msg protocol.Message) {
	hello, err := protocol.DecodeHello(msg)
	if err != nil {
		log.Printf("Server: bad hello from %s: %v", client.Addr(), err)
		return
	}

	if hello.Screen != nil {
		client.setScreen(hello.Screen.Width, hello.Screen.Height)
	}

	if hello.Name != "" {
		name := strings.ToLower(strings.TrimSpace(hello.Name))
		client.setName(name)
		r.evictDuplicates(client, name)

		if _, ok := r.cfg().PositionFor(name); !ok {
			log.Printf("Server: client %q has no configured position; it will never receive input", name)
		}
	}

	width, height := client.Screen()
	log.Printf("Server: handshake from %s: name=%s version=%s screen=%dx%d",
		client.Addr(), client.Name(), hello.Version, width, height)
}

// evictDuplicates closes older connections claiming the same logical name,
// so a reconnecting client displaces its own zombie. If the evicted
// connection was the active forwarding target, the controller returns to
// CENTER immediately.
func (r *Runtime) evictDuplicates(client *Client, name string) {
	for _, existing := range r.network.Clients() {
		if existing == client || existing.Name() != name {
			continue
		}
		log.Printf("Server: duplicate client name %q, evicting stale connection %s", name, existing.Addr())
		r.network.Disconnect(existing)

		// The evicted socket may have been the active forwarding target;
		// the fresh connection has no grab-side state, so fall back to
		// CENTER rather than forward into an unknown cursor state.
		if r.state.Context.Remote() && r.state.ActiveClient == name {
			if pos, err := r.backend.PointerQuery(); err == nil {
				r.ctrl.ReturnToCenter(pos)
			} else {
				r.ctrl.MakeSafe()
			}
		}
	}
}
