package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tx2tx/internal/config"
	"tx2tx/internal/protocol"
	"tx2tx/internal/types"
)

// newRuntimeHarness builds a Runtime over the controller harness fakes.
func newRuntimeHarness(t *testing.T, clients ...string) (*Runtime, *harness) {
	t.Helper()
	h := newHarness(clients...)

	cfg := config.Default()
	cfg.Clients = []config.ClientEntry{
		{Name: "c_west", Position: "west"},
		{Name: "c_east", Position: "east"},
	}
	require.NoError(t, cfg.Validate())
	mgr := config.NewManager(cfg, "")

	network := NewNetwork("127.0.0.1", 0, cfg.Server.MaxClients, cfg.Server.Name)
	r := NewRuntime(mgr, h.backend, network, h.tracker, h.state, h.ctrl, testGeom, false)
	r.transport = h.transport
	r.now = h.clock.now
	return r, h
}

// TestForwardSuppressionOnUnchangedPosition: a tick whose polled position
// equals the last sent one forwards nothing.
func TestForwardSuppressionOnUnchangedPosition(t *testing.T) {
	r, h := newRuntimeHarness(t, "c_west")
	require.True(t, h.enterWest())
	h.transport.sent = nil

	pos := types.Position{X: 800, Y: 500}
	r.remoteTick(pos, 10)
	require.Len(t, h.transport.sentTo("c_west"), 1, "first tick forwards the move")

	r.remoteTick(pos, 10)
	assert.Len(t, h.transport.sentTo("c_west"), 1, "unchanged position is suppressed")

	r.remoteTick(types.Position{X: 801, Y: 500}, 10)
	assert.Len(t, h.transport.sentTo("c_west"), 2, "one-pixel change goes through")
}

// TestRemoteStreamEndsWithHideOnReturn follows the S1 tail: move messages,
// then a return crossing produces the hide signal and nothing further.
func TestRemoteStreamEndsWithHideOnReturn(t *testing.T) {
	r, h := newRuntimeHarness(t, "c_west")
	require.True(t, h.enterWest())
	h.transport.sent = nil
	h.clock.advance(RemoteReturnGuard + time.Millisecond)

	r.remoteTick(types.Position{X: 1000, Y: 540}, 500)
	r.remoteTick(types.Position{X: 1919, Y: 540}, 500)

	msgs := h.transport.sentTo("c_west")
	require.NotEmpty(t, msgs)
	last := decodeMouse(t, msgs[len(msgs)-1])
	assert.Equal(t, -1.0, last.NormX)
	assert.Equal(t, -1.0, last.NormY)
	assert.Equal(t, types.ContextCenter, h.state.Context)

	// Nothing further goes out after the return.
	before := len(h.transport.sent)
	r.remoteTick(types.Position{X: 1919, Y: 540}, 500)
	assert.Equal(t, before, len(h.transport.sent))
}

// TestActiveClientDisconnectForcesReturn: when the active client vanishes,
// the controller reverts without requiring the hide signal to succeed.
func TestActiveClientDisconnectForcesReturn(t *testing.T) {
	r, h := newRuntimeHarness(t, "c_east")
	h.ctrl.ApplyJump(types.ContextEast, types.Position{X: 960, Y: 540})
	require.Equal(t, types.ContextEast, h.state.Context)

	delete(h.transport.clients, "c_east")
	r.remoteTick(types.Position{X: 500, Y: 500}, 10)

	assert.Equal(t, types.ContextCenter, h.state.Context)
	assert.False(t, h.backend.grabsHeld())
}

func TestSendFailureForcesReturn(t *testing.T) {
	r, h := newRuntimeHarness(t, "c_west")
	require.True(t, h.enterWest())

	h.transport.failSend = true
	r.remoteTick(types.Position{X: 700, Y: 700}, 10)

	assert.Equal(t, types.ContextCenter, h.state.Context)
	assert.False(t, h.backend.grabsHeld())
}

func TestButtonAndKeyForwarding(t *testing.T) {
	r, h := newRuntimeHarness(t, "c_west")
	require.True(t, h.enterWest())
	h.transport.sent = nil

	clickPos := types.Position{X: 960, Y: 540}
	h.backend.events = []types.InputEvent{
		types.MouseEvent{EventType: types.EventMouseButtonPress, Position: &clickPos, Button: 1},
		types.MouseEvent{EventType: types.EventMouseButtonRelease, Position: &clickPos, Button: 1},
		types.KeyEvent{EventType: types.EventKeyPress, Keycode: 38, Keysym: 0x61},
		types.KeyEvent{EventType: types.EventKeyRelease, Keycode: 38, Keysym: 0x61},
	}

	r.remoteTick(types.Position{X: 960, Y: 540}, 10)
	msgs := h.transport.sentTo("c_west")
	// One move plus the four forwarded events.
	require.Len(t, msgs, 5)

	press := decodeMouse(t, msgs[1])
	assert.Equal(t, "press", press.Event)
	assert.Equal(t, 1, press.Button)
	assert.InDelta(t, 0.5, press.NormX, 0.001)

	key, err := protocol.DecodeKeyEvent(msgs[3])
	require.NoError(t, err)
	assert.Equal(t, "press", key.Event)
	assert.Equal(t, uint32(38), key.Keycode)
	assert.Equal(t, uint32(0x61), key.Keysym)
}

func TestScrollForwarding(t *testing.T) {
	r, h := newRuntimeHarness(t, "c_west")
	require.True(t, h.enterWest())
	h.transport.sent = nil

	wheelPos := types.Position{X: 100, Y: 100}
	h.backend.events = []types.InputEvent{
		types.MouseEvent{EventType: types.EventMouseScroll, Position: &wheelPos, Button: 4, Delta: -1},
	}
	r.remoteTick(types.Position{X: 100, Y: 100}, 10)

	msgs := h.transport.sentTo("c_west")
	require.Len(t, msgs, 2)
	scroll := decodeMouse(t, msgs[1])
	assert.Equal(t, "scroll", scroll.Event)
	assert.Equal(t, -1, scroll.Delta)
	assert.Equal(t, 4, scroll.Button)
}

// TestPanicKeyInRemoteForcesReturn injects the default panic key into the
// grabbed event stream.
func TestPanicKeyInRemoteForcesReturn(t *testing.T) {
	r, h := newRuntimeHarness(t, "c_west")
	require.True(t, h.enterWest())
	h.transport.sent = nil

	h.backend.events = []types.InputEvent{
		types.KeyEvent{EventType: types.EventKeyPress, Keycode: 78, Keysym: 0xFF14}, // Scroll_Lock
	}
	r.remoteTick(types.Position{X: 960, Y: 540}, 10)

	assert.Equal(t, types.ContextCenter, h.state.Context)
	assert.False(t, h.backend.grabsHeld())

	// The panic key itself is never forwarded.
	for _, m := range h.transport.sentTo("c_west") {
		if m.MsgType == protocol.TypeKeyEvent {
			t.Fatalf("panic key must not be forwarded")
		}
	}
}

// TestNoForwardingWhileDeferredWarpPending: coordinates are held back until
// the warp confirms.
func TestNoForwardingWhileDeferredWarpPending(t *testing.T) {
	r, h := newRuntimeHarness(t, "c_west")
	h.backend.native = false
	require.True(t, h.enterWest())
	h.transport.sent = nil

	// Compositor ignores warps; the flag stays set.
	h.backend.warpMoves = false
	h.backend.pos = types.Position{X: 300, Y: 300}

	r.remoteTick(types.Position{X: 300, Y: 300}, 10)
	assert.Empty(t, h.transport.sent, "no coordinates while the warp is unconfirmed")
	assert.True(t, h.state.BoundaryCrossed)
}

func TestLastSentClearedAfterReturn(t *testing.T) {
	r, h := newRuntimeHarness(t, "c_west")
	require.True(t, h.enterWest())
	h.clock.advance(RemoteReturnGuard + time.Millisecond)

	r.remoteTick(types.Position{X: 1000, Y: 540}, 100)
	require.NotNil(t, h.state.LastSent)

	r.remoteTick(types.Position{X: 1919, Y: 540}, 100)
	assert.Equal(t, types.ContextCenter, h.state.Context)
	assert.Nil(t, h.state.LastSent)
}
