package server

import (
	"time"

	"tx2tx/internal/display"
	"tx2tx/internal/protocol"
	"tx2tx/internal/tracker"
	"tx2tx/internal/types"
)

var testGeom = types.Screen{Width: 1920, Height: 1080}

// fakeBackend is the display test double. It records warps and grab state
// and can be scripted to refuse grabs or queue raw input events.
type fakeBackend struct {
	geom types.Screen
	pos  types.Position

	pointerGrabbed  bool
	keyboardGrabbed bool
	cursorHidden    bool

	failPointerGrab  bool
	failKeyboardGrab bool

	warps     []types.Position
	warpMoves bool // when true, a warp updates the reported position

	events    []types.InputEvent
	modifiers uint16
	native    bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{geom: testGeom, native: true, warpMoves: true}
}

func (f *fakeBackend) Geometry() (types.Screen, error) { return f.geom, nil }

func (f *fakeBackend) PointerQuery() (types.Position, error) { return f.pos, nil }

func (f *fakeBackend) PointerWarp(pos types.Position) error {
	f.warps = append(f.warps, pos)
	if f.warpMoves {
		f.pos = pos
	}
	return nil
}

func (f *fakeBackend) PointerGrab() error {
	if f.failPointerGrab {
		return display.ErrGrabFailed
	}
	f.pointerGrabbed = true
	return nil
}

func (f *fakeBackend) PointerUngrab() error {
	f.pointerGrabbed = false
	return nil
}

func (f *fakeBackend) KeyboardGrab() error {
	if f.failKeyboardGrab {
		return display.ErrGrabFailed
	}
	f.keyboardGrabbed = true
	return nil
}

func (f *fakeBackend) KeyboardUngrab() error {
	f.keyboardGrabbed = false
	return nil
}

func (f *fakeBackend) CursorHide() error {
	f.cursorHidden = true
	return nil
}

func (f *fakeBackend) CursorShow() error {
	f.cursorHidden = false
	return nil
}

func (f *fakeBackend) EventsDrain() ([]types.InputEvent, uint16, error) {
	events := f.events
	f.events = nil
	return events, f.modifiers, nil
}

func (f *fakeBackend) Sync() {}

func (f *fakeBackend) Native() bool { return f.native }

func (f *fakeBackend) Close() error { return nil }

// grabsHeld reports whether any scarce resource is still held.
func (f *fakeBackend) grabsHeld() bool {
	return f.pointerGrabbed || f.keyboardGrabbed || f.cursorHidden
}

// routed is one message captured by the fake transport.
type routed struct {
	name string
	msg  protocol.Message
}

// fakeTransport is the in-memory Transport double.
type fakeTransport struct {
	clients  map[string]bool
	sent     []routed
	failSend bool
}

func newFakeTransport(names ...string) *fakeTransport {
	clients := make(map[string]bool)
	for _, n := range names {
		clients[n] = true
	}
	return &fakeTransport{clients: clients}
}

func (t *fakeTransport) SendTo(name string, m protocol.Message) bool {
	if t.failSend || !t.clients[name] {
		return false
	}
	t.sent = append(t.sent, routed{name: name, msg: m})
	return true
}

func (t *fakeTransport) HasClient(name string) bool { return t.clients[name] }

// sentTo filters captured messages by destination.
func (t *fakeTransport) sentTo(name string) []protocol.Message {
	var out []protocol.Message
	for _, r := range t.sent {
		if r.name == name {
			out = append(out, r.msg)
		}
	}
	return out
}

// testClock is a controllable time source for hysteresis and guard tests.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Unix(1000, 0)}
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// harness bundles a fully wired controller over the fakes.
type harness struct {
	backend   *fakeBackend
	transport *fakeTransport
	tracker   *tracker.Tracker
	state     *State
	ctrl      *Controller
	clock     *testClock
}

func newHarness(clients ...string) *harness {
	backend := newFakeBackend()
	transport := newFakeTransport(clients...)
	trk := tracker.New(0, 50)
	state := NewState()
	routes := map[types.ScreenContext]string{
		types.ContextWest:  "c_west",
		types.ContextEast:  "c_east",
		types.ContextNorth: "c_north",
		types.ContextSouth: "c_south",
	}
	ctrl := NewController(backend, transport, trk, state, testGeom, routes)
	clock := newTestClock()
	ctrl.now = clock.now
	return &harness{
		backend:   backend,
		transport: transport,
		tracker:   trk,
		state:     state,
		ctrl:      ctrl,
		clock:     clock,
	}
}

// enterWest drives a high-velocity LEFT crossing through the controller.
func (h *harness) enterWest() bool {
	h.tracker.Push(types.Position{X: 960, Y: 540}, h.clock.t)
	h.clock.advance(20 * time.Millisecond)
	h.tracker.Push(types.Position{X: 100, Y: 540}, h.clock.t)
	h.clock.advance(20 * time.Millisecond)
	h.tracker.Push(types.Position{X: 0, Y: 540}, h.clock.t)
	return h.ctrl.EnterFromEdge(types.Transition{
		Direction: types.DirLeft,
		Position:  types.Position{X: 0, Y: 540},
	})
}
