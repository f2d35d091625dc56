package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tx2tx/internal/protocol"
	"tx2tx/internal/types"
)

// fakeInjector records injected events.
type fakeInjector struct {
	moves   []types.Position
	buttons []struct {
		button  int
		pressed bool
	}
	scrolls []int
	keys    []struct {
		keycode uint32
		pressed bool
	}
}

func (f *fakeInjector) MouseMove(pos types.Position) error {
	f.moves = append(f.moves, pos)
	return nil
}

func (f *fakeInjector) Button(button int, pressed bool) error {
	f.buttons = append(f.buttons, struct {
		button  int
		pressed bool
	}{button, pressed})
	return nil
}

func (f *fakeInjector) Scroll(button, delta int) error {
	f.scrolls = append(f.scrolls, delta)
	return nil
}

func (f *fakeInjector) Key(keycode uint32, pressed bool) error {
	f.keys = append(f.keys, struct {
		keycode uint32
		pressed bool
	}{keycode, pressed})
	return nil
}

func (f *fakeInjector) Close() error { return nil }

var clientGeom = types.Screen{Width: 2560, Height: 1440}

func newTestDispatcher() (*Dispatcher, *fakeInjector) {
	inj := &fakeInjector{}
	return NewDispatcher(inj, clientGeom), inj
}

func TestStartsHidden(t *testing.T) {
	d, inj := newTestDispatcher()
	require.True(t, d.Hidden())

	// Buttons and keys are dropped before the first coordinate.
	d.Handle(protocol.NewMouseButton("press", types.NormalizedPoint{X: 0.5, Y: 0.5}, 1))
	d.Handle(protocol.NewKeyEvent("press", 38, 0x61))
	assert.Empty(t, inj.buttons)
	assert.Empty(t, inj.keys)
}

func TestMoveDenormalizesAndUnhides(t *testing.T) {
	d, inj := newTestDispatcher()

	d.Handle(protocol.NewMouseMove(types.NormalizedPoint{X: 0.5, Y: 0.25}))
	require.False(t, d.Hidden())
	require.Len(t, inj.moves, 1)
	assert.Equal(t, types.Position{X: 1280, Y: 360}, inj.moves[0])
}

func TestHideSignalSuspendsInjection(t *testing.T) {
	d, inj := newTestDispatcher()
	d.Handle(protocol.NewMouseMove(types.NormalizedPoint{X: 0.5, Y: 0.5}))
	require.False(t, d.Hidden())

	d.Handle(protocol.NewHideSignal())
	assert.True(t, d.Hidden())
	assert.Len(t, inj.moves, 1, "the hide signal itself is not injected")

	// Everything stays suppressed until the next coordinate.
	d.Handle(protocol.NewMouseButton("press", types.NormalizedPoint{X: 0.5, Y: 0.5}, 1))
	d.Handle(protocol.NewKeyEvent("press", 38, 0x61))
	assert.Empty(t, inj.buttons)
	assert.Empty(t, inj.keys)

	// The next in-range move resumes.
	d.Handle(protocol.NewMouseMove(types.NormalizedPoint{X: 0.1, Y: 0.1}))
	assert.False(t, d.Hidden())
	assert.Len(t, inj.moves, 2)
}

func TestButtonAndKeyInjection(t *testing.T) {
	d, inj := newTestDispatcher()
	d.Handle(protocol.NewMouseMove(types.NormalizedPoint{X: 0.5, Y: 0.5}))

	d.Handle(protocol.NewMouseButton("press", types.NormalizedPoint{X: 0.5, Y: 0.5}, 3))
	d.Handle(protocol.NewMouseButton("release", types.NormalizedPoint{X: 0.5, Y: 0.5}, 3))
	require.Len(t, inj.buttons, 2)
	assert.Equal(t, 3, inj.buttons[0].button)
	assert.True(t, inj.buttons[0].pressed)
	assert.False(t, inj.buttons[1].pressed)

	d.Handle(protocol.NewKeyEvent("press", 38, 0x61))
	d.Handle(protocol.NewKeyEvent("release", 38, 0x61))
	require.Len(t, inj.keys, 2)
	assert.Equal(t, uint32(38), inj.keys[0].keycode)
	assert.True(t, inj.keys[0].pressed)
	assert.False(t, inj.keys[1].pressed)
}

func TestScrollInjection(t *testing.T) {
	d, inj := newTestDispatcher()
	d.Handle(protocol.NewMouseMove(types.NormalizedPoint{X: 0.5, Y: 0.5}))

	d.Handle(protocol.NewMouseScroll(types.NormalizedPoint{X: 0.5, Y: 0.5}, 5, 1))
	require.Len(t, inj.scrolls, 1)
	assert.Equal(t, 1, inj.scrolls[0])
}

func TestEntryCoordinateLandsAtOppositeEdge(t *testing.T) {
	d, inj := newTestDispatcher()

	// The server's LEFT-entry coordinate puts the cursor at this client's
	// right edge regardless of resolution differences.
	d.Handle(protocol.NewMouseMove(types.NormalizedPoint{X: 1.0 - 3.0/1920.0, Y: 0.5}))
	require.Len(t, inj.moves, 1)
	assert.Greater(t, inj.moves[0].X, clientGeom.Width-5)
}
