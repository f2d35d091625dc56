package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tx2tx/internal/config"
	"tx2tx/internal/types"
)

func keyPress(keysym uint32) types.KeyEvent {
	return types.KeyEvent{EventType: types.EventKeyPress, Keysym: keysym}
}

func keyRelease(keysym uint32) types.KeyEvent {
	return types.KeyEvent{EventType: types.EventKeyRelease, Keysym: keysym}
}

func TestParsePanicKeyDefaultsOnUnknown(t *testing.T) {
	p := ParsePanicKey(config.PanicKeyConfig{Key: "NotAKey"})
	_, hasScrollLock := p.Keysyms[0xFF14]
	assert.True(t, hasScrollLock)
}

func TestPanicPressedMatchesKeysym(t *testing.T) {
	p := ParsePanicKey(config.PanicKeyConfig{Key: "Scroll_Lock"})
	events := []types.InputEvent{keyPress(0xFF14)}
	assert.True(t, p.PanicPressed(events, 0))
}

func TestPanicPressedIgnoresRelease(t *testing.T) {
	p := ParsePanicKey(config.PanicKeyConfig{Key: "Scroll_Lock"})
	events := []types.InputEvent{keyRelease(0xFF14)}
	assert.False(t, p.PanicPressed(events, 0))
}

func TestPanicPressedRequiresModifiers(t *testing.T) {
	p := ParsePanicKey(config.PanicKeyConfig{Key: "Escape", Modifiers: []string{"Ctrl", "Shift"}})
	events := []types.InputEvent{keyPress(0xFF1B)}

	assert.False(t, p.PanicPressed(events, 0), "bare key must not trigger")
	assert.False(t, p.PanicPressed(events, 0x4), "Ctrl alone must not trigger")
	assert.True(t, p.PanicPressed(events, 0x4|0x1), "Ctrl+Shift triggers")
}

func TestPanicPressedPrefersEventState(t *testing.T) {
	p := ParsePanicKey(config.PanicKeyConfig{Key: "Escape", Modifiers: []string{"Ctrl"}})
	ev := types.KeyEvent{EventType: types.EventKeyPress, Keysym: 0xFF1B, State: 0x4, HasState: true}
	// Stale global state says no Ctrl; the event state wins.
	assert.True(t, p.PanicPressed([]types.InputEvent{ev}, 0))
}

func jumpTestConfig() JumpConfig {
	return ParseJumpHotkey(config.JumpHotkeyConfig{
		Enabled:         true,
		PrefixKey:       "slash",
		PrefixModifiers: []string{"Ctrl"},
		TimeoutMs:       800,
		WestKey:         "1",
		EastKey:         "2",
		CenterKey:       "0",
	})
}

func TestJumpSequenceResolvesOnRelease(t *testing.T) {
	jump := jumpTestConfig()
	state := NewState()
	now := time.Unix(1000, 0)

	// Prefix press with Ctrl held.
	slash := types.KeyEvent{EventType: types.EventKeyPress, Keysym: 0x2F, State: 0x4, HasState: true}
	filtered, _, resolved := ProcessJumpEvents([]types.InputEvent{slash}, 0x4, jump, state, now)
	assert.Empty(t, filtered, "prefix is consumed")
	assert.False(t, resolved)

	// Action key press then release inside the window.
	events := []types.InputEvent{keyPress(0x31), keyRelease(0x31)}
	filtered, target, resolved := ProcessJumpEvents(events, 0, jump, state, now.Add(100*time.Millisecond))
	assert.Empty(t, filtered, "action keys are consumed")
	require.True(t, resolved)
	assert.Equal(t, types.ContextWest, target)
}

func TestJumpCenterAction(t *testing.T) {
	jump := jumpTestConfig()
	state := NewState()
	now := time.Unix(1000, 0)

	slash := types.KeyEvent{EventType: types.EventKeyPress, Keysym: 0x2F, State: 0x4, HasState: true}
	ProcessJumpEvents([]types.InputEvent{slash}, 0x4, jump, state, now)

	events := []types.InputEvent{keyPress(0x30), keyRelease(0x30)}
	_, target, resolved := ProcessJumpEvents(events, 0, jump, state, now.Add(50*time.Millisecond))
	require.True(t, resolved)
	assert.Equal(t, types.ContextCenter, target)
}

func TestJumpTimesOut(t *testing.T) {
	jump := jumpTestConfig()
	state := NewState()
	now := time.Unix(1000, 0)

	slash := types.KeyEvent{EventType: types.EventKeyPress, Keysym: 0x2F, State: 0x4, HasState: true}
	ProcessJumpEvents([]types.InputEvent{slash}, 0x4, jump, state, now)

	// Action key arrives after the window: it passes through unchanged.
	late := now.Add(2 * time.Second)
	filtered, _, resolved := ProcessJumpEvents([]types.InputEvent{keyPress(0x31)}, 0, jump, state, late)
	assert.False(t, resolved)
	require.Len(t, filtered, 1)
	key, ok := filtered[0].(types.KeyEvent)
	require.True(t, ok)
	assert.Equal(t, uint32(0x31), key.Keysym)
}

func TestJumpPrefixRequiresModifier(t *testing.T) {
	jump := jumpTestConfig()
	state := NewState()
	now := time.Unix(1000, 0)

	// Slash without Ctrl is ordinary typing.
	bare := types.KeyEvent{EventType: types.EventKeyPress, Keysym: 0x2F, State: 0, HasState: true}
	filtered, _, resolved := ProcessJumpEvents([]types.InputEvent{bare}, 0, jump, state, now)
	assert.False(t, resolved)
	assert.Len(t, filtered, 1)
}

func TestJumpSwallowsPrefixRelease(t *testing.T) {
	jump := jumpTestConfig()
	state := NewState()
	now := time.Unix(1000, 0)

	slash := types.KeyEvent{EventType: types.EventKeyPress, Keysym: 0x2F, State: 0x4, HasState: true}
	ProcessJumpEvents([]types.InputEvent{slash}, 0x4, jump, state, now)

	// The matching release is swallowed, not forwarded.
	filtered, _, _ := ProcessJumpEvents([]types.InputEvent{keyRelease(0x2F)}, 0, jump, state, now.Add(10*time.Millisecond))
	assert.Empty(t, filtered)

	// A later, unrelated release of the same keysym passes through.
	filtered, _, _ = ProcessJumpEvents([]types.InputEvent{keyRelease(0x2F)}, 0, jump, state, now.Add(20*time.Millisecond))
	assert.Len(t, filtered, 1)
}

func TestJumpDisabledPassesEverythingThrough(t *testing.T) {
	jump := ParseJumpHotkey(config.JumpHotkeyConfig{Enabled: false})
	state := NewState()
	events := []types.InputEvent{keyPress(0x2F), keyPress(0x31)}
	filtered, _, resolved := ProcessJumpEvents(events, 0, jump, state, time.Unix(1000, 0))
	assert.False(t, resolved)
	assert.Len(t, filtered, 2)
}

func TestParseJumpHotkeyDisablesOnBadPrefix(t *testing.T) {
	jump := ParseJumpHotkey(config.JumpHotkeyConfig{
		Enabled:   true,
		PrefixKey: "NotAKey",
		WestKey:   "1",
	})
	assert.False(t, jump.Enabled)
}

func TestMouseEventsPassThroughRecogniser(t *testing.T) {
	jump := jumpTestConfig()
	state := NewState()
	pos := types.Position{X: 10, Y: 10}
	events := []types.InputEvent{
		types.MouseEvent{EventType: types.EventMouseButtonPress, Position: &pos, Button: 1},
	}
	filtered, _, _ := ProcessJumpEvents(events, 0, jump, state, time.Unix(1000, 0))
	assert.Len(t, filtered, 1)
}
