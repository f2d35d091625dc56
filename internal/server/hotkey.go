package server

import (
	"log"
	"time"

	"tx2tx/internal/config"
	"tx2tx/internal/types"
)

// defaultPanicKeysyms are used when the configured panic key cannot be
// resolved: Scroll_Lock and Pause.
var defaultPanicKeysyms = map[uint32]struct{}{0xFF14: {}, 0xFF13: {}}

// PanicConfig is the runtime-resolved panic key: the keysyms that trigger it
// and the modifier mask that must be held.
type PanicConfig struct {
	Keysyms   map[uint32]struct{}
	Modifiers uint16
}

// ParsePanicKey resolves the configured panic key into keysyms and a
// modifier mask, falling back to the defaults on unknown tokens.
func ParsePanicKey(cfg config.PanicKeyConfig) PanicConfig {
	keysym, ok := keysymForName(cfg.Key)
	if !ok {
		log.Printf("Hotkey: unknown panic key %q, using defaults", cfg.Key)
		return PanicConfig{Keysyms: defaultPanicKeysyms}
	}

	var mask uint16
	for _, mod := range cfg.Modifiers {
		bits, ok := modifierMasks[mod]
		if !ok {
			log.Printf("Hotkey: unknown panic modifier %q ignored", mod)
			continue
		}
		mask |= bits
	}

	log.Printf("Hotkey: panic key configured (keysym=0x%x, mask=0x%x)", keysym, mask)
	return PanicConfig{
		Keysyms:   map[uint32]struct{}{keysym: {}},
		Modifiers: mask,
	}
}

// PanicPressed reports whether any key press in events matches the panic
// key with its required modifiers. Event-local modifier state is preferred;
// currentModifiers is the fallback.
func (p PanicConfig) PanicPressed(events []types.InputEvent, currentModifiers uint16) bool {
	for _, ev := range events {
		key, ok := ev.(types.KeyEvent)
		if !ok || key.EventType != types.EventKeyPress {
			continue
		}

		state := currentModifiers
		if key.HasState {
			state = key.State
		}
		if p.Modifiers != 0 && state&p.Modifiers != p.Modifiers {
			continue
		}
		if _, hit := p.Keysyms[key.Keysym]; hit {
			return true
		}
	}
	return false
}

// JumpConfig is the runtime-resolved jump hotkey: a prefix token followed
// within a timeout by an action key selecting a context.
type JumpConfig struct {
	Enabled          bool
	PrefixKeysym     uint32
	PrefixAltKeysyms map[uint32]struct{}
	PrefixKeycodes   map[uint32]struct{}
	PrefixModifiers  uint16
	Timeout          time.Duration
	ActionsByKeysym  map[uint32]types.ScreenContext
	ActionsByKeycode map[uint32]types.ScreenContext
}

// ParseJumpHotkey resolves the jump hotkey config. An unresolvable prefix or
// an empty action set disables the feature.
func ParseJumpHotkey(cfg config.JumpHotkeyConfig) JumpConfig {
	disabled := JumpConfig{Enabled: false}
	if !cfg.Enabled {
		return disabled
	}

	prefix, ok := keysymForName(cfg.PrefixKey)
	if !ok {
		log.Printf("Hotkey: unknown jump prefix %q, disabling jump hotkey", cfg.PrefixKey)
		return disabled
	}

	var mask uint16
	for _, mod := range cfg.PrefixModifiers {
		bits, ok := modifierMasks[mod]
		if !ok {
			log.Printf("Hotkey: unknown jump modifier %q ignored", mod)
			continue
		}
		mask |= bits
	}

	actionsBySym := make(map[uint32]types.ScreenContext)
	actionsByCode := make(map[uint32]types.ScreenContext)
	actions := []struct {
		key string
		ctx types.ScreenContext
	}{
		{cfg.WestKey, types.ContextWest},
		{cfg.EastKey, types.ContextEast},
		{cfg.NorthKey, types.ContextNorth},
		{cfg.SouthKey, types.ContextSouth},
		{cfg.CenterKey, types.ContextCenter},
	}
	for _, action := range actions {
		if action.key == "" {
			continue
		}
		sym, ok := keysymForName(action.key)
		if !ok {
			log.Printf("Hotkey: unknown jump action key %q ignored", action.key)
			continue
		}
		actionsBySym[sym] = action.ctx
		for code := range keycodeFallbacksForName(action.key) {
			actionsByCode[code] = action.ctx
		}
	}
	if len(actionsBySym) == 0 {
		log.Printf("Hotkey: jump hotkey enabled but no valid action keys, disabling")
		return disabled
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout < 100*time.Millisecond {
		timeout = 100 * time.Millisecond
	}

	log.Printf("Hotkey: jump enabled (prefix=%s timeout=%s)", cfg.PrefixKey, timeout)
	return JumpConfig{
		Enabled:          true,
		PrefixKeysym:     prefix,
		PrefixAltKeysyms: prefixAltKeysymsForName(cfg.PrefixKey),
		PrefixKeycodes:   keycodeFallbacksForName(cfg.PrefixKey),
		PrefixModifiers:  mask,
		Timeout:          timeout,
		ActionsByKeysym:  actionsBySym,
		ActionsByKeycode: actionsByCode,
	}
}

// matchesPrefix reports whether a key event matches the prefix token by
// keysym, alternate keysym, or fallback keycode.
func (j JumpConfig) matchesPrefix(key types.KeyEvent, modifiers uint16) bool {
	matched := key.Keysym == j.PrefixKeysym
	if !matched {
		_, matched = j.PrefixAltKeysyms[key.Keysym]
	}
	if !matched {
		_, matched = j.PrefixKeycodes[key.Keycode]
	}
	if !matched {
		return false
	}
	if j.PrefixModifiers == 0 {
		return true
	}
	state := modifiers
	if key.HasState {
		state = key.State
	}
	return state&j.PrefixModifiers == j.PrefixModifiers
}

// actionContext resolves the context an action key selects, or "".
func (j JumpConfig) actionContext(key types.KeyEvent) (types.ScreenContext, bool) {
	if ctx, ok := j.ActionsByKeysym[key.Keysym]; ok && key.Keysym != 0 {
		return ctx, true
	}
	if ctx, ok := j.ActionsByKeycode[key.Keycode]; ok {
		return ctx, true
	}
	return "", false
}

// ProcessJumpEvents runs the jump recogniser over one event batch. It
// returns the events that should pass through to the forwarder and, when an
// armed sequence completes, the selected target context. Consumed events
// never reach the forwarder; after the arm window expires, unconsumed keys
// flow through unchanged.
func ProcessJumpEvents(events []types.InputEvent, modifiers uint16, jump JumpConfig, state *State, now time.Time) ([]types.InputEvent, types.ScreenContext, bool) {
	if !jump.Enabled {
		return events, "", false
	}

	if now.After(state.JumpArmedUntil) {
		state.JumpPending = ""
	}

	var filtered []types.InputEvent
	var target types.ScreenContext
	targetSet := false

	for _, ev := range events {
		key, ok := ev.(types.KeyEvent)
		if !ok {
			filtered = append(filtered, ev)
			continue
		}

		switch key.EventType {
		case types.EventKeyRelease:
			consumed, ctx, resolved := processJumpRelease(key, jump, state, now)
			if resolved {
				target = ctx
				targetSet = true
			}
			if !consumed {
				filtered = append(filtered, key)
			}

		case types.EventKeyPress:
			if !processJumpPress(key, modifiers, jump, state, now) {
				filtered = append(filtered, key)
			}

		default:
			filtered = append(filtered, key)
		}
	}

	return filtered, target, targetSet
}

func processJumpPress(key types.KeyEvent, modifiers uint16, jump JumpConfig, state *State, now time.Time) bool {
	if jump.matchesPrefix(key, modifiers) {
		state.JumpArmedUntil = now.Add(jump.Timeout)
		state.JumpPending = ""
		swallowKeysym(key.Keysym, state)
		log.Printf("Hotkey: jump prefix captured")
		return true
	}

	if now.After(state.JumpArmedUntil) {
		return false
	}

	if ctx, ok := jump.actionContext(key); ok {
		state.JumpPending = ctx
	}
	swallowKeysym(key.Keysym, state)
	return true
}

func processJumpRelease(key types.KeyEvent, jump JumpConfig, state *State, now time.Time) (consumed bool, target types.ScreenContext, resolved bool) {
	ctx, ok := jump.actionContext(key)
	if ok && !now.After(state.JumpArmedUntil) && state.JumpPending != "" && ctx == state.JumpPending {
		state.JumpArmedUntil = time.Time{}
		state.JumpPending = ""
		log.Printf("Hotkey: jump action captured: %s", ctx)
		return true, ctx, true
	}

	if key.Keysym != 0 {
		if _, swallowed := state.JumpSwallow[key.Keysym]; swallowed {
			delete(state.JumpSwallow, key.Keysym)
			return true, "", false
		}
	}
	return false, "", false
}

func swallowKeysym(keysym uint32, state *State) {
	if keysym == 0 {
		return
	}
	state.JumpSwallow[keysym] = struct{}{}
}
