// Package server implements the server-authoritative transition engine: the
// polling loop, the global context state machine, edge/velocity transition
// detection, grab/warp/cursor coordination, and forwarding of captured input
// to the single active client.
package server

import (
	"time"

	"tx2tx/internal/types"
)

// State is the process-wide server state. It is created at startup, mutated
// only from the polling-loop goroutine by the transition controller and the
// forwarder, and needs no locking.
type State struct {
	// Context is the current global context; CENTER means the server owns
	// its own desktop.
	Context types.ScreenContext

	// LastCenterSwitch is when the context last changed, by entry or by
	// return to CENTER; the hysteresis window keys off it.
	LastCenterSwitch time.Time

	// LastRemoteSwitch is when the context last entered a REMOTE context;
	// the return guard keys off it.
	LastRemoteSwitch time.Time

	// BoundaryCrossed and TargetWarp implement the deferred-warp protocol
	// for backends whose warps may be silently dropped.
	BoundaryCrossed bool
	TargetWarp      *types.Position
	WarpAttempts    int

	// LastSent is the last pixel position forwarded to the active client;
	// nil forces the next position through.
	LastSent *types.Position

	// ActiveClient is the name receiving forwarded events while the
	// context is REMOTE.
	ActiveClient string

	// Jump-hotkey sequence state.
	JumpArmedUntil time.Time
	JumpPending    types.ScreenContext
	JumpSwallow    map[uint32]struct{}
}

// NewState returns the initial CENTER state.
func NewState() *State {
	return &State{
		Context:     types.ContextCenter,
		JumpSwallow: make(map[uint32]struct{}),
	}
}

// Reset restores the initial state.
func (s *State) Reset() {
	s.Context = types.ContextCenter
	s.LastCenterSwitch = time.Time{}
	s.LastRemoteSwitch = time.Time{}
	s.ClearDeferredWarp()
	s.LastSent = nil
	s.ActiveClient = ""
	s.JumpArmedUntil = time.Time{}
	s.JumpPending = ""
	s.JumpSwallow = make(map[uint32]struct{})
}

// PositionChanged reports whether pos differs from the last forwarded
// position by at least one pixel. A nil LastSent always reports true.
func (s *State) PositionChanged(pos types.Position) bool {
	if s.LastSent == nil {
		return true
	}
	return s.LastSent.X != pos.X || s.LastSent.Y != pos.Y
}

// MarkSent records pos as the last forwarded position.
func (s *State) MarkSent(pos types.Position) {
	p := pos
	s.LastSent = &p
}

// SetDeferredWarp arms the deferred-warp protocol toward target.
func (s *State) SetDeferredWarp(target types.Position) {
	t := target
	s.BoundaryCrossed = true
	s.TargetWarp = &t
	s.WarpAttempts = 0
}

// ClearDeferredWarp disarms the deferred-warp protocol.
func (s *State) ClearDeferredWarp() {
	s.BoundaryCrossed = false
	s.TargetWarp = nil
	s.WarpAttempts = 0
}
