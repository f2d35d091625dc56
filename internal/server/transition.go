package server

import (
	"errors"
	"log"
	"time"

	"tx2tx/internal/display"
	"tx2tx/internal/protocol"
	"tx2tx/internal/tracker"
	"tx2tx/internal/types"
)

const (
	// HysteresisDelay suppresses a new entry right after a CENTER return,
	// preventing edge bounce.
	HysteresisDelay = 200 * time.Millisecond

	// EdgeEntryOffset places the warped pointer just inside the opposite
	// edge so the warp does not immediately re-trigger the detector.
	EdgeEntryOffset = 2

	// RemoteReturnGuard blocks the return transition right after entering
	// a REMOTE context; pointer coordinates can jump during the handover.
	RemoteReturnGuard = 600 * time.Millisecond

	// deferredWarpTolerance is how close the observed pointer must be to
	// the warp target before the deferred-warp flag clears.
	deferredWarpTolerance = 10

	// maxWarpAttempts bounds deferred-warp retries (~0.2 s at the 8 ms
	// remote tick) before proceeding without the warp.
	maxWarpAttempts = 25
)

// directionToContext maps an outgoing edge to the context it enters.
var directionToContext = map[types.Direction]types.ScreenContext{
	types.DirLeft:   types.ContextWest,
	types.DirRight:  types.ContextEast,
	types.DirTop:    types.ContextNorth,
	types.DirBottom: types.ContextSouth,
}

// Controller executes CENTER-to-REMOTE entry and REMOTE-to-CENTER return,
// coordinating the display backend, the server state, and the network. Every
// failure path funnels through makeSafe so the host desktop is never left
// grabbed.
type Controller struct {
	backend   display.Backend
	transport Transport
	tracker   *tracker.Tracker
	state     *State
	geom      types.Screen
	routes    map[types.ScreenContext]string

	// now is split out so the transition tests can drive time.
	now func() time.Time

	// onContextChange, when set, observes every context switch (status
	// API, tray).
	onContextChange func(types.ScreenContext)
}

// NewController wires the transition controller.
func NewController(backend display.Backend, transport Transport, trk *tracker.Tracker, state *State, geom types.Screen, routes map[types.ScreenContext]string) *Controller {
	return &Controller{
		backend:   backend,
		transport: transport,
		tracker:   trk,
		state:     state,
		geom:      geom,
		routes:    routes,
		now:       time.Now,
	}
}

// OnContextChange registers an observer for context switches.
func (c *Controller) OnContextChange(fn func(types.ScreenContext)) {
	c.onContextChange = fn
}

func (c *Controller) notifyContext() {
	if c.onContextChange != nil {
		c.onContextChange(c.state.Context)
	}
}

// entryWarpTarget is the server-side warp position on entry: just inside
// the edge opposite the one crossed.
func entryWarpTarget(dir types.Direction, pos types.Position, geom types.Screen) types.Position {
	switch dir {
	case types.DirLeft:
		return types.Position{X: geom.Width - 1 - EdgeEntryOffset, Y: pos.Y}
	case types.DirRight:
		return types.Position{X: EdgeEntryOffset, Y: pos.Y}
	case types.DirTop:
		return types.Position{X: pos.X, Y: geom.Height - 1 - EdgeEntryOffset}
	default:
		return types.Position{X: pos.X, Y: EdgeEntryOffset}
	}
}

// returnWarpTarget is the warp position on return: just inside the edge the
// pointer came back through.
func returnWarpTarget(ctx types.ScreenContext, pos types.Position, geom types.Screen) types.Position {
	switch ctx {
	case types.ContextWest:
		return types.Position{X: EdgeEntryOffset, Y: pos.Y}
	case types.ContextEast:
		return types.Position{X: geom.Width - 1 - EdgeEntryOffset, Y: pos.Y}
	case types.ContextNorth:
		return types.Position{X: pos.X, Y: EdgeEntryOffset}
	default:
		return types.Position{X: pos.X, Y: geom.Height - 1 - EdgeEntryOffset}
	}
}

// atReturnBoundary reports whether the pointer reached the return edge for
// the active context.
func atReturnBoundary(ctx types.ScreenContext, pos types.Position, geom types.Screen) bool {
	switch ctx {
	case types.ContextWest:
		return pos.X >= geom.Width-1
	case types.ContextEast:
		return pos.X <= 0
	case types.ContextNorth:
		return pos.Y >= geom.Height-1
	case types.ContextSouth:
		return pos.Y <= 0
	default:
		return false
	}
}

// HysteresisActive reports whether the post-return hysteresis window is
// still open.
func (c *Controller) HysteresisActive() bool {
	return c.now().Sub(c.state.LastCenterSwitch) < HysteresisDelay
}

// ReturnTriggered evaluates the REMOTE-to-CENTER condition: past the entry
// guard, at the return boundary, and at half the entry velocity threshold
// (the user has already committed; the bar is intentionally lower).
func (c *Controller) ReturnTriggered(pos types.Position, velocity float64) bool {
	if c.now().Sub(c.state.LastRemoteSwitch) < RemoteReturnGuard {
		return false
	}
	if !atReturnBoundary(c.state.Context, pos, c.geom) {
		return false
	}
	return velocity >= c.tracker.VelocityThreshold()*0.5
}

// EnterFromEdge performs the CENTER-to-REMOTE entry for an edge crossing.
// Returns false when the entry aborts; the state is CENTER either way
// unless the entry fully succeeds.
func (c *Controller) EnterFromEdge(tr types.Transition) bool {
	target, ok := directionToContext[tr.Direction]
	if !ok {
		log.Printf("Transition: invalid direction %q", tr.Direction)
		return false
	}

	warpTarget := entryWarpTarget(tr.Direction, tr.Position, c.geom)
	return c.enter(target, c.geom.Normalize(warpTarget), warpTarget)
}

// enter runs the ordered entry sequence. Any failure restores CENTER with
// everything released.
func (c *Controller) enter(target types.ScreenContext, entry types.NormalizedPoint, warpTarget types.Position) bool {
	name, ok := c.routes[target]
	if !ok || name == "" {
		log.Printf("Transition: no client configured for %s", target)
		return false
	}
	if !c.transport.HasClient(name) {
		log.Printf("Transition: target %q not connected, staying in CENTER", name)
		return false
	}

	if err := c.backend.PointerGrab(); err != nil {
		c.grabAbort(target, err, false)
		return false
	}
	if err := c.backend.KeyboardGrab(); err != nil {
		c.grabAbort(target, err, true)
		return false
	}

	// The calculated entry coordinate must be the first message the client
	// sees for this context, ahead of any polled coordinate; the client
	// cursor then appears at the correct edge even when the local warp is
	// silently dropped.
	if !c.transport.SendTo(name, protocol.NewMouseMove(entry)) {
		log.Printf("Transition: entry send to %q failed, aborting", name)
		c.releaseAndShow()
		c.state.Context = types.ContextCenter
		c.state.ActiveClient = ""
		return false
	}

	if err := c.backend.CursorHide(); err != nil {
		debugf("Transition: cursor hide failed: %v", err)
	}

	_ = c.backend.PointerWarp(warpTarget)
	if !c.backend.Native() {
		// Helper-mediated warps may be dropped; re-issue until observed.
		c.state.SetDeferredWarp(warpTarget)
	}

	c.tracker.Reset()
	now := c.now()
	c.state.Context = target
	c.state.ActiveClient = name
	c.state.LastSent = nil
	c.state.LastRemoteSwitch = now
	c.state.LastCenterSwitch = now
	log.Printf("Transition: CENTER -> %s (client %q)", target, name)
	c.notifyContext()
	return true
}

// grabAbort releases whatever a failed entry acquired and leaves CENTER in
// place. The user simply retries the edge crossing.
func (c *Controller) grabAbort(target types.ScreenContext, err error, pointerHeld bool) {
	if errors.Is(err, display.ErrGrabFailed) {
		log.Printf("Transition: grab refused entering %s: %v", target, err)
	} else {
		log.Printf("Transition: grab error entering %s: %v", target, err)
	}
	if pointerHeld {
		_ = c.backend.PointerUngrab()
	}
	_ = c.backend.CursorShow()
	c.state.Context = types.ContextCenter
	c.state.ActiveClient = ""
}

// ReturnToCenter runs the REMOTE-to-CENTER return sequence: hide signal to
// the active client, release both grabs, restore the cursor, warp just
// inside the return edge. Every step is best-effort.
func (c *Controller) ReturnToCenter(pos types.Position) {
	if c.state.Context == types.ContextCenter {
		return
	}
	previous := c.state.Context
	log.Printf("Transition: %s -> CENTER at (%d, %d)", previous, pos.X, pos.Y)

	if c.state.ActiveClient != "" {
		if !c.transport.SendTo(c.state.ActiveClient, protocol.NewHideSignal()) {
			log.Printf("Transition: hide signal to %q failed (client gone?)", c.state.ActiveClient)
		}
	}

	c.releaseAndShow()
	_ = c.backend.PointerWarp(returnWarpTarget(previous, pos, c.geom))
	c.backend.Sync()

	c.tracker.Reset()
	c.state.ClearDeferredWarp()
	c.state.Context = types.ContextCenter
	c.state.ActiveClient = ""
	c.state.LastSent = nil
	c.state.LastCenterSwitch = c.now()
	c.notifyContext()
}

// MakeSafe is the single cleanup sink for panic, fatal, and shutdown paths:
// unconditionally release the grab bundle and restore CENTER. It never
// grabs and never fails.
func (c *Controller) MakeSafe() {
	wasRemote := c.state.Context.Remote()
	if wasRemote && c.state.ActiveClient != "" {
		if !c.transport.SendTo(c.state.ActiveClient, protocol.NewHideSignal()) {
			debugf("Transition: hide signal on make-safe failed")
		}
	}

	c.releaseAndShow()
	c.tracker.Reset()
	c.state.ClearDeferredWarp()
	c.state.Context = types.ContextCenter
	c.state.ActiveClient = ""
	c.state.LastSent = nil
	c.state.LastCenterSwitch = c.now()
	if wasRemote {
		log.Printf("Transition: forced return to CENTER")
		c.notifyContext()
	}
}

// releaseAndShow drops both grabs and restores the cursor, logging rather
// than raising on failure.
func (c *Controller) releaseAndShow() {
	if err := c.backend.KeyboardUngrab(); err != nil {
		log.Printf("Transition: keyboard ungrab failed: %v", err)
	}
	if err := c.backend.PointerUngrab(); err != nil {
		log.Printf("Transition: pointer ungrab failed: %v", err)
	}
	if err := c.backend.CursorShow(); err != nil {
		log.Printf("Transition: cursor show failed: %v", err)
	}
}

// ApplyJump handles a resolved jump-hotkey action: return to CENTER, switch
// between remote contexts, or enter a remote context directly without an
// edge crossing.
func (c *Controller) ApplyJump(target types.ScreenContext, pos types.Position) {
	if target == types.ContextCenter {
		if c.state.Context.Remote() {
			log.Printf("Transition: jump to CENTER")
			c.ReturnToCenter(pos)
		}
		return
	}

	if c.state.Context.Remote() && c.state.Context != target {
		log.Printf("Transition: jump %s -> %s", c.state.Context, target)
		c.ReturnToCenter(pos)
		if p, err := c.backend.PointerQuery(); err == nil {
			pos = p
		}
	}
	if c.state.Context == target {
		return
	}

	// Jumps have no crossing edge; park the pointer at the screen center
	// and let the client place its cursor there too.
	center := types.Position{X: c.geom.Width / 2, Y: c.geom.Height / 2}
	log.Printf("Transition: jump to %s", target)
	c.enter(target, c.geom.Normalize(center), center)
}

// DeferredWarpTick re-issues the pending warp and clears the flag once the
// observed position lands near the target or the attempt budget runs out.
// Returns true while the protocol is holding back coordinate forwarding.
func (c *Controller) DeferredWarpTick() bool {
	if !c.state.BoundaryCrossed || c.state.TargetWarp == nil {
		return false
	}

	target := *c.state.TargetWarp
	_ = c.backend.PointerWarp(target)
	c.state.WarpAttempts++

	pos, err := c.backend.PointerQuery()
	if err == nil && near(pos, target, deferredWarpTolerance) {
		debugf("Transition: deferred warp confirmed at (%d, %d)", pos.X, pos.Y)
		c.state.ClearDeferredWarp()
		c.tracker.Reset()
		return true
	}
	if c.state.WarpAttempts >= maxWarpAttempts {
		log.Printf("Transition: deferred warp unconfirmed after %d attempts, proceeding", c.state.WarpAttempts)
		c.state.ClearDeferredWarp()
		c.tracker.Reset()
		return true
	}
	return true
}

func near(a, b types.Position, tolerance int) bool {
	dx := a.X - b.X
	dy := a.Y - b.Y
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	return dx <= tolerance && dy <= tolerance
}
