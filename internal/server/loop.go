package server

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tx2tx/internal/config"
	"tx2tx/internal/display"
	"tx2tx/internal/tracker"
	"tx2tx/internal/types"
)

// remotePollInterval is the faster tick used while forwarding, keeping
// remote cursor motion smooth regardless of the configured CENTER rate.
const remotePollInterval = 8 * time.Millisecond

// Runtime owns the polling loop: it drains the network, samples the
// pointer, and dispatches each tick to the CENTER or REMOTE handler. All
// state transitions happen on this goroutine.
type Runtime struct {
	cfgMgr    *config.Manager
	backend   display.Backend
	network   *Network
	transport Transport
	tracker   *tracker.Tracker
	state     *State
	ctrl      *Controller
	geom      types.Screen

	panicCfg PanicConfig
	jumpCfg  JumpConfig

	dieOnDisconnect bool
	prevClientCount int

	now      func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}

	// pendingCfg carries a reloaded config from the watcher goroutine to
	// the polling goroutine, which applies it at the next tick boundary.
	pendingCfg atomic.Pointer[config.Config]

	// pendingJump carries a jump request from outside goroutines (tray
	// clicks) onto the polling goroutine.
	pendingJump atomic.Pointer[types.ScreenContext]
}

// NewRuntime assembles the polling loop around its collaborators.
func NewRuntime(cfgMgr *config.Manager, backend display.Backend, network *Network, trk *tracker.Tracker, state *State, ctrl *Controller, geom types.Screen, dieOnDisconnect bool) *Runtime {
	cfg := cfgMgr.Get()
	return &Runtime{
		cfgMgr:          cfgMgr,
		backend:         backend,
		network:         network,
		transport:       network,
		tracker:         trk,
		state:           state,
		ctrl:            ctrl,
		geom:            geom,
		panicCfg:        ParsePanicKey(cfg.Server.PanicKey),
		jumpCfg:         ParseJumpHotkey(cfg.Server.JumpHotkey),
		dieOnDisconnect: dieOnDisconnect,
		now:             time.Now,
		stopCh:          make(chan struct{}),
	}
}

func (r *Runtime) cfg() *config.Config {
	return r.cfgMgr.Get()
}

// Stop asks the loop to exit; safe to call from any goroutine and
// idempotent.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Run executes the polling loop until Stop. On the way out it runs the
// make-safe sequence so the host desktop is never left grabbed, whatever
// stopped the loop.
func (r *Runtime) Run() error {
	if err := r.network.Start(); err != nil {
		return err
	}
	defer func() {
		r.ctrl.MakeSafe()
		r.network.Stop()
	}()

	log.Printf("Server: running, poll interval %dms", r.cfg().Server.PollIntervalMs)
	for {
		select {
		case <-r.stopCh:
			log.Printf("Server: stopping")
			return nil
		default:
		}
		r.tick()
	}
}

// tick is one polling iteration.
func (r *Runtime) tick() {
	if cfg := r.pendingCfg.Swap(nil); cfg != nil {
		r.applyConfig(cfg)
	}
	if target := r.pendingJump.Swap(nil); target != nil {
		if pos, err := r.backend.PointerQuery(); err == nil {
			r.ctrl.ApplyJump(*target, pos)
		}
	}

	r.network.Drain(r.HandleClientMessage)

	if !r.disconnectPolicy() {
		r.Stop()
		return
	}

	if r.network.ClientCount() == 0 {
		// Nobody to forward to; make sure we are not stuck grabbed.
		if r.state.Context.Remote() {
			log.Printf("Server: no clients connected, reverting to CENTER")
			if pos, err := r.backend.PointerQuery(); err == nil {
				r.ctrl.ReturnToCenter(pos)
			} else {
				r.ctrl.MakeSafe()
			}
		}
		r.sleep()
		return
	}

	pos, err := r.backend.PointerQuery()
	if err != nil {
		debugf("Server: pointer query error: %v", err)
		r.sleep()
		return
	}
	r.tracker.Push(pos, r.now())
	velocity := r.tracker.Velocity()

	if r.state.Context == types.ContextCenter {
		r.centerTick(pos)
	} else {
		r.remoteTick(pos, velocity)
	}
	r.sleep()
}

// centerTick watches for jump hotkeys and boundary crossings while the
// server owns its own desktop.
func (r *Runtime) centerTick(pos types.Position) {
	if r.jumpCfg.Enabled {
		events, modifiers, _ := r.backend.EventsDrain()
		if len(events) > 0 {
			_, target, jumped := ProcessJumpEvents(events, modifiers, r.jumpCfg, r.state, r.now())
			if jumped {
				r.ctrl.ApplyJump(target, pos)
				return
			}
		}
	}

	if r.ctrl.HysteresisActive() {
		return
	}

	transition := r.tracker.BoundaryDetect(pos, r.geom)
	if transition == nil {
		return
	}

	log.Printf("Server: boundary crossed at (%d, %d) direction=%s velocity=%.1f px/s",
		transition.Position.X, transition.Position.Y, transition.Direction, r.tracker.Velocity())
	r.ctrl.EnterFromEdge(*transition)
}

// disconnectPolicy implements --die-on-disconnect: stop once the client
// count drops. Returns false when the server should exit.
func (r *Runtime) disconnectPolicy() bool {
	count := r.network.ClientCount()
	defer func() { r.prevClientCount = count }()

	if !r.dieOnDisconnect {
		return true
	}
	if count < r.prevClientCount {
		log.Printf("Server: client disconnected and --die-on-disconnect is set, shutting down")
		return false
	}
	return true
}

// sleep waits one full tick interval, or until Stop. REMOTE context uses the
// faster interval when the configured one is slower.
func (r *Runtime) sleep() {
	interval := time.Duration(r.cfg().Server.PollIntervalMs) * time.Millisecond
	if r.state.Context.Remote() && interval > remotePollInterval {
		interval = remotePollInterval
	}
	select {
	case <-time.After(interval):
	case <-r.stopCh:
	}
}

// QueueConfig schedules a reloaded config; the polling goroutine applies it
// at the next tick boundary.
func (r *Runtime) QueueConfig(cfg *config.Config) {
	r.pendingCfg.Store(cfg)
}

// RequestJump schedules a context jump (tray action); the polling goroutine
// applies it at the next tick boundary.
func (r *Runtime) RequestJump(target types.ScreenContext) {
	t := target
	r.pendingJump.Store(&t)
}

// applyConfig absorbs a live config reload: tracker thresholds, hotkey
// bindings, and log level can change without a restart.
func (r *Runtime) applyConfig(cfg *config.Config) {
	r.tracker.SetThresholds(cfg.Server.EdgeThreshold, cfg.Server.VelocityThreshold)
	r.panicCfg = ParsePanicKey(cfg.Server.PanicKey)
	r.jumpCfg = ParseJumpHotkey(cfg.Server.JumpHotkey)
	SetDebug(cfg.Logging.Level == "debug")
	log.Printf("Server: configuration reloaded")
}
