package server

import (
	"fmt"
	"log"
	"strings"

	"tx2tx/internal/config"
	"tx2tx/internal/display"
	"tx2tx/internal/display/wayland"
	"tx2tx/internal/display/x11"
	"tx2tx/internal/tracker"
	"tx2tx/internal/types"
)

// RoutesFromConfig builds the context-to-client routing map from the
// configured client list. Config validation has already rejected duplicate
// positions.
func RoutesFromConfig(cfg *config.Config) map[types.ScreenContext]string {
	routes := make(map[types.ScreenContext]string)
	for _, entry := range cfg.Clients {
		routes[types.ScreenContext(entry.Position)] = strings.ToLower(strings.TrimSpace(entry.Name))
	}
	return routes
}

// OpenBackend creates the display backend named in the config.
func OpenBackend(cfg *config.Config) (display.Backend, error) {
	switch cfg.Backend.Name {
	case "", "x11":
		return x11.New(cfg.Backend.Display)
	case "wayland":
		return wayland.New(wayland.Options{
			HelperCommand:   cfg.Backend.Wayland.HelperCommand,
			PointerProvider: cfg.Backend.Wayland.PointerProvider,
			ScreenWidth:     cfg.Backend.Wayland.ScreenWidth,
			ScreenHeight:    cfg.Backend.Wayland.ScreenHeight,
		})
	default:
		return nil, fmt.Errorf("server: unknown backend %q", cfg.Backend.Name)
	}
}

// Bootstrap assembles the full server runtime from a loaded configuration:
// backend, tracker, network, transition controller, and polling loop.
func Bootstrap(cfgMgr *config.Manager, dieOnDisconnect bool) (*Runtime, error) {
	cfg := cfgMgr.Get()
	SetDebug(cfg.Logging.Level == "debug")
	logStartup(cfg)

	backend, err := OpenBackend(cfg)
	if err != nil {
		return nil, err
	}

	geom, err := backend.Geometry()
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("server: screen geometry: %w", err)
	}
	log.Printf("Server: screen geometry %dx%d", geom.Width, geom.Height)

	trk := tracker.New(cfg.Server.EdgeThreshold, cfg.Server.VelocityThreshold)
	state := NewState()
	network := NewNetwork(cfg.Server.Host, cfg.Server.Port, cfg.Server.MaxClients, cfg.Server.Name)
	ctrl := NewController(backend, network, trk, state, geom, RoutesFromConfig(cfg))

	return NewRuntime(cfgMgr, backend, network, trk, state, ctrl, geom, dieOnDisconnect), nil
}

func logStartup(cfg *config.Config) {
	log.Printf("Server: name %s", cfg.Server.Name)
	log.Printf("Server: listening on %s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server: edge threshold %d px", cfg.Server.EdgeThreshold)
	log.Printf("Server: velocity threshold %.1f px/s (edge resistance)", cfg.Server.VelocityThreshold)
	log.Printf("Server: max clients %d", cfg.Server.MaxClients)

	if len(cfg.Clients) == 0 {
		log.Printf("Server: warning: no clients configured")
		return
	}
	for _, client := range cfg.Clients {
		log.Printf("Server: client %s (position: %s)", client.Name, client.Position)
	}
}

// Controller exposes the transition controller for context-change hooks.
func (r *Runtime) Controller() *Controller { return r.ctrl }

// Geometry returns the server screen geometry.
func (r *Runtime) Geometry() types.Screen { return r.geom }

// Network exposes the transport for status reporting.
func (r *Runtime) Network() *Network { return r.network }

// Backend exposes the display backend; the shutdown path closes it.
func (r *Runtime) Backend() display.Backend { return r.backend }
