// tx2tx - software KVM for Linux desktops
// One binary serves both roles: without --server it captures local input
// and forwards it to positioned clients; with --server it connects to a
// running server and injects whatever arrives.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"tx2tx/internal/api"
	"tx2tx/internal/autostart"
	"tx2tx/internal/client"
	"tx2tx/internal/config"
	"tx2tx/internal/display/wayland"
	"tx2tx/internal/display/x11"
	"tx2tx/internal/inject"
	"tx2tx/internal/server"
	"tx2tx/internal/tray"
	"tx2tx/internal/types"
)

var (
	version = "2.1.0"

	serverAddr      = flag.String("server", "", "Run as client, connecting to HOST:PORT")
	clientName      = flag.String("name", "", "Client identity (defaults to hostname)")
	host            = flag.String("host", "", "Override listen host")
	port            = flag.Int("port", 0, "Override listen port")
	backendName     = flag.String("backend", "", "Display backend: x11 or wayland")
	displayName     = flag.String("display", "", "Display to connect to (e.g. :0)")
	configPath      = flag.String("config", "", "Config file path (overrides discovery)")
	dieOnDisconnect = flag.Bool("die-on-disconnect", false, "Server: exit when a client disconnects")
	autostartAction = flag.String("autostart", "", "Manage login autostart: enable, disable or status")
	showVer         = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("tx2tx version %s\n", version)
		return
	}

	if *autostartAction != "" {
		handleAutostart(*autostartAction)
		return
	}

	cfg, path, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tx2tx: %v\n", err)
		os.Exit(1)
	}
	cfg.Apply(config.Overrides{
		Host:          *host,
		Port:          *port,
		Backend:       *backendName,
		Display:       *displayName,
		ServerAddress: *serverAddr,
	})

	log.Printf("tx2tx v%s", version)
	if path != "" {
		log.Printf("Config: %s", path)
	} else {
		log.Printf("Config: built-in defaults")
	}

	if *serverAddr != "" {
		runClient(cfg)
		return
	}
	runServer(cfg, path)
}

// handleAutostart manages the login autostart entry. The entry re-runs the
// current invocation's role flags so a client machine reconnects on login.
func handleAutostart(action string) {
	switch action {
	case "enable":
		args := ""
		if *serverAddr != "" {
			args = fmt.Sprintf("--server %s", *serverAddr)
			if *clientName != "" {
				args += fmt.Sprintf(" --name %s", *clientName)
			}
		}
		if err := autostart.Enable(args); err != nil {
			fmt.Fprintf(os.Stderr, "tx2tx: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Autostart enabled")
	case "disable":
		if err := autostart.Disable(); err != nil {
			fmt.Fprintf(os.Stderr, "tx2tx: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Autostart disabled")
	case "status":
		if autostart.IsEnabled() {
			fmt.Println("Autostart: enabled")
		} else {
			fmt.Println("Autostart: disabled")
		}
	default:
		fmt.Fprintf(os.Stderr, "tx2tx: unknown autostart action %q\n", action)
		os.Exit(1)
	}
}

// runServer boots the transition engine and blocks until a signal stops it.
func runServer(cfg *config.Config, path string) {
	mgr := config.NewManager(cfg, path)

	rt, err := server.Bootstrap(mgr, *dieOnDisconnect)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tx2tx: %v\n", err)
		os.Exit(1)
	}
	defer rt.Backend().Close()

	mgr.OnChange(rt.QueueConfig)
	stopWatch, err := mgr.Watch()
	if err != nil {
		log.Printf("Config: watching disabled: %v", err)
		stopWatch = func() {}
	}
	defer stopWatch()

	// Context observers: the status API and the tray both follow switches.
	var currentCtx atomic.Value
	currentCtx.Store(types.ContextCenter)

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(func() api.Status {
			return statusSnapshot(rt, mgr, currentCtx.Load().(types.ScreenContext))
		})
		go func() {
			if err := apiServer.Start(cfg.API.Port); err != nil {
				log.Printf("API: server error: %v", err)
			}
		}()
		defer apiServer.Stop()
	}

	var t *tray.Tray
	if cfg.Tray.Enabled {
		t = tray.New("tx2tx - software KVM")
		for _, entry := range cfg.Clients {
			// Tray clicks arrive on systray goroutines; RequestJump hands
			// them to the polling loop.
			ctx := types.ScreenContext(entry.Position)
			t.AddMenuItem(fmt.Sprintf("Jump to %s (%s)", entry.Name, entry.Position), func() {
				rt.RequestJump(ctx)
			})
		}
		t.AddMenuItem("Return to center", func() { rt.RequestJump(types.ContextCenter) })
		t.AddSeparator()
		t.AddMenuItem("Quit", func() { rt.Stop() })
	}

	rt.Controller().OnContextChange(func(ctx types.ScreenContext) {
		currentCtx.Store(ctx)
		if apiServer != nil {
			apiServer.BroadcastContext(ctx)
		}
		if t != nil {
			t.SetContext(ctx)
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		rt.Stop()
	}()

	if t != nil {
		// systray owns the main goroutine; the engine moves aside.
		go func() {
			if err := rt.Run(); err != nil {
				log.Printf("Server: %v", err)
			}
			t.Stop()
		}()
		t.Run()
		return
	}

	if err := rt.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tx2tx: %v\n", err)
		os.Exit(1)
	}
}

func statusSnapshot(rt *server.Runtime, mgr *config.Manager, ctx types.ScreenContext) api.Status {
	var status api.Status
	status.Context = ctx
	geom := rt.Geometry()
	status.Screen.Width = geom.Width
	status.Screen.Height = geom.Height

	cfg := mgr.Get()
	for _, c := range rt.Network().Clients() {
		name := c.Name()
		position, _ := cfg.PositionFor(name)
		status.Clients = append(status.Clients, api.ClientStatus{
			Name:     name,
			Position: position,
			Addr:     c.Addr(),
		})
	}
	return status
}

// runClient connects to the server and injects forwarded events locally.
func runClient(cfg *config.Config) {
	name := strings.ToLower(strings.TrimSpace(*clientName))
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			fmt.Fprintln(os.Stderr, "tx2tx: --name required when hostname is unavailable")
			os.Exit(1)
		}
		name = strings.ToLower(hostname)
	}

	geom, injector, err := clientBackend(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tx2tx: %v\n", err)
		os.Exit(1)
	}
	defer injector.Close()

	rt := client.NewRuntime(name, cfg.Client.ServerAddress, geom, cfg.Client.Reconnect, injector)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		rt.Stop()
	}()

	if err := rt.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tx2tx: %v\n", err)
		os.Exit(1)
	}
}

// clientBackend resolves local geometry and an injector for the configured
// backend.
func clientBackend(cfg *config.Config) (types.Screen, inject.Injector, error) {
	switch cfg.Backend.Name {
	case "", "x11":
		probe, err := x11.New(cfg.Backend.Display)
		if err != nil {
			return types.Screen{}, nil, err
		}
		geom, err := probe.Geometry()
		probe.Close()
		if err != nil {
			return types.Screen{}, nil, err
		}
		injector, err := inject.NewX11Injector(cfg.Backend.Display)
		if err != nil {
			return types.Screen{}, nil, err
		}
		return geom, injector, nil

	case "wayland":
		geom := types.Screen{
			Width:  cfg.Backend.Wayland.ScreenWidth,
			Height: cfg.Backend.Wayland.ScreenHeight,
		}
		if geom.Width <= 0 || geom.Height <= 0 {
			// Borrow the helper just long enough to learn the geometry.
			helper, err := wayland.New(wayland.Options{
				HelperCommand:   cfg.Backend.Wayland.HelperCommand,
				PointerProvider: "helper",
			})
			if err != nil {
				return types.Screen{}, nil, fmt.Errorf("wayland geometry unknown: set backend.wayland.screen_width/height or a helper_command (%v)", err)
			}
			geom, err = helper.Geometry()
			helper.Close()
			if err != nil {
				return types.Screen{}, nil, err
			}
		}
		injector, err := inject.NewUinputInjector(geom)
		if err != nil {
			return types.Screen{}, nil, err
		}
		return geom, injector, nil

	default:
		return types.Screen{}, nil, fmt.Errorf("unknown backend %q", cfg.Backend.Name)
	}
}
