package client

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"tx2tx/internal/config"
	"tx2tx/internal/inject"
	"tx2tx/internal/protocol"
	"tx2tx/internal/types"
)

// keepaliveInterval is how often the client probes the connection.
const keepaliveInterval = 10 * time.Second

// Runtime is the client main loop: connect, identify, dispatch, and
// reconnect per the configured policy.
type Runtime struct {
	name     string
	addr     string
	geom     types.Screen
	policy   config.ReconnectConfig
	dispatch *Dispatcher

	mu   sync.Mutex
	conn net.Conn

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRuntime builds the client runtime.
func NewRuntime(name, addr string, geom types.Screen, policy config.ReconnectConfig, injector inject.Injector) *Runtime {
	return &Runtime{
		name:     name,
		addr:     addr,
		geom:     geom,
		policy:   policy,
		dispatch: NewDispatcher(injector, geom),
		stopCh:   make(chan struct{}),
	}
}

// Stop terminates the client loop; safe from any goroutine.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.mu.Lock()
		if r.conn != nil {
			r.conn.Close()
		}
		r.mu.Unlock()
	})
}

// Run connects and serves until Stop or until the reconnect budget is
// exhausted.
func (r *Runtime) Run() error {
	attempts := 0
	for {
		select {
		case <-r.stopCh:
			return nil
		default:
		}

		err := r.session()
		if err == nil {
			// Clean shutdown requested.
			return nil
		}
		log.Printf("Client: connection lost: %v", err)

		if !r.policy.Enabled {
			return err
		}
		attempts++
		if r.policy.MaxAttempts > 0 && attempts >= r.policy.MaxAttempts {
			return fmt.Errorf("client: giving up after %d reconnect attempts: %w", attempts, err)
		}

		delay := time.Duration(r.policy.DelaySeconds * float64(time.Second))
		log.Printf("Client: reconnecting in %s (attempt %d)", delay, attempts)
		select {
		case <-time.After(delay):
		case <-r.stopCh:
			return nil
		}
	}
}

// session runs one connection lifetime. A nil return means Stop was
// requested; any other exit reports the transport error.
func (r *Runtime) session() error {
	conn, err := net.DialTimeout("tcp", r.addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", r.addr, err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.conn = nil
		r.mu.Unlock()
		conn.Close()
	}()

	log.Printf("Client: connected to %s as %q (%dx%d)", r.addr, r.name, r.geom.Width, r.geom.Height)
	if err := protocol.WriteMessage(conn, protocol.NewHello(r.name, r.geom.Width, r.geom.Height)); err != nil {
		return fmt.Errorf("client: send hello: %w", err)
	}

	// Keepalives ride a separate goroutine; frame writes are serialised
	// through writeMu.
	var writeMu sync.Mutex
	keepaliveDone := make(chan struct{})
	defer close(keepaliveDone)
	go func() {
		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				writeMu.Lock()
				err := protocol.WriteMessage(conn, protocol.NewKeepalive())
				writeMu.Unlock()
				if err != nil {
					return
				}
			case <-keepaliveDone:
				return
			case <-r.stopCh:
				return
			}
		}
	}()

	for {
		msg, err := protocol.ReadMessage(conn)
		if err != nil {
			select {
			case <-r.stopCh:
				return nil
			default:
			}
			return fmt.Errorf("client: read: %w", err)
		}
		r.dispatch.Handle(msg)
	}
}
