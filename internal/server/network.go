package server

import (
	"fmt"
	"log"
	"net"
	"sync"

	"tx2tx/internal/protocol"
)

const (
	// sendQueueSize bounds the per-client outbound queue; a client that
	// cannot drain it is disconnected rather than allowed to stall the
	// polling loop.
	sendQueueSize = 256

	// inboundQueueSize bounds the shared inbound queue drained by the
	// polling loop at tick boundaries.
	inboundQueueSize = 256
)

// Client is one connected client: its socket, handshake metadata, and the
// outbound queue flushed by its writer goroutine.
type Client struct {
	conn net.Conn
	addr string
	send chan protocol.Message
	done chan struct{}

	mu           sync.Mutex
	name         string
	screenWidth  int
	screenHeight int
}

// Name returns the handshake name, empty before the hello arrives.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Addr returns the remote address string.
func (c *Client) Addr() string { return c.addr }

// Screen returns the client-reported screen dimensions, zero when unknown.
func (c *Client) Screen() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screenWidth, c.screenHeight
}

func (c *Client) setName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
}

func (c *Client) setScreen(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.screenWidth = width
	c.screenHeight = height
}

type inbound struct {
	client  *Client
	message protocol.Message
}

// Transport is the slice of the network the transition controller and the
// forwarder depend on; tests substitute an in-memory implementation.
type Transport interface {
	// SendTo enqueues a message for one client by name; false when the
	// client is absent or its queue is saturated.
	SendTo(name string, m protocol.Message) bool

	// HasClient reports whether a client with the given name is connected.
	HasClient(name string) bool
}

// Network accepts client connections and moves messages between the socket
// goroutines and the polling loop. Accept and per-client reads/writes run on
// their own goroutines; the core only ever touches the thread-safe send and
// drain entry points.
type Network struct {
	host       string
	port       int
	maxClients int
	serverName string

	mu       sync.Mutex
	listener net.Listener
	clients  []*Client
	running  bool

	inbound chan inbound
}

// NewNetwork creates the server transport.
func NewNetwork(host string, port, maxClients int, serverName string) *Network {
	return &Network{
		host:       host,
		port:       port,
		maxClients: maxClients,
		serverName: serverName,
		inbound:    make(chan inbound, inboundQueueSize),
	}
}

// Start binds the listener and launches the accept loop.
func (n *Network) Start() error {
	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("network: listen on %s: %w", addr, err)
	}

	n.mu.Lock()
	n.listener = listener
	n.running = true
	n.mu.Unlock()

	log.Printf("Network: listening on %s", addr)
	go n.acceptLoop()
	return nil
}

// Addr returns the bound listener address, empty before Start.
func (n *Network) Addr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// Stop closes the listener and every client connection.
func (n *Network) Stop() {
	n.mu.Lock()
	n.running = false
	listener := n.listener
	n.listener = nil
	clients := append([]*Client{}, n.clients...)
	n.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, c := range clients {
		n.Disconnect(c)
	}
	log.Printf("Network: stopped")
}

func (n *Network) acceptLoop() {
	for {
		n.mu.Lock()
		listener := n.listener
		n.mu.Unlock()
		if listener == nil {
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			n.mu.Lock()
			running := n.running
			n.mu.Unlock()
			if running {
				log.Printf("Network: accept error: %v", err)
				continue
			}
			return
		}

		n.mu.Lock()
		if len(n.clients) >= n.maxClients {
			n.mu.Unlock()
			log.Printf("Network: max clients reached, rejecting %s", conn.RemoteAddr())
			conn.Close()
			continue
		}
		client := &Client{
			conn: conn,
			addr: conn.RemoteAddr().String(),
			send: make(chan protocol.Message, sendQueueSize),
			done: make(chan struct{}),
		}
		n.clients = append(n.clients, client)
		n.mu.Unlock()

		log.Printf("Network: client connected: %s", client.addr)
		go n.writeLoop(client)
		go n.readLoop(client)

		// Greet immediately so the client can validate the protocol
		// version before identifying itself.
		n.enqueue(client, protocol.NewHello(n.serverName, 0, 0))
	}
}

func (n *Network) readLoop(client *Client) {
	for {
		msg, err := protocol.ReadMessage(client.conn)
		if err != nil {
			n.Disconnect(client)
			return
		}
		select {
		case n.inbound <- inbound{client: client, message: msg}:
		default:
			log.Printf("Network: inbound queue full, dropping %s from %s", msg.MsgType, client.addr)
		}
	}
}

func (n *Network) writeLoop(client *Client) {
	for {
		select {
		case msg := <-client.send:
			if err := protocol.WriteMessage(client.conn, msg); err != nil {
				log.Printf("Network: write to %s failed: %v", client.addr, err)
				n.Disconnect(client)
				return
			}
		case <-client.done:
			return
		}
	}
}

func (n *Network) enqueue(client *Client, msg protocol.Message) bool {
	select {
	case client.send <- msg:
		return true
	default:
		log.Printf("Network: send queue full for %s, disconnecting", client.addr)
		n.Disconnect(client)
		return false
	}
}

// SendTo enqueues a message for the named client.
func (n *Network) SendTo(name string, msg protocol.Message) bool {
	client := n.ClientByName(name)
	if client == nil {
		return false
	}
	return n.enqueue(client, msg)
}

// Broadcast enqueues a message for every connected client.
func (n *Network) Broadcast(msg protocol.Message) {
	for _, client := range n.Clients() {
		n.enqueue(client, msg)
	}
}

// HasClient reports whether a named client is connected.
func (n *Network) HasClient(name string) bool {
	return n.ClientByName(name) != nil
}

// ClientByName returns the connected client with the given name, or nil.
func (n *Network) ClientByName(name string) *Client {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.clients {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// Clients returns a snapshot of the connected clients.
func (n *Network) Clients() []*Client {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Client{}, n.clients...)
}

// ClientCount returns the number of connected clients.
func (n *Network) ClientCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}

// Disconnect removes a client and closes its socket. Safe to call from any
// goroutine and idempotent.
func (n *Network) Disconnect(client *Client) {
	n.mu.Lock()
	found := false
	for i, c := range n.clients {
		if c == client {
			n.clients = append(n.clients[:i], n.clients[i+1:]...)
			found = true
			break
		}
	}
	n.mu.Unlock()

	if !found {
		return
	}
	close(client.done)
	client.conn.Close()
	log.Printf("Network: client disconnected: %s (%s)", client.addr, client.Name())
}

// Drain hands every queued inbound message to fn without blocking. Called
// from the polling loop at tick boundaries.
func (n *Network) Drain(fn func(*Client, protocol.Message)) {
	for {
		select {
		case in := <-n.inbound:
			fn(in.client, in.message)
		default:
			return
		}
	}
}
