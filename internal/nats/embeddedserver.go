package nats

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// DevServer runs an in-process NATS server for local development and
// tests, so a single-binary deployment can opt into the cross-process
// Bridge without standing up a separate nats-server process. Trimmed down
// from the teacher's internal/nats/server.go EmbeddedServer: this module
// never uses JetStream or the NATS websocket gateway (Transport Adapter
// already owns a gorilla/websocket streaming surface), so those options
// and the per-client connection tracking they justified are dropped.
type DevServer struct {
	port int

	mu      sync.RWMutex
	running bool
	ns      *server.Server
}

// NewDevServer creates a DevServer bound to port (0 picks the NATS
// default, 4222).
func NewDevServer(port int) *DevServer {
	if port <= 0 {
		port = 4222
	}
	return &DevServer{port: port}
}

// Start launches the server and blocks until it is ready for connections.
func (d *DevServer) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("dev NATS server already running")
	}

	ns, err := server.NewServer(&server.Options{
		Host:       "127.0.0.1",
		Port:       d.port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	})
	if err != nil {
		return fmt.Errorf("create dev NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("dev NATS server not ready for connections")
	}

	d.ns = ns
	d.running = true
	return nil
}

// Shutdown stops the server, waiting for in-flight connections to drain.
func (d *DevServer) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running || d.ns == nil {
		return
	}
	d.ns.Shutdown()
	d.ns.WaitForShutdown()
	d.running = false
	d.ns = nil
}

// URL returns the connection URL for Dial.
func (d *DevServer) URL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return fmt.Sprintf("nats://127.0.0.1:%d", d.port)
}

// IsRunning reports whether the server is currently serving connections.
func (d *DevServer) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}
