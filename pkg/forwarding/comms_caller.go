package forwarding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/process-watchers/pkg/commsutil"
	"github.com/morezero/process-watchers/pkg/peers"
)

const commsCallerLogPrefix = "forwarding:comms_caller"

// CommsCaller sends request packets to peers over COMMS request/reply. Peers without a URL
// are reached through the local connection; peers with a URL get a persistent connection
// of their own, shared by every peer on that server.
type CommsCaller struct {
	local       *comms.Conn
	name        string
	mu          sync.RWMutex
	connections map[string]*peerConnection
}

type peerConnection struct {
	nc          *comms.Conn
	url         string
	connectedAt time.Time
}

// NewCommsCaller creates a caller. local may be nil when every peer carries a URL.
func NewCommsCaller(local *comms.Conn, name string) *CommsCaller {
	return &CommsCaller{
		local:       local,
		name:        name,
		connections: make(map[string]*peerConnection),
	}
}

// Call implements Caller.
func (c *CommsCaller) Call(ctx context.Context, peer peers.Peer, packet []byte) ([]byte, error) {
	nc, err := c.conn(peer.URL)
	if err != nil {
		return nil, err
	}
	msg, err := nc.RequestWithContext(ctx, peer.Address, packet)
	if err != nil {
		return nil, fmt.Errorf("%s - peer %d at %s did not respond: %w", commsCallerLogPrefix, peer.ID, peer.Address, err)
	}
	return msg.Data, nil
}

func (c *CommsCaller) conn(url string) (*comms.Conn, error) {
	if url == "" {
		if c.local == nil {
			return nil, fmt.Errorf("%s - no local connection for peer without URL", commsCallerLogPrefix)
		}
		return c.local, nil
	}

	c.mu.RLock()
	if pc, ok := c.connections[url]; ok && pc.nc.IsConnected() {
		c.mu.RUnlock()
		return pc.nc, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if pc, ok := c.connections[url]; ok && pc.nc.IsConnected() {
		return pc.nc, nil
	}
	if pc, ok := c.connections[url]; ok {
		pc.nc.Close()
		delete(c.connections, url)
	}

	nc, err := commsutil.Connect(url, fmt.Sprintf("%s-forwarding", c.name), comms.MaxReconnects(5))
	if err != nil {
		return nil, err
	}
	c.connections[url] = &peerConnection{nc: nc, url: url, connectedAt: time.Now()}
	return nc, nil
}

// Connections returns the number of pooled remote connections.
func (c *CommsCaller) Connections() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.connections)
}

// CloseAll closes every pooled connection. The local connection is left open.
func (c *CommsCaller) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for url, pc := range c.connections {
		slog.Info(fmt.Sprintf("%s - Closing peer connection url=%s (open since %s)", commsCallerLogPrefix, url, pc.connectedAt.Format(time.RFC3339)))
		pc.nc.Close()
	}
	c.connections = make(map[string]*peerConnection)
}
