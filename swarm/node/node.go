package node

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"pyrite/swarm/protocol"

	"github.com/sirupsen/logrus"
)

// Status is an immutable copy of the node state, safe to read from any goroutine.
type Status struct {
	LocalAddr     string
	Peers         []Peer
	LastKeepAlive time.Time
	UpdatedAt     time.Time
}

// Last seen times in a published Status lag behind the registry by at most this long.
const statusRefreshInterval = time.Second

// Handler receives every message surfaced by the node.
type Handler func(*Received)

type Node struct {
	conn       *Connection
	knownPeers []netip.AddrPort
	status     atomic.Pointer[Status]
	statusGen  uint64
	log        *logrus.Entry
}

// New binds the node's socket. A *BindError is returned when that fails.
func New(udpPort uint16, knownPeers []netip.AddrPort, opts ...Option) (*Node, error) {
	conn, err := NewConnection(udpPort, opts...)
	if err != nil {
		return nil, err
	}
	return NewWithConnection(conn, knownPeers), nil
}

func NewWithConnection(conn *Connection, knownPeers []netip.AddrPort) *Node {
	n := &Node{
		conn:       conn,
		knownPeers: append([]netip.AddrPort(nil), knownPeers...),
		log:        conn.log.WithField("component", "node"),
	}
	n.publishStatus()
	return n
}

// Start seeds the bootstrap peers and requests their peer lists.
func (n *Node) Start() error {
	if err := n.conn.JumpstartDiscovery(n.knownPeers); err != nil {
		n.log.Errorf("Failed to start node discovery: %v", err)
		return err
	}
	n.publishStatus()

	n.log.Infof("Node discovery started with %d known peers", len(n.knownPeers))
	return nil
}

// Process runs one protocol iteration. Errors are logged and swallowed; the
// received message, if any, is returned for the application to handle.
func (n *Node) Process() *Received {
	r, _ := n.process()
	return r
}

// process logs iteration errors and only returns net.ErrClosed, which ends the loop.
func (n *Node) process() (*Received, error) {
	defer n.publishStatus()

	r, err := n.conn.Process()
	if err != nil {
		var de *protocol.DecodeError
		switch {
		case errors.Is(err, net.ErrClosed):
			n.log.Debugf("Connection closed: %v", err)
			return nil, err
		case errors.As(err, &de):
			n.log.Warnf("Dropped malformed datagram: %v", err)
		default:
			n.log.Errorf("Failed to process network message: %v", err)
		}
		return nil, nil
	}
	return r, nil
}

// Run processes messages until ctx is cancelled and then closes the socket.
// If the socket is closed by other means, Run returns an error wrapping net.ErrClosed.
func (n *Node) Run(ctx context.Context, handler Handler) error {
	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			n.log.Infof("Shutting down connection on %s", n.conn.LocalAddr())
			if err := n.conn.Close(); err != nil {
				n.log.Warnf("Failed to close connection: %v", err)
			}
		})
	}

	// Closing the socket unblocks a pending receive
	stop := context.AfterFunc(ctx, shutdown)
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			shutdown()
			return err
		}
		r, err := n.process()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				shutdown()
				return ctxErr
			}
			n.log.Warnf("Connection closed while running: %v", err)
			return err
		}
		if r != nil && handler != nil {
			handler(r)
		}
	}
}

func (n *Node) Close() error {
	return n.conn.Close()
}

func (n *Node) LocalAddr() net.Addr {
	return n.conn.LocalAddr()
}

// Status returns the most recently published state.
func (n *Node) Status() *Status {
	return n.status.Load()
}

// publishStatus stores a new Status when the peer set or the last keep alive
// changed, or when the published one is older than statusRefreshInterval.
func (n *Node) publishStatus() {
	now := n.conn.now()
	gen := n.conn.peers.Generation()
	lastKeepAlive := n.conn.LastKeepAlive()

	if prev := n.status.Load(); prev != nil &&
		gen == n.statusGen &&
		lastKeepAlive.Equal(prev.LastKeepAlive) &&
		now.Sub(prev.UpdatedAt) < statusRefreshInterval {
		return
	}

	n.statusGen = gen
	n.status.Store(&Status{
		LocalAddr:     n.conn.LocalAddr().String(),
		Peers:         n.conn.Peers(),
		LastKeepAlive: lastKeepAlive,
		UpdatedAt:     now,
	})
}
