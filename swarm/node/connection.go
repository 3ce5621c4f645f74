package node

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"pyrite/swarm/protocol"

	"github.com/sirupsen/logrus"
)

const (
	DefaultReceiveTimeout    = 30 * time.Second
	DefaultKeepAliveInterval = 30 * time.Second
)

// PacketConn is the datagram socket used by a Connection. *net.UDPConn implements it.
type PacketConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

// BindError is returned when the UDP socket cannot be bound. A node cannot run without it.
type BindError struct {
	Port uint16
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind udp port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Received is a decoded datagram together with its sender.
type Received struct {
	From    netip.AddrPort
	Message protocol.Message
}

type Option func(*Connection)

func WithLogger(l *logrus.Entry) Option {
	return func(c *Connection) { c.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Connection) { c.now = now }
}

func WithReceiveTimeout(d time.Duration) Option {
	return func(c *Connection) { c.receiveTimeout = d }
}

func WithKeepAliveInterval(d time.Duration) Option {
	return func(c *Connection) { c.keepAliveInterval = d }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Connection) { c.metrics = m }
}

// Connection owns the node's socket and peer registry and implements the gossip protocol.
// All methods must be called from the same goroutine, except Close.
type Connection struct {
	conn          PacketConn
	readBuf       []byte
	lastKeepAlive time.Time
	peers         *PeerRegistry

	receiveTimeout    time.Duration
	keepAliveInterval time.Duration
	now               func() time.Time
	log               *logrus.Entry
	metrics           *Metrics
}

// NewConnection binds UDP on all interfaces at port.
func NewConnection(port uint16, opts ...Option) (*Connection, error) {
	udp, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, &BindError{Port: port, Err: err}
	}

	c := NewConnectionWithConn(udp, opts...)
	c.log.Infof("Listening on %s", udp.LocalAddr())
	return c, nil
}

// NewConnectionWithConn wraps an already bound socket.
func NewConnectionWithConn(conn PacketConn, opts ...Option) *Connection {
	c := &Connection{
		conn:              conn,
		readBuf:           make([]byte, protocol.MaxDatagramSize),
		receiveTimeout:    DefaultReceiveTimeout,
		keepAliveInterval: DefaultKeepAliveInterval,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logrus.NewEntry(logrus.StandardLogger())
	}
	c.log = c.log.WithField("component", "connection")
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	c.peers = NewPeerRegistry(c.now)
	c.lastKeepAlive = c.now()
	return c
}

func (c *Connection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Connection) Close() error {
	return c.conn.Close()
}

func (c *Connection) LastKeepAlive() time.Time {
	return c.lastKeepAlive
}

// Peers returns a copy of the peer registry entries.
func (c *Connection) Peers() []Peer {
	return c.peers.Peers()
}

// Snapshot returns a copy of the known peer addresses.
func (c *Connection) Snapshot() []netip.AddrPort {
	return c.peers.Snapshot()
}

func (c *Connection) HasPeer(addr netip.AddrPort) bool {
	return c.peers.Contains(addr)
}

// JumpstartDiscovery seeds the registry with the bootstrap peers and asks them for their peer lists.
func (c *Connection) JumpstartDiscovery(knownPeers []netip.AddrPort) error {
	for _, addr := range knownPeers {
		c.peers.Touch(normalize(addr))
	}
	c.metrics.Peers.Set(float64(c.peers.Len()))
	return c.Broadcast(protocol.RequestPeerList{})
}

// SendTo sends msg to a single address. A transport failure evicts addr from the
// registry and is not returned; only encoding errors are.
func (c *Connection) SendTo(msg protocol.Message, addr netip.AddrPort) error {
	b, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.sendBytesTo(b, addr)
	return nil
}

// Broadcast sends msg to every peer known at the time of the call.
func (c *Connection) Broadcast(msg protocol.Message) error {
	return c.broadcastTo(msg, c.peers.Snapshot())
}

func (c *Connection) broadcastTo(msg protocol.Message, addrs []netip.AddrPort) error {
	b, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	for _, addr := range addrs {
		c.sendBytesTo(b, addr)
	}
	return nil
}

func (c *Connection) sendBytesTo(b []byte, addr netip.AddrPort) {
	n, err := c.conn.WriteToUDPAddrPort(b, addr)
	if errors.Is(err, net.ErrClosed) {
		c.log.WithField("peer", addr).Debugf("Not sending on a closed connection: %v", err)
		return
	}
	if err != nil {
		c.log.WithField("peer", addr).Errorf("Failed to send message, removing from known peers: %v", err)
		if c.peers.Remove(addr) {
			c.metrics.PeersEvicted.Inc()
			c.metrics.Peers.Set(float64(c.peers.Len()))
		}
		return
	}
	c.metrics.DatagramsSent.Inc()
	c.log.WithFields(logrus.Fields{"peer": addr, "bytes": n}).Debug("Sent datagram")
}

func (c *Connection) SendKeepAlive() error {
	if err := c.Broadcast(protocol.KeepAlive{}); err != nil {
		return err
	}
	c.lastKeepAlive = c.now()
	c.metrics.KeepAlivesSent.Inc()
	c.log.WithField("peers", c.peers.Len()).Info("Keep alive sent")
	return nil
}

// Process runs one iteration of the protocol: it either handles a single datagram
// or, when nothing arrives within the receive timeout, broadcasts a keep alive.
// It returns the received message, or nil on a heartbeat iteration.
// A *protocol.DecodeError means the datagram was dropped and nothing changed.
func (c *Connection) Process() (*Received, error) {
	if c.now().Sub(c.lastKeepAlive) > c.keepAliveInterval {
		if err := c.SendKeepAlive(); err != nil {
			return nil, err
		}
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.receiveTimeout)); err != nil {
		c.metrics.TransportErrors.Inc()
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	n, from, err := c.conn.ReadFromUDPAddrPort(c.readBuf)
	if err != nil {
		if isTimeout(err) {
			return nil, c.SendKeepAlive()
		}
		c.metrics.TransportErrors.Inc()
		return nil, fmt.Errorf("failed to receive: %w", err)
	}
	from = normalize(from)

	msg, err := protocol.Decode(c.readBuf[:n])
	if err != nil {
		c.metrics.DecodeErrors.Inc()
		c.log.WithFields(logrus.Fields{"peer": from, "bytes": n}).Warnf("Dropping datagram: %v", err)
		return nil, err
	}
	c.metrics.DatagramsReceived.WithLabelValues(msg.Kind().String()).Inc()

	if c.peers.Contains(from) {
		c.peers.Touch(from)
	} else {
		previous := c.peers.Snapshot()
		c.peers.Touch(from)
		c.log.WithField("peer", from).Info("New node")
		if err := c.broadcastTo(protocol.NewNode{Address: from}, previous); err != nil {
			c.log.Errorf("Failed to broadcast new node: %v", err)
		}
	}

	switch m := msg.(type) {
	case protocol.NewNode:
		if !m.Address.IsValid() {
			c.log.WithField("peer", from).Warn("Ignoring announcement of an invalid address")
			break
		}
		c.peers.Touch(normalize(m.Address))
		c.log.WithFields(logrus.Fields{"peer": from, "node": m.Address, "peers": c.peers.Len()}).Info("Node announced")
	case protocol.RequestPeerList:
		c.log.WithField("peer", from).Info("Peer list requested")
		err := c.SendTo(protocol.PeerList{Addresses: c.peers.Snapshot()}, from)
		if errors.Is(err, protocol.ErrMessageTooLarge) {
			// The reply cannot reach the requester in one datagram
			c.log.WithFields(logrus.Fields{"peer": from, "peers": c.peers.Len()}).Errorf("Failed to send peer list, removing from known peers: %v", err)
			if c.peers.Remove(from) {
				c.metrics.PeersEvicted.Inc()
			}
		} else if err != nil {
			return nil, err
		}
	case protocol.PeerList:
		// TODO: merge m.Addresses into the registry instead of only reporting them.
		c.log.WithField("peer", from).Infof("Peers: %v", m.Addresses)
	case protocol.KeepAlive:
		// Any datagram refreshes the sender, there is nothing else to do
	default:
		return nil, fmt.Errorf("unsupported message %T", msg)
	}

	c.metrics.Peers.Set(float64(c.peers.Len()))

	return &Received{From: from, Message: msg}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// normalize strips the IPv4-in-IPv6 mapping dual stack sockets report.
func normalize(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}
