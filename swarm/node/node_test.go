package node

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"pyrite/swarm/protocol"

	"github.com/stretchr/testify/require"
)

func loopbackAddr(t *testing.T, n *Node) netip.AddrPort {
	t.Helper()
	udp, ok := n.LocalAddr().(*net.UDPAddr)
	require.True(t, ok)
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), uint16(udp.Port))
}

// Node A bootstraps from node B over loopback UDP.
func TestScenarioBootstrapOverLoopback(t *testing.T) {
	opts := []Option{WithLogger(quietLogger()), WithReceiveTimeout(2 * time.Second)}

	b, err := New(0, nil, opts...)
	require.NoError(t, err)
	defer b.Close()
	addrB := loopbackAddr(t, b)

	a, err := New(0, []netip.AddrPort{addrB}, opts...)
	require.NoError(t, err)
	defer a.Close()
	addrA := loopbackAddr(t, a)

	require.NoError(t, a.Start())

	// B has no prior peers: it inserts A and replies with [A]
	r := b.Process()
	require.NotNil(t, r)
	require.Equal(t, addrA, r.From)
	require.Equal(t, protocol.RequestPeerList{}, r.Message)

	st := b.Status()
	require.Len(t, st.Peers, 1)
	require.Equal(t, addrA, st.Peers[0].Address)

	// A already knows B: the peer list is surfaced and nothing else changes
	r = a.Process()
	require.NotNil(t, r)
	require.Equal(t, addrB, r.From)
	require.Equal(t, protocol.PeerList{Addresses: []netip.AddrPort{addrA}}, r.Message)

	st = a.Status()
	require.Len(t, st.Peers, 1)
	require.Equal(t, addrB, st.Peers[0].Address)
}

func TestProcessSwallowsErrors(t *testing.T) {
	fc := newFakeConn()
	n := NewWithConnection(NewConnectionWithConn(fc, WithLogger(quietLogger())), nil)

	fc.deliverRaw(netip.MustParseAddrPort("10.0.0.1:1"), []byte{0xff})
	require.Nil(t, n.Process())

	fc.readErr = errors.New("boom")
	require.Nil(t, n.Process())
}

func TestStartSeedsStatus(t *testing.T) {
	fc := newFakeConn()
	bootstrap := addrs("10.0.0.1:1", "10.0.0.2:1")
	n := NewWithConnection(NewConnectionWithConn(fc, WithLogger(quietLogger())), bootstrap)

	require.Empty(t, n.Status().Peers)
	require.NoError(t, n.Start())

	st := n.Status()
	require.Len(t, st.Peers, 2)
	require.Equal(t, bootstrap[0], st.Peers[0].Address)
	require.Equal(t, "127.0.0.1:7331", st.LocalAddr)
	require.Len(t, fc.takeSent(), 2)
}

func TestRunStopsOnCancel(t *testing.T) {
	fc := newFakeConn()
	n := NewWithConnection(NewConnectionWithConn(fc, WithLogger(quietLogger())), nil)
	from := netip.MustParseAddrPort("10.0.0.1:1")
	fc.deliver(t, from, protocol.KeepAlive{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []*Received
	done := make(chan error, 1)
	go func() {
		done <- n.Run(ctx, func(r *Received) {
			got = append(got, r)
			cancel()
		})
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	require.Len(t, got, 1)
	require.Equal(t, from, got[0].From)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.True(t, fc.closed)
}

func TestRunStopsOnClose(t *testing.T) {
	fc := newFakeConn()
	n := NewWithConnection(NewConnectionWithConn(fc, WithLogger(quietLogger())), nil)

	done := make(chan error, 1)
	go func() {
		done <- n.Run(context.Background(), nil)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, n.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the connection was closed")
	}
}

func TestStatusPublishedOnChange(t *testing.T) {
	fc := newFakeConn()
	clock := newFakeClock()
	n := NewWithConnection(NewConnectionWithConn(fc, WithLogger(quietLogger()), WithClock(clock.Now)), nil)
	from := netip.MustParseAddrPort("10.0.0.1:1")

	fc.deliver(t, from, protocol.KeepAlive{})
	require.NotNil(t, n.Process())
	st := n.Status()
	require.Len(t, st.Peers, 1)

	// A known peer refreshing its last seen time does not republish right away
	clock.Advance(100 * time.Millisecond)
	fc.deliver(t, from, protocol.KeepAlive{})
	require.NotNil(t, n.Process())
	require.Same(t, st, n.Status())

	clock.Advance(statusRefreshInterval)
	fc.deliver(t, from, protocol.KeepAlive{})
	require.NotNil(t, n.Process())
	refreshed := n.Status()
	require.NotSame(t, st, refreshed)
	require.Equal(t, clock.Now(), refreshed.Peers[0].LastSeenTime)

	// A new peer is published immediately
	fc.deliver(t, netip.MustParseAddrPort("10.0.0.2:1"), protocol.KeepAlive{})
	require.NotNil(t, n.Process())
	require.Len(t, n.Status().Peers, 2)

	// So is a keep alive
	before := n.Status()
	require.Nil(t, n.Process())
	require.NotSame(t, before, n.Status())
	require.Equal(t, clock.Now(), n.Status().LastKeepAlive)
}
