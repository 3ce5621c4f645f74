package node

import (
	"net/netip"
	"sort"
	"time"
)

type Peer struct {
	Address      netip.AddrPort
	LastSeenTime time.Time
}

// PeerRegistry maps peer addresses to the last time we heard from them.
// It is owned by a single goroutine and is not safe for concurrent use.
// Nothing it returns aliases its internal state.
type PeerRegistry struct {
	peers map[netip.AddrPort]time.Time
	now   func() time.Time
	gen   uint64
}

func NewPeerRegistry(now func() time.Time) *PeerRegistry {
	if now == nil {
		now = time.Now
	}
	return &PeerRegistry{
		peers: make(map[netip.AddrPort]time.Time),
		now:   now,
	}
}

// Touch inserts addr or refreshes its last seen time. It reports whether addr was new.
// The last seen time of an address never moves backwards.
func (r *PeerRegistry) Touch(addr netip.AddrPort) bool {
	t := r.now()
	prev, ok := r.peers[addr]
	if ok && t.Before(prev) {
		return false
	}
	r.peers[addr] = t
	if !ok {
		r.gen++
	}
	return !ok
}

func (r *PeerRegistry) Remove(addr netip.AddrPort) bool {
	_, ok := r.peers[addr]
	if ok {
		delete(r.peers, addr)
		r.gen++
	}
	return ok
}

// Generation changes whenever an address is added or removed. Refreshing the
// last seen time of a known address leaves it unchanged.
func (r *PeerRegistry) Generation() uint64 {
	return r.gen
}

func (r *PeerRegistry) Contains(addr netip.AddrPort) bool {
	_, ok := r.peers[addr]
	return ok
}

func (r *PeerRegistry) LastSeen(addr netip.AddrPort) (time.Time, bool) {
	t, ok := r.peers[addr]
	return t, ok
}

func (r *PeerRegistry) Len() int {
	return len(r.peers)
}

// Snapshot returns a sorted copy of all known addresses. Callers may iterate it
// while mutating the registry.
func (r *PeerRegistry) Snapshot() []netip.AddrPort {
	addrs := make([]netip.AddrPort, 0, len(r.peers))
	for addr := range r.peers {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Compare(addrs[j]) < 0 })
	return addrs
}

// Peers returns a sorted copy of all entries.
func (r *PeerRegistry) Peers() []Peer {
	peers := make([]Peer, 0, len(r.peers))
	for _, addr := range r.Snapshot() {
		peers = append(peers, Peer{Address: addr, LastSeenTime: r.peers[addr]})
	}
	return peers
}
