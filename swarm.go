package torrent

import (
	"net/netip"
	"sync"

	"github.com/elliotchance/orderedmap"

	"github.com/marmolejo/bittorrent-client/discovery"
)

// Swarm connects to and exchanges data with the peers discovery finds. Implementations report
// transfers through Torrent.AddUploaded and Torrent.AddDownloaded.
type Swarm interface {
	// Addresses may repeat. Called from discovery goroutines.
	AddPeers([]discovery.PeerAddress)
	// Called once, when the torrent is removed or the Client closes.
	Close() error
}

// PeerSet is the default Swarm. It remembers each distinct peer address it's given, in the order
// first seen.
type PeerSet struct {
	mu     sync.Mutex
	peers  *orderedmap.OrderedMap
	closed bool
}

var _ Swarm = (*PeerSet)(nil)

func NewPeerSet() *PeerSet {
	return &PeerSet{peers: orderedmap.NewOrderedMap()}
}

func openPeerSet(*Torrent) (Swarm, error) {
	return NewPeerSet(), nil
}

func (me *PeerSet) AddPeers(pas []discovery.PeerAddress) {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.closed {
		return
	}
	for _, pa := range pas {
		if _, ok := me.peers.Get(pa.Addr); ok {
			continue
		}
		me.peers.Set(pa.Addr, pa)
	}
}

func (me *PeerSet) Peers() (ret []discovery.PeerAddress) {
	me.mu.Lock()
	defer me.mu.Unlock()
	for _, k := range me.peers.Keys() {
		v, _ := me.peers.Get(k)
		ret = append(ret, v.(discovery.PeerAddress))
	}
	return
}

func (me *PeerSet) Contains(addr netip.AddrPort) bool {
	me.mu.Lock()
	defer me.mu.Unlock()
	_, ok := me.peers.Get(addr)
	return ok
}

func (me *PeerSet) Len() int {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.peers.Len()
}

func (me *PeerSet) Close() error {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.closed = true
	return nil
}
