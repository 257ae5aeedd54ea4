package discovery

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/dht/v2"
	"github.com/anacrolix/dht/v2/krpc"
	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/anacrolix/torrent/types/infohash"
)

// DHT is the overlay a Coordinator finds and announces peers through. A single DHT is normally
// shared by every torrent in a client.
type DHT interface {
	// Closed once the DHT has finished bootstrapping, successfully or not.
	Ready() <-chan struct{}
	// Why bootstrapping failed, once Ready is closed. A DHT that failed to bootstrap is unusable.
	BootstrapErr() error
	Port() int
	// Peers found by any lookup or announce, for any info-hash.
	SubscribePeers(func(infohash.T, netip.AddrPort)) (unsubscribe func())
	// Lookup finds peers for ih, publishing them to subscribers. Returns when the traversal ends.
	Lookup(ctx context.Context, ih infohash.T) error
	// Announce tells the overlay we have ih on port.
	Announce(ctx context.Context, ih infohash.T, port int) error
	Close() error
}

type dhtSourceKind int

const (
	dhtDisabled dhtSourceKind = iota
	dhtOwned
	dhtExternal
)

// DHTSource says whether a Coordinator uses a DHT, and whether it owns it. It's fixed at
// construction. The zero value is disabled.
type DHTSource struct {
	kind     dhtSourceKind
	external DHT
	newDHT   func() (DHT, error)
}

// OwnedDHT creates a DHT with newDHT when the Coordinator starts, and closes it when it stops.
func OwnedDHT(newDHT func() (DHT, error)) DHTSource {
	return DHTSource{kind: dhtOwned, newDHT: newDHT}
}

// ExternalDHT borrows d. It's never closed by the borrower.
func ExternalDHT(d DHT) DHTSource {
	return DHTSource{kind: dhtExternal, external: d}
}

func NoDHT() DHTSource {
	return DHTSource{}
}

func (me DHTSource) Enabled() bool {
	return me.kind != dhtDisabled
}

func (me DHTSource) Owned() bool {
	return me.kind == dhtOwned
}

func (me DHTSource) String() string {
	switch me.kind {
	case dhtOwned:
		return "owned"
	case dhtExternal:
		return "external"
	default:
		return "disabled"
	}
}

type DHTConfig struct {
	// Host to bind. Empty binds all interfaces.
	Host string
	// UDP port. Zero lets the system choose.
	Port   int
	NodeID g.Option[krpc.ID]
	// Nil uses the global bootstrap nodes.
	StartingNodes dht.StartingNodesGetter
	Logger        log.Logger
	// Applied last, for anything not covered above.
	Configure func(*dht.ServerConfig)
}

// AnacrolixDHT is a DHT backed by an anacrolix/dht/v2 Server on its own UDP socket.
type AnacrolixDHT struct {
	server *dht.Server
	conn   net.PacketConn
	logger log.Logger
	ready  chansync.SetOnce
	// Set before ready.
	bootstrapErr error

	mu          sync.Mutex
	subscribers map[int]func(infohash.T, netip.AddrPort)
	nextSubId   int
}

var _ DHT = (*AnacrolixDHT)(nil)

// NewAnacrolixDHT listens and starts bootstrapping in the background. Ready is closed once
// bootstrapping completes, successful or not. Bootstrapping fails if there are no starting nodes.
func NewAnacrolixDHT(cfg DHTConfig) (_ *AnacrolixDHT, err error) {
	conn, err := net.ListenPacket("udp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		err = fmt.Errorf("listening for dht: %w", err)
		return
	}
	sc := dht.NewDefaultServerConfig()
	sc.Conn = conn
	logger := cfg.Logger
	if logger.IsZero() {
		logger = log.Default
	}
	sc.Logger = logger.WithNames("dht")
	if cfg.NodeID.Ok {
		sc.NodeId = cfg.NodeID.Value
	}
	if cfg.StartingNodes != nil {
		sc.StartingNodes = cfg.StartingNodes
	}
	if cfg.Configure != nil {
		cfg.Configure(sc)
	}
	s, err := dht.NewServer(sc)
	if err != nil {
		conn.Close()
		err = fmt.Errorf("creating dht server: %w", err)
		return
	}
	me := &AnacrolixDHT{
		server: s,
		conn:   conn,
		logger: sc.Logger,
	}
	go me.bootstrap()
	return me, nil
}

func (me *AnacrolixDHT) bootstrap() {
	defer me.ready.Set()
	ts, err := me.server.Bootstrap()
	if err != nil {
		me.bootstrapErr = fmt.Errorf("bootstrapping dht: %w", err)
		me.logger.Levelf(log.Warning, "%v", me.bootstrapErr)
		return
	}
	me.logger.Levelf(log.Debug, "%v completed bootstrap (%+v)", me.server, ts)
}

func (me *AnacrolixDHT) Server() *dht.Server {
	return me.server
}

func (me *AnacrolixDHT) Ready() <-chan struct{} {
	return me.ready.Done()
}

func (me *AnacrolixDHT) BootstrapErr() error {
	select {
	case <-me.ready.Done():
		return me.bootstrapErr
	default:
		return nil
	}
}

func (me *AnacrolixDHT) Port() int {
	return me.conn.LocalAddr().(*net.UDPAddr).Port
}

func (me *AnacrolixDHT) SubscribePeers(f func(infohash.T, netip.AddrPort)) (unsubscribe func()) {
	me.mu.Lock()
	defer me.mu.Unlock()
	g.MakeMapIfNil(&me.subscribers)
	id := me.nextSubId
	me.nextSubId++
	me.subscribers[id] = f
	return func() {
		me.mu.Lock()
		defer me.mu.Unlock()
		delete(me.subscribers, id)
	}
}

func (me *AnacrolixDHT) publish(ih infohash.T, addr netip.AddrPort) {
	me.mu.Lock()
	subs := make([]func(infohash.T, netip.AddrPort), 0, len(me.subscribers))
	for _, f := range me.subscribers {
		subs = append(subs, f)
	}
	me.mu.Unlock()
	for _, f := range subs {
		f(ih, addr)
	}
}

func (me *AnacrolixDHT) Lookup(ctx context.Context, ih infohash.T) error {
	a, err := me.server.AnnounceTraversal(ih)
	if err != nil {
		return fmt.Errorf("starting dht lookup: %w", err)
	}
	return me.consumePeers(ctx, ih, a)
}

func (me *AnacrolixDHT) Announce(ctx context.Context, ih infohash.T, port int) error {
	a, err := me.server.AnnounceTraversal(ih, dht.AnnouncePeer(dht.AnnouncePeerOpts{Port: port}))
	if err != nil {
		return fmt.Errorf("starting dht announce: %w", err)
	}
	return me.consumePeers(ctx, ih, a)
}

func (me *AnacrolixDHT) consumePeers(ctx context.Context, ih infohash.T, a *dht.Announce) error {
	defer a.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pv, ok := <-a.Peers:
			if !ok {
				return nil
			}
			for _, p := range pv.Peers {
				if addr, ok := addrPortFromIPPort(p.IP, p.Port); ok {
					me.publish(ih, addr)
				}
			}
		}
	}
}

func (me *AnacrolixDHT) Close() error {
	me.server.Close()
	// The server may already have closed the socket.
	me.conn.Close()
	return nil
}
