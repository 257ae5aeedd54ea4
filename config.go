package torrent

import (
	"time"

	"github.com/anacrolix/dht/v2"
	"github.com/anacrolix/dht/v2/krpc"
	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/benbjohnson/clock"

	"github.com/marmolejo/bittorrent-client/discovery"
	"github.com/marmolejo/bittorrent-client/iplist"
)

// Contains config elements that are exclusive to tracker handling. There may be other fields in
// ClientConfig that are also relevant.
type ClientTrackerConfig struct {
	// Don't announce to trackers. This only leaves DHT to discover peers.
	DisableTrackers bool `long:"disable-trackers"`
	// Used when a tracker doesn't return an interval, and to retry failed announces.
	TrackerAnnounceInterval time.Duration
	HTTPUserAgent           string
	// Creates the tracker announcer for each torrent. Defaults to discovery.NewTracker.
	TrackerFactory discovery.TrackerFactory
}

type ClientDhtConfig struct {
	// Don't use a DHT.
	NoDHT bool `long:"disable-dht"`
	// Use this DHT instead of creating one. It's never closed by the Client.
	DhtServer discovery.DHT
	// UDP port for a DHT the Client creates. Zero lets the system choose.
	DhtPort          int
	NodeID           g.Option[krpc.ID]
	DhtStartingNodes func(network string) dht.StartingNodesGetter
	// Called for each anacrolix/dht Server created for the Client.
	ConfigureAnacrolixDhtServer func(*dht.ServerConfig)
	// Creates the Client's own DHT. Defaults to discovery.NewAnacrolixDHT.
	DhtFactory func(discovery.DHTConfig) (discovery.DHT, error)
	// Repeat DHT lookups and announces for each torrent this often. Zero does them once.
	DhtAnnounceInterval time.Duration
}

// Copied by NewClient. Changes after that have no effect.
type ClientConfig struct {
	ClientTrackerConfig
	ClientDhtConfig

	// The host to listen on for the given network. Empty binds all interfaces.
	ListenHost func(network string) string
	// If non-zero, this port is used and none is acquired during bootstrap.
	ListenPort int
	// If shorter than 20 bytes, the remainder of the peer ID is random.
	PeerID string
	// Peers in these ranges are never handed to a Swarm.
	IPBlocklist iplist.Ranger

	Logger    log.Logger
	Callbacks Callbacks

	// Opens the Swarm for each new torrent. Defaults to collecting peers in a PeerSet.
	OpenSwarm func(*Torrent) (Swarm, error)
	// For rate measurement.
	Clock clock.Clock
}

func NewDefaultClientConfig() *ClientConfig {
	cc := &ClientConfig{
		ListenHost: func(string) string { return "" },
		ListenPort: initIntFromEnv(listenPortEnv, 0, 17),
		PeerID:     DefaultPeerIDPrefix,
		Logger:     log.Default,
	}
	cc.TrackerAnnounceInterval = 30 * time.Minute
	cc.HTTPUserAgent = "bittorrent-client/0.1"
	cc.TrackerFactory = discovery.NewTracker
	cc.DhtStartingNodes = func(network string) dht.StartingNodesGetter {
		return func() ([]dht.Addr, error) { return dht.GlobalBootstrapAddrs(network) }
	}
	cc.DhtFactory = func(c discovery.DHTConfig) (discovery.DHT, error) {
		d, err := discovery.NewAnacrolixDHT(c)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	cc.DhtAnnounceInterval = 15 * time.Minute
	return cc
}

// Fills in anything a caller-built config left zero.
func (cfg *ClientConfig) setDefaults() {
	def := NewDefaultClientConfig()
	if cfg.ListenHost == nil {
		cfg.ListenHost = def.ListenHost
	}
	if cfg.PeerID == "" {
		cfg.PeerID = def.PeerID
	}
	if cfg.Logger.IsZero() {
		cfg.Logger = def.Logger
	}
	if cfg.TrackerAnnounceInterval == 0 {
		cfg.TrackerAnnounceInterval = def.TrackerAnnounceInterval
	}
	if cfg.TrackerFactory == nil {
		cfg.TrackerFactory = def.TrackerFactory
	}
	if cfg.DhtStartingNodes == nil {
		cfg.DhtStartingNodes = def.DhtStartingNodes
	}
	if cfg.DhtFactory == nil {
		cfg.DhtFactory = def.DhtFactory
	}
	if cfg.OpenSwarm == nil {
		cfg.OpenSwarm = openPeerSet
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
}
