package torrent

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"

	"github.com/marmolejo/bittorrent-client/discovery"
	"github.com/marmolejo/bittorrent-client/internal/tasks"
	"github.com/marmolejo/bittorrent-client/stats"
)

// Clients contain zero or more Torrents. A Client manages a listen port and a DHT shared by all its
// Torrents.
type Client struct {
	config *ClientConfig
	logger log.Logger
	peerID PeerID

	_mu      lockWithDeferreds
	state    ClientState
	torrents torrentRegistry
	// AddTorrent calls made while bootstrapping, in the order they were made.
	pendingAdds  []*pendingAdd
	port         int
	listener     net.Listener
	dht          discovery.DHT
	ownsDht      bool
	bootstrapErr *BootstrapError
	closeErr     error

	bootstrapCancel context.CancelFunc
	// The bootstrap goroutine has finished, whatever the outcome.
	bootstrapped chansync.SetOnce
	ready        chansync.SetOnce
	closing      chansync.SetOnce
	closed       chansync.SetOnce

	counters   TorrentCounters
	aggregator *stats.Aggregator
}

// NewClient starts bootstrapping in the background. Torrents can be added straight away. A nil cfg
// uses NewDefaultClientConfig.
func NewClient(cfg *ClientConfig) (cl *Client, err error) {
	if cfg == nil {
		cfg = NewDefaultClientConfig()
	}
	cfgCopy := *cfg
	cfg = &cfgCopy
	cfg.setDefaults()
	if cfg.ListenPort < 0 || cfg.ListenPort > 0xffff {
		err = fmt.Errorf("invalid listen port %v", cfg.ListenPort)
		return
	}
	if cfg.NoDHT && cfg.DhtServer != nil {
		err = errors.New("DhtServer given with NoDHT")
		return
	}
	cl = &Client{
		config:   cfg,
		peerID:   generatePeerID(cfg.PeerID),
		torrents: newTorrentRegistry(),
		port:     cfg.ListenPort,
		dht:      cfg.DhtServer,
	}
	cl.logger = cfg.Logger.WithNames("client")
	cl.aggregator = stats.NewAggregator(cl.transfers)
	var ctx context.Context
	ctx, cl.bootstrapCancel = context.WithCancel(context.Background())
	ts, res := cl.bootstrapTasks()
	if len(ts) == 0 {
		cl.runBootstrap(ctx, ts, res)
	} else {
		go cl.runBootstrap(ctx, ts, res)
	}
	return
}

func (cl *Client) lock() {
	cl._mu.Lock()
}

func (cl *Client) unlock() {
	cl._mu.Unlock()
}

func (cl *Client) rLock() {
	cl._mu.RLock()
}

func (cl *Client) rUnlock() {
	cl._mu.RUnlock()
}

func (cl *Client) String() string {
	return fmt.Sprintf("<%[1]T %[1]p>", cl)
}

func (cl *Client) PeerID() PeerID {
	return cl.peerID
}

// Zero until bootstrapping has acquired a port, unless one was configured.
func (cl *Client) ListenPort() int {
	cl.rLock()
	defer cl.rUnlock()
	return cl.port
}

// The Client's DHT, whether it owns it or not. nil before bootstrapping completes, or if the DHT
// is disabled.
func (cl *Client) DhtServer() discovery.DHT {
	cl.rLock()
	defer cl.rUnlock()
	return cl.dht
}

func (cl *Client) State() ClientState {
	cl.rLock()
	defer cl.rUnlock()
	return cl.state
}

func (cl *Client) discoveryConfig(spec torrentSpec, t *Torrent) discovery.CoordinatorConfig {
	dhtSource := discovery.NoDHT()
	if cl.dht != nil {
		dhtSource = discovery.ExternalDHT(cl.dht)
	}
	return discovery.CoordinatorConfig{
		InfoHash:            spec.InfoHash,
		PeerID:              cl.peerID,
		Port:                cl.port,
		AnnounceList:        cloneTiers(spec.Trackers),
		TotalLength:         spec.TotalLength,
		DHT:                 dhtSource,
		DHTAnnounceInterval: cl.config.DhtAnnounceInterval,
		Trackers:            !cl.config.DisableTrackers,
		NewTracker:          cl.config.TrackerFactory,
		TrackerInterval:     cl.config.TrackerAnnounceInterval,
		TrackerUserAgent:    cl.config.HTTPUserAgent,
		TrackerTransferred:  t.transferred,
		Blocklist:           cl.config.IPBlocklist,
		Logger:              t.logger,
	}
}

func taskErrorParts(err error) (task string, inner error) {
	var te *tasks.Error
	if errors.As(err, &te) {
		return te.Task, te.Err
	}
	return "", err
}
