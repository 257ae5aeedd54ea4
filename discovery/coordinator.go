// Package discovery merges peers found through a DHT and through trackers into a single stream per
// torrent.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/anacrolix/torrent/types/infohash"

	"github.com/marmolejo/bittorrent-client/identifier"
	"github.com/marmolejo/bittorrent-client/iplist"
)

var ErrAlreadyStarted = errors.New("discovery already started")

type CoordinatorConfig struct {
	InfoHash infohash.T
	PeerID   [20]byte
	// Zero until known. See SetPort.
	Port int
	// Tiered announce URLs, if known. See SetInfo.
	AnnounceList [][]string
	TotalLength  g.Option[int64]

	DHT DHTSource
	// Repeat the DHT lookup and announce this often. Zero does it once.
	DHTAnnounceInterval time.Duration

	Trackers   bool
	NewTracker TrackerFactory
	// Passed through to trackers.
	TrackerInterval    time.Duration
	TrackerUserAgent   string
	TrackerTransferred func() (uploaded, downloaded int64)

	Blocklist iplist.Ranger
	Logger    log.Logger
}

// Events are called from discovery goroutines and never with the Coordinator's lock held. nil
// functions are not called. Stop waits for handlers that are running.
type Events struct {
	Peer func(PeerAddress)
	// Non-fatal source failures, such as an unreachable tracker.
	Warning func(error)
	// A DHT announce for the torrent completed.
	DHTAnnounce func()
}

type CoordinatorStats struct {
	DHTPeers       int64
	TrackerPeers   int64
	BlockedPeers   int64
	DHTAnnounces   int64
	TrackerErrors  int64
	DHTLookupFails int64
}

type coordinatorState int

const (
	coordinatorCreated coordinatorState = iota
	coordinatorStarted
	coordinatorStopped
)

// Coordinator runs discovery for one torrent. It goes Created -> Started -> Stopped, and each
// transition happens at most once.
type Coordinator struct {
	events Events
	logger log.Logger
	// Read-held from the stopped check until an event handler returns. Stop takes it to wait out
	// events in flight.
	emitMu sync.RWMutex

	mu                 sync.Mutex
	cfg                CoordinatorConfig
	state              coordinatorState
	ctx                context.Context
	cancel             context.CancelFunc
	dht                DHT
	dhtReady           bool
	dhtAnnounceRunning bool
	unsubscribeDHT     func()
	tracker            Tracker

	stats struct {
		dhtPeers, trackerPeers, blockedPeers   atomic.Int64
		dhtAnnounces, trackerErrors, dhtFailed atomic.Int64
	}
}

func NewCoordinator(cfg CoordinatorConfig, events Events) *Coordinator {
	if cfg.NewTracker == nil {
		cfg.NewTracker = NewTracker
	}
	logger := cfg.Logger
	if logger.IsZero() {
		logger = log.Default
	}
	me := &Coordinator{
		cfg:    cfg,
		events: events,
		logger: logger.WithNames("discovery"),
	}
	me.ctx, me.cancel = context.WithCancel(context.Background())
	return me
}

func (me *Coordinator) InfoHash() infohash.T {
	return me.cfg.InfoHash
}

// Start subscribes to the DHT and starts the tracker announce loop. An owned DHT is created here.
func (me *Coordinator) Start() error {
	me.mu.Lock()
	defer me.mu.Unlock()
	switch me.state {
	case coordinatorStarted:
		return ErrAlreadyStarted
	case coordinatorStopped:
		return errors.New("discovery stopped")
	}
	if me.cfg.DHT.Enabled() {
		d := me.cfg.DHT.external
		if me.cfg.DHT.Owned() {
			var err error
			d, err = me.cfg.DHT.newDHT()
			if err != nil {
				me.state = coordinatorStopped
				me.cancel()
				return fmt.Errorf("creating dht: %w", err)
			}
		}
		panicif.Nil(d)
		me.dht = d
		me.unsubscribeDHT = d.SubscribePeers(me.onDHTPeer)
		go me.awaitDHTReady(d)
	}
	me.state = coordinatorStarted
	me.maybeStartTrackerLocked()
	return nil
}

func (me *Coordinator) awaitDHTReady(d DHT) {
	select {
	case <-me.ctx.Done():
		return
	case <-d.Ready():
	}
	if err := d.BootstrapErr(); err != nil {
		me.stats.dhtFailed.Add(1)
		me.warn(err)
		return
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.state != coordinatorStarted {
		return
	}
	me.logger.Levelf(log.Debug, "dht ready for %v", me.cfg.InfoHash)
	me.dhtReady = true
	me.maybeAnnounceDHTLocked()
}

// SetPort provides the local listen port if it wasn't known at construction.
func (me *Coordinator) SetPort(port int) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.cfg.Port = port
	if me.state != coordinatorStarted {
		return
	}
	me.maybeAnnounceDHTLocked()
	me.maybeStartTrackerLocked()
}

// SetInfo is for when the full descriptor turns up after Start. An existing tracker has its total
// length updated in place, so announces already scheduled aren't restarted. A tracker is only
// created if there wasn't one.
func (me *Coordinator) SetInfo(announceList [][]string, totalLength g.Option[int64]) {
	me.mu.Lock()
	defer me.mu.Unlock()
	if len(announceList) != 0 {
		me.cfg.AnnounceList = announceList
	}
	if totalLength.Ok {
		me.cfg.TotalLength = totalLength
	}
	if me.tracker != nil {
		if totalLength.Ok {
			me.tracker.SetTotalLength(totalLength.Value)
		}
		return
	}
	if me.state == coordinatorStarted {
		me.maybeStartTrackerLocked()
	}
}

func (me *Coordinator) maybeStartTrackerLocked() {
	if !me.cfg.Trackers || me.tracker != nil || me.cfg.Port == 0 {
		return
	}
	if len(identifier.FlattenTrackers(me.cfg.AnnounceList)) == 0 {
		return
	}
	tr, err := me.cfg.NewTracker(TrackerConfig{
		InfoHash:     me.cfg.InfoHash,
		PeerID:       me.cfg.PeerID,
		Port:         me.cfg.Port,
		AnnounceList: me.cfg.AnnounceList,
		TotalLength:  me.cfg.TotalLength,
		Interval:     me.cfg.TrackerInterval,
		Transferred:  me.cfg.TrackerTransferred,
		UserAgent:    me.cfg.TrackerUserAgent,
		Logger:       me.logger,
	}, TrackerEvents{
		Peer:  me.onTrackerPeer,
		Error: me.onTrackerError,
	})
	if err != nil {
		go me.warn(fmt.Errorf("creating tracker client: %w", err))
		return
	}
	me.tracker = tr
	tr.Start()
}

func (me *Coordinator) maybeAnnounceDHTLocked() {
	if me.dht == nil || !me.dhtReady || me.cfg.Port == 0 || me.dhtAnnounceRunning {
		return
	}
	me.dhtAnnounceRunning = true
	go me.dhtAnnouncer(me.dht, me.cfg.InfoHash, me.cfg.Port)
}

// Looks up then announces, repeating if configured. Results that arrive after Stop are dropped.
func (me *Coordinator) dhtAnnouncer(d DHT, ih infohash.T, port int) {
	for {
		err := d.Lookup(me.ctx, ih)
		if me.stopped() {
			return
		}
		if err != nil {
			me.stats.dhtFailed.Add(1)
			me.warn(fmt.Errorf("dht lookup: %w", err))
		}
		err = d.Announce(me.ctx, ih, port)
		if me.stopped() {
			return
		}
		if err != nil {
			me.stats.dhtFailed.Add(1)
			me.warn(fmt.Errorf("dht announce: %w", err))
		} else {
			me.emit(func() {
				me.stats.dhtAnnounces.Add(1)
				if me.events.DHTAnnounce != nil {
					me.events.DHTAnnounce()
				}
			})
		}
		if me.cfg.DHTAnnounceInterval <= 0 {
			return
		}
		select {
		case <-me.ctx.Done():
			return
		case <-time.After(me.cfg.DHTAnnounceInterval):
		}
	}
}

func (me *Coordinator) stopped() bool {
	return me.ctx.Err() != nil
}

// Runs f unless stopped. Stop doesn't return while f is running.
func (me *Coordinator) emit(f func()) {
	me.emitMu.RLock()
	defer me.emitMu.RUnlock()
	if me.stopped() {
		return
	}
	f()
}

func (me *Coordinator) onDHTPeer(ih infohash.T, addr netip.AddrPort) {
	if ih != me.cfg.InfoHash {
		return
	}
	if me.forward(PeerAddress{Addr: addr, Source: SourceDHT}) {
		me.stats.dhtPeers.Add(1)
	}
}

func (me *Coordinator) onTrackerPeer(addr netip.AddrPort) {
	if me.forward(PeerAddress{Addr: addr, Source: SourceTracker}) {
		me.stats.trackerPeers.Add(1)
	}
}

// Trackers are optional, so their failures never stop discovery.
func (me *Coordinator) onTrackerError(err error) {
	me.stats.trackerErrors.Add(1)
	me.warn(err)
}

func (me *Coordinator) forward(pa PeerAddress) (forwarded bool) {
	me.emit(func() {
		if me.cfg.Blocklist != nil {
			if r, blocked := me.cfg.Blocklist.Lookup(pa.Addr.Addr()); blocked {
				me.stats.blockedPeers.Add(1)
				me.logger.Levelf(log.Debug, "dropped blocked peer %v from %v (%v)", pa, pa.Source, r.Description)
				return
			}
		}
		if me.events.Peer != nil {
			me.events.Peer(pa)
		}
		forwarded = true
	})
	return
}

func (me *Coordinator) warn(err error) {
	me.emit(func() {
		me.logger.Levelf(log.Debug, "warning: %v", err)
		if me.events.Warning != nil {
			me.events.Warning(err)
		}
	})
}

// Stop stops the tracker and closes the DHT if this Coordinator owns it. No events are delivered
// after it returns, so it must not be called from an event handler. Stopping a second time does
// nothing.
func (me *Coordinator) Stop() error {
	me.emitMu.Lock()
	me.cancel()
	me.emitMu.Unlock()
	me.mu.Lock()
	prev := me.state
	me.state = coordinatorStopped
	if prev != coordinatorStarted {
		me.mu.Unlock()
		return nil
	}
	tr := me.tracker
	var owned DHT
	if me.cfg.DHT.Owned() {
		owned = me.dht
	}
	if me.unsubscribeDHT != nil {
		me.unsubscribeDHT()
		me.unsubscribeDHT = nil
	}
	me.mu.Unlock()
	if tr != nil {
		tr.Stop()
	}
	if owned != nil {
		if err := owned.Close(); err != nil {
			return fmt.Errorf("closing dht: %w", err)
		}
	}
	return nil
}

func (me *Coordinator) Stats() CoordinatorStats {
	return CoordinatorStats{
		DHTPeers:       me.stats.dhtPeers.Load(),
		TrackerPeers:   me.stats.trackerPeers.Load(),
		BlockedPeers:   me.stats.blockedPeers.Load(),
		DHTAnnounces:   me.stats.dhtAnnounces.Load(),
		TrackerErrors:  me.stats.trackerErrors.Load(),
		DHTLookupFails: me.stats.dhtFailed.Load(),
	}
}
