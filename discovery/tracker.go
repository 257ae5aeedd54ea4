package discovery

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/anacrolix/torrent/tracker"
	"github.com/anacrolix/torrent/types/infohash"
	"golang.org/x/time/rate"

	"github.com/marmolejo/bittorrent-client/identifier"
)

// Tracker runs announces against a torrent's trackers until stopped.
type Tracker interface {
	// Starts the announce loop. Announces begin immediately.
	Start()
	// Cancels pending announces. No events are emitted after Stop returns.
	Stop()
	// Updates the torrent length used for "left" in announces that haven't been sent yet.
	SetTotalLength(int64)
}

type TrackerConfig struct {
	InfoHash infohash.T
	PeerID   [20]byte
	Port     int
	// Tiered announce URLs.
	AnnounceList [][]string
	TotalLength  g.Option[int64]
	// Used when a tracker doesn't give an interval, and as the retry delay after errors.
	Interval time.Duration
	// Byte totals reported in announces. May be nil.
	Transferred func() (uploaded, downloaded int64)
	UserAgent   string
	Logger      log.Logger
}

type TrackerEvents struct {
	Peer  func(netip.AddrPort)
	Error func(error)
}

type TrackerFactory func(TrackerConfig, TrackerEvents) (Tracker, error)

// AnnounceError is a failed announce to a single tracker.
type AnnounceError struct {
	URL string
	Err error
}

func (me *AnnounceError) Error() string {
	return fmt.Sprintf("announcing to %q: %v", me.URL, me.Err)
}

func (me *AnnounceError) Unwrap() error {
	return me.Err
}

const (
	defaultTrackerInterval = 30 * time.Minute
	minTrackerInterval     = time.Minute
	trackerAnnounceTimeout = 30 * time.Second
)

// trackerClient announces to every URL of every tier independently.
type trackerClient struct {
	cfg         TrackerConfig
	events      TrackerEvents
	urls        []string
	key         int32
	totalLength atomic.Int64
	lengthKnown atomic.Bool

	// Held for reading while events are emitted. See Coordinator.emitMu.
	emitMu sync.RWMutex

	mu      sync.Mutex
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ Tracker = (*trackerClient)(nil)

// NewTracker is the default TrackerFactory, announcing with anacrolix/torrent/tracker over HTTP
// and UDP.
func NewTracker(cfg TrackerConfig, events TrackerEvents) (Tracker, error) {
	urls := identifier.FlattenTrackers(cfg.AnnounceList)
	if len(urls) == 0 {
		return nil, fmt.Errorf("no announce urls for %v", cfg.InfoHash)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultTrackerInterval
	}
	if cfg.Logger.IsZero() {
		cfg.Logger = log.Default
	}
	me := &trackerClient{
		cfg:    cfg,
		events: events,
		urls:   urls,
		key:    rand.Int32(),
	}
	if cfg.TotalLength.Ok {
		me.SetTotalLength(cfg.TotalLength.Value)
	}
	me.ctx, me.cancel = context.WithCancel(context.Background())
	return me, nil
}

func (me *trackerClient) SetTotalLength(n int64) {
	me.totalLength.Store(n)
	me.lengthKnown.Store(true)
}

func (me *trackerClient) Start() {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.started || me.stopped {
		return
	}
	me.started = true
	for _, u := range me.urls {
		me.wg.Add(1)
		go func() {
			defer me.wg.Done()
			me.announceLoop(u)
		}()
	}
}

func (me *trackerClient) Stop() {
	me.mu.Lock()
	if me.stopped {
		me.mu.Unlock()
		return
	}
	me.stopped = true
	me.mu.Unlock()
	me.emitMu.Lock()
	me.cancel()
	me.emitMu.Unlock()
	me.wg.Wait()
}

func (me *trackerClient) announceLoop(url string) {
	event := tracker.Started
	timer := time.NewTimer(0)
	defer timer.Stop()
	// Trackers asking for short intervals, or retries, can't make us announce more often than this.
	limiter := rate.NewLimiter(rate.Every(minTrackerInterval), 1)
	for {
		select {
		case <-me.ctx.Done():
			return
		case <-timer.C:
		}
		if limiter.Wait(me.ctx) != nil {
			return
		}
		interval, err := me.announce(url, event)
		if me.ctx.Err() != nil {
			return
		}
		if err != nil {
			me.cfg.Logger.Levelf(log.Debug, "%v", err)
			me.emit(func() {
				if me.events.Error != nil {
					me.events.Error(err)
				}
			})
			interval = me.cfg.Interval
		} else {
			event = tracker.None
		}
		timer.Reset(interval)
	}
}

func (me *trackerClient) emit(f func()) {
	me.emitMu.RLock()
	defer me.emitMu.RUnlock()
	if me.ctx.Err() != nil {
		return
	}
	f()
}

func (me *trackerClient) request(event tracker.AnnounceEvent) tracker.AnnounceRequest {
	req := tracker.AnnounceRequest{
		InfoHash: me.cfg.InfoHash,
		PeerId:   me.cfg.PeerID,
		Event:    event,
		Key:      me.key,
		NumWant:  -1,
		Port:     uint16(me.cfg.Port),
		Left:     -1,
	}
	if me.cfg.Transferred != nil {
		req.Uploaded, req.Downloaded = me.cfg.Transferred()
	}
	if me.lengthKnown.Load() {
		req.Left = max(me.totalLength.Load()-req.Downloaded, 0)
	}
	return req
}

func (me *trackerClient) announce(url string, event tracker.AnnounceEvent) (interval time.Duration, err error) {
	ctx, cancel := context.WithTimeout(me.ctx, trackerAnnounceTimeout)
	defer cancel()
	res, err := tracker.Announce{
		TrackerUrl: url,
		Request:    me.request(event),
		UserAgent:  me.cfg.UserAgent,
		Context:    ctx,
	}.Do()
	if err != nil {
		err = &AnnounceError{URL: url, Err: err}
		return
	}
	me.emit(func() {
		for _, p := range res.Peers {
			if addr, ok := addrPortFromIPPort(p.IP, p.Port); ok && me.events.Peer != nil {
				me.events.Peer(addr)
			}
		}
	})
	interval = time.Duration(res.Interval) * time.Second
	if interval <= 0 {
		interval = me.cfg.Interval
	}
	return
}
