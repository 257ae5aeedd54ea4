package discovery

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/anacrolix/torrent/types/infohash"
	"github.com/go-quicktest/qt"
	"github.com/stretchr/testify/require"

	"github.com/marmolejo/bittorrent-client/iplist"
)

type fakeDHT struct {
	ready chan struct{}

	mu           sync.Mutex
	bootstrapErr error
	subscribers  map[int]func(infohash.T, netip.AddrPort)
	nextSub      int
	lookups      []infohash.T
	announces    []int
	closes       int
	announceErr  error
	// If set, Lookup blocks until ctx is done.
	blockLookup   bool
	lookupStarted chan struct{}
}

func newFakeDHT() *fakeDHT {
	return &fakeDHT{
		ready:         make(chan struct{}),
		subscribers:   make(map[int]func(infohash.T, netip.AddrPort)),
		lookupStarted: make(chan struct{}, 10),
	}
}

var _ DHT = (*fakeDHT)(nil)

func (me *fakeDHT) Ready() <-chan struct{} { return me.ready }

func (me *fakeDHT) BootstrapErr() error {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.bootstrapErr
}

func (me *fakeDHT) Port() int { return 6881 }

func (me *fakeDHT) SubscribePeers(f func(infohash.T, netip.AddrPort)) func() {
	me.mu.Lock()
	defer me.mu.Unlock()
	id := me.nextSub
	me.nextSub++
	me.subscribers[id] = f
	return func() {
		me.mu.Lock()
		defer me.mu.Unlock()
		delete(me.subscribers, id)
	}
}

func (me *fakeDHT) numSubscribers() int {
	me.mu.Lock()
	defer me.mu.Unlock()
	return len(me.subscribers)
}

func (me *fakeDHT) emit(ih infohash.T, addr netip.AddrPort) {
	me.mu.Lock()
	var subs []func(infohash.T, netip.AddrPort)
	for _, f := range me.subscribers {
		subs = append(subs, f)
	}
	me.mu.Unlock()
	for _, f := range subs {
		f(ih, addr)
	}
}

func (me *fakeDHT) Lookup(ctx context.Context, ih infohash.T) error {
	me.mu.Lock()
	me.lookups = append(me.lookups, ih)
	block := me.blockLookup
	me.mu.Unlock()
	me.lookupStarted <- struct{}{}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (me *fakeDHT) Announce(ctx context.Context, ih infohash.T, port int) error {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.announces = append(me.announces, port)
	return me.announceErr
}

func (me *fakeDHT) Close() error {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.closes++
	return nil
}

func (me *fakeDHT) numCloses() int {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.closes
}

type fakeTracker struct {
	cfg    TrackerConfig
	events TrackerEvents

	mu          sync.Mutex
	started     bool
	stopped     bool
	totalLength g.Option[int64]
}

func (me *fakeTracker) Start() {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.started = true
}

func (me *fakeTracker) Stop() {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.stopped = true
}

func (me *fakeTracker) SetTotalLength(n int64) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.totalLength.Set(n)
}

type trackerRecorder struct {
	mu       sync.Mutex
	trackers []*fakeTracker
}

func (me *trackerRecorder) factory(cfg TrackerConfig, events TrackerEvents) (Tracker, error) {
	me.mu.Lock()
	defer me.mu.Unlock()
	t := &fakeTracker{cfg: cfg, events: events, totalLength: cfg.TotalLength}
	me.trackers = append(me.trackers, t)
	return t, nil
}

func (me *trackerRecorder) all() []*fakeTracker {
	me.mu.Lock()
	defer me.mu.Unlock()
	return append([]*fakeTracker(nil), me.trackers...)
}

type eventRecorder struct {
	peers        chan PeerAddress
	warnings     chan error
	dhtAnnounces chan struct{}
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		peers:        make(chan PeerAddress, 100),
		warnings:     make(chan error, 100),
		dhtAnnounces: make(chan struct{}, 100),
	}
}

func (me *eventRecorder) events() Events {
	return Events{
		Peer:        func(pa PeerAddress) { me.peers <- pa },
		Warning:     func(err error) { me.warnings <- err },
		DHTAnnounce: func() { me.dhtAnnounces <- struct{}{} },
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		panic("unreachable")
	}
}

func assertNoRecv[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected event: %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

var testInfoHash = infohash.T{1, 2, 3}

func testCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		InfoHash: testInfoHash,
		Port:     42069,
		Logger:   log.Default.FilterLevel(log.Disabled),
	}
}

func TestCoordinatorExternalDHTNeverClosed(t *testing.T) {
	d := newFakeDHT()
	cfg := testCoordinatorConfig()
	cfg.DHT = ExternalDHT(d)
	c := NewCoordinator(cfg, Events{})
	qt.Assert(t, qt.IsNil(c.Start()))
	qt.Assert(t, qt.Equals(d.numSubscribers(), 1))
	qt.Assert(t, qt.IsNil(c.Stop()))
	qt.Assert(t, qt.IsNil(c.Stop()))
	qt.Check(t, qt.Equals(d.numCloses(), 0))
	qt.Check(t, qt.Equals(d.numSubscribers(), 0))
}

func TestCoordinatorOwnedDHTClosedOnce(t *testing.T) {
	d := newFakeDHT()
	created := 0
	cfg := testCoordinatorConfig()
	cfg.DHT = OwnedDHT(func() (DHT, error) {
		created++
		return d, nil
	})
	c := NewCoordinator(cfg, Events{})
	qt.Assert(t, qt.Equals(created, 0))
	qt.Assert(t, qt.IsNil(c.Start()))
	qt.Assert(t, qt.Equals(created, 1))
	qt.Assert(t, qt.IsNil(c.Stop()))
	qt.Assert(t, qt.IsNil(c.Stop()))
	qt.Check(t, qt.Equals(d.numCloses(), 1))
}

func TestCoordinatorOwnedDHTFactoryError(t *testing.T) {
	factoryErr := errors.New("no sockets")
	cfg := testCoordinatorConfig()
	cfg.DHT = OwnedDHT(func() (DHT, error) { return nil, factoryErr })
	c := NewCoordinator(cfg, Events{})
	qt.Check(t, qt.ErrorIs(c.Start(), factoryErr))
	qt.Check(t, qt.IsNil(c.Stop()))
}

func TestCoordinatorStartTwice(t *testing.T) {
	c := NewCoordinator(testCoordinatorConfig(), Events{})
	qt.Assert(t, qt.IsNil(c.Start()))
	qt.Check(t, qt.ErrorIs(c.Start(), ErrAlreadyStarted))
	qt.Check(t, qt.IsNil(c.Stop()))
}

func TestCoordinatorStopWithoutStart(t *testing.T) {
	d := newFakeDHT()
	cfg := testCoordinatorConfig()
	cfg.DHT = OwnedDHT(func() (DHT, error) { return d, nil })
	c := NewCoordinator(cfg, Events{})
	qt.Check(t, qt.IsNil(c.Stop()))
	qt.Check(t, qt.Equals(d.numCloses(), 0))
	qt.Check(t, qt.IsNotNil(c.Start()))
}

func TestCoordinatorDHTLookupThenAnnounce(t *testing.T) {
	d := newFakeDHT()
	cfg := testCoordinatorConfig()
	cfg.DHT = ExternalDHT(d)
	er := newEventRecorder()
	c := NewCoordinator(cfg, er.events())
	require.NoError(t, c.Start())
	defer c.Stop()
	assertNoRecv(t, er.dhtAnnounces)
	close(d.ready)
	recv(t, er.dhtAnnounces)
	d.mu.Lock()
	qt.Check(t, qt.DeepEquals(d.lookups, []infohash.T{testInfoHash}))
	qt.Check(t, qt.DeepEquals(d.announces, []int{42069}))
	d.mu.Unlock()
	qt.Check(t, qt.Equals(c.Stats().DHTAnnounces, int64(1)))
}

func TestCoordinatorDHTAnnounceWaitsForPort(t *testing.T) {
	d := newFakeDHT()
	close(d.ready)
	cfg := testCoordinatorConfig()
	cfg.Port = 0
	cfg.DHT = ExternalDHT(d)
	er := newEventRecorder()
	c := NewCoordinator(cfg, er.events())
	require.NoError(t, c.Start())
	defer c.Stop()
	assertNoRecv(t, er.dhtAnnounces)
	c.SetPort(1337)
	recv(t, er.dhtAnnounces)
	d.mu.Lock()
	qt.Check(t, qt.DeepEquals(d.announces, []int{1337}))
	d.mu.Unlock()
}

func TestCoordinatorDHTAnnounceFailureWarns(t *testing.T) {
	d := newFakeDHT()
	d.announceErr = errors.New("no nodes")
	close(d.ready)
	cfg := testCoordinatorConfig()
	cfg.DHT = ExternalDHT(d)
	er := newEventRecorder()
	c := NewCoordinator(cfg, er.events())
	require.NoError(t, c.Start())
	defer c.Stop()
	err := recv(t, er.warnings)
	qt.Check(t, qt.ErrorIs(err, d.announceErr))
	assertNoRecv(t, er.dhtAnnounces)
}

func TestCoordinatorForwardsDHTPeersForItsInfoHash(t *testing.T) {
	d := newFakeDHT()
	cfg := testCoordinatorConfig()
	cfg.DHT = ExternalDHT(d)
	er := newEventRecorder()
	c := NewCoordinator(cfg, er.events())
	require.NoError(t, c.Start())
	defer c.Stop()
	d.emit(infohash.T{9}, netip.MustParseAddrPort("1.2.3.4:5"))
	addr := netip.MustParseAddrPort("5.6.7.8:9")
	d.emit(testInfoHash, addr)
	// Duplicates go through.
	d.emit(testInfoHash, addr)
	qt.Check(t, qt.Equals(recv(t, er.peers), PeerAddress{Addr: addr, Source: SourceDHT}))
	qt.Check(t, qt.Equals(recv(t, er.peers), PeerAddress{Addr: addr, Source: SourceDHT}))
	assertNoRecv(t, er.peers)
	qt.Check(t, qt.Equals(c.Stats().DHTPeers, int64(2)))
}

func TestCoordinatorTrackerErrorIsWarningAndDHTContinues(t *testing.T) {
	d := newFakeDHT()
	var tr trackerRecorder
	cfg := testCoordinatorConfig()
	cfg.DHT = ExternalDHT(d)
	cfg.Trackers = true
	cfg.NewTracker = tr.factory
	cfg.AnnounceList = [][]string{{"http://tracker.invalid/announce"}}
	er := newEventRecorder()
	c := NewCoordinator(cfg, er.events())
	require.NoError(t, c.Start())
	defer c.Stop()
	trackers := tr.all()
	require.Len(t, trackers, 1)
	qt.Check(t, qt.IsTrue(trackers[0].started))
	qt.Check(t, qt.Equals(trackers[0].cfg.Port, 42069))
	trackerErr := &AnnounceError{URL: "http://tracker.invalid/announce", Err: errors.New("unreachable")}
	trackers[0].events.Error(trackerErr)
	var ae *AnnounceError
	qt.Check(t, qt.ErrorAs(recv(t, er.warnings), &ae))
	addr := netip.MustParseAddrPort("10.0.0.1:6881")
	d.emit(testInfoHash, addr)
	qt.Check(t, qt.Equals(recv(t, er.peers), PeerAddress{Addr: addr, Source: SourceDHT}))
	trackers[0].events.Peer(netip.MustParseAddrPort("10.0.0.2:6881"))
	qt.Check(t, qt.Equals(recv(t, er.peers).Source, SourceTracker))
	qt.Check(t, qt.IsNil(c.Stop()))
	qt.Check(t, qt.IsTrue(trackers[0].stopped))
	qt.Check(t, qt.Equals(c.Stats().TrackerErrors, int64(1)))
}

func TestCoordinatorNoTrackerWithoutURLs(t *testing.T) {
	var tr trackerRecorder
	cfg := testCoordinatorConfig()
	cfg.Trackers = true
	cfg.NewTracker = tr.factory
	c := NewCoordinator(cfg, Events{})
	require.NoError(t, c.Start())
	defer c.Stop()
	qt.Check(t, qt.HasLen(tr.all(), 0))
	c.SetInfo([][]string{{"udp://tracker.invalid:1337"}}, g.Some[int64](100))
	trackers := tr.all()
	require.Len(t, trackers, 1)
	qt.Check(t, qt.Equals(trackers[0].cfg.TotalLength, g.Some[int64](100)))
	qt.Check(t, qt.IsTrue(trackers[0].started))
}

func TestCoordinatorSetInfoUpdatesTrackerInPlace(t *testing.T) {
	var tr trackerRecorder
	cfg := testCoordinatorConfig()
	cfg.Trackers = true
	cfg.NewTracker = tr.factory
	cfg.AnnounceList = [][]string{{"http://a.invalid/announce"}}
	c := NewCoordinator(cfg, Events{})
	require.NoError(t, c.Start())
	defer c.Stop()
	c.SetInfo([][]string{{"http://b.invalid/announce"}}, g.Some[int64](12345))
	trackers := tr.all()
	require.Len(t, trackers, 1)
	trackers[0].mu.Lock()
	defer trackers[0].mu.Unlock()
	qt.Check(t, qt.Equals(trackers[0].totalLength, g.Some[int64](12345)))
}

func TestCoordinatorTrackersDisabled(t *testing.T) {
	var tr trackerRecorder
	cfg := testCoordinatorConfig()
	cfg.NewTracker = tr.factory
	cfg.AnnounceList = [][]string{{"http://a.invalid/announce"}}
	c := NewCoordinator(cfg, Events{})
	require.NoError(t, c.Start())
	defer c.Stop()
	qt.Check(t, qt.HasLen(tr.all(), 0))
}

func TestCoordinatorBlocklist(t *testing.T) {
	d := newFakeDHT()
	cfg := testCoordinatorConfig()
	cfg.DHT = ExternalDHT(d)
	cfg.Blocklist = iplist.New([]iplist.Range{{
		First:       netip.MustParseAddr("10.0.0.0"),
		Last:        netip.MustParseAddr("10.255.255.255"),
		Description: "private",
	}})
	er := newEventRecorder()
	c := NewCoordinator(cfg, er.events())
	require.NoError(t, c.Start())
	defer c.Stop()
	d.emit(testInfoHash, netip.MustParseAddrPort("10.1.2.3:4"))
	ok := netip.MustParseAddrPort("11.1.2.3:4")
	d.emit(testInfoHash, ok)
	qt.Check(t, qt.Equals(recv(t, er.peers).Addr, ok))
	assertNoRecv(t, er.peers)
	qt.Check(t, qt.Equals(c.Stats().BlockedPeers, int64(1)))
}

func TestCoordinatorIgnoresResultsAfterStop(t *testing.T) {
	d := newFakeDHT()
	d.blockLookup = true
	close(d.ready)
	cfg := testCoordinatorConfig()
	cfg.DHT = ExternalDHT(d)
	cfg.Trackers = true
	var tr trackerRecorder
	cfg.NewTracker = tr.factory
	cfg.AnnounceList = [][]string{{"http://a.invalid/announce"}}
	er := newEventRecorder()
	c := NewCoordinator(cfg, er.events())
	require.NoError(t, c.Start())
	recv(t, d.lookupStarted)
	require.NoError(t, c.Stop())
	// The lookup was cancelled, and nothing it or the tracker reports later gets out.
	tr.all()[0].events.Peer(netip.MustParseAddrPort("1.1.1.1:1"))
	tr.all()[0].events.Error(errors.New("late"))
	assertNoRecv(t, er.peers)
	assertNoRecv(t, er.warnings)
	assertNoRecv(t, er.dhtAnnounces)
	d.mu.Lock()
	qt.Check(t, qt.HasLen(d.announces, 0))
	d.mu.Unlock()
}

// Blocks every lookup until released.
type gateRanger struct {
	entered chan struct{}
	release chan struct{}
}

func (me gateRanger) Lookup(netip.Addr) (iplist.Range, bool) {
	me.entered <- struct{}{}
	<-me.release
	return iplist.Range{}, false
}

func (me gateRanger) NumRanges() int { return 0 }

func TestCoordinatorStopWaitsForPeerInFlight(t *testing.T) {
	d := newFakeDHT()
	cfg := testCoordinatorConfig()
	cfg.DHT = ExternalDHT(d)
	gate := gateRanger{entered: make(chan struct{}), release: make(chan struct{})}
	cfg.Blocklist = gate
	er := newEventRecorder()
	c := NewCoordinator(cfg, er.events())
	require.NoError(t, c.Start())
	addr := netip.MustParseAddrPort("1.2.3.4:5")
	// Stands in for a DHT publishing to a subscriber list it copied before Stop.
	go c.onDHTPeer(testInfoHash, addr)
	recv(t, gate.entered)
	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop() }()
	assertNoRecv(t, stopped)
	close(gate.release)
	qt.Assert(t, qt.IsNil(recv(t, stopped)))
	// The peer in flight was delivered before Stop returned. Nothing gets out after.
	qt.Check(t, qt.HasLen(er.peers, 1))
	c.onDHTPeer(testInfoHash, addr)
	c.onTrackerPeer(addr)
	c.warn(errors.New("late"))
	qt.Check(t, qt.HasLen(er.peers, 1))
	qt.Check(t, qt.HasLen(er.warnings, 0))
}

func TestCoordinatorDHTBootstrapFailureWarns(t *testing.T) {
	d := newFakeDHT()
	d.bootstrapErr = errors.New("no initial nodes")
	close(d.ready)
	cfg := testCoordinatorConfig()
	cfg.DHT = ExternalDHT(d)
	er := newEventRecorder()
	c := NewCoordinator(cfg, er.events())
	require.NoError(t, c.Start())
	defer c.Stop()
	qt.Check(t, qt.ErrorIs(recv(t, er.warnings), d.bootstrapErr))
	assertNoRecv(t, er.dhtAnnounces)
	d.mu.Lock()
	qt.Check(t, qt.HasLen(d.lookups, 0))
	d.mu.Unlock()
}
