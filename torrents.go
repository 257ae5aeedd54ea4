package torrent

import (
	"fmt"

	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/anacrolix/torrent/types/infohash"
	"github.com/elliotchance/orderedmap"

	"github.com/marmolejo/bittorrent-client/discovery"
	"github.com/marmolejo/bittorrent-client/identifier"
	"github.com/marmolejo/bittorrent-client/internal/tasks"
	"github.com/marmolejo/bittorrent-client/stats"
)

// Torrents by info-hash, in the order they were added.
type torrentRegistry struct {
	m *orderedmap.OrderedMap
}

func newTorrentRegistry() torrentRegistry {
	return torrentRegistry{m: orderedmap.NewOrderedMap()}
}

func (me torrentRegistry) get(ih infohash.T) (*Torrent, bool) {
	v, ok := me.m.Get(ih)
	if !ok {
		return nil, false
	}
	return v.(*Torrent), true
}

func (me torrentRegistry) add(t *Torrent) {
	panicif.False(me.m.Set(t.infoHash, t))
}

func (me torrentRegistry) remove(ih infohash.T) bool {
	return me.m.Delete(ih)
}

func (me torrentRegistry) list() (ret []*Torrent) {
	ret = make([]*Torrent, 0, me.m.Len())
	for _, k := range me.m.Keys() {
		v, _ := me.m.Get(k)
		ret = append(ret, v.(*Torrent))
	}
	return
}

func (me torrentRegistry) len() int {
	return me.m.Len()
}

// AddTorrent adds a torrent by any of the identifier forms, and starts discovery for it. If the
// torrent is already present, anything new in id and opts is merged into it, and new is false.
// While the Client is bootstrapping, this blocks until it's ready, then the add is applied in the
// order it was made. Malformed identifiers fail straight away with *ValidationError.
func (cl *Client) AddTorrent(id identifier.Identifier, opts ...AddTorrentOpt) (t *Torrent, new bool, err error) {
	d, err := identifier.Parse(id)
	if err != nil {
		return
	}
	spec := newTorrentSpec(d, opts)
	cl.lock()
	switch {
	case cl.state >= ClientDestroying:
		cl.discardSwarmLocked(spec)
		cl.unlock()
		err = ErrClientClosed
		return
	case cl.bootstrapErr != nil:
		err = cl.bootstrapErr
		cl.discardSwarmLocked(spec)
		cl.unlock()
		return
	case cl.state == ClientBootstrapping:
		p := &pendingAdd{spec: spec, result: make(chan addResult, 1)}
		cl.pendingAdds = append(cl.pendingAdds, p)
		cl.unlock()
		r := <-p.result
		return r.t, r.new, r.err
	}
	defer cl.unlock()
	return cl.addTorrentLocked(spec)
}

func (cl *Client) addTorrentLocked(spec torrentSpec) (t *Torrent, new bool, err error) {
	if t, ok := cl.torrents.get(spec.InfoHash); ok {
		t.mergeLocked(spec)
		if spec.swarm != t.swarm {
			cl.discardSwarmLocked(spec)
		}
		return t, false, nil
	}
	t = &Torrent{
		cl:          cl,
		infoHash:    spec.InfoHash,
		displayName: spec.DisplayName,
		trackers:    cloneTiers(spec.Trackers),
		totalLength: spec.TotalLength,
		uploaded:    stats.NewMeter(cl.config.Clock),
		downloaded:  stats.NewMeter(cl.config.Clock),
	}
	t.logger = cl.logger.WithNames("torrent", spec.InfoHash.HexString()[:8])
	t.swarm = spec.swarm
	if t.swarm == nil {
		t.swarm, err = cl.config.OpenSwarm(t)
		if err != nil {
			err = fmt.Errorf("opening swarm: %w", err)
			return nil, false, err
		}
	}
	t.coordinator = discovery.NewCoordinator(cl.discoveryConfig(spec, t), discovery.Events{
		Peer:        t.onPeer,
		Warning:     t.onWarning,
		DHTAnnounce: t.onDhtAnnounce,
	})
	err = t.coordinator.Start()
	if err != nil {
		t.swarm.Close()
		return nil, false, fmt.Errorf("starting discovery: %w", err)
	}
	cl.torrents.add(t)
	t.logger.Levelf(log.Debug, "added %q", t.displayName)
	port := cl.port
	cl._mu.Defer(func() {
		cl.config.Callbacks.addTorrent(t)
		cl.config.Callbacks.listening(port, t)
		if spec.TotalLength.Ok {
			cl.config.Callbacks.torrentReady(t)
		}
	})
	return t, true, nil
}

// A swarm given to AddTorrent is the Client's to close, even if no Torrent ends up using it.
func (cl *Client) discardSwarmLocked(spec torrentSpec) {
	s := spec.swarm
	if s == nil {
		return
	}
	cl._mu.Defer(func() {
		if err := s.Close(); err != nil {
			cl.logger.Levelf(log.Warning, "closing unused swarm for %v: %v", spec.InfoHash, err)
		}
	})
}

// Returns *NotFoundError if the torrent isn't present.
func (cl *Client) Torrent(id identifier.Identifier) (*Torrent, error) {
	ih, err := identifier.Resolve(id)
	if err != nil {
		return nil, err
	}
	cl.rLock()
	defer cl.rUnlock()
	t, ok := cl.torrents.get(ih)
	if !ok {
		return nil, &NotFoundError{InfoHash: ih}
	}
	return t, nil
}

// Returns handles to the current torrents, in the order they were added.
func (cl *Client) Torrents() []*Torrent {
	cl.rLock()
	defer cl.rUnlock()
	return cl.torrents.list()
}

// RemoveTorrent stops discovery for the torrent and closes its swarm. It returns *NotFoundError,
// changing nothing, if the torrent isn't present, or a *TeardownError if releasing it failed.
func (cl *Client) RemoveTorrent(id identifier.Identifier) error {
	ih, err := identifier.Resolve(id)
	if err != nil {
		return err
	}
	cl.lock()
	t, ok := cl.torrents.get(ih)
	if !ok {
		cl.unlock()
		return &NotFoundError{InfoHash: ih}
	}
	cl.torrents.remove(ih)
	t.state = torrentClosing
	cl.unlock()
	err = cl.teardown([]tasks.Task{t.teardownTask()})
	cl.lock()
	t.state = torrentClosed
	cl.unlock()
	return err
}
