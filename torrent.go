package torrent

import (
	"fmt"
	"slices"

	"github.com/anacrolix/chansync"
	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/anacrolix/torrent/types/infohash"

	"github.com/marmolejo/bittorrent-client/discovery"
	"github.com/marmolejo/bittorrent-client/identifier"
	"github.com/marmolejo/bittorrent-client/stats"
)

type torrentState int

const (
	torrentActive torrentState = iota
	torrentClosing
	torrentClosed
)

func (me torrentState) String() string {
	switch me {
	case torrentActive:
		return "active"
	case torrentClosing:
		return "closing"
	case torrentClosed:
		return "closed"
	default:
		return fmt.Sprintf("torrentState(%d)", int(me))
	}
}

// Maintains state of torrent within a Client. The metadata may not be known until SetInfo is called.
type Torrent struct {
	cl       *Client
	infoHash infohash.T
	logger   log.Logger

	// These are guarded by the Client lock.
	displayName string
	trackers    [][]string
	totalLength g.Option[int64]
	state       torrentState

	coordinator *discovery.Coordinator
	swarm       Swarm

	uploaded   *stats.Meter
	downloaded *stats.Meter
	counters   TorrentCounters

	closed chansync.SetOnce
}

func (t *Torrent) String() string {
	return t.infoHash.HexString()
}

func (t *Torrent) InfoHash() infohash.T {
	return t.infoHash
}

// The display name if there is one, otherwise the info-hash.
func (t *Torrent) Name() string {
	t.cl.rLock()
	defer t.cl.rUnlock()
	if t.displayName != "" {
		return t.displayName
	}
	return t.infoHash.HexString()
}

func (t *Torrent) AnnounceList() [][]string {
	t.cl.rLock()
	defer t.cl.rUnlock()
	return cloneTiers(t.trackers)
}

func (t *Torrent) TotalLength() g.Option[int64] {
	t.cl.rLock()
	defer t.cl.rUnlock()
	return t.totalLength
}

func (t *Torrent) MagnetURI() string {
	t.cl.rLock()
	defer t.cl.rUnlock()
	return identifier.MagnetURI(t.descriptorLocked())
}

func (t *Torrent) descriptorLocked() identifier.Descriptor {
	return identifier.Descriptor{
		InfoHash:    t.infoHash,
		Trackers:    cloneTiers(t.trackers),
		DisplayName: t.displayName,
		TotalLength: t.totalLength,
	}
}

func (t *Torrent) Swarm() Swarm {
	return t.swarm
}

// Closed once the torrent is removed, or the Client is closed.
func (t *Torrent) Closed() <-chan struct{} {
	return t.closed.Done()
}

func (t *Torrent) AddUploaded(n int64) {
	t.uploaded.Mark(n)
}

func (t *Torrent) AddDownloaded(n int64) {
	t.downloaded.Mark(n)
}

// Bytes per second.
func (t *Torrent) UploadRate() float64 {
	return t.uploaded.Rate()
}

// Bytes per second.
func (t *Torrent) DownloadRate() float64 {
	return t.downloaded.Rate()
}

func (t *Torrent) Ratio() float64 {
	return stats.Ratio(t.uploaded.Total(), t.downloaded.Total())
}

func (t *Torrent) transfer() stats.Transfer {
	return stats.Transfer{
		Uploaded:     t.uploaded.Total(),
		Downloaded:   t.downloaded.Total(),
		UploadRate:   t.uploaded.Rate(),
		DownloadRate: t.downloaded.Rate(),
	}
}

func (t *Torrent) transferred() (uploaded, downloaded int64) {
	return t.uploaded.Total(), t.downloaded.Total()
}

// SetInfo is for a Swarm that obtains the torrent's metadata after it was added. New trackers are
// announced to, and trackers already running are told the total length.
func (t *Torrent) SetInfo(totalLength int64, announceList [][]string) {
	t.cl.lock()
	defer t.cl.unlock()
	if t.state != torrentActive {
		return
	}
	t.mergeLocked(torrentSpec{Descriptor: identifier.Descriptor{
		Trackers:    announceList,
		TotalLength: g.Some(totalLength),
	}})
}

// Applies anything new in spec. Emits TorrentReady if the total length becomes known.
func (t *Torrent) mergeLocked(spec torrentSpec) {
	if t.displayName == "" {
		t.displayName = spec.DisplayName
	}
	n := len(t.trackers)
	t.trackers = mergeTrackers(t.trackers, spec.Trackers)
	trackersChanged := len(t.trackers) != n
	gotLength := !t.totalLength.Ok && spec.TotalLength.Ok
	if gotLength {
		t.totalLength = spec.TotalLength
	}
	if !gotLength && !trackersChanged {
		return
	}
	t.coordinator.SetInfo(cloneTiers(t.trackers), t.totalLength)
	if gotLength {
		t.cl._mu.Defer(func() { t.cl.config.Callbacks.torrentReady(t) })
	}
}

func (t *Torrent) onPeer(pa discovery.PeerAddress) {
	t.countEvent(peersDiscoveredCount)
	t.swarm.AddPeers([]discovery.PeerAddress{pa})
	t.cl.config.Callbacks.peer(t, pa)
}

func (t *Torrent) onWarning(err error) {
	t.countEvent(warningsCount)
	t.logger.Levelf(log.Warning, "%v", err)
	t.cl.config.Callbacks.warning(&DiscoveryWarning{InfoHash: t.infoHash, Err: err})
}

func (t *Torrent) onDhtAnnounce() {
	t.countEvent(dhtAnnouncesCount)
	t.logger.Levelf(log.Debug, "announced to dht")
}

// Stops discovery and closes the swarm. Both are attempted. Returns the first error.
func (t *Torrent) close() (err error) {
	defer t.closed.Set()
	err = t.coordinator.Stop()
	if swarmErr := t.swarm.Close(); err == nil && swarmErr != nil {
		err = fmt.Errorf("closing swarm: %w", swarmErr)
	}
	return
}

func cloneTiers(tiers [][]string) (ret [][]string) {
	for _, tier := range tiers {
		ret = append(ret, slices.Clone(tier))
	}
	return
}
