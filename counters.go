package torrent

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Count is an event counter that's safe for concurrent use.
type Count struct {
	n int64
}

var _ fmt.Stringer = (*Count)(nil)

func (me *Count) Add(n int64) {
	atomic.AddInt64(&me.n, n)
}

func (me *Count) Int64() int64 {
	return atomic.LoadInt64(&me.n)
}

func (me *Count) String() string {
	return fmt.Sprintf("%v", me.Int64())
}

func (me *Count) MarshalJSON() ([]byte, error) {
	return json.Marshal(me.Int64())
}

// Discovery events, counted per torrent and for the whole Client.
type TorrentCounters struct {
	PeersDiscovered Count
	Warnings        Count
	DhtAnnounces    Count
}

func (me *TorrentCounters) snapshot() (ret TorrentCounters) {
	ret.PeersDiscovered.n = me.PeersDiscovered.Int64()
	ret.Warnings.n = me.Warnings.Int64()
	ret.DhtAnnounces.n = me.DhtAnnounces.Int64()
	return
}

// Counts an event against the torrent and its Client.
func (t *Torrent) countEvent(field func(*TorrentCounters) *Count) {
	field(&t.counters).Add(1)
	field(&t.cl.counters).Add(1)
}

func peersDiscoveredCount(c *TorrentCounters) *Count { return &c.PeersDiscovered }

func warningsCount(c *TorrentCounters) *Count { return &c.Warnings }

func dhtAnnouncesCount(c *TorrentCounters) *Count { return &c.DhtAnnounces }
