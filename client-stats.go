package torrent

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmolejo/bittorrent-client/discovery"
	"github.com/marmolejo/bittorrent-client/stats"
)

type TorrentStats struct {
	TorrentCounters
	stats.Transfer
	Ratio     float64
	Discovery discovery.CoordinatorStats
}

func (t *Torrent) Stats() TorrentStats {
	tr := t.transfer()
	return TorrentStats{
		TorrentCounters: t.counters.snapshot(),
		Transfer:        tr,
		Ratio:           stats.Ratio(tr.Uploaded, tr.Downloaded),
		Discovery:       t.coordinator.Stats(),
	}
}

type ClientStats struct {
	// Includes torrents that have since been removed.
	TorrentCounters
	// Over current torrents only.
	stats.Totals
	Ratio      float64
	State      ClientState
	ListenPort int
}

func (cl *Client) Stats() ClientStats {
	totals := cl.aggregator.Totals()
	cl.rLock()
	defer cl.rUnlock()
	return ClientStats{
		TorrentCounters: cl.counters.snapshot(),
		Totals:          totals,
		Ratio:           totals.Ratio(),
		State:           cl.state,
		ListenPort:      cl.port,
	}
}

// Summed over current torrents, in bytes per second.
func (cl *Client) DownloadSpeed() float64 {
	return cl.aggregator.DownloadRate()
}

// Summed over current torrents, in bytes per second.
func (cl *Client) UploadSpeed() float64 {
	return cl.aggregator.UploadRate()
}

// Uploaded over downloaded for current torrents. 0 if nothing was downloaded.
func (cl *Client) Ratio() float64 {
	return cl.aggregator.Ratio()
}

// Prometheus gauges reading through to the Client's aggregate transfer stats.
func (cl *Client) MetricsCollectors() []prometheus.Collector {
	return cl.aggregator.Collectors("torrent")
}

func (cl *Client) transfers() (ret []stats.Transfer) {
	for _, t := range cl.Torrents() {
		ret = append(ret, t.transfer())
	}
	return
}
