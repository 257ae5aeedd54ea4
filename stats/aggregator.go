package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Transfer is one torrent's contribution to the totals.
type Transfer struct {
	Uploaded     int64
	Downloaded   int64
	UploadRate   float64
	DownloadRate float64
}

type Totals struct {
	Transfer
	Torrents int
}

func (me Totals) Ratio() float64 {
	return Ratio(me.Uploaded, me.Downloaded)
}

// Aggregator sums whatever its source reports at the time it's asked. It holds no state of its
// own, so torrents that go away stop counting.
type Aggregator struct {
	source func() []Transfer
}

func NewAggregator(source func() []Transfer) *Aggregator {
	return &Aggregator{source: source}
}

func (me *Aggregator) Totals() (ret Totals) {
	for _, t := range me.source() {
		ret.Torrents++
		ret.Uploaded += t.Uploaded
		ret.Downloaded += t.Downloaded
		ret.UploadRate += t.UploadRate
		ret.DownloadRate += t.DownloadRate
	}
	return
}

func (me *Aggregator) DownloadRate() float64 {
	return me.Totals().DownloadRate
}

func (me *Aggregator) UploadRate() float64 {
	return me.Totals().UploadRate
}

func (me *Aggregator) Ratio() float64 {
	return me.Totals().Ratio()
}

// Collectors are gauges reading through to the Aggregator, for registering with a
// prometheus.Registerer.
func (me *Aggregator) Collectors(namespace string) []prometheus.Collector {
	gauge := func(name, help string, f func(Totals) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 {
			return f(me.Totals())
		})
	}
	return []prometheus.Collector{
		gauge("download_rate_bytes", "Smoothed download rate over all torrents, in bytes per second.",
			func(t Totals) float64 { return t.DownloadRate }),
		gauge("upload_rate_bytes", "Smoothed upload rate over all torrents, in bytes per second.",
			func(t Totals) float64 { return t.UploadRate }),
		gauge("ratio", "Bytes uploaded over bytes downloaded.",
			func(t Totals) float64 { return t.Ratio() }),
		gauge("downloaded_bytes", "Bytes downloaded by current torrents.",
			func(t Totals) float64 { return float64(t.Downloaded) }),
		gauge("uploaded_bytes", "Bytes uploaded by current torrents.",
			func(t Totals) float64 { return float64(t.Uploaded) }),
		gauge("torrents", "Number of torrents.",
			func(t Totals) float64 { return float64(t.Torrents) }),
	}
}
