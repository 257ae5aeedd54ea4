package torrent

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
)

type statusWriter struct {
	w    io.Writer
	line []any
}

func (me *statusWriter) a(a any) {
	me.line = append(me.line, a)
}

func (me *statusWriter) f(fmtStr string, args ...any) {
	me.line = append(me.line, fmt.Sprintf(fmtStr, args...))
}

func (me *statusWriter) nl() {
	fmt.Fprintln(me.w, me.line...)
	me.line = nil
}

func humanRate(bytesPerSecond float64) string {
	return humanize.IBytes(uint64(bytesPerSecond)) + "/s"
}

// Writes out a human readable status of the client, such as for writing to an HTTP status page.
func (cl *Client) WriteStatus(w io.Writer) {
	sw := statusWriter{w: w}
	cl.rLock()
	state := cl.state
	port := cl.port
	dhtSource := cl.dhtSourceLocked()
	cl.rUnlock()
	sw.f("Client %v, peer ID %v", cl, cl.peerID)
	sw.nl()
	sw.f("State: %v, listen port: %v, DHT: %v", state, port, dhtSource)
	sw.nl()
	torrents := cl.Torrents()
	sw.f("# Torrents: %d", len(torrents))
	sw.nl()
	for _, t := range torrents {
		sw.nl()
		ts := t.Stats()
		sw.a(t.Name())
		sw.f("%s", t.InfoHash().HexString())
		sw.nl()
		if l := t.TotalLength(); l.Ok {
			sw.f("  length %s,", humanize.IBytes(uint64(l.Value)))
		} else {
			sw.a("  length unknown,")
		}
		sw.f("down %s (%s),", humanRate(ts.DownloadRate), humanize.IBytes(uint64(ts.Downloaded)))
		sw.f("up %s (%s),", humanRate(ts.UploadRate), humanize.IBytes(uint64(ts.Uploaded)))
		sw.f("ratio %.2f", ts.Ratio)
		sw.nl()
		sw.f("  peers: %d from dht, %d from trackers, %d blocked",
			ts.Discovery.DHTPeers, ts.Discovery.TrackerPeers, ts.Discovery.BlockedPeers)
		sw.nl()
	}
	sw.nl()
	dumpStats(w, cl.Stats())
}
