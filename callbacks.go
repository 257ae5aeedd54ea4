package torrent

import (
	"github.com/marmolejo/bittorrent-client/discovery"
)

// These are called synchronously, and never with the Client lock held, so they may call back into
// the Client. Handlers for Peer and Warning are called from discovery goroutines, and removing a
// torrent waits for them, so they mustn't remove or close synchronously. Events produced together
// are delivered in the order they occurred.
type Callbacks struct {
	// Client-wide failures have a nil Torrent.
	Error []func(*Torrent, error)
	// The torrent knows the port it's reachable on.
	Listening []func(port int, _ *Torrent)
	// The torrent's metadata (total length) is known.
	TorrentReady []func(*Torrent)
	// Non-fatal discovery failures, always a *DiscoveryWarning.
	Warning    []func(*DiscoveryWarning)
	AddTorrent []func(*Torrent)
	Peer       []func(*Torrent, discovery.PeerAddress)
	// Bootstrap succeeded and queued adds have been replayed.
	Ready []func()
}

func (me *Callbacks) error(t *Torrent, err error) {
	for _, f := range me.Error {
		f(t, err)
	}
}

func (me *Callbacks) listening(port int, t *Torrent) {
	for _, f := range me.Listening {
		f(port, t)
	}
}

func (me *Callbacks) torrentReady(t *Torrent) {
	for _, f := range me.TorrentReady {
		f(t)
	}
}

func (me *Callbacks) warning(w *DiscoveryWarning) {
	for _, f := range me.Warning {
		f(w)
	}
}

func (me *Callbacks) addTorrent(t *Torrent) {
	for _, f := range me.AddTorrent {
		f(t)
	}
}

func (me *Callbacks) peer(t *Torrent, pa discovery.PeerAddress) {
	for _, f := range me.Peer {
		f(t, pa)
	}
}

func (me *Callbacks) ready() {
	for _, f := range me.Ready {
		f()
	}
}
