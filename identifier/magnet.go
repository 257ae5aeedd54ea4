package identifier

import (
	"github.com/anacrolix/torrent/metainfo"
)

// MagnetURI renders d as a magnet link. Tracker tiers are flattened.
func MagnetURI(d Descriptor) string {
	m := metainfo.Magnet{
		InfoHash:    d.InfoHash,
		Trackers:    d.AnnounceURLs(),
		DisplayName: d.DisplayName,
	}
	return m.String()
}
