package torrent

import (
	"slices"

	g "github.com/anacrolix/generics"

	"github.com/marmolejo/bittorrent-client/identifier"
)

// Extra details for AddTorrent, beyond what the identifier carries.
type AddTorrentOpts struct {
	// Tiered tracker URLs, merged with any from the identifier.
	Trackers [][]string
	// The name to use if the identifier doesn't have one.
	DisplayName string
	TotalLength g.Option[int64]
	// Used instead of ClientConfig.OpenSwarm for this torrent.
	Swarm Swarm
}

type AddTorrentOpt func(*AddTorrentOpts)

func WithTrackers(tiers ...[]string) AddTorrentOpt {
	return func(o *AddTorrentOpts) {
		o.Trackers = append(o.Trackers, tiers...)
	}
}

func WithDisplayName(name string) AddTorrentOpt {
	return func(o *AddTorrentOpts) {
		o.DisplayName = name
	}
}

func WithTotalLength(n int64) AddTorrentOpt {
	return func(o *AddTorrentOpts) {
		o.TotalLength.Set(n)
	}
}

// WithSwarm hands s to the Client. It's closed when the torrent is removed, or as soon as the add
// fails or merges into a torrent that already has a swarm. Malformed identifiers are rejected
// before s is taken.
func WithSwarm(s Swarm) AddTorrentOpt {
	return func(o *AddTorrentOpts) {
		o.Swarm = s
	}
}

// What a single AddTorrent call knows about the torrent.
type torrentSpec struct {
	identifier.Descriptor
	swarm Swarm
}

func newTorrentSpec(d identifier.Descriptor, opts []AddTorrentOpt) (spec torrentSpec) {
	var o AddTorrentOpts
	for _, opt := range opts {
		opt(&o)
	}
	spec.Descriptor = d
	spec.Trackers = mergeTrackers(slices.Clone(d.Trackers), o.Trackers)
	if spec.DisplayName == "" {
		spec.DisplayName = o.DisplayName
	}
	if !spec.TotalLength.Ok {
		spec.TotalLength = o.TotalLength
	}
	spec.swarm = o.Swarm
	return
}

// Appends tiers from more, leaving out URLs already present anywhere in into. Returns into
// unchanged if nothing is new.
func mergeTrackers(into, more [][]string) [][]string {
	seen := make(map[string]struct{})
	for _, tier := range into {
		for _, u := range tier {
			seen[u] = struct{}{}
		}
	}
	for _, tier := range more {
		var newTier []string
		for _, u := range tier {
			if _, ok := seen[u]; ok || u == "" {
				continue
			}
			seen[u] = struct{}{}
			newTier = append(newTier, u)
		}
		if len(newTier) != 0 {
			into = append(into, newTier)
		}
	}
	return into
}
