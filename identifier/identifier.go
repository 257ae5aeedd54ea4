// Package identifier normalizes the forms a torrent can be named by into an info-hash.
package identifier

import (
	"bytes"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/types/infohash"
)

const magnetPrefix = "magnet:"

// Identifier is one of Text, Bytes, InfoHash or *Descriptor. The unexported method closes the set,
// so every variant has to say how it parses.
type Identifier interface {
	parse() (Descriptor, error)
}

// Hex (40 chars), base32 (32 chars) or a magnet URI.
type Text string

// A raw 20 byte info-hash, or bencoded metainfo if longer.
type Bytes []byte

type InfoHash infohash.T

// Descriptor is a torrent that has already been parsed. It's also what every Identifier resolves
// to.
type Descriptor struct {
	InfoHash infohash.T
	// Tiered announce URLs.
	Trackers    [][]string
	DisplayName string
	// Set once the info dictionary is known.
	TotalLength g.Option[int64]
}

var (
	_ Identifier = Text("")
	_ Identifier = Bytes(nil)
	_ Identifier = InfoHash{}
	_ Identifier = (*Descriptor)(nil)
)

// Resolve returns the info-hash named by id. Failures are always *ValidationError.
func Resolve(id Identifier) (ih infohash.T, err error) {
	d, err := Parse(id)
	if err != nil {
		return
	}
	ih = d.InfoHash
	return
}

// Parse is like Resolve but keeps whatever else the identifier carried.
func Parse(id Identifier) (d Descriptor, err error) {
	if id == nil {
		err = &ValidationError{Input: "<nil>", Err: errors.New("no identifier")}
		return
	}
	return id.parse()
}

// Trackers flattened across tiers, without repeats.
func (d Descriptor) AnnounceURLs() []string {
	return FlattenTrackers(d.Trackers)
}

// FlattenTrackers lists the URLs of tiered trackers in order, skipping empty and repeated ones.
func FlattenTrackers(tiers [][]string) (ret []string) {
	seen := make(map[string]struct{})
	for _, tier := range tiers {
		for _, u := range tier {
			if u == "" {
				continue
			}
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			ret = append(ret, u)
		}
	}
	return
}

func (t Text) parse() (d Descriptor, err error) {
	s := strings.TrimSpace(string(t))
	if len(s) >= len(magnetPrefix) && strings.EqualFold(s[:len(magnetPrefix)], magnetPrefix) {
		return parseMagnet(s)
	}
	d.InfoHash, err = decodeInfohashText(s)
	if err != nil {
		err = &ValidationError{Input: quoteInput(s), Err: err}
	}
	return
}

func (b Bytes) parse() (d Descriptor, err error) {
	switch {
	case len(b) == infohash.Size:
		copy(d.InfoHash[:], b)
		return
	case len(b) > infohash.Size:
		d, err = parseMetainfo(b)
		if err != nil {
			err = &ValidationError{Input: fmt.Sprintf("%d bytes of metainfo", len(b)), Err: err}
		}
		return
	default:
		err = &ValidationError{
			Input: fmt.Sprintf("%d bytes", len(b)),
			Err:   fmt.Errorf("expected %d byte info-hash or metainfo", infohash.Size),
		}
		return
	}
}

func (ih InfoHash) parse() (Descriptor, error) {
	return Descriptor{InfoHash: infohash.T(ih)}, nil
}

func (d *Descriptor) parse() (Descriptor, error) {
	if d == nil {
		return Descriptor{}, &ValidationError{Input: "<nil descriptor>", Err: errors.New("no descriptor")}
	}
	if d.InfoHash == (infohash.T{}) {
		return Descriptor{}, &ValidationError{Input: "descriptor", Err: errors.New("zero info-hash")}
	}
	return *d, nil
}

func decodeInfohashText(s string) (ih infohash.T, err error) {
	var n int
	switch len(s) {
	case 2 * infohash.Size:
		n, err = hex.Decode(ih[:], []byte(s))
	case 32:
		n, err = base32.StdEncoding.Decode(ih[:], []byte(strings.ToUpper(s)))
	default:
		err = fmt.Errorf("unhandled info-hash encoding (length %d)", len(s))
		return
	}
	if err != nil {
		err = fmt.Errorf("decoding info-hash: %w", err)
		return
	}
	if n != infohash.Size {
		err = fmt.Errorf("decoded %d bytes", n)
	}
	return
}

func parseMagnet(uri string) (d Descriptor, err error) {
	m, err := metainfo.ParseMagnetUri(uri)
	if err != nil {
		err = &ValidationError{Input: quoteInput(uri), Err: fmt.Errorf("parsing magnet: %w", err)}
		return
	}
	d.InfoHash = m.InfoHash
	d.DisplayName = m.DisplayName
	if len(m.Trackers) != 0 {
		d.Trackers = [][]string{m.Trackers}
	}
	return
}

func parseMetainfo(b []byte) (d Descriptor, err error) {
	mi, err := metainfo.Load(bytes.NewReader(b))
	if err != nil {
		err = fmt.Errorf("decoding metainfo: %w", err)
		return
	}
	if len(mi.InfoBytes) == 0 {
		err = errors.New("metainfo has no info dict")
		return
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		err = fmt.Errorf("unmarshalling info: %w", err)
		return
	}
	d.InfoHash = mi.HashInfoBytes()
	d.Trackers = mi.UpvertedAnnounceList()
	d.DisplayName = info.Name
	d.TotalLength.Set(info.TotalLength())
	return
}

func quoteInput(s string) string {
	const max = 64
	if len(s) > max {
		s = s[:max] + "..."
	}
	return fmt.Sprintf("%q", s)
}
