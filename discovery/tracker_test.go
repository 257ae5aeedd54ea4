package discovery

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"testing"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/anacrolix/torrent/bencode"
	"github.com/go-quicktest/qt"
	"github.com/stretchr/testify/require"
)

func trackerServer(t *testing.T, queries chan<- url.Values) *httptest.Server {
	compact := []byte{
		1, 2, 3, 4, 0x1a, 0xe1,
		5, 6, 7, 8, 0x1a, 0xe2,
	}
	body, err := bencode.Marshal(map[string]any{
		"interval": 1800,
		"peers":    string(compact),
	})
	require.NoError(t, err)
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.Query()
		w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func TestTrackerAnnouncesAndEmitsPeers(t *testing.T) {
	queries := make(chan url.Values, 10)
	s := trackerServer(t, queries)
	peers := make(chan netip.AddrPort, 10)
	tr, err := NewTracker(TrackerConfig{
		InfoHash:     testInfoHash,
		PeerID:       [20]byte{'-', 'G', 'T'},
		Port:         42069,
		AnnounceList: [][]string{{s.URL + "/announce"}},
		TotalLength:  g.Some[int64](1000),
		Transferred:  func() (int64, int64) { return 5, 100 },
		Logger:       log.Default.FilterLevel(log.Disabled),
	}, TrackerEvents{
		Peer: func(addr netip.AddrPort) { peers <- addr },
	})
	require.NoError(t, err)
	tr.Start()
	defer tr.Stop()
	q := recv(t, queries)
	qt.Check(t, qt.Equals(q.Get("info_hash"), string(testInfoHash[:])))
	qt.Check(t, qt.Equals(q.Get("event"), "started"))
	qt.Check(t, qt.Equals(q.Get("port"), "42069"))
	qt.Check(t, qt.Equals(q.Get("left"), "900"))
	qt.Check(t, qt.Equals(q.Get("uploaded"), "5"))
	qt.Check(t, qt.Equals(recv(t, peers), netip.MustParseAddrPort("1.2.3.4:6881")))
	qt.Check(t, qt.Equals(recv(t, peers), netip.MustParseAddrPort("5.6.7.8:6882")))
}

func TestTrackerSetTotalLengthBeforeStart(t *testing.T) {
	queries := make(chan url.Values, 10)
	s := trackerServer(t, queries)
	tr, err := NewTracker(TrackerConfig{
		InfoHash:     testInfoHash,
		Port:         1,
		AnnounceList: [][]string{{s.URL}},
		Logger:       log.Default.FilterLevel(log.Disabled),
	}, TrackerEvents{})
	require.NoError(t, err)
	tr.SetTotalLength(4096)
	tr.Start()
	defer tr.Stop()
	qt.Check(t, qt.Equals(recv(t, queries).Get("left"), "4096"))
}

func TestTrackerErrorsReported(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "go away", http.StatusInternalServerError)
	}))
	defer s.Close()
	errs := make(chan error, 10)
	tr, err := NewTracker(TrackerConfig{
		InfoHash:     testInfoHash,
		Port:         1,
		AnnounceList: [][]string{{s.URL}},
		Logger:       log.Default.FilterLevel(log.Disabled),
	}, TrackerEvents{
		Error: func(err error) { errs <- err },
	})
	require.NoError(t, err)
	tr.Start()
	var ae *AnnounceError
	qt.Assert(t, qt.ErrorAs(recv(t, errs), &ae))
	qt.Check(t, qt.Equals(ae.URL, s.URL))
	tr.Stop()
	// Stopping twice is fine.
	tr.Stop()
}

func TestTrackerRequiresURLs(t *testing.T) {
	_, err := NewTracker(TrackerConfig{
		AnnounceList: [][]string{{}, {""}},
	}, TrackerEvents{})
	qt.Check(t, qt.IsNotNil(err))
}

func TestAnnounceErrorUnwraps(t *testing.T) {
	inner := errors.New("refused")
	err := error(&AnnounceError{URL: "udp://x", Err: inner})
	qt.Check(t, qt.ErrorIs(err, inner))
}
