package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anacrolix/log"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	torrent "github.com/marmolejo/bittorrent-client"
	"github.com/marmolejo/bittorrent-client/discovery"
	"github.com/marmolejo/bittorrent-client/iplist"
)

type discoverCmd struct {
	Timeout     time.Duration `default:"1m" help:"stop after this long"`
	Port        int           `help:"torrent listen port, chosen by the system if zero"`
	DhtPort     int           `help:"DHT UDP port, chosen by the system if zero"`
	NoDht       bool          `arg:"--no-dht"`
	NoTrackers  bool          `arg:"--no-trackers"`
	Blocklist   string        `help:"P2P or CIDR format list of addresses to ignore"`
	MetricsAddr string        `help:"serve prometheus metrics and status on this address"`
	Identifiers []string      `arg:"positional,required" help:"hex or base32 info-hash, magnet link, or metainfo file"`
}

func loadBlocklist(path string) (*iplist.IPList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if strings.HasSuffix(path, ".cidr") {
		ranges, err := iplist.ParseCIDRListReader(f)
		if err != nil {
			return nil, err
		}
		return iplist.New(ranges), nil
	}
	return iplist.NewFromReader(f)
}

func discover(cmd discoverCmd) error {
	cfg := torrent.NewDefaultClientConfig()
	cfg.Logger = logger()
	cfg.ListenPort = cmd.Port
	cfg.DhtPort = cmd.DhtPort
	cfg.NoDHT = cmd.NoDht
	cfg.DisableTrackers = cmd.NoTrackers
	if cmd.Blocklist != "" {
		bl, err := loadBlocklist(cmd.Blocklist)
		if err != nil {
			return fmt.Errorf("loading blocklist: %w", err)
		}
		cfg.Logger.Levelf(log.Info, "loaded %d blocklist ranges", bl.NumRanges())
		cfg.IPBlocklist = bl
	}
	cfg.Callbacks.Peer = append(cfg.Callbacks.Peer, func(t *torrent.Torrent, pa discovery.PeerAddress) {
		fmt.Printf("%s %v %v\n", t.InfoHash().HexString(), pa.Source, pa.Addr)
	})
	cfg.Callbacks.Warning = append(cfg.Callbacks.Warning, func(w *torrent.DiscoveryWarning) {
		cfg.Logger.Levelf(log.Warning, "%v", w)
	})
	cl, err := torrent.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	defer cl.Close()

	if cmd.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(cl.MetricsCollectors()...)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			cl.WriteStatus(w)
		})
		go func() {
			err := http.ListenAndServe(cmd.MetricsAddr, mux)
			cfg.Logger.Levelf(log.Error, "serving metrics: %v", err)
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
	defer cancel()

	for _, s := range cmd.Identifiers {
		id, err := argIdentifier(s)
		if err != nil {
			return err
		}
		// Blocks until the client is ready.
		t, _, err := cl.AddTorrent(id)
		if err != nil {
			return fmt.Errorf("adding %q: %w", s, err)
		}
		cfg.Logger.Levelf(log.Info, "discovering peers for %v", t.Name())
	}
	<-ctx.Done()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		cfg.Logger.Levelf(log.Info, "stopping: %v", context.Cause(ctx))
	}
	for _, t := range cl.Torrents() {
		st := t.Stats()
		fmt.Fprintf(os.Stderr, "%s: %s peers (%d dht, %d tracker, %d blocked), %s down, %s up\n",
			t.Name(),
			humanize.Comma(st.PeersDiscovered.Int64()),
			st.Discovery.DHTPeers,
			st.Discovery.TrackerPeers,
			st.Discovery.BlockedPeers,
			humanize.IBytes(uint64(st.Downloaded)),
			humanize.IBytes(uint64(st.Uploaded)),
		)
	}
	return cl.Close()
}
