// Finds peers for torrents from the command-line, and resolves torrent identifiers.
//
// Example run:
// $ go run ./cmd/torrent-discover discover --timeout 30s 'magnet:?xt=urn:btih:ZOCMZQIPFFW7OLLMIC5HUB6BPCSDEOQU'
// cb84ccc10f296df72d6c40ba7a07c178a4323a14 dht 203.0.113.7:51413
// cb84ccc10f296df72d6c40ba7a07c178a4323a14 tracker 198.51.100.23:6881
package main

import (
	"fmt"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"

	"github.com/marmolejo/bittorrent-client/identifier"
)

var flags struct {
	Debug       bool
	ResolveCmd  *resolveCmd  `arg:"subcommand:resolve" help:"print the info-hash and magnet link for each identifier"`
	DiscoverCmd *discoverCmd `arg:"subcommand:discover" help:"find peers for torrents"`
}

func main() {
	defer envpprof.Stop()
	if err := mainErr(); err != nil {
		log.Printf("error in main: %v", err)
		os.Exit(1)
	}
}

func mainErr() error {
	p := arg.MustParse(&flags)
	switch {
	case flags.ResolveCmd != nil:
		return resolve(*flags.ResolveCmd)
	case flags.DiscoverCmd != nil:
		return discover(*flags.DiscoverCmd)
	default:
		p.Fail(fmt.Sprintf("unexpected subcommand: %v", p.Subcommand()))
		panic("unreachable")
	}
}

func logger() log.Logger {
	if flags.Debug {
		return log.Default
	}
	return log.Default.FilterLevel(log.Info)
}

// Arguments naming readable files are loaded as metainfo. Anything else is an info-hash or magnet
// link.
func argIdentifier(s string) (identifier.Identifier, error) {
	if fi, err := os.Stat(s); err == nil && fi.Mode().IsRegular() {
		b, err := os.ReadFile(s)
		if err != nil {
			return nil, err
		}
		return identifier.Bytes(b), nil
	}
	return identifier.Text(s), nil
}
