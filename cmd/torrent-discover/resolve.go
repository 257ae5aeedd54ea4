package main

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/marmolejo/bittorrent-client/identifier"
)

type resolveCmd struct {
	Identifiers []string `arg:"positional,required" help:"hex or base32 info-hash, magnet link, or metainfo file"`
}

func resolve(cmd resolveCmd) error {
	for _, s := range cmd.Identifiers {
		id, err := argIdentifier(s)
		if err != nil {
			return err
		}
		d, err := identifier.Parse(id)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", d.InfoHash.HexString(), identifier.MagnetURI(d))
		if d.TotalLength.Ok {
			fmt.Printf("  %q, %s, %d trackers\n",
				d.DisplayName, humanize.IBytes(uint64(d.TotalLength.Value)), len(d.AnnounceURLs()))
		}
	}
	return nil
}
