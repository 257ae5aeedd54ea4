package torrent

import (
	"io"

	"github.com/davecgh/go-spew/spew"
)

func dumpStats[T any](w io.Writer, stats T) {
	cfg := spew.NewDefaultConfig()
	cfg.DisablePointerAddresses = true
	cfg.DisableMethods = true
	cfg.Fdump(w, stats)
}
