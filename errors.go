package torrent

import (
	"errors"
	"fmt"

	"github.com/anacrolix/torrent/types/infohash"

	"github.com/marmolejo/bittorrent-client/identifier"
)

var ErrClientClosed = errors.New("client closed")

// Returned synchronously for identifiers that can't be resolved.
type ValidationError = identifier.ValidationError

type NotFoundError struct {
	InfoHash infohash.T
}

func (me *NotFoundError) Error() string {
	return fmt.Sprintf("torrent %v not found", me.InfoHash.HexString())
}

// A discovery source failed, but discovery continues.
type DiscoveryWarning struct {
	InfoHash infohash.T
	Err      error
}

func (me *DiscoveryWarning) Error() string {
	return fmt.Sprintf("discovery for %v: %v", me.InfoHash.HexString(), me.Err)
}

func (me *DiscoveryWarning) Unwrap() error {
	return me.Err
}

// A bootstrap task failed. The Client never becomes ready.
type BootstrapError struct {
	Task string
	Err  error
}

func (me *BootstrapError) Error() string {
	return fmt.Sprintf("bootstrap task %q: %v", me.Task, me.Err)
}

func (me *BootstrapError) Unwrap() error {
	return me.Err
}

// The first failure of a teardown. Every other teardown task still ran.
type TeardownError struct {
	Task string
	Err  error
}

func (me *TeardownError) Error() string {
	return fmt.Sprintf("teardown of %v: %v", me.Task, me.Err)
}

func (me *TeardownError) Unwrap() error {
	return me.Err
}
