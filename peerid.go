package torrent

import (
	"crypto/rand"
	"encoding/hex"
)

// Azureus-style prefix for generated peer IDs.
const DefaultPeerIDPrefix = "-GT0001-"

type PeerID [20]byte

func (me PeerID) String() string {
	if me[0] == '-' && me[7] == '-' {
		return string(me[:8]) + hex.EncodeToString(me[8:])
	}
	return hex.EncodeToString(me[:])
}

// Fills whatever prefix doesn't with random bytes.
func generatePeerID(prefix string) (ret PeerID) {
	n := copy(ret[:], prefix)
	rand.Read(ret[n:])
	return
}
