package torrent

import "fmt"

// ClientState only moves forward.
type ClientState int

const (
	ClientBootstrapping ClientState = iota
	ClientReady
	ClientDestroying
	ClientDestroyed
)

func (me ClientState) String() string {
	switch me {
	case ClientBootstrapping:
		return "bootstrapping"
	case ClientReady:
		return "ready"
	case ClientDestroying:
		return "destroying"
	case ClientDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("ClientState(%d)", int(me))
	}
}
