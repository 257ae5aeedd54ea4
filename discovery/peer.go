package discovery

import (
	"net"
	"net/netip"
)

// Source is where a peer address was learned from.
type Source int

const (
	SourceDHT Source = iota + 1
	SourceTracker
)

func (s Source) String() string {
	switch s {
	case SourceDHT:
		return "dht"
	case SourceTracker:
		return "tracker"
	default:
		return "unknown"
	}
}

// PeerAddress is emitted as-is from whichever source produced it. The same address can show up
// more than once, from either source.
type PeerAddress struct {
	Addr   netip.AddrPort
	Source Source
}

func (me PeerAddress) String() string {
	return me.Addr.String()
}

func addrPortFromIPPort(ip net.IP, port int) (ret netip.AddrPort, ok bool) {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok || port <= 0 || port > 0xffff {
		ok = false
		return
	}
	ret = netip.AddrPortFrom(addr.Unmap(), uint16(port))
	return
}
