package iplist

import (
	"bufio"
	"io"
	"net/netip"
	"strings"
)

// ParseCIDRListReader reads one prefix or bare address per line. Blank lines and # comments are
// skipped.
func ParseCIDRListReader(r io.Reader) (ret []Range, err error) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		l := strings.TrimSpace(s.Text())
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		var p netip.Prefix
		if strings.Contains(l, "/") {
			p, err = netip.ParsePrefix(l)
		} else {
			var a netip.Addr
			a, err = netip.ParseAddr(l)
			p = netip.PrefixFrom(a, a.BitLen())
		}
		if err != nil {
			return
		}
		ret = append(ret, PrefixRange(p))
	}
	err = s.Err()
	return
}

// PrefixRange returns the inclusive range covered by p.
func PrefixRange(p netip.Prefix) Range {
	p = p.Masked()
	first := p.Addr()
	b := first.AsSlice()
	for bit := p.Bits(); bit < len(b)*8; bit++ {
		b[bit/8] |= 1 << (7 - bit%8)
	}
	last, _ := netip.AddrFromSlice(b)
	return Range{First: first, Last: last, Description: p.String()}
}
