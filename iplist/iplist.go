// Package iplist holds address ranges that discovery results are filtered against.
package iplist

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"regexp"
	"slices"
	"strings"
)

// Ranger is satisfied by anything that can say whether an address is blocked.
type Ranger interface {
	Lookup(netip.Addr) (r Range, ok bool)
	NumRanges() int
}

type IPList struct {
	ranges []Range
}

var _ Ranger = (*IPList)(nil)

// Range is inclusive at both ends.
type Range struct {
	First, Last netip.Addr
	Description string
}

func (r Range) String() string {
	return fmt.Sprintf("%s-%s (%s)", r.First, r.Last, r.Description)
}

func (r Range) Contains(ip netip.Addr) bool {
	ip = ip.Unmap()
	return r.First.Compare(ip) <= 0 && ip.Compare(r.Last) <= 0
}

// New copies and sorts ranges by their first address. Behaviour is undefined for overlapping
// ranges.
func New(ranges []Range) *IPList {
	sorted := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		r.First = r.First.Unmap()
		r.Last = r.Last.Unmap()
		sorted = append(sorted, r)
	}
	slices.SortFunc(sorted, func(a, b Range) int {
		return a.First.Compare(b.First)
	})
	return &IPList{ranges: sorted}
}

func (me *IPList) NumRanges() int {
	if me == nil {
		return 0
	}
	return len(me.ranges)
}

// Lookup returns the range containing ip, if any.
func (me *IPList) Lookup(ip netip.Addr) (r Range, ok bool) {
	if me == nil || !ip.IsValid() {
		return
	}
	ip = ip.Unmap()
	// Index of the first range starting after ip.
	i, _ := slices.BinarySearchFunc(me.ranges, ip, func(r Range, target netip.Addr) int {
		if r.First.Compare(target) <= 0 {
			return -1
		}
		return 1
	})
	if i == 0 {
		return
	}
	r = me.ranges[i-1]
	ok = r.Contains(ip)
	return
}

var p2pBlocklistLineRe = regexp.MustCompile(`(.*):([\d.]+)-([\d.]+)$`)

// Parse a line of the PeerGuardian Text Lists (P2P) Format. Returns !ok but no error for comment
// and blank lines.
func ParseBlocklistP2PLine(l string) (r Range, ok bool, err error) {
	l = strings.TrimSpace(l)
	if l == "" || strings.HasPrefix(l, "#") {
		return
	}
	sms := p2pBlocklistLineRe.FindStringSubmatch(l)
	if sms == nil {
		err = fmt.Errorf("error parsing %q", l)
		return
	}
	r.Description = sms[1]
	r.First, err = netip.ParseAddr(sms[2])
	if err != nil {
		return
	}
	r.Last, err = netip.ParseAddr(sms[3])
	if err != nil {
		return
	}
	ok = true
	return
}

// NewFromReader reads a P2P format blocklist.
func NewFromReader(f io.Reader) (*IPList, error) {
	var ranges []Range
	s := bufio.NewScanner(f)
	for s.Scan() {
		r, ok, err := ParseBlocklistP2PLine(s.Text())
		if err != nil {
			return nil, err
		}
		if ok {
			ranges = append(ranges, r)
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return New(ranges), nil
}
