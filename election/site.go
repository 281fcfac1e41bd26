package election

import (
	"bytes"
	"errors"
	"fmt"
	"net"
)

var ErrSiteNotFound = errors.New("site not in directory")

// Site is a participant of the ring
type Site struct {
	Index int
	Addr  *net.UDPAddr

	// Aptitude is the last fitness seen for the site, 0 when unknown
	Aptitude int32
}

func (s *Site) String() string {
	return fmt.Sprintf("%d@%s", s.Index, s.Addr)
}

// Directory is the ordered list of sites forming the ring. The order of the
// sites is fixed at construction.
type Directory struct {
	sites []*Site
}

// NewDirectory resolves every "host:port" endpoint, the position in addrs
// being the ring index of the site
func NewDirectory(addrs []string) (*Directory, error) {
	if len(addrs) == 0 {
		return nil, errors.New("directory needs at least one site")
	}

	if len(addrs) > MaxSites {
		return nil, fmt.Errorf("directory of %d sites exceeds %d", len(addrs), MaxSites)
	}

	d := &Directory{
		sites: make([]*Site, len(addrs)),
	}

	for i, a := range addrs {
		addr, err := net.ResolveUDPAddr("udp", a)
		if err != nil {
			return nil, fmt.Errorf("site %d: %v", i, err)
		}

		d.sites[i] = &Site{
			Index: i,
			Addr:  addr,
		}
	}

	return d, nil
}

func (d *Directory) Len() int {
	return len(d.sites)
}

func (d *Directory) Site(index int) *Site {
	return d.sites[index]
}

func (d *Directory) Sites() []*Site {
	return d.sites
}

// Next returns the successor of index on the ring
func (d *Directory) Next(index int) *Site {
	return d.sites[(index+1)%len(d.sites)]
}

func (d *Directory) IndexOf(addr *net.UDPAddr) (int, error) {
	for _, s := range d.sites {
		if s.Addr.IP.Equal(addr.IP) && s.Addr.Port == addr.Port {
			return s.Index, nil
		}
	}

	return -1, fmt.Errorf("%w: %s", ErrSiteNotFound, addr)
}

// clone copies the directory so the aptitude cache is private to one node
func (d *Directory) clone() *Directory {
	c := &Directory{
		sites: make([]*Site, len(d.sites)),
	}

	for i, s := range d.sites {
		cp := *s
		c.sites[i] = &cp
	}

	return c
}

// Better reports whether site a with aptitude aptA ranks above site b with
// aptitude aptB. Higher aptitude wins; on a tie the higher address (IP bytes,
// then port, then index) wins. Every site of a ring must rank the same way.
func (d *Directory) Better(a int, aptA int32, b int, aptB int32) bool {
	if aptA != aptB {
		return aptA > aptB
	}

	sa, sb := d.sites[a].Addr, d.sites[b].Addr

	if c := bytes.Compare(sa.IP.To16(), sb.IP.To16()); c != 0 {
		return c > 0
	}

	if sa.Port != sb.Port {
		return sa.Port > sb.Port
	}

	return a > b
}

// Best returns the index of the best candidate of an announce, or -1 if it is empty
func (d *Directory) Best(aptitudes map[uint8]int32) int {
	best := -1
	var bestApt int32

	for i, apt := range aptitudes {
		if best == -1 || d.Better(int(i), apt, best, bestApt) {
			best = int(i)
			bestApt = apt
		}
	}

	return best
}

// AddressAptitude derives a fitness from the last byte of the IP plus the port
func AddressAptitude(addr *net.UDPAddr) int32 {
	var last int32
	if ip4 := addr.IP.To4(); ip4 != nil {
		last = int32(ip4[3])
	} else if len(addr.IP) > 0 {
		last = int32(addr.IP[len(addr.IP)-1])
	}

	return last + int32(addr.Port)
}
