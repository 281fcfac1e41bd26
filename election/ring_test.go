package election

import (
	"net"
	"sync"
	"testing"
	"time"
)

const testQuittanceTimeout = 100 * time.Millisecond

// listenLocal binds a loopback UDP socket on a free port
func listenLocal(t *testing.T) net.PacketConn {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket failed: %v", err)
	}

	return conn
}

func fixedAptitude(apt int32) func(*Site) int32 {
	return func(*Site) int32 { return apt }
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out after %v waiting for %s", timeout, what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// kindCounter counts the datagrams written per message kind
type kindCounter struct {
	mu     sync.Mutex
	counts map[Kind]int
}

func newKindCounter() *kindCounter {
	return &kindCounter{counts: make(map[Kind]int)}
}

func (c *kindCounter) add(k Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counts[k]++
}

func (c *kindCounter) get(k Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.counts[k]
}

type countingConn struct {
	net.Conn
	counter *kindCounter
}

func (c *countingConn) Write(b []byte) (int, error) {
	if len(b) > 0 {
		c.counter.add(Kind(b[0]))
	}

	return c.Conn.Write(b)
}

func countingDial(counter *kindCounter) DialFunc {
	return func(addr *net.UDPAddr, timeout time.Duration) (net.Conn, error) {
		conn, err := dialUDP(addr, timeout)
		if err != nil {
			return nil, err
		}

		return &countingConn{Conn: conn, counter: counter}, nil
	}
}

// dropFirstDial loses the first message of kind k after faking its quittance
func dropFirstDial(k Kind) DialFunc {
	var mu sync.Mutex
	done := false

	return func(addr *net.UDPAddr, timeout time.Duration) (net.Conn, error) {
		conn, err := dialUDP(addr, timeout)
		if err != nil {
			return nil, err
		}

		return &kindFilterConn{Conn: conn, kind: k, drop: func() bool {
			mu.Lock()
			defer mu.Unlock()

			if done {
				return false
			}
			done = true
			return true
		}}, nil
	}
}

type kindFilterConn struct {
	net.Conn
	kind    Kind
	drop    func() bool
	dropped bool
}

func (c *kindFilterConn) Write(b []byte) (int, error) {
	if len(b) > 0 && Kind(b[0]) == c.kind && c.drop() {
		c.dropped = true
		return len(b), nil
	}

	return c.Conn.Write(b)
}

func (c *kindFilterConn) Read(b []byte) (int, error) {
	if c.dropped {
		b[0] = byte(KindQuittance)
		return 1, nil
	}

	return c.Conn.Read(b)
}

// fakePeer acknowledges everything it receives and records the decoded messages
type fakePeer struct {
	conn     net.PacketConn
	received chan Message
	silent   bool
}

func newFakePeer(t *testing.T, silent bool) *fakePeer {
	t.Helper()

	p := &fakePeer{
		conn:     listenLocal(t),
		received: make(chan Message, 32),
		silent:   silent,
	}

	t.Cleanup(func() { p.conn.Close() })

	return p
}

func (p *fakePeer) addr() string {
	return p.conn.LocalAddr().String()
}

func (p *fakePeer) serve(codec Codec) {
	buf := make([]byte, codec.MaxSize())

	for {
		n, addr, err := p.conn.ReadFrom(buf)
		if err != nil {
			return
		}

		if !p.silent {
			p.conn.WriteTo([]byte{byte(KindQuittance)}, addr)
		}

		msg, err := codec.Decode(buf[:n])
		if err != nil {
			continue
		}

		p.received <- msg
	}
}

func (p *fakePeer) expect(t *testing.T) Message {
	t.Helper()

	select {
	case msg := <-p.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("Peer %s received nothing", p.addr())
		return nil
	}
}

func (p *fakePeer) expectNothing(t *testing.T) {
	t.Helper()

	select {
	case msg := <-p.received:
		t.Errorf("Peer %s received unexpected %+v", p.addr(), msg)
	case <-time.After(300 * time.Millisecond):
	}
}

// ring is a set of nodes on loopback sockets. A site listed in dead has its
// port reserved then released so nothing answers there.
type ring struct {
	dir   *Directory
	nodes []*Node
}

func newRing(t *testing.T, aptitudes []int32, dead map[int]bool, tweak func(i int, cfg *Config)) *ring {
	t.Helper()

	conns := make([]net.PacketConn, len(aptitudes))
	addrs := make([]string, len(aptitudes))

	for i := range aptitudes {
		conns[i] = listenLocal(t)
		addrs[i] = conns[i].LocalAddr().String()
	}

	dir, err := NewDirectory(addrs)
	if err != nil {
		t.Fatalf("NewDirectory failed: %v", err)
	}

	r := &ring{
		dir:   dir,
		nodes: make([]*Node, len(aptitudes)),
	}

	for i, apt := range aptitudes {
		if dead[i] {
			conns[i].Close()
			continue
		}

		cfg := Config{
			QuittanceTimeout: testQuittanceTimeout,
			ProbeInterval:    -1,
			Aptitude:         fixedAptitude(apt),
		}

		if tweak != nil {
			tweak(i, &cfg)
		}

		n, err := New(cfg, dir, i, conns[i])
		if err != nil {
			t.Fatalf("New failed for site %d: %v", i, err)
		}

		n.Start()
		r.nodes[i] = n
	}

	t.Cleanup(r.close)

	return r
}

func (r *ring) close() {
	for _, n := range r.nodes {
		if n != nil {
			n.Close()
		}
	}
}

// settled reports whether every live node is idle with a leader
func (r *ring) settled() bool {
	for _, n := range r.nodes {
		if n == nil {
			continue
		}

		s := n.Status()
		if s.Phase != Idle || s.Elected == nil {
			return false
		}
	}

	return true
}
