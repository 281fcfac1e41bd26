package election

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/krantius/ring-election/shared/logging"
	log "github.com/sirupsen/logrus"
)

var (
	ErrClosed = errors.New("election node closed")
	ErrHalted = errors.New("election halted")
)

// Phase is the stage of the election a node is in
type Phase string

const (
	Idle          Phase = "idle"
	Announcing    Phase = "announcing"
	ResultPending Phase = "result-pending"
)

// Config contains the settings of an election node. Zero values are replaced
// by the defaults documented on each field.
type Config struct {
	// QuittanceTimeout bounds the wait for the acknowledgment of one hop, 1s by default
	QuittanceTimeout time.Duration

	// ElectionTimeout bounds one wait of Elected, 1.5 * sites * QuittanceTimeout by default
	ElectionTimeout time.Duration

	// ProbeInterval is the upper bound of the random delay between two leader
	// probes, 10s by default. A negative interval disables probing.
	ProbeInterval time.Duration

	// EchoTimeout bounds the wait for the leader to answer a probe, 2 * QuittanceTimeout by default
	EchoTimeout time.Duration

	// Aptitude computes the fitness of the local site, AddressAptitude by default
	Aptitude func(s *Site) int32

	// Dial opens the socket of an outbound send, a connected UDP socket by default
	Dial DialFunc
}

func (c Config) withDefaults(sites int) Config {
	if c.QuittanceTimeout <= 0 {
		c.QuittanceTimeout = time.Second
	}

	if c.ElectionTimeout <= 0 {
		c.ElectionTimeout = time.Duration(1.5 * float64(sites) * float64(c.QuittanceTimeout))
	}

	if c.ProbeInterval == 0 {
		c.ProbeInterval = 10 * time.Second
	}

	if c.EchoTimeout <= 0 {
		c.EchoTimeout = 2 * c.QuittanceTimeout
	}

	if c.Aptitude == nil {
		c.Aptitude = func(s *Site) int32 {
			return AddressAptitude(s.Addr)
		}
	}

	return c
}

// Node is one site taking part in the ring election
type Node struct {
	// Config stuff
	cfg  Config
	self *Site
	dir  *Directory

	// Election stuff
	phase     Phase
	elected   *Site
	initiator bool
	round     uuid.UUID
	halted    bool
	closed    bool
	changed   chan struct{}

	// Concurrency
	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Connection stuff
	conn      net.PacketConn
	codec     Codec
	messenger *Messenger

	log *log.Entry
}

// Status is a snapshot of the election state of a node
type Status struct {
	Site      int    `json:"site"`
	Phase     Phase  `json:"phase"`
	Elected   *int   `json:"elected"`
	Initiator bool   `json:"initiator"`
	Round     string `json:"round,omitempty"`
	Halted    bool   `json:"halted"`
}

// Listen binds the address of the site at index and starts its node
func Listen(cfg Config, dir *Directory, index int) (*Node, error) {
	if index < 0 || index >= dir.Len() {
		return nil, fmt.Errorf("site index %d outside a ring of %d", index, dir.Len())
	}

	conn, err := net.ListenPacket("udp", dir.Site(index).Addr.String())
	if err != nil {
		return nil, err
	}

	n, err := New(cfg, dir, index, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	n.Start()

	return n, nil
}

// New creates the node of the site at index on an already bound socket
func New(cfg Config, dir *Directory, index int, conn net.PacketConn) (*Node, error) {
	if index < 0 || index >= dir.Len() {
		return nil, fmt.Errorf("site index %d outside a ring of %d", index, dir.Len())
	}

	dir = dir.clone()
	cfg = cfg.withDefaults(dir.Len())

	ctx, cancel := context.WithCancel(context.Background())
	l := logging.ForSite(index)

	n := &Node{
		cfg:       cfg,
		self:      dir.Site(index),
		dir:       dir,
		phase:     Idle,
		changed:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		conn:      conn,
		codec:     Codec{Sites: dir.Len()},
		messenger: newMessenger(dir, cfg.QuittanceTimeout, cfg.Dial, l),
		log:       l,
	}

	l.Infof("Node created on %s, quittance timeout %v, election timeout %v", conn.LocalAddr(), cfg.QuittanceTimeout, cfg.ElectionTimeout)

	return n, nil
}

// Start runs the listener and the leader monitor in the background
func (n *Node) Start() {
	n.wg.Add(1)
	go n.listen()

	if n.cfg.ProbeInterval > 0 {
		n.wg.Add(1)
		go n.monitor()
	}
}

// Close stops the listener and the monitor and releases the socket
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}

	n.closed = true
	n.notifyLocked()
	n.mu.Unlock()

	n.cancel()

	err := n.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	n.wg.Wait()

	n.log.Info("Node closed")

	return err
}

// Status returns a snapshot of the election state
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()

	s := Status{
		Site:      n.self.Index,
		Phase:     n.phase,
		Initiator: n.initiator,
		Halted:    n.halted,
	}

	if n.elected != nil {
		i := n.elected.Index
		s.Elected = &i
	}

	if n.round != uuid.Nil {
		s.Round = n.round.String()
	}

	return s
}

// Site returns the local site
func (n *Node) Site() Site {
	n.mu.Lock()
	defer n.mu.Unlock()

	return *n.self
}

func (n *Node) stopping() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.closed || n.halted
}

// halt stops the election for good after the node lost every ring member
func (n *Node) halt(err error) {
	n.mu.Lock()
	if n.halted || n.closed {
		n.mu.Unlock()
		return
	}

	n.halted = true
	n.notifyLocked()
	n.mu.Unlock()

	n.log.Errorf("Election halted: %v", err)

	n.cancel()
	n.conn.Close()
}

// notifyLocked wakes every goroutine waiting on a state change
func (n *Node) notifyLocked() {
	close(n.changed)
	n.changed = make(chan struct{})
}

func (n *Node) setPhaseLocked(p Phase) {
	if n.phase != p {
		n.roundLog().Debugf("Phase %s -> %s", n.phase, p)
	}

	n.phase = p
	n.notifyLocked()
}

func (n *Node) roundLog() *log.Entry {
	return n.log.WithField("round", n.round.String()[:8])
}

func (n *Node) localAptitude() int32 {
	apt := n.cfg.Aptitude(n.self)
	n.self.Aptitude = apt

	return apt
}

// forward sends msg around the ring from start on its own goroutine, the
// listener must never wait for a quittance it would have to answer itself
func (n *Node) forward(msg Message, start *Site) {
	if n.closed || n.halted {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		to, err := n.messenger.SendToNextReachable(n.ctx, msg, start)
		switch {
		case err == nil:
			n.log.Debugf("Forwarded %s to %s", msg.Kind(), to)
		case errors.Is(err, ErrAllUnreachable):
			n.halt(err)
		case errors.Is(err, context.Canceled):
			n.log.Debugf("Dropped %s, node stopping", msg.Kind())
		default:
			n.log.Errorf("Forwarding %s failed: %v", msg.Kind(), err)
		}
	}()
}
