package election

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	ErrUnreachable    = errors.New("site unreachable")
	ErrAllUnreachable = errors.New("every site of the ring is unreachable")
)

// DialFunc opens the outbound socket of a single acknowledged send
type DialFunc func(addr *net.UDPAddr, timeout time.Duration) (net.Conn, error)

func dialUDP(addr *net.UDPAddr, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("udp", addr.String(), timeout)
}

// Messenger delivers messages to ring members and waits for their quittance
type Messenger struct {
	dir     *Directory
	codec   Codec
	timeout time.Duration
	dial    DialFunc
	log     *log.Entry
}

func newMessenger(dir *Directory, timeout time.Duration, dial DialFunc, l *log.Entry) *Messenger {
	if dial == nil {
		dial = dialUDP
	}

	return &Messenger{
		dir:     dir,
		codec:   Codec{Sites: dir.Len()},
		timeout: timeout,
		dial:    dial,
		log:     l,
	}
}

// SendAcked sends msg to target on a dedicated socket and blocks until the
// target acknowledges it or timeout elapses
func (m *Messenger) SendAcked(msg Message, target *Site, timeout time.Duration) error {
	conn, err := m.dial(target.Addr, timeout)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, target, err)
	}
	defer conn.Close()

	if _, err := conn.Write(m.codec.Encode(msg)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, target, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, target, err)
	}

	buf := make([]byte, m.codec.MaxSize())

	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, target, err)
	}

	reply, err := m.codec.Decode(buf[:n])
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, target, err)
	}

	if reply.Kind() != KindQuittance {
		return fmt.Errorf("%w: %s replied %s", ErrUnreachable, target, reply.Kind())
	}

	return nil
}

// SendToNextReachable delivers msg to start or, when it does not answer, to the
// first of its successors that does. Every site, the sender included, is tried
// at most once.
func (m *Messenger) SendToNextReachable(ctx context.Context, msg Message, start *Site) (*Site, error) {
	target := start

	for i := 0; i < m.dir.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := m.SendAcked(msg, target, m.timeout)
		if err == nil {
			m.log.Tracef("%s delivered to %s", msg.Kind(), target)
			return target, nil
		}

		if !errors.Is(err, ErrUnreachable) {
			return nil, err
		}

		m.log.Warningf("Skipping %s: %v", target, err)

		target = m.dir.Next(target.Index)
	}

	return nil, fmt.Errorf("%w: %s from %s", ErrAllUnreachable, msg.Kind(), start)
}

// Acknowledge replies a quittance to the sender of an inbound datagram
func (m *Messenger) Acknowledge(conn net.PacketConn, addr net.Addr) error {
	_, err := conn.WriteTo(m.codec.Encode(Quittance{}), addr)
	return err
}
