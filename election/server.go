package election

import (
	"fmt"
)

// listen receives the datagrams of the ring on the node socket. Every
// datagram but a quittance is acknowledged before being decoded.
func (n *Node) listen() {
	defer n.wg.Done()

	n.log.Infof("Listening on %s", n.conn.LocalAddr())

	// One byte more than the largest message so oversized datagrams fail to decode
	buf := make([]byte, n.codec.MaxSize()+1)

	for {
		size, addr, err := n.conn.ReadFrom(buf)
		if err != nil {
			if n.stopping() {
				n.log.Debug("Listen ending")
				return
			}

			n.halt(fmt.Errorf("listen error: %v", err))
			return
		}

		data := buf[:size]

		if size > 0 && Kind(data[0]) == KindQuittance {
			n.log.Tracef("Dropping stray quittance from %s", addr)
			continue
		}

		if err := n.messenger.Acknowledge(n.conn, addr); err != nil {
			n.log.Warningf("Quittance to %s failed: %v", addr, err)
		}

		msg, err := n.codec.Decode(data)
		if err != nil {
			n.log.Warningf("Dropping datagram from %s: %v", addr, err)
			continue
		}

		n.log.Tracef("Received %s from %s", msg.Kind(), addr)

		n.dataReceived(msg)
	}
}
