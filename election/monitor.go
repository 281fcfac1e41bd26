package election

import (
	"math/rand"
	"time"
)

// monitor probes the elected site at random intervals and starts a new
// election when it stops answering
func (n *Node) monitor() {
	defer n.wg.Done()

	r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(n.self.Index)))

	for {
		timer := time.NewTimer(time.Duration(r.Int63n(int64(n.cfg.ProbeInterval))))

		select {
		case <-timer.C:
			n.probe()
		case <-n.ctx.Done():
			timer.Stop()
			n.log.Debug("Monitor stopping")
			return
		}
	}
}

func (n *Node) probe() {
	leader, err := n.Elected(n.ctx)
	if err != nil {
		n.log.Debugf("No leader to probe: %v", err)
		return
	}

	if err := n.messenger.SendAcked(Echo{}, leader, n.cfg.EchoTimeout); err != nil {
		n.log.Warningf("Leader %s did not answer: %v", leader, err)
		n.StartElection()
		return
	}

	n.log.Tracef("Leader %s answered", leader)
}
