package election

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StartElection announces the local site to its successor. It does nothing
// while an election is already running.
func (n *Node) StartElection() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed || n.halted {
		return
	}

	if n.phase == Announcing {
		n.roundLog().Debug("Election already running")
		return
	}

	n.announceLocked()
}

// announceLocked starts a new round whatever the current phase
func (n *Node) announceLocked() {
	n.round = uuid.New()
	n.initiator = true
	n.elected = nil
	n.setPhaseLocked(Announcing)

	apt := n.localAptitude()
	n.roundLog().Infof("Starting election with aptitude %d", apt)

	n.forward(Announce{}.With(n.self.Index, apt), n.dir.Next(n.self.Index))
}

// Elected returns the elected site, waiting for the running election to
// complete. A wait lasting more than the election timeout restarts the
// election.
func (n *Node) Elected(ctx context.Context) (*Site, error) {
	n.mu.Lock()

	if n.phase == Idle && n.elected == nil && !n.closed && !n.halted {
		n.announceLocked()
	}

	for {
		if n.closed {
			n.mu.Unlock()
			return nil, ErrClosed
		}

		if n.halted {
			n.mu.Unlock()
			return nil, ErrHalted
		}

		if n.phase != Announcing && n.elected != nil {
			s := *n.elected
			n.mu.Unlock()
			return &s, nil
		}

		changed := n.changed
		n.mu.Unlock()

		timer := time.NewTimer(n.cfg.ElectionTimeout)

		select {
		case <-changed:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			n.mu.Lock()
			if n.phase == Announcing && !n.closed && !n.halted {
				n.roundLog().Warningf("No result after %v, restarting election", n.cfg.ElectionTimeout)
				n.announceLocked()
			}
			n.mu.Unlock()
		}

		n.mu.Lock()
	}
}

// dataReceived runs the state machine for one inbound message. It is only
// called from the listener so inbound messages are handled one at a time.
func (n *Node) dataReceived(msg Message) {
	switch m := msg.(type) {
	case Announce:
		n.onAnnounce(m)
	case Results:
		n.onResults(m)
	case Echo:
		n.log.Trace("Echo answered")
	}
}

func (n *Node) onAnnounce(a Announce) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed || n.halted {
		return
	}

	self := n.self.Index

	if !a.Has(self) {
		if n.phase != Announcing {
			n.round = uuid.New()
			n.initiator = false
			n.elected = nil
			n.setPhaseLocked(Announcing)
		}

		apt := n.localAptitude()
		n.roundLog().Debugf("Voting with aptitude %d, %d votes so far", apt, len(a.Aptitudes))

		n.forward(a.With(self, apt), n.dir.Next(self))
		return
	}

	winner := n.dir.Best(a.Aptitudes)

	switch n.phase {
	case Announcing:
		for i, apt := range a.Aptitudes {
			n.dir.Site(int(i)).Aptitude = apt
		}

		n.elected = n.dir.Site(winner)
		n.setPhaseLocked(ResultPending)

		n.roundLog().Infof("Announce went round with %d votes, elected %s", len(a.Aptitudes), n.elected)

		n.forward(Results{Elected: uint8(winner), SeenBy: []uint8{uint8(self)}}, n.dir.Next(self))
	case Idle:
		// Another result already reached us, the sites still waiting on
		// this round only need it closed.
		if n.elected != nil && n.elected.Index == winner {
			n.roundLog().Debugf("Closing late announce round for %s", n.elected)
			n.forward(Results{Elected: uint8(winner), SeenBy: []uint8{uint8(self)}}, n.dir.Next(self))
			return
		}

		n.roundLog().Warningf("Late announce elects %d, restarting election", winner)
		n.announceLocked()
	default:
		n.roundLog().Debug("Dropping duplicate announce")
	}
}

func (n *Node) onResults(r Results) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed || n.halted {
		return
	}

	self := n.self.Index
	winner := n.dir.Site(int(r.Elected))

	if r.SeenByIndex(self) {
		switch n.phase {
		case ResultPending:
			if n.elected.Index != winner.Index {
				n.inconsistentLocked(winner)
				return
			}

			n.roundLog().Infof("Results seen by %d sites, election of %s complete", len(r.SeenBy), winner)
			n.setPhaseLocked(Idle)
		default:
			n.roundLog().Debugf("Results for %s already forwarded", winner)
		}

		return
	}

	switch n.phase {
	case Announcing:
		n.elected = winner
		n.setPhaseLocked(Idle)
		n.roundLog().Infof("Elected %s", winner)
	case ResultPending:
		if n.elected.Index != winner.Index {
			n.inconsistentLocked(winner)
			return
		}
	case Idle:
		if n.elected == nil || n.elected.Index != winner.Index {
			n.roundLog().Infof("Adopting elected %s", winner)
		}

		n.elected = winner
		n.notifyLocked()
	}

	n.forward(r.With(self), n.dir.Next(self))
}

func (n *Node) inconsistentLocked(got *Site) {
	n.roundLog().Warningf("Results elect %s but %s was computed, restarting election", got, n.elected)
	n.announceLocked()
}
