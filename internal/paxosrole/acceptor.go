// Package paxosrole implements the four Paxos role state machines described
// in spec.md §4: acceptor, proposer, learner and client. Each role owns its
// mutable state exclusively inside a single event-loop goroutine (spec.md
// §5); the only way in or out is the wire.Conn each role is built around.
package paxosrole

import (
	"context"
	"log"
	"net"

	"paxoslog/internal/wire"
)

type acceptorSlot struct {
	hasPromised    bool
	promisedBallot wire.Ballot
	hasAccepted    bool
	acceptedBallot wire.Ballot
	acceptedValue  wire.Submission
}

// Acceptor answers PREPARE and ACCEPT messages per the single-decree Paxos
// safety rules, one independent instance per slot (spec.md §4.1). It never
// initiates a message on its own.
type Acceptor struct {
	ID     int64
	conn   *wire.Conn
	logger *log.Logger

	learnerAddrs  []*net.UDPAddr
	proposerAddrs []*net.UDPAddr

	slots map[int64]*acceptorSlot
}

// NewAcceptor builds an Acceptor that broadcasts ACCEPTED to every configured
// learner and proposer endpoint — proposers are included because a proposer
// is also a learner of its own outcomes (spec.md §4.2: "the proposer is also
// a learner of its own outcomes... via direct ACCEPTED broadcast").
func NewAcceptor(id int64, conn *wire.Conn, learnerAddrs, proposerAddrs []*net.UDPAddr, logger *log.Logger) *Acceptor {
	return &Acceptor{
		ID:            id,
		conn:          conn,
		logger:        logger,
		learnerAddrs:  learnerAddrs,
		proposerAddrs: proposerAddrs,
		slots:         make(map[int64]*acceptorSlot),
	}
}

func (a *Acceptor) slot(s int64) *acceptorSlot {
	st, ok := a.slots[s]
	if !ok {
		st = &acceptorSlot{}
		a.slots[s] = st
	}
	return st
}

// Run drives the acceptor's event loop until ctx is cancelled.
func (a *Acceptor) Run(ctx context.Context) {
	a.logger.Printf("acceptor %d listening on %s", a.ID, a.conn.LocalAddr())
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-a.conn.Inbound:
			a.handle(rec.Msg, rec.From)
		}
	}
}

func (a *Acceptor) handle(m wire.Message, from *net.UDPAddr) {
	switch m.Type {
	case wire.Prepare:
		a.handlePrepare(m, from)
	case wire.Accept:
		a.handleAccept(m, from)
	default:
		a.logger.Printf("acceptor %d: ignoring unexpected message type %s", a.ID, m.Type)
	}
}

// handlePrepare implements rule 1 of spec.md §4.1. Ballot ties resolve as
// "not greater", so a repeated PREPARE with an identical ballot yields a
// PROMISE with no state change.
func (a *Acceptor) handlePrepare(m wire.Message, from *net.UDPAddr) {
	st := a.slot(m.Slot)
	if !st.hasPromised || !m.Ballot.Less(st.promisedBallot) {
		st.hasPromised = true
		st.promisedBallot = m.Ballot
		reply := wire.Message{
			Type:       wire.Promise,
			Slot:       m.Slot,
			Ballot:     m.Ballot,
			AcceptedOK: st.hasAccepted,
			Accepted:   st.acceptedBallot,
			Value:      st.acceptedValue,
		}
		if err := a.conn.SendTo(from, reply); err != nil {
			a.logger.Printf("acceptor %d: send PROMISE failed: %v", a.ID, err)
		}
		return
	}
	a.sendNack(m.Slot, st.promisedBallot, wire.PhasePrepare, from)
}

// handleAccept implements rule 2. Invariant A1 (accepted ≤ promised) holds by
// construction: we only accept ballots ≥ the current promise, and we raise
// the promise to match.
func (a *Acceptor) handleAccept(m wire.Message, from *net.UDPAddr) {
	st := a.slot(m.Slot)
	if !st.hasPromised || !m.Ballot.Less(st.promisedBallot) {
		if st.hasAccepted && st.acceptedBallot == m.Ballot && st.acceptedValue != m.Value {
			a.logger.Fatalf("safety violation: acceptor %d accepted two values at slot %d ballot %s: %v vs %v",
				a.ID, m.Slot, m.Ballot, st.acceptedValue, m.Value)
		}
		st.hasPromised = true
		st.promisedBallot = m.Ballot
		st.hasAccepted = true
		st.acceptedBallot = m.Ballot
		st.acceptedValue = m.Value

		accepted := wire.Message{
			Type:       wire.Accepted,
			Slot:       m.Slot,
			Ballot:     m.Ballot,
			Value:      m.Value,
			AcceptorID: a.ID,
		}
		a.conn.Broadcast(a.learnerAddrs, accepted)
		a.conn.Broadcast(a.proposerAddrs, accepted)
		return
	}
	a.sendNack(m.Slot, st.promisedBallot, wire.PhaseAccept, from)
}

func (a *Acceptor) sendNack(slot int64, highest wire.Ballot, phase string, to *net.UDPAddr) {
	nack := wire.Message{Type: wire.Nack, Slot: slot, Ballot: highest, Phase: phase}
	if err := a.conn.SendTo(to, nack); err != nil {
		a.logger.Printf("acceptor %d: send NACK failed: %v", a.ID, err)
	}
}
