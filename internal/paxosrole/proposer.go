package paxosrole

import (
	"context"
	"log"
	"math/rand"
	"net"
	"time"

	"paxoslog/internal/wire"
)

type proposerPhase int

const (
	phaseIdle proposerPhase = iota
	phasePreparing
	phaseAccepting
)

const (
	tickInterval       = 50 * time.Millisecond
	retransmitInterval = 300 * time.Millisecond
	maxSameBallotTries  = 2
	backoffBase         = 50 * time.Millisecond
	backoffCap          = 2 * time.Second
)

type submissionKey struct {
	clientID int64
	seq      int64
}

type submission struct {
	key      submissionKey
	value    string
	fromAddr *net.UDPAddr // where to send the DECIDED ack
}

// Proposer drives one slot at a time through Paxos phase 1 / phase 2,
// escalating its ballot on contention, and serves as its own "learner" of
// the outcome so it knows when to advance (spec.md §4.2).
type Proposer struct {
	ID     int64
	conn   *wire.Conn
	logger *log.Logger

	acceptorAddrs []*net.UDPAddr
	quorum        int

	queue      []submission
	queued     map[submissionKey]bool
	decided    map[submissionKey]bool

	round       int64
	currentSlot int64
	phase       proposerPhase
	ballot      wire.Ballot

	promises     map[string]wire.Message // acceptor addr -> PROMISE received this ballot
	acceptedFrom map[string]bool         // acceptor addr -> ACCEPTED received this ballot

	proposeValue wire.Submission

	sameBallotTries int
	backoffAttempt  int
	nextActionAt    time.Time
	pendingResend   bool

	// cross-ballot outcome tracking, acting as a local learner for the
	// slot currently in flight so a decision reached via a different
	// proposer's ballot is still observed (spec.md §4.2 "the proposer is
	// also a learner of its own outcomes").
	decidedSlots map[int64]wire.Submission
	acceptTally  map[int64]map[wire.Ballot]map[string]bool
}

// NewProposer builds a Proposer starting work at slot 0.
func NewProposer(id int64, conn *wire.Conn, acceptorAddrs []*net.UDPAddr, quorum int, logger *log.Logger) *Proposer {
	return &Proposer{
		ID:            id,
		conn:          conn,
		logger:        logger,
		acceptorAddrs: acceptorAddrs,
		quorum:        quorum,
		queued:        make(map[submissionKey]bool),
		decided:       make(map[submissionKey]bool),
		phase:         phaseIdle,
		promises:      make(map[string]wire.Message),
		acceptedFrom:  make(map[string]bool),
		decidedSlots:  make(map[int64]wire.Submission),
		acceptTally:   make(map[int64]map[wire.Ballot]map[string]bool),
	}
}

// Run drives the proposer's event loop until ctx is cancelled.
func (p *Proposer) Run(ctx context.Context) {
	p.logger.Printf("proposer %d listening on %s", p.ID, p.conn.LocalAddr())
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-p.conn.Inbound:
			p.handle(rec.Msg, rec.From)
		case now := <-ticker.C:
			p.onTick(now)
		}
	}
}

func (p *Proposer) handle(m wire.Message, from *net.UDPAddr) {
	switch m.Type {
	case wire.Submit:
		p.handleSubmit(m, from)
	case wire.Promise:
		p.handlePromise(m, from)
	case wire.Nack:
		p.handleNack(m)
	case wire.Accepted:
		p.handleAccepted(m, from)
	default:
		p.logger.Printf("proposer %d: ignoring unexpected message type %s", p.ID, m.Type)
	}
}

// handleSubmit enqueues a client value unless it is a duplicate of one
// already queued or already decided (spec.md §4.2, FIFO submission queue
// deduplicated by (client_id, seq)).
func (p *Proposer) handleSubmit(m wire.Message, from *net.UDPAddr) {
	key := submissionKey{m.Value.ClientID, m.Value.Seq}
	if p.decided[key] {
		// Already decided: ack again in case the client's earlier DECIDED
		// notification was lost.
		p.ackDecided(key, from)
		return
	}
	if p.queued[key] {
		return
	}
	p.queued[key] = true
	p.queue = append(p.queue, submission{key: key, value: m.Value.Value, fromAddr: from})
	if p.phase == phaseIdle {
		p.startPrepare(p.currentSlot)
	}
}

func (p *Proposer) startPrepare(slot int64) {
	p.currentSlot = slot
	p.round++
	p.ballot = wire.Ballot{Round: p.round, ProposerID: p.ID}
	p.phase = phasePreparing
	p.promises = make(map[string]wire.Message)
	p.acceptedFrom = make(map[string]bool)
	p.sameBallotTries = 0
	p.backoffAttempt = 0
	p.sendPrepare()
}

func (p *Proposer) sendPrepare() {
	msg := wire.Message{Type: wire.Prepare, Slot: p.currentSlot, Ballot: p.ballot}
	for _, addr := range p.acceptorAddrs {
		if p.promises[addr.String()].Type == wire.Promise {
			continue
		}
		if err := p.conn.SendTo(addr, msg); err != nil {
			p.logger.Printf("proposer %d: send PREPARE to %s failed: %v", p.ID, addr, err)
		}
	}
	p.nextActionAt = time.Now().Add(retransmitInterval)
}

func (p *Proposer) handlePromise(m wire.Message, from *net.UDPAddr) {
	if p.phase != phasePreparing || m.Slot != p.currentSlot || m.Ballot != p.ballot {
		return
	}
	p.promises[from.String()] = m
	if len(p.promises) < p.quorum {
		return
	}
	// Phase 1 quorum reached: pick the value of the highest accepted ballot
	// among the promises, or our own queue head if none promised a prior
	// acceptance (spec.md §4.2 rule 2).
	var best *wire.Message
	for _, promise := range p.promises {
		if !promise.AcceptedOK {
			continue
		}
		if best == nil || best.Accepted.Less(promise.Accepted) {
			pm := promise
			best = &pm
		}
	}
	var value wire.Submission
	if best != nil {
		value = best.Value
	} else if len(p.queue) > 0 {
		head := p.queue[0]
		value = wire.Submission{ClientID: head.key.clientID, Seq: head.key.seq, Value: head.value}
	} else {
		// No queued value and nothing previously accepted: nothing to
		// propose at this slot yet. Release the slot and wait for SUBMIT.
		p.phase = phaseIdle
		return
	}
	p.phase = phaseAccepting
	p.acceptedFrom = make(map[string]bool)
	p.proposeValue = value
	p.sameBallotTries = 0
	p.backoffAttempt = 0
	p.sendAccept()
}

func (p *Proposer) sendAccept() {
	msg := wire.Message{Type: wire.Accept, Slot: p.currentSlot, Ballot: p.ballot, Value: p.proposeValue}
	for _, addr := range p.acceptorAddrs {
		if p.acceptedFrom[addr.String()] {
			continue
		}
		if err := p.conn.SendTo(addr, msg); err != nil {
			p.logger.Printf("proposer %d: send ACCEPT to %s failed: %v", p.ID, addr, err)
		}
	}
	p.nextActionAt = time.Now().Add(retransmitInterval)
}

// handleNack escalates only on a NACK reporting a ballot strictly above our
// own; a NACK naming an older or equal ballot is stale and ignored.
func (p *Proposer) handleNack(m wire.Message) {
	if m.Slot != p.currentSlot {
		return
	}
	if p.phase != phasePreparing && p.phase != phaseAccepting {
		return
	}
	if !p.ballot.Less(m.Ballot) {
		return
	}
	p.escalate(m.Ballot.Round)
}

// escalate raises the ballot above the observed round and schedules the next
// PREPARE after a jittered exponential backoff, to avoid dueling proposers
// livelocking each other (spec.md §4.2, §9).
func (p *Proposer) escalate(observedRound int64) {
	if observedRound > p.round {
		p.round = observedRound
	}
	p.round++
	p.ballot = wire.Ballot{Round: p.round, ProposerID: p.ID}
	p.phase = phasePreparing
	p.promises = make(map[string]wire.Message)
	p.acceptedFrom = make(map[string]bool)
	p.sameBallotTries = 0
	p.backoffAttempt++
	delay := p.jitteredBackoff()
	p.nextActionAt = time.Now().Add(delay)
	p.pendingResend = true
}

func (p *Proposer) jitteredBackoff() time.Duration {
	d := backoffBase << uint(p.backoffAttempt)
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2 + 1))
	return d/2 + jitter
}

func (p *Proposer) handleAccepted(m wire.Message, from *net.UDPAddr) {
	slot := m.Slot
	if _, already := p.decidedSlots[slot]; already {
		return
	}
	tally, ok := p.acceptTally[slot]
	if !ok {
		tally = make(map[wire.Ballot]map[string]bool)
		p.acceptTally[slot] = tally
	}
	set, ok := tally[m.Ballot]
	if !ok {
		set = make(map[string]bool)
		tally[m.Ballot] = set
	}
	set[from.String()] = true
	if len(set) < p.quorum {
		return
	}
	p.decidedSlots[slot] = m.Value
	delete(p.acceptTally, slot)
	p.onSlotDecided(slot, m.Value)
}

// onSlotDecided advances the proposer's own queue and, if the decided slot
// is the one currently in flight, moves on to the next undecided slot
// (spec.md §4.2 rule: the queue head clears only when the proposer observes
// its own value decided, never merely because some slot decided).
func (p *Proposer) onSlotDecided(slot int64, value wire.Submission) {
	key := submissionKey{value.ClientID, value.Seq}
	if p.queued[key] {
		for i, s := range p.queue {
			if s.key == key {
				p.queue = append(p.queue[:i], p.queue[i+1:]...)
				p.ackDecided(key, s.fromAddr)
				break
			}
		}
		delete(p.queued, key)
	}
	p.decided[key] = true

	if slot == p.currentSlot {
		p.advanceCurrentSlot()
	}
}

func (p *Proposer) advanceCurrentSlot() {
	p.currentSlot++
	for {
		if _, ok := p.decidedSlots[p.currentSlot]; !ok {
			break
		}
		p.currentSlot++
	}
	p.phase = phaseIdle
	p.promises = make(map[string]wire.Message)
	p.acceptedFrom = make(map[string]bool)
	if len(p.queue) > 0 {
		p.startPrepare(p.currentSlot)
	}
}

func (p *Proposer) ackDecided(key submissionKey, to *net.UDPAddr) {
	if to == nil {
		return
	}
	ack := wire.Message{Type: wire.Decided, Value: wire.Submission{ClientID: key.clientID, Seq: key.seq}}
	if err := p.conn.SendTo(to, ack); err != nil {
		p.logger.Printf("proposer %d: send DECIDED ack failed: %v", p.ID, err)
	}
}

func (p *Proposer) onTick(now time.Time) {
	if p.phase == phaseIdle {
		return
	}
	if now.Before(p.nextActionAt) {
		return
	}
	if p.pendingResend {
		p.pendingResend = false
		if p.phase == phasePreparing {
			p.sendPrepare()
		} else {
			p.sendAccept()
		}
		return
	}
	if p.sameBallotTries < maxSameBallotTries {
		p.sameBallotTries++
		if p.phase == phasePreparing {
			p.sendPrepare()
		} else {
			p.sendAccept()
		}
		return
	}
	p.escalate(0)
}
