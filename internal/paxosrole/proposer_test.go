package paxosrole

import (
	"net"
	"testing"

	"paxoslog/internal/wire"
)

// TestProposerDedupesSubmissions drives the proposer's message handlers
// directly (no Run loop, no network) to check FIFO queue dedup by
// (client_id, seq), per spec.md §4.2.
func TestProposerDedupesSubmissions(t *testing.T) {
	conn := mustConn(t)
	acceptors := []*net.UDPAddr{{IP: net.ParseIP("127.0.0.1"), Port: 1}, {IP: net.ParseIP("127.0.0.1"), Port: 2}, {IP: net.ParseIP("127.0.0.1"), Port: 3}}
	p := NewProposer(1, conn, acceptors, 2, discardLogger())

	from := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5000}
	submit := wire.Message{Type: wire.Submit, Value: wire.Submission{ClientID: 1, Seq: 0, Value: "a"}}

	p.handleSubmit(submit, from)
	if len(p.queue) != 1 {
		t.Fatalf("expected 1 queued submission, got %d", len(p.queue))
	}
	p.handleSubmit(submit, from)
	if len(p.queue) != 1 {
		t.Fatalf("duplicate submission was enqueued again: %d entries", len(p.queue))
	}
	if p.phase != phasePreparing {
		t.Fatalf("expected proposer to start phase 1 on first submission, got phase %v", p.phase)
	}
}

// TestProposerEscalatesOnHigherNack checks that a NACK naming a higher
// ballot causes the proposer to adopt a round above it, while a stale NACK
// naming a ballot no higher than its own is ignored.
func TestProposerEscalatesOnHigherNack(t *testing.T) {
	conn := mustConn(t)
	acceptors := []*net.UDPAddr{{IP: net.ParseIP("127.0.0.1"), Port: 1}, {IP: net.ParseIP("127.0.0.1"), Port: 2}, {IP: net.ParseIP("127.0.0.1"), Port: 3}}
	p := NewProposer(1, conn, acceptors, 2, discardLogger())
	p.startPrepare(0)
	firstBallot := p.ballot

	p.handleNack(wire.Message{Type: wire.Nack, Slot: 0, Ballot: wire.Ballot{Round: 1, ProposerID: 1}, Phase: wire.PhasePrepare})
	if p.ballot != firstBallot {
		t.Fatalf("stale NACK should not change ballot: got %v", p.ballot)
	}

	p.handleNack(wire.Message{Type: wire.Nack, Slot: 0, Ballot: wire.Ballot{Round: 9, ProposerID: 2}, Phase: wire.PhasePrepare})
	if !firstBallot.Less(p.ballot) {
		t.Fatalf("expected escalated ballot above %v, got %v", firstBallot, p.ballot)
	}
	if p.ballot.Round <= 9 {
		t.Fatalf("expected round above observed round 9, got %d", p.ballot.Round)
	}
}

// TestProposerAdvancesPastSlotDecidedByAnotherProposer checks that the
// proposer's own-learner fallback recognizes a decision reached under a
// different ballot than the one it is currently running.
func TestProposerAdvancesPastSlotDecidedByAnotherProposer(t *testing.T) {
	conn := mustConn(t)
	acceptors := []*net.UDPAddr{{IP: net.ParseIP("127.0.0.1"), Port: 1}, {IP: net.ParseIP("127.0.0.1"), Port: 2}, {IP: net.ParseIP("127.0.0.1"), Port: 3}}
	p := NewProposer(1, conn, acceptors, 2, discardLogger())
	p.startPrepare(0)

	foreignBallot := wire.Ballot{Round: 50, ProposerID: 2}
	value := wire.Submission{ClientID: 7, Seq: 0, Value: "someone else's value"}
	p.handleAccepted(wire.Message{Type: wire.Accepted, Slot: 0, Ballot: foreignBallot, Value: value, AcceptorID: 1}, acceptors[0])
	p.handleAccepted(wire.Message{Type: wire.Accepted, Slot: 0, Ballot: foreignBallot, Value: value, AcceptorID: 2}, acceptors[1])

	if p.currentSlot != 1 {
		t.Fatalf("expected proposer to advance to slot 1, got %d", p.currentSlot)
	}
	if p.phase != phaseIdle {
		t.Fatalf("expected proposer to return to idle with empty queue, got phase %v", p.phase)
	}
}
