package paxosrole

import (
	"bufio"
	"context"
	"log"
	"net"
	"sync"
	"time"

	"paxoslog/internal/wire"
)

const catchupRetry = 500 * time.Millisecond

// Learner accumulates ACCEPTED messages per slot, and once a slot has a
// quorum of matching acceptances, emits its value to the output stream in
// strict slot order (spec.md §4.3). Emission runs on its own goroutine so a
// gap waiting for a missing slot never blocks the receive loop.
type Learner struct {
	ID     int64
	conn   *wire.Conn
	logger *log.Logger

	peers  []*net.UDPAddr // other learners, for catch-up
	quorum int
	out    *bufio.Writer

	mu           sync.Mutex
	cond         *sync.Cond
	decisions    map[int64]wire.Submission
	maxDecided   int64
	haveDecision bool
	accepts      map[int64]map[wire.Ballot]map[string]wire.Submission
	nextToEmit   int64
	stopped      bool

	peerCursor      int
	lastCatchupSent time.Time
}

// NewLearner builds a Learner that writes decided values, one per line, to
// out.
func NewLearner(id int64, conn *wire.Conn, peers []*net.UDPAddr, quorum int, out *bufio.Writer, logger *log.Logger) *Learner {
	l := &Learner{
		ID:        id,
		conn:      conn,
		logger:    logger,
		peers:     peers,
		quorum:    quorum,
		out:       out,
		decisions: make(map[int64]wire.Submission),
		accepts:   make(map[int64]map[wire.Ballot]map[string]wire.Submission),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Run drives the learner's receive loop and catch-up scheduling until ctx is
// cancelled; the emit goroutine is started alongside and stopped on return.
func (l *Learner) Run(ctx context.Context) {
	l.logger.Printf("learner %d listening on %s", l.ID, l.conn.LocalAddr())
	go l.emitLoop()
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.mu.Unlock()
		l.cond.Broadcast()
	}()

	if len(l.peers) > 0 {
		l.sendCatchup(0)
	}

	ticker := time.NewTicker(catchupRetry)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-l.conn.Inbound:
			l.handle(rec.Msg, rec.From)
		case <-ticker.C:
			l.maybeCatchup()
		}
	}
}

func (l *Learner) handle(m wire.Message, from *net.UDPAddr) {
	switch m.Type {
	case wire.Accepted:
		l.recordAccept(m.Slot, m.Ballot, from.String(), m.Value)
	case wire.CatchReq:
		l.serveCatchup(m.Slot, from)
	case wire.CatchRsp:
		l.applyDecision(m.Slot, m.Value)
	default:
		l.logger.Printf("learner %d: ignoring unexpected message type %s", l.ID, m.Type)
	}
}

func (l *Learner) recordAccept(slot int64, ballot wire.Ballot, acceptorAddr string, value wire.Submission) {
	l.mu.Lock()
	if _, done := l.decisions[slot]; done {
		l.mu.Unlock()
		return
	}
	byBallot, ok := l.accepts[slot]
	if !ok {
		byBallot = make(map[wire.Ballot]map[string]wire.Submission)
		l.accepts[slot] = byBallot
	}
	set, ok := byBallot[ballot]
	if !ok {
		set = make(map[string]wire.Submission)
		byBallot[ballot] = set
	}
	if existing, seen := set[acceptorAddr]; seen && existing != value {
		l.mu.Unlock()
		l.logger.Fatalf("safety violation: learner %d saw acceptor %s report two values at slot %d ballot %s",
			l.ID, acceptorAddr, slot, ballot)
		return
	}
	set[acceptorAddr] = value
	reachedQuorum := len(set) >= l.quorum
	l.mu.Unlock()

	if reachedQuorum {
		l.applyDecision(slot, value)
	}
}

// applyDecision records slot's decided value once, checking the safety
// invariant that no two different values ever decide the same slot
// (spec.md §9, global consistency).
func (l *Learner) applyDecision(slot int64, value wire.Submission) {
	l.mu.Lock()
	if existing, ok := l.decisions[slot]; ok {
		l.mu.Unlock()
		if existing != value {
			l.logger.Fatalf("safety violation: learner %d saw conflicting decisions at slot %d: %v vs %v",
				l.ID, slot, existing, value)
		}
		return
	}
	l.decisions[slot] = value
	delete(l.accepts, slot)
	if slot > l.maxDecided || !l.haveDecision {
		l.maxDecided = slot
		l.haveDecision = true
	}
	l.cond.Broadcast()
	l.mu.Unlock()
}

// emitLoop prints decided values in strict slot order, blocking on the
// condition variable while the next slot is still undecided.
func (l *Learner) emitLoop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		for {
			if l.stopped {
				return
			}
			if _, ok := l.decisions[l.nextToEmit]; ok {
				break
			}
			l.cond.Wait()
		}
		value := l.decisions[l.nextToEmit]
		l.nextToEmit++
		l.mu.Unlock()
		l.out.WriteString(value.Value)
		l.out.WriteByte('\n')
		l.out.Flush()
		l.mu.Lock()
	}
}

// maybeCatchup requests the learner's missing next slot from a peer,
// round-robin, if a later slot is already known decided (spec.md §4.3
// catch-up protocol).
func (l *Learner) maybeCatchup() {
	l.mu.Lock()
	need := l.haveDecision && l.nextToEmit <= l.maxDecided
	next := l.nextToEmit
	stale := time.Since(l.lastCatchupSent) >= catchupRetry
	l.mu.Unlock()
	if need && stale {
		l.sendCatchup(next)
	}
}

func (l *Learner) sendCatchup(slot int64) {
	if len(l.peers) == 0 {
		return
	}
	peer := l.peers[l.peerCursor%len(l.peers)]
	l.peerCursor++
	l.lastCatchupSent = time.Now()
	req := wire.Message{Type: wire.CatchReq, Slot: slot, FromLearner: l.ID}
	if err := l.conn.SendTo(peer, req); err != nil {
		l.logger.Printf("learner %d: send CATCHREQ to %s failed: %v", l.ID, peer, err)
	}
}

func (l *Learner) serveCatchup(fromSlot int64, to *net.UDPAddr) {
	l.mu.Lock()
	max := l.maxDecided
	have := l.haveDecision
	decisions := make(map[int64]wire.Submission, len(l.decisions))
	for k, v := range l.decisions {
		decisions[k] = v
	}
	l.mu.Unlock()
	if !have {
		return
	}
	for slot := fromSlot; slot <= max; slot++ {
		value, ok := decisions[slot]
		if !ok {
			continue
		}
		rsp := wire.Message{Type: wire.CatchRsp, Slot: slot, Value: value}
		if err := l.conn.SendTo(to, rsp); err != nil {
			l.logger.Printf("learner %d: send CATCHRSP to %s failed: %v", l.ID, to, err)
		}
	}
}
