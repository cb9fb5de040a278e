// Package wire implements the line-oriented wire protocol exchanged between
// Paxos role processes: one self-delimited, whitespace-separated message per
// line, values percent-encoded so embedded whitespace survives a single UDP
// datagram.
package wire

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Type identifies the kind of message carried on one wire line.
type Type string

const (
	Prepare  Type = "PREPARE"
	Promise  Type = "PROMISE"
	Accept   Type = "ACCEPT"
	Accepted Type = "ACCEPTED"
	Nack     Type = "NACK"
	Submit   Type = "SUBMIT"
	CatchReq Type = "CATCHREQ"
	CatchRsp Type = "CATCHRSP"
	Decided  Type = "DECIDED"
)

// Phase names used inside a NACK line to say which phase was rejected.
const (
	PhasePrepare = "PREP"
	PhaseAccept  = "ACC"
)

// Ballot is the (round, proposer id) pair that totally orders Paxos attempts.
// The undefined ballot "⊥" is not a Ballot value: holders carry a separate
// flag (Message.AcceptedOK, the acceptor's hasPromised/hasAccepted).
type Ballot struct {
	Round      int64
	ProposerID int64
}

// Less reports whether b sorts strictly before o: by round, proposer id breaks ties.
func (b Ballot) Less(o Ballot) bool {
	if b.Round != o.Round {
		return b.Round < o.Round
	}
	return b.ProposerID < o.ProposerID
}

func (b Ballot) String() string {
	return fmt.Sprintf("(%d,%d)", b.Round, b.ProposerID)
}

// Submission is the client-tagged value a proposer drives to decision. The
// wrapper crosses acceptors and learners unexamined except for equality.
type Submission struct {
	ClientID int64
	Seq      int64
	Value    string
}

func (s Submission) encode() string {
	return fmt.Sprintf("%d:%d:%s", s.ClientID, s.Seq, url.QueryEscape(s.Value))
}

func decodeSubmission(tok string) (Submission, error) {
	parts := strings.SplitN(tok, ":", 3)
	if len(parts) != 3 {
		return Submission{}, fmt.Errorf("wire: malformed submission token %q", tok)
	}
	clientID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Submission{}, fmt.Errorf("wire: bad client id in %q: %w", tok, err)
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Submission{}, fmt.Errorf("wire: bad seq in %q: %w", tok, err)
	}
	value, err := url.QueryUnescape(parts[2])
	if err != nil {
		return Submission{}, fmt.Errorf("wire: bad value in %q: %w", tok, err)
	}
	return Submission{ClientID: clientID, Seq: seq, Value: value}, nil
}

// Message is the decoded form of any wire line. Only the fields relevant to
// Type are populated; the rest hold their zero value, mirroring the flat
// message struct style the corpus favors over per-type wire structs.
type Message struct {
	Type Type

	Slot       int64
	Ballot     Ballot
	AcceptedOK bool // whether an accepted ballot/value accompanies a PROMISE
	Accepted   Ballot
	Value      Submission

	AcceptorID int64
	Phase      string // PhasePrepare | PhaseAccept, for NACK

	FromLearner int64 // CATCHREQ: requesting learner's id
}

func field(i int64) string { return strconv.FormatInt(i, 10) }

func optBallotFields(ok bool, b Ballot) (string, string) {
	if !ok {
		return "-", "-"
	}
	return field(b.Round), field(b.ProposerID)
}

// Encode renders m as one wire line, without a trailing newline.
func (m Message) Encode() (string, error) {
	switch m.Type {
	case Prepare:
		return fmt.Sprintf("PREPARE %s %s %s", field(m.Slot), field(m.Ballot.Round), field(m.Ballot.ProposerID)), nil
	case Promise:
		ar, ap := optBallotFields(m.AcceptedOK, m.Accepted)
		av := "-"
		if m.AcceptedOK {
			av = m.Value.encode()
		}
		return fmt.Sprintf("PROMISE %s %s %s %s %s %s",
			field(m.Slot), field(m.Ballot.Round), field(m.Ballot.ProposerID), ar, ap, av), nil
	case Accept:
		return fmt.Sprintf("ACCEPT %s %s %s %s",
			field(m.Slot), field(m.Ballot.Round), field(m.Ballot.ProposerID), m.Value.encode()), nil
	case Accepted:
		return fmt.Sprintf("ACCEPTED %s %s %s %s %s",
			field(m.Slot), field(m.Ballot.Round), field(m.Ballot.ProposerID), m.Value.encode(), field(m.AcceptorID)), nil
	case Nack:
		return fmt.Sprintf("NACK %s %s %s %s",
			field(m.Slot), field(m.Ballot.Round), field(m.Ballot.ProposerID), m.Phase), nil
	case Submit:
		return fmt.Sprintf("SUBMIT %s %s %s", field(m.Value.ClientID), field(m.Value.Seq), url.QueryEscape(m.Value.Value)), nil
	case CatchReq:
		return fmt.Sprintf("CATCHREQ %s %s", field(m.Slot), field(m.FromLearner)), nil
	case CatchRsp:
		return fmt.Sprintf("CATCHRSP %s %s", field(m.Slot), m.Value.encode()), nil
	case Decided:
		return fmt.Sprintf("DECIDED %s %s", field(m.Value.ClientID), field(m.Value.Seq)), nil
	default:
		return "", fmt.Errorf("wire: unknown message type %q", m.Type)
	}
}

var ErrMalformed = fmt.Errorf("wire: malformed message")

// Parse decodes one wire line (without its trailing newline) into a Message.
func Parse(line string) (Message, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Message{}, ErrMalformed
	}
	switch Type(fields[0]) {
	case Prepare:
		if len(fields) != 4 {
			return Message{}, ErrMalformed
		}
		slot, err1 := strconv.ParseInt(fields[1], 10, 64)
		round, err2 := strconv.ParseInt(fields[2], 10, 64)
		pid, err3 := strconv.ParseInt(fields[3], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return Message{}, ErrMalformed
		}
		return Message{Type: Prepare, Slot: slot, Ballot: Ballot{round, pid}}, nil

	case Promise:
		if len(fields) != 7 {
			return Message{}, ErrMalformed
		}
		slot, err1 := strconv.ParseInt(fields[1], 10, 64)
		round, err2 := strconv.ParseInt(fields[2], 10, 64)
		pid, err3 := strconv.ParseInt(fields[3], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return Message{}, ErrMalformed
		}
		m := Message{Type: Promise, Slot: slot, Ballot: Ballot{round, pid}}
		if fields[4] != "-" {
			ar, err4 := strconv.ParseInt(fields[4], 10, 64)
			ap, err5 := strconv.ParseInt(fields[5], 10, 64)
			if err4 != nil || err5 != nil {
				return Message{}, ErrMalformed
			}
			val, err := decodeSubmission(fields[6])
			if err != nil {
				return Message{}, ErrMalformed
			}
			m.AcceptedOK = true
			m.Accepted = Ballot{ar, ap}
			m.Value = val
		}
		return m, nil

	case Accept:
		if len(fields) != 5 {
			return Message{}, ErrMalformed
		}
		slot, err1 := strconv.ParseInt(fields[1], 10, 64)
		round, err2 := strconv.ParseInt(fields[2], 10, 64)
		pid, err3 := strconv.ParseInt(fields[3], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return Message{}, ErrMalformed
		}
		val, err := decodeSubmission(fields[4])
		if err != nil {
			return Message{}, ErrMalformed
		}
		return Message{Type: Accept, Slot: slot, Ballot: Ballot{round, pid}, Value: val}, nil

	case Accepted:
		if len(fields) != 6 {
			return Message{}, ErrMalformed
		}
		slot, err1 := strconv.ParseInt(fields[1], 10, 64)
		round, err2 := strconv.ParseInt(fields[2], 10, 64)
		pid, err3 := strconv.ParseInt(fields[3], 10, 64)
		acceptorID, err4 := strconv.ParseInt(fields[5], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return Message{}, ErrMalformed
		}
		val, err := decodeSubmission(fields[4])
		if err != nil {
			return Message{}, ErrMalformed
		}
		return Message{Type: Accepted, Slot: slot, Ballot: Ballot{round, pid}, Value: val, AcceptorID: acceptorID}, nil

	case Nack:
		if len(fields) != 5 {
			return Message{}, ErrMalformed
		}
		slot, err1 := strconv.ParseInt(fields[1], 10, 64)
		round, err2 := strconv.ParseInt(fields[2], 10, 64)
		pid, err3 := strconv.ParseInt(fields[3], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return Message{}, ErrMalformed
		}
		phase := fields[4]
		if phase != PhasePrepare && phase != PhaseAccept {
			return Message{}, ErrMalformed
		}
		return Message{Type: Nack, Slot: slot, Ballot: Ballot{round, pid}, Phase: phase}, nil

	case Submit:
		if len(fields) != 4 {
			return Message{}, ErrMalformed
		}
		clientID, err1 := strconv.ParseInt(fields[1], 10, 64)
		seq, err2 := strconv.ParseInt(fields[2], 10, 64)
		if err1 != nil || err2 != nil {
			return Message{}, ErrMalformed
		}
		value, err := url.QueryUnescape(fields[3])
		if err != nil {
			return Message{}, ErrMalformed
		}
		return Message{Type: Submit, Value: Submission{ClientID: clientID, Seq: seq, Value: value}}, nil

	case CatchReq:
		if len(fields) != 3 {
			return Message{}, ErrMalformed
		}
		slot, err1 := strconv.ParseInt(fields[1], 10, 64)
		learner, err2 := strconv.ParseInt(fields[2], 10, 64)
		if err1 != nil || err2 != nil {
			return Message{}, ErrMalformed
		}
		return Message{Type: CatchReq, Slot: slot, FromLearner: learner}, nil

	case CatchRsp:
		if len(fields) != 3 {
			return Message{}, ErrMalformed
		}
		slot, err1 := strconv.ParseInt(fields[1], 10, 64)
		if err1 != nil {
			return Message{}, ErrMalformed
		}
		val, err := decodeSubmission(fields[2])
		if err != nil {
			return Message{}, ErrMalformed
		}
		return Message{Type: CatchRsp, Slot: slot, Value: val}, nil

	case Decided:
		if len(fields) != 3 {
			return Message{}, ErrMalformed
		}
		clientID, err1 := strconv.ParseInt(fields[1], 10, 64)
		seq, err2 := strconv.ParseInt(fields[2], 10, 64)
		if err1 != nil || err2 != nil {
			return Message{}, ErrMalformed
		}
		return Message{Type: Decided, Value: Submission{ClientID: clientID, Seq: seq}}, nil

	default:
		return Message{}, ErrMalformed
	}
}
