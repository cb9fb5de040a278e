package wire

import "testing"

func TestEncodeParseRoundTrip(t *testing.T) {
	cases := []Message{
		{Type: Prepare, Slot: 3, Ballot: Ballot{Round: 5, ProposerID: 2}},
		{Type: Promise, Slot: 3, Ballot: Ballot{Round: 5, ProposerID: 2}},
		{
			Type: Promise, Slot: 3, Ballot: Ballot{Round: 5, ProposerID: 2},
			AcceptedOK: true, Accepted: Ballot{Round: 4, ProposerID: 1},
			Value: Submission{ClientID: 9, Seq: 1, Value: "hello world"},
		},
		{Type: Accept, Slot: 3, Ballot: Ballot{Round: 5, ProposerID: 2}, Value: Submission{ClientID: 9, Seq: 1, Value: "a b c"}},
		{Type: Accepted, Slot: 3, Ballot: Ballot{Round: 5, ProposerID: 2}, Value: Submission{ClientID: 9, Seq: 1, Value: "x"}, AcceptorID: 7},
		{Type: Nack, Slot: 3, Ballot: Ballot{Round: 6, ProposerID: 1}, Phase: PhasePrepare},
		{Type: Submit, Value: Submission{ClientID: 1, Seq: 2, Value: "line with spaces"}},
		{Type: CatchReq, Slot: 12, FromLearner: 4},
		{Type: CatchRsp, Slot: 12, Value: Submission{ClientID: 1, Seq: 2, Value: "decided value"}},
		{Type: Decided, Value: Submission{ClientID: 1, Seq: 2}},
	}
	for _, want := range cases {
		line, err := want.Encode()
		if err != nil {
			t.Fatalf("Encode(%+v): %v", want, err)
		}
		got, err := Parse(line)
		if err != nil {
			t.Fatalf("Parse(%q): %v", line, err)
		}
		if got != want {
			t.Errorf("round trip mismatch: want %+v, got %+v (line %q)", want, got, line)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	bad := []string{
		"",
		"PREPARE 1 2",
		"PREPARE x 1 2",
		"NACK 1 2 3 WEIRD",
		"SUBMIT 1 %zz bad",
		"BOGUS 1 2 3",
	}
	for _, line := range bad {
		if _, err := Parse(line); err == nil {
			t.Errorf("Parse(%q): expected error, got nil", line)
		}
	}
}

func TestBallotLess(t *testing.T) {
	low := Ballot{Round: 1, ProposerID: 5}
	high := Ballot{Round: 2, ProposerID: 1}
	if !low.Less(high) {
		t.Error("expected lower round to sort first regardless of proposer id")
	}
	tieA := Ballot{Round: 3, ProposerID: 1}
	tieB := Ballot{Round: 3, ProposerID: 2}
	if !tieA.Less(tieB) {
		t.Error("expected tie-break on proposer id")
	}
	if tieA.Less(tieA) {
		t.Error("a ballot must not be less than itself")
	}
}
