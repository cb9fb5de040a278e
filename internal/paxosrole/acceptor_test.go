package paxosrole

import (
	"io/ioutil"
	"log"
	"net"
	"testing"
	"time"

	"paxoslog/internal/wire"
)

func discardLogger() *log.Logger {
	return log.New(ioutil.Discard, "", 0)
}

func mustConn(t *testing.T) *wire.Conn {
	t.Helper()
	c, err := wire.Listen("127.0.0.1:0", discardLogger())
	if err != nil {
		t.Fatalf("wire.Listen: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func recvWithin(t *testing.T, conn *wire.Conn, d time.Duration) wire.Message {
	t.Helper()
	select {
	case rec := <-conn.Inbound:
		return rec.Msg
	case <-time.After(d):
		t.Fatal("timed out waiting for message")
		return wire.Message{}
	}
}

func TestAcceptorPromisesHigherBallotAndNacksLower(t *testing.T) {
	aConn := mustConn(t)
	clientConn := mustConn(t)
	a := NewAcceptor(1, aConn, nil, nil, discardLogger())
	go func() {
		rec := <-aConn.Inbound
		a.handle(rec.Msg, rec.From)
		rec = <-aConn.Inbound
		a.handle(rec.Msg, rec.From)
	}()

	self := clientConn.LocalAddr().(*net.UDPAddr)
	aAddr := aConn.LocalAddr().(*net.UDPAddr)

	if err := clientConn.SendTo(aAddr, wire.Message{Type: wire.Prepare, Slot: 1, Ballot: wire.Ballot{Round: 2, ProposerID: 1}}); err != nil {
		t.Fatalf("send prepare: %v", err)
	}
	promise := recvWithin(t, clientConn, time.Second)
	if promise.Type != wire.Promise || promise.AcceptedOK {
		t.Fatalf("expected bare PROMISE, got %+v", promise)
	}

	if err := clientConn.SendTo(aAddr, wire.Message{Type: wire.Prepare, Slot: 1, Ballot: wire.Ballot{Round: 1, ProposerID: 9}}); err != nil {
		t.Fatalf("send prepare: %v", err)
	}
	nack := recvWithin(t, clientConn, time.Second)
	if nack.Type != wire.Nack || nack.Ballot != (wire.Ballot{Round: 2, ProposerID: 1}) {
		t.Fatalf("expected NACK reporting the higher promised ballot, got %+v", nack)
	}
	_ = self
}

func TestAcceptorAcceptsAndBroadcasts(t *testing.T) {
	aConn := mustConn(t)
	learnerConn := mustConn(t)
	clientConn := mustConn(t)

	a := NewAcceptor(1, aConn, []*net.UDPAddr{learnerConn.LocalAddr().(*net.UDPAddr)}, nil, discardLogger())
	go func() {
		for i := 0; i < 1; i++ {
			rec := <-aConn.Inbound
			a.handle(rec.Msg, rec.From)
		}
	}()

	ballot := wire.Ballot{Round: 1, ProposerID: 1}
	value := wire.Submission{ClientID: 1, Seq: 1, Value: "hello"}
	aAddr := aConn.LocalAddr().(*net.UDPAddr)
	if err := clientConn.SendTo(aAddr, wire.Message{Type: wire.Accept, Slot: 0, Ballot: ballot, Value: value}); err != nil {
		t.Fatalf("send accept: %v", err)
	}

	accepted := recvWithin(t, learnerConn, time.Second)
	if accepted.Type != wire.Accepted || accepted.Value != value || accepted.AcceptorID != 1 {
		t.Fatalf("unexpected ACCEPTED broadcast: %+v", accepted)
	}
}
