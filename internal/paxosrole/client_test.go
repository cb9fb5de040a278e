package paxosrole

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"paxoslog/internal/wire"
)

func TestClientExitsOnceAllSubmittedValuesDecided(t *testing.T) {
	clientConn := mustConn(t)
	proposerConn := mustConn(t)

	in := bufio.NewScanner(strings.NewReader("one\ntwo\n"))
	c := NewClient(1, clientConn, []*net.UDPAddr{proposerConn.LocalAddr().(*net.UDPAddr)}, in, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan bool, 1)
	go func() { done <- c.Run(ctx) }()

	acked := map[int64]bool{}
	for len(acked) < 2 {
		rec := recvWithin(t, proposerConn, time.Second)
		if rec.Type != wire.Submit {
			continue
		}
		acked[rec.Value.Seq] = true
		ack := wire.Message{Type: wire.Decided, Value: wire.Submission{ClientID: 1, Seq: rec.Value.Seq}}
		if err := proposerConn.SendTo(clientConn.LocalAddr().(*net.UDPAddr), ack); err != nil {
			t.Fatalf("send DECIDED ack: %v", err)
		}
	}

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected clean completion")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client did not exit after all values decided")
	}
}
