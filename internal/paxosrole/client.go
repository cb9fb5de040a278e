package paxosrole

import (
	"bufio"
	"context"
	"log"
	"net"
	"time"

	"paxoslog/internal/wire"
)

const clientRetransmit = 300 * time.Millisecond

// Client reads one value per input line, submits each to every configured
// proposer, and retransmits any submission it hasn't been told is decided
// yet (spec.md §4.4). It exits once input is exhausted and nothing remains
// outstanding.
type Client struct {
	ID     int64
	conn   *wire.Conn
	logger *log.Logger

	proposerAddrs []*net.UDPAddr
	in            *bufio.Scanner

	nextSeq int64
	pending map[int64]string // seq -> value, not yet acked DECIDED
	eof     bool
}

// NewClient builds a Client reading values from in.
func NewClient(id int64, conn *wire.Conn, proposerAddrs []*net.UDPAddr, in *bufio.Scanner, logger *log.Logger) *Client {
	return &Client{
		ID:            id,
		conn:          conn,
		logger:        logger,
		proposerAddrs: proposerAddrs,
		in:            in,
		pending:       make(map[int64]string),
	}
}

// Run drives the client until every input line has been submitted and
// acknowledged decided, or ctx is cancelled. It returns true on clean
// completion (spec.md §6: exit 0 on clean completion).
func (c *Client) Run(ctx context.Context) bool {
	c.logger.Printf("client %d starting", c.ID)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for c.in.Scan() {
			lines <- c.in.Text()
		}
	}()

	ticker := time.NewTicker(clientRetransmit)
	defer ticker.Stop()
	for {
		if c.eof && len(c.pending) == 0 {
			c.logger.Printf("client %d: DONE", c.ID)
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case line, ok := <-lines:
			if !ok {
				c.eof = true
				lines = nil
				continue
			}
			c.submit(line)
		case rec := <-c.conn.Inbound:
			c.handle(rec.Msg)
		case <-ticker.C:
			c.retransmit()
		}
	}
}

func (c *Client) submit(value string) {
	seq := c.nextSeq
	c.nextSeq++
	c.pending[seq] = value
	c.send(seq, value)
}

func (c *Client) send(seq int64, value string) {
	msg := wire.Message{Type: wire.Submit, Value: wire.Submission{ClientID: c.ID, Seq: seq, Value: value}}
	for _, addr := range c.proposerAddrs {
		if err := c.conn.SendTo(addr, msg); err != nil {
			c.logger.Printf("client %d: send SUBMIT to %s failed: %v", c.ID, addr, err)
		}
	}
}

func (c *Client) retransmit() {
	for seq, value := range c.pending {
		c.send(seq, value)
	}
}

func (c *Client) handle(m wire.Message) {
	if m.Type != wire.Decided || m.Value.ClientID != c.ID {
		return
	}
	delete(c.pending, m.Value.Seq)
}
