package wire

import (
	"fmt"
	"log"
	"net"
	"time"
)

// Conn is a UDP socket that speaks one wire Message per datagram. Received
// messages are delivered on Inbound; malformed datagrams are dropped and
// counted rather than surfaced as errors, per the wire protocol's own
// error-handling rule.
type Conn struct {
	sock     *net.UDPConn
	Inbound  chan Received
	logger   *log.Logger
	done     chan struct{}
	Malformed int64
}

// Received pairs a decoded Message with the address it arrived from.
type Received struct {
	Msg  Message
	From *net.UDPAddr
}

// Listen opens a UDP socket at addr and starts the receive loop in the
// background, mirroring the teacher's ServeAgents goroutine-with-select
// pattern (one persistent read goroutine feeding a channel the owning
// role's event loop selects on).
func Listen(addr string, logger *log.Logger) (*Conn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("wire: resolve %q: %w", addr, err)
	}
	sock, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("wire: listen %q: %w", addr, err)
	}
	c := &Conn{
		sock:    sock,
		Inbound: make(chan Received, 256),
		logger:  logger,
		done:    make(chan struct{}),
	}
	go c.recvLoop()
	return c, nil
}

func (c *Conn) recvLoop() {
	buf := make([]byte, 65536)
	for {
		c.sock.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, from, err := c.sock.ReadFromUDP(buf)
		select {
		case <-c.done:
			return
		default:
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			c.logger.Printf("receive error: %v", err)
			continue
		}
		msg, perr := Parse(string(buf[:n]))
		if perr != nil {
			c.Malformed++
			c.logger.Printf("dropping malformed datagram from %s: %v", from, perr)
			continue
		}
		c.Inbound <- Received{Msg: msg, From: from}
	}
}

// SendTo unicasts m to addr.
func (c *Conn) SendTo(addr *net.UDPAddr, m Message) error {
	line, err := m.Encode()
	if err != nil {
		return err
	}
	_, err = c.sock.WriteToUDP([]byte(line), addr)
	return err
}

// Broadcast unicasts m to every address in addrs; Paxos "broadcast" is
// multiple unicasts since membership is a small, static, known set.
func (c *Conn) Broadcast(addrs []*net.UDPAddr, m Message) {
	line, err := m.Encode()
	if err != nil {
		c.logger.Printf("encode error: %v", err)
		return
	}
	for _, addr := range addrs {
		if _, err := c.sock.WriteToUDP([]byte(line), addr); err != nil {
			c.logger.Printf("send to %s failed: %v", addr, err)
		}
	}
}

// LocalAddr returns the socket's bound address.
func (c *Conn) LocalAddr() net.Addr { return c.sock.LocalAddr() }

// Close stops the receive loop and releases the socket. Calling it again
// after the first call is a no-op.
func (c *Conn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	close(c.done)
	return c.sock.Close()
}
