// Package transport manages the multicast receive socket and the
// per-interface send sockets an SSDP node needs: one receive loop on the
// multicast group, one sender (which also receives unicast replies on its
// ephemeral port) per local interface.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/time/rate"

	"github.com/halvorsen/upnpnode/internal/iface"
	"github.com/halvorsen/upnpnode/internal/metrics"
)

const readBufferSize = 2048

// Dispatcher receives every datagram read off any of the transport's
// sockets (the multicast receiver and every per-interface sender, which
// also receives unicast search replies on its ephemeral port).
type Dispatcher interface {
	HandlePacket(src *net.UDPAddr, raw string)
}

// socket is one UDP receive loop, shared shape for the multicast receiver
// and each per-interface sender.
type socket struct {
	conn    *net.UDPConn
	limiter *rate.Limiter
}

// Transport owns the multicast receive socket and the per-interface
// senders. It is created fresh by Start and discarded by Close: the node
// must tolerate a nil/closed Transport after Close (spec.md §5).
type Transport struct {
	log        *logrus.Entry
	metrics    *metrics.Registry
	group      net.IP
	groupPort  int
	dispatcher Dispatcher

	ifaces []iface.Info

	recvConn *net.UDPConn
	recvPkt  *ipv4.PacketConn
	senders  map[string]*socket // keyed by iface.Info.Name

	closed bool
	mu     sync.Mutex
	wg     sync.WaitGroup
}

// New constructs an unstarted Transport.
func New(log *logrus.Entry, m *metrics.Registry, group string, groupPort int) *Transport {
	return &Transport{
		log:       log,
		metrics:   m,
		group:     net.ParseIP(group),
		groupPort: groupPort,
		senders:   make(map[string]*socket),
	}
}

// Start binds the multicast receive socket, joins the group on every
// interface, opens one sender socket per interface, and begins receiving
// on all of them. dispatcher is invoked (from whichever receive goroutine
// read the packet) for every datagram.
func (t *Transport) Start(ifaces []iface.Info, ttl int, dispatcher Dispatcher) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ifaces = ifaces
	t.dispatcher = dispatcher

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: t.groupPort})
	if err != nil {
		return fmt.Errorf("transport: listen on multicast port %d: %w", t.groupPort, err)
	}
	pkt := ipv4.NewPacketConn(conn)
	if err := pkt.SetMulticastTTL(ttl); err != nil {
		t.log.WithError(err).Warn("failed to set multicast TTL")
	}

	joined := 0
	for _, ifc := range ifaces {
		if err := pkt.JoinGroup(ifc.NetIface, &net.UDPAddr{IP: t.group}); err != nil {
			t.log.WithError(err).WithField("iface", ifc.Name).Warn("failed to join multicast group")
			continue
		}
		joined++
	}
	if joined == 0 {
		conn.Close()
		return fmt.Errorf("transport: could not join the multicast group on any interface")
	}

	t.recvConn = conn
	t.recvPkt = pkt
	t.closed = false

	t.wg.Add(1)
	go t.receiveLoop(conn)

	for _, ifc := range ifaces {
		sc, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ifc.IP, Port: 0})
		if err != nil {
			t.log.WithError(err).WithField("iface", ifc.Name).Warn("failed to open sender socket")
			continue
		}
		s := &socket{conn: sc, limiter: rate.NewLimiter(rate.Limit(50), 50)}
		t.senders[ifc.Name] = s
		t.wg.Add(1)
		go t.receiveLoop(sc)
	}

	return nil
}

// receiveLoop reads datagrams off conn until it is closed, handing each
// one to the dispatcher. Read errors that are not the result of a close
// are logged and the loop continues.
func (t *Transport) receiveLoop(conn *net.UDPConn) {
	defer t.wg.Done()
	buf := make([]byte, readBufferSize)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if t.isClosed() {
				return
			}
			t.log.WithError(err).Debug("receive error")
			continue
		}
		if t.metrics != nil {
			t.metrics.PacketsReceived.Inc()
		}
		t.dispatcher.HandlePacket(src, string(buf[:n]))
	}
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Send composes (via compose, once per matching interface) and sends a
// message to dst, from every interface whose Matches(dst.IP) is true
// (always every interface, for a multicast destination). Per-interface
// compose or send failures are logged and do not abort the fan-out.
func (t *Transport) Send(dst *net.UDPAddr, compose func(ifc iface.Info) (string, error)) {
	t.mu.Lock()
	ifaces := t.ifaces
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}

	for _, ifc := range ifaces {
		if !ifc.Matches(dst.IP) {
			continue
		}
		body, err := compose(ifc)
		if err != nil {
			t.log.WithError(err).WithField("iface", ifc.Name).Warn("failed to compose outbound message")
			continue
		}

		s, ok := t.senders[ifc.Name]
		if !ok {
			continue
		}
		if s.limiter != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			if err := s.limiter.Wait(ctx); err != nil {
				cancel()
				t.log.WithField("iface", ifc.Name).Debug("outbound rate limit dropped a send")
				continue
			}
			cancel()
		}

		// The wire form gets one more CRLF than the composed body: the
		// body already ends in a blank line (the message terminator),
		// and the sender appends the trailing CRLF that terminates the
		// datagram itself.
		if _, err := s.conn.WriteTo([]byte(body+"\r\n"), dst); err != nil {
			t.log.WithError(err).WithField("iface", ifc.Name).Warn("failed to send")
			continue
		}
	}
}

// GroupAddr is the resolved multicast group address nodes send alive,
// byebye and search messages to.
func (t *Transport) GroupAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: t.group, Port: t.groupPort}
}

// Close shuts down every socket and waits for the receive loops to exit.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.recvConn != nil {
		t.recvConn.Close()
	}
	for _, s := range t.senders {
		s.conn.Close()
	}
	t.mu.Unlock()

	t.wg.Wait()
}
