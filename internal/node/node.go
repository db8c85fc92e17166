// Package node implements NodeFacade: the single entry point wiring
// together interface enumeration, the SSDP wire layer, the multicast
// transport, the description HTTP server and its content cache, the
// scheduler, and the publisher/scanner cores into one Configured ->
// Running -> Closed object.
package node

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/halvorsen/upnpnode/internal/descserver"
	"github.com/halvorsen/upnpnode/internal/iface"
	"github.com/halvorsen/upnpnode/internal/metrics"
	"github.com/halvorsen/upnpnode/internal/publisher"
	"github.com/halvorsen/upnpnode/internal/scanner"
	"github.com/halvorsen/upnpnode/internal/schedule"
	"github.com/halvorsen/upnpnode/internal/ssdp"
	"github.com/halvorsen/upnpnode/internal/transport"
)

// State is the node lifecycle: Configured (fresh), Running (Start
// succeeded), Closed (Close has run, terminal).
type State int

const (
	Configured State = iota
	Running
	Closed
)

func (s State) String() string {
	switch s {
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	defaultMulticastIP   = "239.255.255.250"
	defaultMulticastPort = 1900
	defaultTTL           = 300
	defaultMX            = 5
)

// Node is the facade: construct with New, configure with the fluent
// setters or New's options, Start it, Publish/Withdraw/StartScan while
// Running, and Close it exactly once.
type Node struct {
	mu    sync.Mutex
	state State
	log   *logrus.Entry

	multicastIP      string
	multicastPort    int
	httpPort         int
	httpPortSet      bool
	ttl              int
	mx               int
	sayByeByeOnClose bool

	metricsRegisterer prometheus.Registerer
	metricsNamespace  string

	ifaceRegistry iface.Enumerator
	ifaces        []iface.Info

	scheduler  *schedule.Scheduler
	metrics    *metrics.Registry
	transport  *transport.Transport
	cache      *descserver.ContentCache
	descServer *descserver.Server
	publisher  *publisher.Core
	scanner    *scanner.Core
	reannounce *schedule.Periodic
}

// New constructs a Configured Node with protocol defaults (multicast
// group 239.255.255.250:1900, TTL 300s, MX 5s, byebye-on-close true),
// applying opts on top.
func New(opts ...Option) *Node {
	n := &Node{
		state:            Configured,
		log:              logrus.NewEntry(logrus.StandardLogger()),
		multicastIP:      defaultMulticastIP,
		multicastPort:    defaultMulticastPort,
		ttl:              defaultTTL,
		mx:               defaultMX,
		sayByeByeOnClose: true,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// --- fluent configuration setters (valid only in the Configured state) ---

// SetMulticastGroup overrides the default multicast group/port.
func (n *Node) SetMulticastGroup(ip string, port int) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.multicastIP, n.multicastPort = ip, port
	return n
}

// SetHTTPPort configures the port the description server listens on.
// Without this, publishing a message with a filesystem or inline
// Descriptor fails: there is nowhere to resolve its LOCATION against.
func (n *Node) SetHTTPPort(port int) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.httpPort, n.httpPortSet = port, true
	return n
}

// SetTTL overrides the CACHE-CONTROL max-age and re-announcement period
// (period = TTL * 0.333 seconds).
func (n *Node) SetTTL(seconds int) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ttl = seconds
	return n
}

// SetMX overrides the MX this node advertises on the searches it issues.
func (n *Node) SetMX(seconds int) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mx = seconds
	return n
}

// SetSayByeByeOnClose controls whether Close announces byebye for every
// published message before tearing down sockets.
func (n *Node) SetSayByeByeOnClose(enabled bool) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sayByeByeOnClose = enabled
	return n
}

// SetLogger overrides the default logrus entry.
func (n *Node) SetLogger(log *logrus.Entry) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.log = log
	return n
}

// SetMetrics registers this node's counters against reg under namespace.
// Without this, Metrics() is nil and every metrics increment is a no-op.
func (n *Node) SetMetrics(reg prometheus.Registerer, namespace string) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.metricsRegisterer, n.metricsNamespace = reg, namespace
	return n
}

// SetInterfaceRegistry overrides interface enumeration (used by tests to
// inject a fixed interface set instead of the host's real ones).
func (n *Node) SetInterfaceRegistry(r iface.Enumerator) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ifaceRegistry = r
	return n
}

// State reports the node's current lifecycle state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// --- ssdp.NodeInfo / location.NodeInfo ---

func (n *Node) HTTPPort() (int, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.httpPort, n.httpPortSet
}

func (n *Node) MulticastGroup() (string, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.multicastIP, n.multicastPort
}

func (n *Node) TTL() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ttl
}

func (n *Node) MX() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mx
}

// --- publisher.Environment / scanner.Environment ---

func (n *Node) Send(dst *net.UDPAddr, compose func(ifc iface.Info) (string, error)) {
	n.mu.Lock()
	t := n.transport
	n.mu.Unlock()
	if t == nil {
		return
	}
	t.Send(dst, compose)
}

func (n *Node) GroupAddr() *net.UDPAddr {
	n.mu.Lock()
	t := n.transport
	ip, port := n.multicastIP, n.multicastPort
	n.mu.Unlock()
	if t != nil {
		return t.GroupAddr()
	}
	return &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
}

func (n *Node) Scheduler() *schedule.Scheduler {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.scheduler
}

func (n *Node) Metrics() *metrics.Registry {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.metrics
}

// Start enumerates interfaces, opens the multicast transport, optionally
// starts the description server, and begins periodic re-announcement. It
// transitions Configured -> Running. Calling Start twice, or after Close,
// is an error.
func (n *Node) Start() error {
	n.mu.Lock()
	if n.state != Configured {
		state := n.state
		n.mu.Unlock()
		return fmt.Errorf("node: Start called in state %s, expected %s", state, Configured)
	}
	if n.ifaceRegistry == nil {
		n.ifaceRegistry = iface.NewRegistry()
	}
	if n.metrics == nil && n.metricsRegisterer != nil {
		n.metrics = metrics.New(n.metricsRegisterer, n.metricsNamespace)
	}
	registry := n.ifaceRegistry
	n.mu.Unlock()

	ifaces, err := registry.Enumerate()
	if err != nil {
		return fmt.Errorf("node: start: %w", err)
	}
	if len(ifaces) == 0 {
		return fmt.Errorf("node: start: no usable network interfaces found")
	}

	n.scheduler = schedule.New()
	n.publisher = publisher.New(n.log.WithField("component", "publisher"), n)
	n.scanner = scanner.New(n.log.WithField("component", "scanner"), n)

	n.transport = transport.New(n.log.WithField("component", "transport"), n.metrics, n.multicastIP, n.multicastPort)
	if err := n.transport.Start(ifaces, n.ttl, n); err != nil {
		return fmt.Errorf("node: start: %w", err)
	}

	if n.httpPortSet {
		n.cache = descserver.NewContentCache(n.publisher, n.metrics)
		n.descServer = descserver.New(n.log.WithField("component", "descserver"), n.cache)
		if err := n.descServer.Start(n.httpPort); err != nil {
			n.transport.Close()
			return fmt.Errorf("node: start: %w", err)
		}
	}

	n.mu.Lock()
	n.ifaces = ifaces
	n.state = Running
	n.mu.Unlock()

	period := time.Duration(float64(n.ttl) * 0.333 * float64(time.Second))
	n.reannounce = n.scheduler.StartPeriodic(time.Second, period, n.publisher.AnnounceAll)

	return nil
}

// HandlePacket implements transport.Dispatcher: it parses every inbound
// datagram and routes M-SEARCH queries to the publisher, everything else
// (alive, byebye, search responses) to the scanner.
func (n *Node) HandlePacket(src *net.UDPAddr, raw string) {
	parsed, err := ssdp.ParseHeaders(raw)
	if err != nil {
		if m := n.Metrics(); m != nil {
			m.PacketsDropped.Inc()
		}
		return
	}
	if parsed.IsQuery {
		n.publisher.HandleSearch(src, parsed.Message)
		return
	}
	n.scanner.HandleMessage(parsed)
}

// Publish adds msgs to the published set and announces them. Valid only
// while Running.
func (n *Node) Publish(msgs ...ssdp.Message) error {
	if n.State() != Running {
		return fmt.Errorf("node: Publish called in state %s, expected %s", n.State(), Running)
	}
	for _, m := range msgs {
		if m.Location == nil {
			continue
		}
		if _, err := m.Location.LocationFor(n, iface.Info{}); err != nil {
			return fmt.Errorf("node: publish: %w", err)
		}
	}
	return n.publisher.Publish(msgs...)
}

// Withdraw removes msgs from the published set and announces byebye for
// each one actually present. A no-op outside the Running state.
func (n *Node) Withdraw(msgs ...ssdp.Message) {
	if n.State() != Running {
		return
	}
	n.publisher.Withdraw(msgs...)
}

// StartScan registers a new scan for query and returns the Scanner; call
// its Search method to actually issue M-SEARCH requests. Valid only
// while Running.
func (n *Node) StartScan(query ssdp.Message, cb scanner.Callbacks) (*scanner.Scanner, error) {
	if n.State() != Running {
		return nil, fmt.Errorf("node: StartScan called in state %s, expected %s", n.State(), Running)
	}
	return n.scanner.StartScan(query, cb), nil
}

// Reset clears the description content cache, so the next request for
// any resource re-fetches it from its Descriptor. A no-op if no HTTP
// port is configured.
func (n *Node) Reset() {
	if n.cache != nil {
		n.cache.Reset()
	}
}

// Close tears the node down: stops re-announcement, optionally
// broadcasts byebye for every published message, then closes the
// description server, transport and scheduler. Idempotent.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.state == Closed {
		n.mu.Unlock()
		return nil
	}
	n.state = Closed
	sayByeBye := n.sayByeByeOnClose
	n.mu.Unlock()

	if n.reannounce != nil {
		n.reannounce.Stop()
	}

	if sayByeBye && n.publisher != nil {
		n.publisher.AnnounceAllByeBye()
		time.Sleep(100 * time.Millisecond)
	}

	if n.descServer != nil {
		n.descServer.Close()
	}
	if n.transport != nil {
		n.transport.Close()
	}
	if n.scheduler != nil {
		n.scheduler.Close()
	}
	return nil
}
