package node

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/halvorsen/upnpnode/internal/iface"
)

// Option configures a Node at construction time. Supplied as an
// alternative to the fluent setters for callers that prefer to build a
// Node in one expression (e.g. the CLI).
type Option func(*Node)

// WithMulticastGroup overrides the default multicast group/port.
func WithMulticastGroup(ip string, port int) Option {
	return func(n *Node) { n.SetMulticastGroup(ip, port) }
}

// WithHTTPPort configures the description server's listening port.
func WithHTTPPort(port int) Option {
	return func(n *Node) { n.SetHTTPPort(port) }
}

// WithTTL overrides the advertised cache lifetime and re-announce period.
func WithTTL(seconds int) Option {
	return func(n *Node) { n.SetTTL(seconds) }
}

// WithMX overrides the MX this node advertises on its own searches.
func WithMX(seconds int) Option {
	return func(n *Node) { n.SetMX(seconds) }
}

// WithSayByeByeOnClose controls the close-time byebye announcement.
func WithSayByeByeOnClose(enabled bool) Option {
	return func(n *Node) { n.SetSayByeByeOnClose(enabled) }
}

// WithLogger overrides the default logrus entry.
func WithLogger(log *logrus.Entry) Option {
	return func(n *Node) { n.SetLogger(log) }
}

// WithMetrics registers the node's counters against reg under namespace.
func WithMetrics(reg prometheus.Registerer, namespace string) Option {
	return func(n *Node) { n.SetMetrics(reg, namespace) }
}

// WithInterfaceRegistry overrides interface enumeration.
func WithInterfaceRegistry(r iface.Enumerator) Option {
	return func(n *Node) { n.SetInterfaceRegistry(r) }
}
