// Package metrics exposes Prometheus counters for the SSDP node: packet
// traffic, publisher/scanner activity, and content-cache effectiveness.
// None of this is exercised by the protocol itself; it exists so an
// operator can see, for instance, whether a LocationDescriptor.Content()
// is being re-fetched on every request (it must not be, per spec.md §8
// property 7).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry groups the counters a single node instance updates. A fresh
// Registry is created per node so multiple nodes in one process (as in
// the turnaround scenario, spec.md §8 S1) don't collide on metric names.
type Registry struct {
	PacketsReceived  prometheus.Counter
	PacketsDropped   prometheus.Counter
	RepliesSent      *prometheus.CounterVec // by "kind": search-response
	AliveSent        prometheus.Counter
	ByeByeSent       prometheus.Counter
	SearchesIssued   prometheus.Counter
	SearchTimeouts   prometheus.Counter
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheNegative    prometheus.Counter
}

// New registers a fresh set of counters against reg (pass
// prometheus.NewRegistry() to isolate a node's metrics, or
// prometheus.DefaultRegisterer to use the global one).
func New(reg prometheus.Registerer, namespace string) *Registry {
	factory := promauto.With(reg)
	r := &Registry{
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ssdp", Name: "packets_received_total",
			Help: "SSDP datagrams received across all interfaces.",
		}),
		PacketsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ssdp", Name: "packets_dropped_total",
			Help: "SSDP datagrams that failed to parse and were dropped.",
		}),
		RepliesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ssdp", Name: "replies_sent_total",
			Help: "Unicast M-SEARCH replies sent.",
		}, []string{"kind"}),
		AliveSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ssdp", Name: "alive_sent_total",
			Help: "NOTIFY ssdp:alive messages multicast.",
		}),
		ByeByeSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ssdp", Name: "byebye_sent_total",
			Help: "NOTIFY ssdp:byebye messages multicast.",
		}),
		SearchesIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ssdp", Name: "searches_issued_total",
			Help: "M-SEARCH requests issued by scanners.",
		}),
		SearchTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ssdp", Name: "search_timeouts_total",
			Help: "Scanner search windows that expired via onSearchTimedOut.",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "description", Name: "cache_hits_total",
			Help: "Description requests served from the content cache.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "description", Name: "cache_misses_total",
			Help: "Description requests that required a fresh Content() fetch.",
		}),
		CacheNegative: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "description", Name: "cache_negative_total",
			Help: "Description requests answered 404 from a cached negative result.",
		}),
	}
	return r
}
