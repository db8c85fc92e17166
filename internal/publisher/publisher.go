// Package publisher implements PublisherCore: the set of messages a node
// advertises, M-SEARCH response dispatch with the randomized reply delay
// the protocol requires, and alive/byebye announcement.
package publisher

import (
	"crypto/rand"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halvorsen/upnpnode/internal/iface"
	"github.com/halvorsen/upnpnode/internal/location"
	"github.com/halvorsen/upnpnode/internal/metrics"
	"github.com/halvorsen/upnpnode/internal/schedule"
	"github.com/halvorsen/upnpnode/internal/ssdp"
)

// Environment is the slice of NodeFacade a PublisherCore needs: outbound
// send, scheduling, and the node's own SSDP identity.
type Environment interface {
	ssdp.NodeInfo
	Send(dst *net.UDPAddr, compose func(ifc iface.Info) (string, error))
	GroupAddr() *net.UDPAddr
	Scheduler() *schedule.Scheduler
	Metrics() *metrics.Registry
}

// Core holds the published set and answers M-SEARCH queries.
type Core struct {
	log *logrus.Entry
	env Environment

	mu        sync.Mutex
	published []ssdp.Message
}

// New returns an empty Core.
func New(log *logrus.Entry, env Environment) *Core {
	return &Core{log: log, env: env}
}

// equivalent implements the PublishedSet replacement rule: matches in both
// directions.
func equivalent(a, b ssdp.Message) bool {
	return a.Matches(b) && b.Matches(a)
}

// Publish adds or replaces each message (equivalent existing entries are
// replaced in place, order preserved) and multicasts one alive NOTIFY per
// message immediately, before returning.
func (c *Core) Publish(msgs ...ssdp.Message) error {
	for _, m := range msgs {
		if !m.Publishable() {
			return errNotPublishable(m)
		}
	}

	c.mu.Lock()
	for _, m := range msgs {
		replaced := false
		for i := range c.published {
			if equivalent(c.published[i], m) {
				c.published[i] = m
				replaced = true
				break
			}
		}
		if !replaced {
			c.published = append(c.published, m)
		}
	}
	c.mu.Unlock()

	for _, m := range msgs {
		c.announceAlive(m)
	}
	return nil
}

// Withdraw removes each matching message from the published set and
// multicasts one byebye NOTIFY per message that was actually present.
func (c *Core) Withdraw(msgs ...ssdp.Message) {
	var removed []ssdp.Message

	c.mu.Lock()
	for _, m := range msgs {
		for i := range c.published {
			if equivalent(c.published[i], m) {
				removed = append(removed, c.published[i])
				c.published = append(c.published[:i], c.published[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()

	for _, m := range removed {
		c.announceByeBye(m)
	}
}

// AnnounceAll re-announces every currently published message (the
// periodic re-announcement task calls this).
func (c *Core) AnnounceAll() {
	c.mu.Lock()
	snapshot := append([]ssdp.Message(nil), c.published...)
	c.mu.Unlock()

	for _, m := range snapshot {
		c.announceAlive(m)
	}
}

// AnnounceAllByeBye sends a byebye for every currently published message,
// without removing them (node close calls this, per spec.md §4.6).
func (c *Core) AnnounceAllByeBye() {
	c.mu.Lock()
	snapshot := append([]ssdp.Message(nil), c.published...)
	c.mu.Unlock()

	for _, m := range snapshot {
		c.announceByeBye(m)
	}
}

func (c *Core) announceAlive(m ssdp.Message) {
	c.env.Send(c.env.GroupAddr(), func(ifc iface.Info) (string, error) {
		return ssdp.ComposeAlive(c.env, ifc, m)
	})
	if met := c.env.Metrics(); met != nil {
		met.AliveSent.Inc()
	}
}

func (c *Core) announceByeBye(m ssdp.Message) {
	c.env.Send(c.env.GroupAddr(), func(iface.Info) (string, error) {
		return ssdp.ComposeByeBye(c.env, m), nil
	})
	if met := c.env.Metrics(); met != nil {
		met.ByeByeSent.Inc()
	}
}

// HandleSearch is invoked by the node's packet dispatcher for every
// received M-SEARCH query. For each published message the query matches,
// it schedules a single reply after a delay sampled uniformly from
// [0, wait), wait = clamp(query.MX*1000-500, 100, 4500) ms.
func (c *Core) HandleSearch(src *net.UDPAddr, query ssdp.Message) {
	c.mu.Lock()
	published := append([]ssdp.Message(nil), c.published...)
	c.mu.Unlock()
	if len(published) == 0 {
		return
	}

	waitMs := clamp(query.MX*1000-500, 100, 4500)
	for _, m := range published {
		if !m.Matches(query) {
			continue
		}
		msg := m
		delay := randomDelay(waitMs)
		c.env.Scheduler().After(delay, func() {
			c.env.Send(src, func(ifc iface.Info) (string, error) {
				return ssdp.ComposeResponse(c.env, ifc, msg)
			})
			if met := c.env.Metrics(); met != nil {
				met.RepliesSent.WithLabelValues("search-response").Inc()
			}
		})
	}
}

// FindDescriptor implements descserver.DescriptorLookup: it scans the
// published set for a LocationDescriptor whose Name() matches name.
func (c *Core) FindDescriptor(name string) (location.Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.published {
		if m.Location != nil && m.Location.Name() == name {
			return m.Location, true
		}
	}
	return nil, false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// randomDelay samples uniformly from [0, maxMs) milliseconds using a
// cryptographic-quality source, per spec.md §3's "no process-global
// mutable state except a cryptographic-quality RNG seed".
func randomDelay(maxMs int) time.Duration {
	if maxMs <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(maxMs)))
	if err != nil {
		return time.Duration(maxMs/2) * time.Millisecond
	}
	return time.Duration(n.Int64()) * time.Millisecond
}

type notPublishableError struct {
	msg ssdp.Message
}

func (e notPublishableError) Error() string {
	return "publisher: message is not publishable (uuid, urn and location must all be set)"
}

func errNotPublishable(m ssdp.Message) error {
	return notPublishableError{msg: m}
}
