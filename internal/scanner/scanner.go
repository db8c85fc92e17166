// Package scanner implements ScannerCore: active search sessions that send
// M-SEARCH and collect matching alive/response/byebye traffic, and the
// routing of inbound non-query messages to every scanner whose query they
// satisfy.
package scanner

import (
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halvorsen/upnpnode/internal/iface"
	"github.com/halvorsen/upnpnode/internal/metrics"
	"github.com/halvorsen/upnpnode/internal/schedule"
	"github.com/halvorsen/upnpnode/internal/ssdp"
)

// Environment is the slice of NodeFacade a ScannerCore needs.
type Environment interface {
	ssdp.NodeInfo
	Send(dst *net.UDPAddr, compose func(ifc iface.Info) (string, error))
	GroupAddr() *net.UDPAddr
	Scheduler() *schedule.Scheduler
	Metrics() *metrics.Registry
}

// Callbacks are invoked for the messages a Scanner's search observes.
// Any of them may be nil. OnMessageReceived and OnMessageByeBye are called
// synchronously from whichever goroutine received the packet (the
// transport's receive loop); OnSearchTimedOut is called from the
// scheduler's timer goroutine. None of them may block.
type Callbacks struct {
	// OnMessageReceived fires for an alive NOTIFY (reply=false) or a
	// unicast search response (reply=true). searchID is the scanner's
	// currently active search id, or -1 if idle.
	OnMessageReceived func(msg ssdp.Message, reply bool, searchID int)
	OnMessageByeBye   func(msg ssdp.Message)
	// OnSearchTimedOut fires exactly once per search that Search started,
	// with the id that just expired, unless the scanner is closed first.
	OnSearchTimedOut func(searchID int)
}

// Core tracks every currently active Scanner and routes inbound
// NOTIFY/search-response traffic to the ones whose query it matches.
type Core struct {
	log *logrus.Entry
	env Environment

	mu       sync.Mutex
	scanners map[*Scanner]struct{}
}

// New returns an empty Core.
func New(log *logrus.Entry, env Environment) *Core {
	return &Core{log: log, env: env, scanners: make(map[*Scanner]struct{})}
}

// Scanner is one active search session: a query, the callbacks that fire
// for messages matching it, and the id of whichever Search call is
// currently outstanding (-1 when idle), until Close.
type Scanner struct {
	core  *Core
	query ssdp.Message
	cb    Callbacks

	mu          sync.Mutex
	closed      bool
	activeID    int
	hasActiveID bool
}

// StartScan registers a new Scanner for query (an empty query is
// ssdp:all) and returns it. It does not itself send anything; call
// Search to issue an M-SEARCH.
func (c *Core) StartScan(query ssdp.Message, cb Callbacks) *Scanner {
	s := &Scanner{core: c, query: query, cb: cb}
	c.mu.Lock()
	c.scanners[s] = struct{}{}
	c.mu.Unlock()
	return s
}

// Search multicasts an M-SEARCH for the scanner's query and arms a
// one-shot timeout that resets the scanner to idle and fires
// OnSearchTimedOut(searchID) after the node's MX seconds, unless Close()
// is called first. If a search is
// already active, Search is a no-op: it returns true only if searchID is
// already the active one, false otherwise (including when the scanner is
// closed).
func (s *Scanner) Search(searchID int) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.hasActiveID {
		active := s.activeID
		s.mu.Unlock()
		return active == searchID
	}
	s.activeID, s.hasActiveID = searchID, true
	s.mu.Unlock()

	s.core.env.Send(s.core.env.GroupAddr(), func(iface.Info) (string, error) {
		return ssdp.ComposeSearch(s.core.env, s.query), nil
	})
	if met := s.core.env.Metrics(); met != nil {
		met.SearchesIssued.Inc()
	}

	mx := s.core.env.MX()
	if mx <= 0 {
		mx = 1
	}
	s.core.env.Scheduler().After(time.Duration(mx)*time.Second, func() {
		s.mu.Lock()
		if s.closed || !s.hasActiveID || s.activeID != searchID {
			s.mu.Unlock()
			return
		}
		s.hasActiveID = false
		s.mu.Unlock()

		if s.cb.OnSearchTimedOut != nil {
			s.cb.OnSearchTimedOut(searchID)
		}
		if met := s.core.env.Metrics(); met != nil {
			met.SearchTimeouts.Inc()
		}
	})
	return true
}

// Close deregisters the scanner. Subsequent inbound traffic is no longer
// routed to it, and a pending Search timeout becomes a no-op. Safe to
// call more than once.
func (s *Scanner) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.core.mu.Lock()
	delete(s.core.scanners, s)
	s.core.mu.Unlock()
}

// HandleMessage is invoked by the node's packet dispatcher for every
// inbound message that is not an M-SEARCH query: alive NOTIFYs, byebye
// NOTIFYs, and unicast search responses all arrive here. It fans the
// message out to every active scanner whose query the message matches.
func (c *Core) HandleMessage(parsed *ssdp.Parsed) {
	c.mu.Lock()
	active := make([]*Scanner, 0, len(c.scanners))
	for s := range c.scanners {
		active = append(active, s)
	}
	c.mu.Unlock()

	for _, s := range active {
		s.mu.Lock()
		closed := s.closed
		query := s.query
		cb := s.cb
		searchID := -1
		if s.hasActiveID {
			searchID = s.activeID
		}
		s.mu.Unlock()
		if closed {
			continue
		}
		if !parsed.Message.Matches(query) {
			continue
		}
		if parsed.IsByeBye {
			if cb.OnMessageByeBye != nil {
				cb.OnMessageByeBye(parsed.Message)
			}
			continue
		}
		if cb.OnMessageReceived != nil {
			cb.OnMessageReceived(parsed.Message, parsed.IsResponse, searchID)
		}
	}
}
