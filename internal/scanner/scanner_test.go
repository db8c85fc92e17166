package scanner

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvorsen/upnpnode/internal/iface"
	"github.com/halvorsen/upnpnode/internal/metrics"
	"github.com/halvorsen/upnpnode/internal/schedule"
	"github.com/halvorsen/upnpnode/internal/ssdp"
)

type fakeEnv struct {
	sched *schedule.Scheduler
	mx    int

	mu           sync.Mutex
	searchesSent int
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{sched: schedule.New(), mx: 3}
}

func (f *fakeEnv) HTTPPort() (int, bool)         { return 0, false }
func (f *fakeEnv) MulticastGroup() (string, int) { return "239.255.255.250", 1900 }
func (f *fakeEnv) TTL() int                      { return 1800 }
func (f *fakeEnv) MX() int                       { return f.mx }
func (f *fakeEnv) GroupAddr() *net.UDPAddr       { return &net.UDPAddr{IP: net.ParseIP("239.255.255.250"), Port: 1900} }
func (f *fakeEnv) Scheduler() *schedule.Scheduler { return f.sched }
func (f *fakeEnv) Metrics() *metrics.Registry     { return nil }

func (f *fakeEnv) Send(dst *net.UDPAddr, compose func(iface.Info) (string, error)) {
	if _, err := compose(iface.Info{Name: "eth0", IP: net.ParseIP("192.168.1.5")}); err != nil {
		return
	}
	f.mu.Lock()
	f.searchesSent++
	f.mu.Unlock()
}

func TestScannerRoutesMatchingAlive(t *testing.T) {
	env := newFakeEnv()
	core := New(logrus.NewEntry(logrus.New()), env)

	var received ssdp.Message
	var gotIt bool
	var mu sync.Mutex

	s := core.StartScan(ssdp.Message{URN: "urn:schemas-upnp-org:device:x:1"}, Callbacks{
		OnMessageReceived: func(msg ssdp.Message, reply bool, searchID int) {
			mu.Lock()
			received, gotIt = msg, true
			mu.Unlock()
		},
	})
	defer s.Close()

	core.HandleMessage(&ssdp.Parsed{Message: ssdp.Message{UUID: "u1", URN: "urn:schemas-upnp-org:device:x:1"}})

	mu.Lock()
	defer mu.Unlock()
	require.True(t, gotIt)
	assert.Equal(t, "u1", received.UUID)
}

func TestScannerIgnoresNonMatchingMessages(t *testing.T) {
	env := newFakeEnv()
	core := New(logrus.NewEntry(logrus.New()), env)

	called := false
	s := core.StartScan(ssdp.Message{URN: "urn:schemas-upnp-org:device:x:1"}, Callbacks{
		OnMessageReceived: func(ssdp.Message, bool, int) { called = true },
	})
	defer s.Close()

	core.HandleMessage(&ssdp.Parsed{Message: ssdp.Message{UUID: "u1", URN: "urn:schemas-upnp-org:device:other:1"}})
	assert.False(t, called)
}

func TestScannerRoutesByeByeSeparately(t *testing.T) {
	env := newFakeEnv()
	core := New(logrus.NewEntry(logrus.New()), env)

	var gotAlive, gotByeBye bool
	s := core.StartScan(ssdp.Message{}, Callbacks{
		OnMessageReceived: func(ssdp.Message, bool, int) { gotAlive = true },
		OnMessageByeBye:   func(ssdp.Message) { gotByeBye = true },
	})
	defer s.Close()

	core.HandleMessage(&ssdp.Parsed{Message: ssdp.Message{UUID: "u1"}, IsByeBye: true})
	assert.True(t, gotByeBye)
	assert.False(t, gotAlive)
}

func TestScannerCloseDeregisters(t *testing.T) {
	env := newFakeEnv()
	core := New(logrus.NewEntry(logrus.New()), env)

	called := false
	s := core.StartScan(ssdp.Message{}, Callbacks{OnMessageReceived: func(ssdp.Message, bool, int) { called = true }})
	s.Close()

	core.HandleMessage(&ssdp.Parsed{Message: ssdp.Message{UUID: "u1"}})
	assert.False(t, called)
}

func TestSearchTimesOutExactlyOnce(t *testing.T) {
	env := newFakeEnv()
	env.mx = 0 // falls back to the scanner's 1-second minimum
	core := New(logrus.NewEntry(logrus.New()), env)

	var timeouts int32
	var lastID int32 = -1
	var mu sync.Mutex
	s := core.StartScan(ssdp.Message{}, Callbacks{
		OnSearchTimedOut: func(id int) {
			mu.Lock()
			timeouts++
			lastID = int32(id)
			mu.Unlock()
		},
	})
	defer s.Close()

	require.True(t, s.Search(7))
	time.Sleep(1200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), timeouts)
	assert.Equal(t, int32(7), lastID)
	assert.Equal(t, 1, env.searchesSent)
}

func TestSearchWhileActiveIsNoOpUnlessSameID(t *testing.T) {
	env := newFakeEnv()
	core := New(logrus.NewEntry(logrus.New()), env)

	s := core.StartScan(ssdp.Message{}, Callbacks{})
	defer s.Close()

	require.True(t, s.Search(1))
	assert.False(t, s.Search(2), "a second distinct id must not supersede an active search")
	assert.True(t, s.Search(1), "re-passing the already-active id reports active")
	assert.Equal(t, 1, env.searchesSent)
}

func TestSearchOnClosedScannerIsNoOp(t *testing.T) {
	env := newFakeEnv()
	core := New(logrus.NewEntry(logrus.New()), env)

	s := core.StartScan(ssdp.Message{}, Callbacks{})
	s.Close()

	assert.False(t, s.Search(1))
	assert.Equal(t, 0, env.searchesSent)
}
