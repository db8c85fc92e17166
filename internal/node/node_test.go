package node_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvorsen/upnpnode/internal/iface"
	"github.com/halvorsen/upnpnode/internal/location"
	"github.com/halvorsen/upnpnode/internal/node"
	"github.com/halvorsen/upnpnode/internal/scanner"
	"github.com/halvorsen/upnpnode/internal/ssdp"
)

// fixedRegistry hands back one fixed interface instead of the host's real
// ones, so tests can run deterministically against loopback.
type fixedRegistry struct{ info iface.Info }

func (f fixedRegistry) Enumerate() ([]iface.Info, error) { return []iface.Info{f.info}, nil }

func loopback(t *testing.T) iface.Info {
	t.Helper()
	netIface, err := net.InterfaceByName("lo")
	if err != nil {
		t.Skipf("no loopback interface available: %v", err)
	}
	return iface.NewInfo("lo", netIface, net.ParseIP("127.0.0.1"), 8)
}

func TestPublishBeforeStartFails(t *testing.T) {
	n := node.New()
	err := n.Publish(ssdp.Message{UUID: "u", URN: "t", Location: location.NewConstant("x.xml", []byte("<r/>"))})
	assert.Error(t, err)
}

func TestStartTwiceFails(t *testing.T) {
	lo := loopback(t)
	n := node.New(node.WithInterfaceRegistry(fixedRegistry{lo}), node.WithMulticastGroup("239.255.255.250", 17900))
	require.NoError(t, n.Start())
	defer n.Close()

	assert.Error(t, n.Start())
}

func TestCloseIsIdempotent(t *testing.T) {
	lo := loopback(t)
	n := node.New(node.WithInterfaceRegistry(fixedRegistry{lo}), node.WithMulticastGroup("239.255.255.250", 17901))
	require.NoError(t, n.Start())

	require.NoError(t, n.Close())
	assert.NoError(t, n.Close())
	assert.Equal(t, node.Closed, n.State())
}

func TestPublishAfterCloseFails(t *testing.T) {
	lo := loopback(t)
	n := node.New(node.WithInterfaceRegistry(fixedRegistry{lo}), node.WithMulticastGroup("239.255.255.250", 17902))
	require.NoError(t, n.Start())
	require.NoError(t, n.Close())

	err := n.Publish(ssdp.Message{UUID: "u", URN: "t", Location: location.NewConstant("x.xml", []byte("<r/>"))})
	assert.Error(t, err)
}

// TestScanObservesAlive runs a publisher and a separate scanner node in
// the same process, both bound to loopback on a private multicast port,
// and checks the scanner's callback observes the publisher's alive
// announcement (the "two nodes in one process" scenario).
func TestScanObservesAlive(t *testing.T) {
	lo := loopback(t)
	group, port := "239.255.255.250", 17903

	scannerNode := node.New(node.WithInterfaceRegistry(fixedRegistry{lo}), node.WithMulticastGroup(group, port))
	require.NoError(t, scannerNode.Start())
	defer scannerNode.Close()

	received := make(chan ssdp.Message, 4)
	s, err := scannerNode.StartScan(ssdp.Message{URN: "urn:schemas-upnp-org:device:x:1"}, scanner.Callbacks{
		OnMessageReceived: func(msg ssdp.Message, reply bool, searchID int) { received <- msg },
	})
	require.NoError(t, err)
	defer s.Close()

	publisherNode := node.New(
		node.WithInterfaceRegistry(fixedRegistry{lo}),
		node.WithMulticastGroup(group, port),
		node.WithHTTPPort(18123),
	)
	require.NoError(t, publisherNode.Start())
	defer publisherNode.Close()

	msg := ssdp.Message{
		UUID:     "22222222-2222-2222-2222-222222222222",
		URN:      "urn:schemas-upnp-org:device:x:1",
		Location: location.NewConstant("x.xml", []byte("<?xml version=\"1.0\"?><r/>")),
		TTL:      1800,
	}
	require.NoError(t, publisherNode.Publish(msg))

	select {
	case got := <-received:
		assert.Equal(t, msg.UUID, got.UUID)
		assert.Equal(t, msg.URN, got.URN)
	case <-time.After(3 * time.Second):
		t.Fatal("scanner never observed the publisher's alive announcement")
	}
}

func TestNodeFluentConfiguration(t *testing.T) {
	n := node.New().
		SetMulticastGroup("239.255.255.250", 1900).
		SetHTTPPort(8008).
		SetTTL(900).
		SetMX(2).
		SetSayByeByeOnClose(false)

	port, ok := n.HTTPPort()
	assert.True(t, ok)
	assert.Equal(t, 8008, port)
	assert.Equal(t, 900, n.TTL())
	assert.Equal(t, 2, n.MX())
	assert.Equal(t, node.Configured, n.State())
}

func TestNodeDefaults(t *testing.T) {
	n := node.New()
	assert.Equal(t, 300, n.TTL())
	assert.Equal(t, 5, n.MX())
	ip, port := n.MulticastGroup()
	assert.Equal(t, "239.255.255.250", ip)
	assert.Equal(t, 1900, port)
}

func TestResetIsNoOpWithoutHTTPPort(t *testing.T) {
	lo := loopback(t)
	n := node.New(node.WithInterfaceRegistry(fixedRegistry{lo}), node.WithMulticastGroup("239.255.255.250", 17904))
	require.NoError(t, n.Start())
	defer n.Close()

	assert.NotPanics(t, n.Reset)
}

func TestScannerSearchIDTracksThroughNode(t *testing.T) {
	lo := loopback(t)
	n := node.New(node.WithInterfaceRegistry(fixedRegistry{lo}), node.WithMulticastGroup("239.255.255.250", 17905))
	require.NoError(t, n.Start())
	defer n.Close()

	s, err := n.StartScan(ssdp.Message{}, scanner.Callbacks{})
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.Search(1))
	assert.False(t, s.Search(2))
	assert.True(t, s.Search(1))
}
