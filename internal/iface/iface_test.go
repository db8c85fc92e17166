package iface

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newInfo(ip string, prefix int) Info {
	return Info{
		Name:      "eth0",
		IP:        net.ParseIP(ip).To4(),
		PrefixLen: prefix,
		mask:      net.CIDRMask(prefix, 32),
	}
}

func TestMatchesAlwaysTrueForMulticast(t *testing.T) {
	i := newInfo("192.168.1.5", 24)
	assert.True(t, i.Matches(net.ParseIP("239.255.255.250")))
}

func TestMatchesSameSubnet(t *testing.T) {
	i := newInfo("192.168.1.5", 24)
	assert.True(t, i.Matches(net.ParseIP("192.168.1.200")))
	assert.False(t, i.Matches(net.ParseIP("192.168.2.200")))
}

func TestMatchesMidByteSubnet(t *testing.T) {
	i := newInfo("10.0.0.5", 22)
	assert.True(t, i.Matches(net.ParseIP("10.0.3.250")))
	assert.False(t, i.Matches(net.ParseIP("10.0.4.1")))
}

func TestMatchesRejectsNonIPv4(t *testing.T) {
	i := newInfo("192.168.1.5", 24)
	assert.False(t, i.Matches(net.ParseIP("fe80::1")))
}

func TestString(t *testing.T) {
	i := newInfo("192.168.1.5", 24)
	assert.Equal(t, "eth0 (192.168.1.5/24)", i.String())
}

func TestEnumerateReturnsNoError(t *testing.T) {
	r := NewRegistry()
	_, err := r.Enumerate()
	assert.NoError(t, err)
}
