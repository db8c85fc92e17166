// Package iface enumerates the local IPv4 network interfaces a node should
// multicast on and answers subnet-membership questions for them.
package iface

import (
	"fmt"
	"net"
)

// Info describes one usable IPv4 address on one local network interface.
type Info struct {
	// Name is the OS interface name, e.g. "eth0".
	Name string
	// NetIface is the underlying interface, needed to join a multicast
	// group on it (golang.org/x/net/ipv4 keys groups by *net.Interface).
	NetIface *net.Interface
	// IP is the interface's IPv4 address.
	IP net.IP
	// PrefixLen is the subnet prefix length for IP, e.g. 24.
	PrefixLen int

	mask net.IPMask
}

// NewInfo builds an Info directly, for callers (tests, or an Enumerator
// alternative to the real Registry) that already have an interface and
// address in hand rather than discovering them via Enumerate.
func NewInfo(name string, netIface *net.Interface, ip net.IP, prefixLen int) Info {
	return Info{
		Name:      name,
		NetIface:  netIface,
		IP:        ip,
		PrefixLen: prefixLen,
		mask:      net.CIDRMask(prefixLen, 32),
	}
}

// Matches reports whether addr should be reached through this interface:
// true for any multicast address, or when addr lies in this interface's
// subnet (CIDR containment using PrefixLen, including the mid-byte case).
func (i Info) Matches(addr net.IP) bool {
	if addr.IsMulticast() {
		return true
	}
	v4 := addr.To4()
	if v4 == nil {
		return false
	}
	return i.IP.Mask(i.mask).Equal(v4.Mask(i.mask))
}

// String renders the interface as "name (ip/prefix)".
func (i Info) String() string {
	return fmt.Sprintf("%s (%s/%d)", i.Name, i.IP, i.PrefixLen)
}

// Enumerator enumerates local IPv4 interfaces. Registry is the real
// implementation; tests substitute a fake to run a node against a fixed,
// non-loopback-excluded interface set.
type Enumerator interface {
	Enumerate() ([]Info, error)
}

// Registry enumerates local IPv4 interfaces.
type Registry struct{}

// NewRegistry returns a Registry. It holds no state; it exists mainly so
// node code has something to depend on (and swap, in tests) instead of
// calling net.Interfaces directly.
func NewRegistry() *Registry {
	return &Registry{}
}

// Enumerate returns one Info per (interface, IPv4 address) pair among the
// non-loopback, multicast-capable, up interfaces the OS reports. Order is
// the OS enumeration order, preserved across interfaces and per-interface
// addresses, and is treated as stable for the duration of a single
// node start() cycle.
func (r *Registry) Enumerate() ([]Info, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("iface: enumerate interfaces: %w", err)
	}

	var out []Info
	for i := range ifaces {
		netIface := ifaces[i]
		if netIface.Flags&net.FlagUp == 0 {
			continue
		}
		if netIface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if netIface.Flags&net.FlagMulticast == 0 {
			continue
		}

		addrs, err := netIface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			v4 := ipNet.IP.To4()
			if v4 == nil {
				continue
			}
			ones, _ := ipNet.Mask.Size()
			out = append(out, Info{
				Name:      netIface.Name,
				NetIface:  &ifaces[i],
				IP:        v4,
				PrefixLen: ones,
				mask:      net.CIDRMask(ones, 32),
			})
		}
	}
	return out, nil
}
