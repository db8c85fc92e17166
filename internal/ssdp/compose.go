package ssdp

import (
	"fmt"
	"strings"

	"github.com/halvorsen/upnpnode/internal/iface"
	"github.com/halvorsen/upnpnode/internal/location"
)

// NodeInfo is the sliver of node state composition needs: the multicast
// group/port it announces on, and (via location.NodeInfo) its HTTP port.
type NodeInfo interface {
	location.NodeInfo
	MulticastGroup() (ip string, port int)
	TTL() int
	MX() int
}

// header is one line of an SSDP message body, in template order.
type header struct {
	name  string
	value string
}

func build(startLine string, headers []header) string {
	var b strings.Builder
	b.WriteString(startLine)
	b.WriteString("\r\n")
	for _, h := range headers {
		b.WriteString(h.name)
		b.WriteString(": ")
		b.WriteString(h.value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.String()
}

// ComposeSearch renders an M-SEARCH request for query, per node's
// multicast group/port and MX.
func ComposeSearch(node NodeInfo, query Message) string {
	groupIP, groupPort := node.MulticastGroup()
	st := "ssdp:all"
	switch {
	case query.UUID != "":
		st = "uuid:" + query.UUID
	case query.URN != "":
		st = query.URN
	}
	return build("M-SEARCH * HTTP/1.1", []header{
		{"HOST", fmt.Sprintf("%s:%d", groupIP, groupPort)},
		{"MAN", `"ssdp:discover"`},
		{"MX", fmt.Sprint(node.MX())},
		{"ST", st},
	})
}

// ComposeAlive renders a NOTIFY ssdp:alive message for msg, resolving its
// LOCATION for ifc.
func ComposeAlive(node NodeInfo, ifc iface.Info, msg Message) (string, error) {
	loc, err := msg.Location.LocationFor(node, ifc)
	if err != nil {
		return "", fmt.Errorf("ssdp: compose alive for %s: %w", msg.USN(), err)
	}
	groupIP, groupPort := node.MulticastGroup()
	return build("NOTIFY * HTTP/1.1", []header{
		{"HOST", fmt.Sprintf("%s:%d", groupIP, groupPort)},
		{"SERVER", Server},
		{"CACHE-CONTROL", fmt.Sprintf("max-age=%d", node.TTL())},
		{"LOCATION", loc},
		{"NT", msg.URN},
		{"NTS", "ssdp:alive"},
		{"USN", msg.USN()},
	}), nil
}

// ComposeResponse renders an M-SEARCH response for msg, resolving its
// LOCATION for ifc. Per the protocol's literal wire form used here (see
// DESIGN.md / SPEC_FULL.md Open Question 1), the status line carries an
// asterisk rather than a numeric status code.
func ComposeResponse(node NodeInfo, ifc iface.Info, msg Message) (string, error) {
	loc, err := msg.Location.LocationFor(node, ifc)
	if err != nil {
		return "", fmt.Errorf("ssdp: compose response for %s: %w", msg.USN(), err)
	}
	return build("HTTP/1.1 * OK", []header{
		{"EXT", ""},
		{"SERVER", Server},
		{"CACHE-CONTROL", fmt.Sprintf("max-age=%d", node.TTL())},
		{"DATE", rfc1123GMT(timeNow())},
		{"LOCATION", loc},
		{"ST", msg.URN},
		{"NT", msg.URN},
		{"NTS", "ssdp:alive"},
		{"USN", msg.USN()},
	}), nil
}

// ComposeByeBye renders a NOTIFY ssdp:byebye message for msg.
func ComposeByeBye(node NodeInfo, msg Message) string {
	groupIP, groupPort := node.MulticastGroup()
	return build("NOTIFY * HTTP/1.1", []header{
		{"HOST", fmt.Sprintf("%s:%d", groupIP, groupPort)},
		{"NT", msg.URN},
		{"NTS", "ssdp:byebye"},
		{"USN", msg.USN()},
	})
}
