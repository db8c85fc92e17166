// Package ssdp implements the SSDP message model: the semantic record
// shared by M-SEARCH queries, NOTIFY alive/byebye announcements and search
// responses, plus their wire parsing, composition, and matching rules.
package ssdp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halvorsen/upnpnode/internal/location"
)

// Server is the opaque SERVER header value this implementation advertises.
const Server = "upnpnode/1.0 UPnP/1.0"

// Message is the semantic SSDP record: not a wire form, but what a wire
// form parses into or is composed from.
type Message struct {
	// UUID is the device identifier, empty if not known/applicable.
	UUID string
	// URN is the device or service type, empty if not known/applicable.
	URN string
	// Location is nil for search queries and byebye messages.
	Location location.Descriptor
	// TTL is seconds: the advertised cache-control lifetime for published
	// messages, or the max-age parsed from an alive/response message.
	TTL int
	// MX is only meaningful on a parsed search query: the maximum
	// response delay in seconds. ComposeSearch uses the node's MX instead.
	MX int
}

// Publishable reports whether m carries everything a publisher needs to
// advertise a device: UUID, URN and Location all present.
func (m Message) Publishable() bool {
	return m.UUID != "" && m.URN != "" && m.Location != nil
}

// Matches implements the SSDP matching rule: candidate.Matches(query) is
// true iff (query.UUID is empty or equals candidate.UUID) AND (query.URN is
// empty or equals candidate.URN). A query with both empty (ssdp:all)
// matches anything.
func (m Message) Matches(query Message) bool {
	if query.UUID != "" && query.UUID != m.UUID {
		return false
	}
	if query.URN != "" && query.URN != m.URN {
		return false
	}
	return true
}

// USN renders the USN header value for a publishable message:
// uuid:<uuid>::<urn>.
func (m Message) USN() string {
	return fmt.Sprintf("uuid:%s::%s", m.UUID, m.URN)
}

// DeviceURN is the default device URN formatter named in the programmatic
// surface: urn:schemas-upnp-org:device:<name>:<version>.
func DeviceURN(name string, version int) string {
	return fmt.Sprintf("urn:schemas-upnp-org:device:%s:%d", name, version)
}

// Parsed is the result of parsing one SSDP wire message's headers.
type Parsed struct {
	Message Message
	// IsQuery is true for an M-SEARCH-style query (wildcard or targeted),
	// false for an alive/response/byebye message.
	IsQuery bool
	// IsByeBye is true for a NOTIFY ssdp:byebye message.
	IsByeBye bool
	// IsResponse is true for a unicast search response (HTTP/1.1 * OK),
	// false for a NOTIFY alive/byebye. Meaningless when IsQuery is true.
	IsResponse bool
}

// ParseHeaders parses the header lines of an SSDP HTTP-like message (the
// first line, a method or status line, is discarded) into a Parsed record,
// applying the resolution rules in order. It returns an error if none of
// the rules apply, i.e. the message is not something this node understands.
func ParseHeaders(raw string) (*Parsed, error) {
	lines := splitLines(raw)
	if len(lines) == 0 {
		return nil, fmt.Errorf("ssdp: empty message")
	}
	isResponse := strings.HasPrefix(lines[0], "HTTP/1.1")
	lines = lines[1:] // discard the method/status line

	var (
		descriptionURL string
		haveLocation   bool
		usnUUID        string
		usnURN         string
		mx             int
		maxAge         int
		haveMaxAge     bool
		st             string
		nts            string
	)

	for _, line := range lines {
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		name := strings.ToUpper(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])

		switch name {
		case "LOCATION":
			descriptionURL = value
			haveLocation = value != ""
		case "USN":
			usnUUID, usnURN = parseUSN(value)
		case "MX":
			if v, err := strconv.Atoi(value); err == nil {
				mx = v
			}
		case "CACHE-CONTROL":
			if v, ok := parseMaxAge(value); ok {
				maxAge = v
				haveMaxAge = true
			}
		case "ST":
			st = value
		case "NTS":
			nts = value
		}
	}

	switch {
	case usnUUID != "" && (haveLocation || !haveMaxAge):
		msg := Message{UUID: usnUUID, URN: usnURN, TTL: maxAge}
		if haveLocation {
			msg.Location = location.NewURL(descriptionURL)
		}
		return &Parsed{Message: msg, IsByeBye: nts == "ssdp:byebye", IsResponse: isResponse}, nil

	case st == "ssdp:all":
		return &Parsed{IsQuery: true, Message: Message{UUID: usnUUID, URN: usnURN, MX: mx}}, nil

	case st != "" && mx > 0:
		q := Message{MX: mx}
		if rest, ok := strings.CutPrefix(st, "uuid:"); ok {
			q.UUID = rest
		} else {
			q.URN = st
		}
		return &Parsed{IsQuery: true, Message: q}, nil

	default:
		return nil, fmt.Errorf("ssdp: message did not resolve to a query or an alive/response record")
	}
}

// parseUSN implements the USN resolution rule: strip a leading "uuid:",
// then split on "::" into uuid/urn, or treat a bare 36-char remainder as a
// uuid with no urn.
func parseUSN(usn string) (uuidStr, urn string) {
	rest, ok := strings.CutPrefix(usn, "uuid:")
	if !ok {
		return "", ""
	}
	if u, t, found := strings.Cut(rest, "::"); found {
		return u, t
	}
	if len(rest) == 36 {
		if _, err := uuid.Parse(rest); err == nil {
			return rest, ""
		}
	}
	return "", ""
}

// parseMaxAge leniently extracts the integer suffix of "max-age=" from a
// CACHE-CONTROL value.
func parseMaxAge(cacheControl string) (int, bool) {
	idx := strings.Index(strings.ToLower(cacheControl), "max-age=")
	if idx < 0 {
		return 0, false
	}
	rest := cacheControl[idx+len("max-age="):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	v, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return v, true
}

func splitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	return strings.Split(raw, "\n")
}

// rfc1123GMT is the DATE header format: RFC 1123, GMT.
func rfc1123GMT(t time.Time) string {
	return t.UTC().Format(time.RFC1123)
}

// timeNow is a seam for tests that need a deterministic DATE header.
var timeNow = time.Now
