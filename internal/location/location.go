// Package location implements the LocationDescriptor capability: the thing
// a published SSDP message points at with its LOCATION header. A descriptor
// knows its own resource name, how to turn itself into an absolute URL for a
// given node/interface pair, and how to produce its description bytes.
package location

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/halvorsen/upnpnode/internal/iface"
)

// NodeInfo is the sliver of node configuration a Descriptor needs to
// synthesize a LOCATION URL: just the HTTP port it serves descriptions on,
// if any. Kept as a narrow interface (rather than importing the node
// package) so location has no dependency on node and node depends on
// location, not the other way around.
type NodeInfo interface {
	HTTPPort() (port int, ok bool)
}

// Descriptor produces a name, an absolute URL, and description bytes for a
// single published device or service description document.
type Descriptor interface {
	// Name is the path component used in URLs, with no leading slash.
	Name() string
	// LocationFor resolves the absolute URL this descriptor should be
	// advertised at, given the node and the outbound interface.
	LocationFor(node NodeInfo, ifc iface.Info) (string, error)
	// Content returns the description document's bytes.
	Content() ([]byte, error)
}

// defaultLocationFor implements the synthesized-URL default:
// http://<iface-ip>:<httpPort>/<name>, or a usage error if the node has no
// HTTP port configured.
func defaultLocationFor(name string, node NodeInfo, ifc iface.Info) (string, error) {
	port, ok := node.HTTPPort()
	if !ok {
		return "", fmt.Errorf("location: cannot resolve a URL for %q: node has no HTTP port configured", name)
	}
	return fmt.Sprintf("http://%s:%d/%s", ifc.IP, port, name), nil
}

// constant is a Descriptor whose content is fixed bytes supplied at
// construction time.
type constant struct {
	name string
	data []byte
}

// NewConstant wraps literal description bytes. name is the path component
// the description will be served under.
func NewConstant(name string, data []byte) Descriptor {
	return &constant{name: name, data: data}
}

func (c *constant) Name() string { return c.name }

func (c *constant) LocationFor(node NodeInfo, ifc iface.Info) (string, error) {
	return defaultLocationFor(c.name, node, ifc)
}

func (c *constant) Content() ([]byte, error) {
	return c.data, nil
}

// resource is a Descriptor backed by a file on disk. name is the URL path
// component; path is the file that is read.
type resource struct {
	name string
	path string
	read func(path string) ([]byte, error)
}

// NewResource wraps a filesystem path. name is the path component used in
// URLs; filePath is read lazily, on each Content() call, so an edited file
// on disk is picked up without restarting the node (the node-level
// ContentCache is what actually makes repeat requests cheap).
func NewResource(name, filePath string, read func(path string) ([]byte, error)) Descriptor {
	return &resource{name: name, path: filePath, read: read}
}

func (r *resource) Name() string { return r.name }

func (r *resource) LocationFor(node NodeInfo, ifc iface.Info) (string, error) {
	return defaultLocationFor(r.name, node, ifc)
}

func (r *resource) Content() ([]byte, error) {
	data, err := r.read(r.path)
	if err != nil {
		return nil, fmt.Errorf("location: read resource %q: %w", r.path, err)
	}
	return data, nil
}

// remoteURL is a Descriptor that already has an absolute URL, either one a
// publisher chose explicitly or one reconstructed by parsing an incoming
// LOCATION header. LocationFor ignores node/iface: the URL is not
// synthesized, it is the thing itself.
type remoteURL struct {
	raw        string
	name       string
	httpClient *http.Client
}

// NewURL wraps an absolute URL. The resource name is derived from the
// URL's path (leading slashes stripped), matching how DescriptionServer
// derives a resource name from an incoming HTTP GET.
func NewURL(raw string) Descriptor {
	name := raw
	if u, err := url.Parse(raw); err == nil {
		name = strings.TrimLeft(u.Path, "/")
	}
	return &remoteURL{raw: raw, name: name, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

func (u *remoteURL) Name() string { return u.name }

func (u *remoteURL) LocationFor(node NodeInfo, ifc iface.Info) (string, error) {
	return u.raw, nil
}

func (u *remoteURL) Content() ([]byte, error) {
	resp, err := u.httpClient.Get(u.raw)
	if err != nil {
		return nil, fmt.Errorf("location: fetch %q: %w", u.raw, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("location: fetch %q: status %s", u.raw, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("location: read body of %q: %w", u.raw, err)
	}
	return data, nil
}

// Select is the factory rule from the design notes: given an arbitrary
// input string, pick the Descriptor variant it most likely names.
//   - contains "://" and no newline -> NewURL
//   - starts with "<?xml" or contains a newline -> inline content (NewConstant),
//     validated as well-formed XML
//   - otherwise -> a filesystem resource read from s, served under name
func Select(name, s string) (Descriptor, error) {
	switch {
	case strings.Contains(s, "://") && !strings.Contains(s, "\n"):
		return NewURL(s), nil
	case strings.HasPrefix(s, "<?xml") || strings.Contains(s, "\n"):
		if err := validateXML([]byte(s)); err != nil {
			return nil, fmt.Errorf("location: inline content for %q: %w", name, err)
		}
		return NewConstant(name, []byte(s)), nil
	default:
		return NewResource(name, s, os.ReadFile), nil
	}
}

// validateXML rejects inline description content that is not well-formed,
// so a typo in a constant is a synchronous configuration error instead of a
// 200 response full of garbage.
func validateXML(data []byte) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return fmt.Errorf("not well-formed XML: %w", err)
	}
	return nil
}

// NameFromPath derives a resource name from a URL or filesystem path the
// same way DescriptionServer derives one from an incoming request: strip
// leading slashes.
func NameFromPath(p string) string {
	return strings.TrimLeft(path.Clean("/"+p), "/")
}
