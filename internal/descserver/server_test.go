package descserver

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerServesCachedContent(t *testing.T) {
	lookup := newFakeLookup()
	lookup.set("root.xml", func() ([]byte, error) { return []byte("<root/>"), nil })
	cache := NewContentCache(lookup, nil)
	s := New(logrus.NewEntry(logrus.New()), cache)

	require.NoError(t, s.Start(0))
	defer s.Close()

	port := s.listener.Addr().(*net.TCPAddr).Port
	status, body := getRaw(t, port, "/root.xml")
	assert.Equal(t, "HTTP/1.1 200 OK", status)
	assert.Equal(t, "<root/>", body)
}

func TestServerReturns404ForUnknownName(t *testing.T) {
	lookup := newFakeLookup()
	cache := NewContentCache(lookup, nil)
	s := New(logrus.NewEntry(logrus.New()), cache)

	require.NoError(t, s.Start(0))
	defer s.Close()

	port := s.listener.Addr().(*net.TCPAddr).Port
	status, _ := getRaw(t, port, "/nope.xml")
	assert.Equal(t, "HTTP/1.1 404 NOT FOUND", status)
}

func TestServerCloseIsIdempotent(t *testing.T) {
	lookup := newFakeLookup()
	cache := NewContentCache(lookup, nil)
	s := New(logrus.NewEntry(logrus.New()), cache)

	require.NoError(t, s.Start(0))
	s.Close()
	assert.NotPanics(t, func() { s.Close() })
}

func getRaw(t *testing.T, port int, path string) (status, body string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp4", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprintf(conn, "GET %s HTTP/1.1\r\nHost: localhost\r\n\r\n", path)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	status = trimCRLF(statusLine)

	var contentLength int
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = trimCRLF(line)
		if line == "" {
			break
		}
		fmt.Sscanf(line, "content-length: %d", &contentLength)
	}

	buf := make([]byte, contentLength)
	if contentLength > 0 {
		_, err = io.ReadFull(reader, buf)
		require.NoError(t, err)
	}
	return status, string(buf)
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
