package descserver

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const readTimeout = 1 * time.Second

// Server serves cached description bytes over a minimal HTTP/1.1,
// connection-close, one-resource-per-request responder. It exists only
// because LOCATION URLs must resolve; it is not a general HTTP server
// (spec.md §1).
type Server struct {
	log   *logrus.Entry
	cache *ContentCache

	listener  net.Listener
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New returns an unstarted Server backed by cache.
func New(log *logrus.Entry, cache *ContentCache) *Server {
	return &Server{log: log, cache: cache}
}

// Start binds port and begins accepting connections.
func (s *Server) Start(port int) error {
	ln, err := net.Listen("tcp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("descserver: listen on port %d: %w", port, err)
	}
	s.listener = ln
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // listener closed (or otherwise unusable)
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	reqPath, err := readRequestPath(conn)
	if err != nil {
		return
	}

	name := strings.TrimLeft(reqPath, "/")
	data, ok := s.cache.Get(name)
	if !ok {
		writeResponse(conn, 404, "NOT FOUND", nil)
		return
	}
	writeResponse(conn, 200, "OK", data)
}

// readRequestPath reads request lines until the blank line terminator,
// remembering the path from a "GET <path> HTTP/1.1" line.
func readRequestPath(conn net.Conn) (string, error) {
	reader := bufio.NewReader(conn)
	var path string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if path == "" && strings.HasPrefix(line, "GET ") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				path = fields[1]
			}
		}
	}
	return path, nil
}

func writeResponse(conn net.Conn, status int, statusText string, body []byte) {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, statusText)
	b.WriteString("connection: close\r\n")
	if status == 200 {
		b.WriteString("content-type: text/xml\r\n")
	}
	b.WriteString("content-length: " + strconv.Itoa(len(body)) + "\r\n")
	b.WriteString("\r\n")
	conn.Write([]byte(b.String()))
	if len(body) > 0 {
		conn.Write(body)
	}
}

// Close stops accepting connections and waits for in-flight requests to
// finish. Idempotent: see SPEC_FULL.md Open Question 3.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
}
