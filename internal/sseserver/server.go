// Package sseserver serves the browser-facing log and traffic dashboard:
// a handful of embedded static assets plus three Server-Sent-Events
// streams backed by the hub package. It speaks raw HTTP/1.1 over a
// net.Listener rather than net/http, the same way the connection-tracing
// sidecar this project supervises exposes its own debug endpoints.
package sseserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/domain"
	"github.com/ethpandaops/truss/internal/hub"
	"github.com/sirupsen/logrus"
)

// Server is the loopback HTTP server backing the run dashboard.
type Server struct {
	log logrus.FieldLogger

	listener net.Listener

	logHub  *hub.LogHub
	edgeHub *hub.EdgeHub
	callHub *hub.CallHub

	services []domain.ServiceInfo
}

// New binds an OS-chosen loopback port and returns a Server ready to
// Serve. The listener is bound eagerly so Addr is valid before Serve is
// called.
func New(log logrus.FieldLogger, logHub *hub.LogHub, edgeHub *hub.EdgeHub, callHub *hub.CallHub, services []domain.ServiceInfo) (*Server, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	return &Server{
		log:      log.WithField("component", "sseserver"),
		listener: listener,
		logHub:   logHub,
		edgeHub:  edgeHub,
		callHub:  callHub,
		services: services,
	}, nil
}

// Addr returns the loopback address the server is listening on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve accepts connections until stop is closed, handling each on its
// own goroutine. The accept loop polls the listener on a short deadline
// rather than blocking indefinitely, so it notices stop promptly.
func (s *Server) Serve(stop <-chan struct{}) {
	defer s.listener.Close()

	tcpListener, isTCP := s.listener.(*net.TCPListener)

	for {
		select {
		case <-stop:
			return
		default:
		}

		if isTCP {
			_ = tcpListener.SetDeadline(time.Now().Add(constants.AcceptIdleSleep))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}

			select {
			case <-stop:
				return
			default:
				s.log.WithError(err).Warn("accept failed")
				return
			}
		}

		go s.handleConn(conn, stop)
	}
}

func (s *Server) handleConn(conn net.Conn, stop <-chan struct{}) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	reader := bufio.NewReader(conn)

	requestLine, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	fields := strings.Fields(requestLine)
	if len(fields) < 2 {
		return
	}

	method, path := fields[0], fields[1]

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}

		if strings.TrimRight(line, "\r\n") == "" {
			break
		}
	}

	_ = conn.SetReadDeadline(time.Time{})

	if method != "GET" {
		writeResponse(conn, 405, "text/plain", []byte("method not allowed"))
		return
	}

	switch path {
	case "/", "/index.html":
		writeResponse(conn, 200, "text/html; charset=utf-8", mustAsset("index.html"))
	case "/app.js":
		writeResponse(conn, 200, "application/javascript; charset=utf-8", mustAsset("app.js"))
	case "/styles.css":
		writeResponse(conn, 200, "text/css; charset=utf-8", mustAsset("styles.css"))
	case "/api/services":
		s.serveServices(conn)
	case "/events":
		serveSSE(conn, stop, s.logHub.Register, s.logHub.Unregister)
	case "/traffic":
		serveSSE(conn, stop, s.edgeHub.Register, s.edgeHub.Unregister)
	case "/traffic/calls":
		serveSSE(conn, stop, s.callHub.Register, s.callHub.Unregister)
	default:
		writeResponse(conn, 404, "text/plain", []byte("not found"))
	}
}

func (s *Server) serveServices(conn net.Conn) {
	payload, err := json.Marshal(struct {
		Services []domain.ServiceInfo `json:"services"`
	}{Services: s.services})
	if err != nil {
		writeResponse(conn, 500, "text/plain", []byte("encode error"))
		return
	}

	writeResponseWithHeaders(conn, 200, "application/json", payload, []string{"Cache-Control: no-store"})
}

func statusText(status int) string {
	switch status {
	case 200:
		return "OK"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 500:
		return "Internal Server Error"
	default:
		return "OK"
	}
}

func writeResponse(conn net.Conn, status int, contentType string, body []byte) {
	writeResponseWithHeaders(conn, status, contentType, body, nil)
}

func writeResponseWithHeaders(conn net.Conn, status int, contentType string, body []byte, extraHeaders []string) {
	var b strings.Builder

	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, statusText(status))
	fmt.Fprintf(&b, "Content-Type: %s\r\n", contentType)
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))

	for _, h := range extraHeaders {
		b.WriteString(h)
		b.WriteString("\r\n")
	}

	b.WriteString("\r\n")

	if _, err := conn.Write([]byte(b.String())); err != nil {
		return
	}

	_, _ = conn.Write(body)
}

// serveSSE drains register's history into the stream, then relays live
// events until stop fires, the client disconnects, or the hub channel is
// unregistered. A ping comment is sent on every idle interval so proxies
// and browsers don't time the connection out.
func serveSSE[T any](conn net.Conn, stop <-chan struct{}, register func(int) (uint64, <-chan T, []T), unregister func(uint64)) {
	headers := strings.Join([]string{
		"HTTP/1.1 200 OK",
		"Content-Type: text/event-stream",
		"Cache-Control: no-cache",
		"Connection: keep-alive",
		"\r\n",
	}, "\r\n")

	if _, err := conn.Write([]byte(headers)); err != nil {
		return
	}

	id, events, history := register(constants.ClientChannelBuffer)
	defer unregister(id)

	for _, event := range history {
		if !writeSSEEvent(conn, event) {
			return
		}
	}

	ticker := time.NewTicker(constants.SSEPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case event, ok := <-events:
			if !ok {
				return
			}

			if !writeSSEEvent(conn, event) {
				return
			}
		case <-ticker.C:
			if _, err := conn.Write([]byte(": ping\n\n")); err != nil {
				return
			}
		}
	}
}

func writeSSEEvent[T any](conn net.Conn, event T) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		return true
	}

	_, err = conn.Write([]byte("data: " + string(payload) + "\n\n"))

	return err == nil
}
