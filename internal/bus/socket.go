package bus

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// clientBuffer is the per-connection send queue. Payloads are dropped for
// clients that fall this far behind rather than stalling publishers.
const clientBuffer = 256

// SocketSink fans notification payloads out to websocket clients. It is
// the "post office" transport: every connected client receives every
// notification as a JSON text message.
type SocketSink struct {
	log      *logrus.Logger
	server   *http.Server
	addr     net.Addr
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	closed  bool
}

// NewSocketSink starts a websocket listener on the given port and returns
// the sink. Clients connect to ws://host:port/.
func NewSocketSink(port int, log *logrus.Logger) (*SocketSink, error) {
	s := &SocketSink{
		log:     log,
		clients: make(map[*websocket.Conn]chan []byte),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("post office listen: %w", err)
	}

	s.addr = ln.Addr()

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleConn)
	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("post office server stopped")
		}
	}()

	log.WithField("port", port).Info("post office listening")
	return s, nil
}

func (s *SocketSink) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	send := make(chan []byte, clientBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[conn] = send
	n := len(s.clients)
	s.mu.Unlock()

	s.log.WithField("clients", n).Info("post office client connected")

	// Writer goroutine: gorilla permits one concurrent writer per conn.
	go func() {
		defer conn.Close()
		for payload := range send {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				break
			}
		}
	}()

	// Reader loop exists only to notice disconnects; inbound messages are
	// not part of the contract and are discarded.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.drop(conn)
				return
			}
		}
	}()
}

func (s *SocketSink) drop(conn *websocket.Conn) {
	s.mu.Lock()
	if send, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		close(send)
	}
	n := len(s.clients)
	s.mu.Unlock()
	s.log.WithField("clients", n).Info("post office client disconnected")
}

// Addr returns the listener address, useful when started on port 0.
func (s *SocketSink) Addr() string {
	return s.addr.String()
}

// ClientCount returns the number of connected clients.
func (s *SocketSink) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Deliver fans the payload out to every client. Slow clients lose payloads
// rather than delaying the publisher.
func (s *SocketSink) Deliver(payload []byte) {
	s.mu.Lock()
	for _, send := range s.clients {
		select {
		case send <- payload:
		default:
			// client too slow, drop to keep delivery moving
		}
	}
	s.mu.Unlock()
}

// Close shuts the listener down and disconnects all clients.
func (s *SocketSink) Close() error {
	s.mu.Lock()
	s.closed = true
	for conn, send := range s.clients {
		close(send)
		delete(s.clients, conn)
		conn.Close()
	}
	s.mu.Unlock()
	return s.server.Shutdown(context.Background())
}
