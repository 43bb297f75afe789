// Package wstest запускает скриптовые WebSocket-пиры на httptest-серверах.
package wstest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EgorLis/thinws/internal/envelope"
	"github.com/gorilla/websocket"
)

type Server struct {
	*httptest.Server

	handler  func(*Conn)
	upgrader websocket.Upgrader
	reject   atomic.Bool
	accepted atomic.Int64

	mu    sync.Mutex
	conns []*Conn

	// Conns получает каждое принятое соединение.
	Conns chan *Conn
}

// NewServer запускает сервер, вызывающий handler на каждое принятое
// соединение. После возврата handler соединение закрывается.
func NewServer(t *testing.T, handler func(*Conn)) *Server {
	t.Helper()
	s := &Server{
		handler: handler,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		Conns: make(chan *Conn, 64),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(func() {
		s.DropAll()
		s.Server.Close()
	})
	return s
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if s.reject.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &Conn{Conn: ws}
	s.accepted.Add(1)
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()
	select {
	case s.Conns <- c:
	default:
	}
	defer ws.Close()
	if s.handler != nil {
		s.handler(c)
	}
}

// URL ws://-адрес сервера.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

// Reject: пока on == true, сервер отвечает на апгрейд 503.
func (s *Server) Reject(on bool) {
	s.reject.Store(on)
}

// DropAll рвёт все принятые соединения без close-фрейма.
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Conn.Close()
	}
}

// CloseAll шлёт всем принятым соединениям close-фрейм с code.
func (s *Server) CloseAll(code int, reason string) {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.Conn.Close()
	}
}

// Conn серверная сторона принятого соединения. Записи сериализованы.
type Conn struct {
	*websocket.Conn
	wmu sync.Mutex
}

func (c *Conn) ReadText() (string, error) {
	_, data, err := c.Conn.ReadMessage()
	return string(data), err
}

func (c *Conn) ReadEnvelope() (envelope.Envelope, error) {
	_, data, err := c.Conn.ReadMessage()
	if err != nil {
		return envelope.Envelope{}, err
	}
	return envelope.Decode(data)
}

func (c *Conn) WriteText(s string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.Conn.WriteMessage(websocket.TextMessage, []byte(s))
}

func (c *Conn) WriteEnvelope(env envelope.Envelope) error {
	frame, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	return c.WriteText(string(frame))
}

// Echo handler, возвращающий каждый текстовый фрейм обратно.
func Echo(c *Conn) {
	for {
		s, err := c.ReadText()
		if err != nil {
			return
		}
		if err := c.WriteText(s); err != nil {
			return
		}
	}
}

// Hold handler, читающий и выбрасывающий всё до конца соединения.
func Hold(c *Conn) {
	for {
		if _, err := c.ReadText(); err != nil {
			return
		}
	}
}

// RefusedURL ws://-адрес, который никто не слушает.
func RefusedURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()
	return u
}
