// Package ackserver эталонный пир для клиентов thinws. На каждый конверт
// отвечает с тем же messageID:
//
//   - "ack" с эхом roomID и payload,
//   - "error", если в payload "fail": true,
//   - никак, если в payload "drop": true.
//
// Handshake connect подтверждается как любой другой конверт.
package ackserver

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EgorLis/thinws/internal/envelope"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	FieldFail = "fail"
	FieldDrop = "drop"

	writeWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server http.Handler: апгрейд до WebSocket и ответы ack.
type Server struct {
	log zerolog.Logger

	accepted atomic.Int64
	handled  atomic.Int64

	mu    sync.Mutex
	conns map[*peer]struct{}
}

type peer struct {
	ws  *websocket.Conn
	wmu sync.Mutex
	id  int64
	// connection id из handshake
	connectionID atomic.Value
}

func New(log zerolog.Logger) *Server {
	return &Server{
		log:   log,
		conns: make(map[*peer]struct{}),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже записал HTTP-ошибку
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}
	p := &peer{ws: ws, id: s.accepted.Add(1)}
	p.connectionID.Store("")
	s.mu.Lock()
	s.conns[p] = struct{}{}
	s.mu.Unlock()

	log := s.log.With().Int64("peer", p.id).Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("peer connected")
	defer func() {
		s.mu.Lock()
		delete(s.conns, p)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info().Msg("peer closed")
			} else {
				log.Debug().Err(err).Msg("read ended")
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		env, err := envelope.Decode(data)
		if err != nil {
			log.Warn().Err(err).Msg("malformed envelope ignored")
			continue
		}
		s.handled.Add(1)
		if env.Type == envelope.TypeConnect {
			p.connectionID.Store(env.ConnectionID)
			log.Info().Str("connection_id", env.ConnectionID).Msg("handshake")
		}

		reply, ok := Reply(env)
		if !ok {
			log.Debug().Str("message_id", env.MessageID).Msg("drop requested, no reply")
			continue
		}
		if err := p.write(reply); err != nil {
			log.Debug().Err(err).Msg("write failed")
			return
		}
	}
}

// Reply строит ответ на env; ok == false, если отвечать не нужно.
func Reply(env envelope.Envelope) (envelope.Envelope, bool) {
	if env.PayloadBool(FieldDrop) {
		return envelope.Envelope{}, false
	}
	if env.PayloadBool(FieldFail) {
		return envelope.Envelope{
			Type:      envelope.TypeError,
			RoomID:    env.RoomID,
			MessageID: env.MessageID,
			Payload: &structpb.Struct{Fields: map[string]*structpb.Value{
				"error": structpb.NewStringValue("requested failure"),
			}},
		}, true
	}
	return envelope.Envelope{
		Type:      envelope.TypeAck,
		RoomID:    env.RoomID,
		MessageID: env.MessageID,
		Payload:   env.Payload,
	}, true
}

// Broadcast рассылает env всем подключённым и возвращает, скольким дошло.
func (s *Server) Broadcast(env envelope.Envelope) int {
	n := 0
	for _, p := range s.peers() {
		if err := p.write(env); err == nil {
			n++
		}
	}
	return n
}

// CloseAll закрывает все соединения close-фреймом с code.
func (s *Server) CloseAll(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	for _, p := range s.peers() {
		p.wmu.Lock()
		_ = p.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		p.wmu.Unlock()
		_ = p.ws.Close()
	}
}

// ConnectionIDs id из handshake подключённых пиров.
func (s *Server) ConnectionIDs() []string {
	var ids []string
	for _, p := range s.peers() {
		if id := p.connectionID.Load().(string); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Server) Accepted() int64 { return s.accepted.Load() }

func (s *Server) Handled() int64 { return s.handled.Load() }

func (s *Server) Connected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) peers() []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peer, 0, len(s.conns))
	for p := range s.conns {
		out = append(out, p)
	}
	return out
}

func (p *peer) write(env envelope.Envelope) error {
	frame, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return p.ws.WriteMessage(websocket.TextMessage, frame)
}
