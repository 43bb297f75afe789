package rpclient

import (
	"github.com/EgorLis/thinws/internal/envelope"
)

// transportEvents адаптер клиента к transport.Listener. Все методы
// выполняются в горутине событий транспорта.
type transportEvents struct {
	c *Client
}

func (e transportEvents) OnOpen() {
	c := e.c
	if !c.transition(StateConnected) {
		return
	}
	c.metrics.opened()

	// handshake без ожидания ответа; его ack узнаём по id и выбрасываем
	hello := envelope.Envelope{
		Type:         envelope.TypeConnect,
		ConnectionID: c.connectionID,
		MessageID:    c.newID(),
	}
	frame, err := envelope.Encode(hello)
	if err != nil {
		c.log.Error().Err(err).Msg("encode connect handshake")
	} else {
		c.handshakeID.Store(hello.MessageID)
		c.transport.Send(frame)
		c.log.Info().Str("message_id", hello.MessageID).Msg("connected, handshake sent")
	}
	c.listener.OnOpen()
}

func (e transportEvents) OnFrame(frame []byte) {
	c := e.c
	if c.isClosed() {
		return
	}
	env, err := envelope.Decode(frame)
	if err != nil {
		c.metrics.droppedFrame("malformed")
		c.log.Warn().Err(err).Int("bytes", len(frame)).Msg("malformed frame dropped")
		return
	}

	if env.MessageID == c.handshakeID.Load().(string) {
		c.handshakeID.Store("")
		if env.IsError() {
			c.log.Warn().Str("reason", env.PayloadString("error")).Msg("handshake rejected by peer")
		} else {
			c.log.Debug().Msg("handshake acknowledged")
		}
		return
	}

	var matched bool
	if env.IsError() {
		matched = c.pending.Reject(env.MessageID, &RemoteError{Response: env})
	} else {
		matched = c.pending.Resolve(env.MessageID, env)
	}
	if matched {
		return
	}

	if p, ok := c.listener.(PushListener); ok {
		p.OnPush(env)
		return
	}
	c.metrics.droppedFrame("unmatched")
	c.log.Debug().
		Str("type", string(env.Type)).
		Str("message_id", env.MessageID).
		Msg("unsolicited envelope dropped")
}

// OnFail: клиент, потерявший открытое соединение, остаётся в Reconnecting до
// следующего открытия; Connecting только у того, кто ещё не подключался.
func (e transportEvents) OnFail(err error) {
	c := e.c
	if !c.failedAttempt() {
		return
	}
	c.metrics.failure("connect")
	c.log.Warn().Err(err).Int("attempt", c.transport.Attempt()).Msg("connection attempt failed")
	c.listener.OnFail(err)
}

func (e transportEvents) OnDisconnected(err error) {
	c := e.c
	if !c.transition(StateReconnecting) {
		return
	}
	c.metrics.failure("disconnect")
	c.log.Warn().Err(err).Msg("disconnected, reconnecting")
	c.listener.OnDisconnected(err)
}

// OnClose: транспорт сдался (попытки кончились или пир закрыл нормально).
// Клиент закрывается вместе с ним.
func (e transportEvents) OnClose() {
	e.c.shutdown("transport closed")
}
