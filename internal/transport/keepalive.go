package transport

import (
	"time"

	"github.com/gorilla/websocket"
)

// startKeepalive ставит read deadline и тикер пингов для conn. Пинги идут
// через воркер, как и любая запись.
func (t *Transport) startKeepalive(gen uint64, conn *websocket.Conn) {
	t.stopKeepalive()
	if t.opts.pingInterval <= 0 {
		return
	}

	pongWait := t.opts.pongWait
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	t.pingStop = stop
	go func() {
		tick := time.NewTicker(t.opts.pingInterval)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				t.worker.post(func() { t.ping(gen) })
			}
		}
	}()
}

func (t *Transport) ping(gen uint64) {
	if gen != t.gen || t.conn == nil {
		return
	}
	err := t.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(t.opts.writeTimeout))
	if err != nil {
		t.log.Debug().Err(err).Msg("ping failed")
	}
}

func (t *Transport) stopKeepalive() {
	if t.pingStop != nil {
		close(t.pingStop)
		t.pingStop = nil
	}
}
