package rpclient

import (
	"context"

	"github.com/EgorLis/thinws/internal/envelope"
)

// Future результат одного запроса через RequestAsync.
type Future struct {
	c    *Client
	id   string
	done chan struct{}
	resp envelope.Envelope
	err  error
}

// RequestAsync отправляет env и возвращает Future. Если запрос не удалось
// отправить, Future уже завершён.
func (c *Client) RequestAsync(ctx context.Context, env envelope.Envelope) *Future {
	f := &Future{c: c, done: make(chan struct{})}
	id, err := c.Request(ctx, env, func(resp envelope.Envelope, err error) {
		f.resp, f.err = resp, err
		close(f.done)
	})
	if err != nil {
		f.err = err
		close(f.done)
		return f
	}
	f.id = id
	return f
}

// ID message id запроса, "" если он не был отправлен.
func (f *Future) ID() string { return f.id }

// Done закрывается после завершения запроса.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait ждёт завершения запроса или конца ctx. Если ctx кончился раньше,
// запрос отменяется и возвращается ctx.Err().
//
// Нельзя вызывать Wait из колбэка Listener: ответы приходят в той же
// горутине.
func (f *Future) Wait(ctx context.Context) (envelope.Envelope, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
	}
	if f.id != "" && f.c.Cancel(f.id) {
		return envelope.Envelope{}, ctx.Err()
	}
	// завершился одновременно с отменой
	<-f.done
	return f.resp, f.err
}

// Result результат без ожидания; done == false, пока запрос висит.
func (f *Future) Result() (resp envelope.Envelope, done bool, err error) {
	select {
	case <-f.done:
		return f.resp, true, f.err
	default:
		return envelope.Envelope{}, false, nil
	}
}

// SyncRequest отправляет env и ждёт завершения или конца ctx.
func (c *Client) SyncRequest(ctx context.Context, env envelope.Envelope) (envelope.Envelope, error) {
	return c.RequestAsync(ctx, env).Wait(ctx)
}
