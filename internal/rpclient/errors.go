package rpclient

import (
	"errors"
	"fmt"

	"github.com/EgorLis/thinws/internal/envelope"
	"github.com/EgorLis/thinws/internal/pending"
	"github.com/EgorLis/thinws/internal/transport"
)

var (
	// ErrClosed всё, что пытались сделать после Close или после того, как
	// транспорт сдался.
	ErrClosed = transport.ErrClosed
	// ErrRemote совпадает с любым *RemoteError.
	ErrRemote = errors.New("remote error")

	ErrTimeout  = pending.ErrTimeout
	ErrCanceled = pending.ErrCanceled
)

// RemoteError отказ по запросу, на который пир ответил конвертом "error".
type RemoteError struct {
	Response envelope.Envelope
}

func (e *RemoteError) Error() string {
	reason := e.Response.PayloadString("error")
	if reason == "" {
		reason = e.Response.PayloadString("message")
	}
	if reason == "" {
		return fmt.Sprintf("remote error for request %s", e.Response.MessageID)
	}
	return fmt.Sprintf("remote error for request %s: %s", e.Response.MessageID, reason)
}

func (e *RemoteError) Unwrap() error { return ErrRemote }
