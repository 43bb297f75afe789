package rpclient

import (
	"context"
	"fmt"

	"github.com/EgorLis/thinws/internal/envelope"
	"github.com/EgorLis/thinws/internal/pending"
	"google.golang.org/protobuf/types/known/structpb"
)

// Subscribe просит пира подписать на roomID.
func (c *Client) Subscribe(ctx context.Context, roomID string, cb pending.Callback) (string, error) {
	return c.Request(ctx, envelope.Envelope{
		Type:   envelope.TypeSubscribe,
		RoomID: roomID,
	}, cb)
}

// SendMessage отправляет payload в roomID.
func (c *Client) SendMessage(ctx context.Context, roomID string, payload *structpb.Struct, cb pending.Callback) (string, error) {
	return c.Request(ctx, envelope.Envelope{
		Type:    envelope.TypeMessage,
		RoomID:  roomID,
		Payload: payload,
	}, cb)
}

// SendFields как SendMessage, но payload собирается из обычных значений.
func (c *Client) SendFields(ctx context.Context, roomID string, fields map[string]any, cb pending.Callback) (string, error) {
	payload, err := envelope.NewPayload(fields)
	if err != nil {
		return "", fmt.Errorf("build payload: %w", err)
	}
	return c.SendMessage(ctx, roomID, payload, cb)
}

func (c *Client) SubscribeSync(ctx context.Context, roomID string) (envelope.Envelope, error) {
	return c.SyncRequest(ctx, envelope.Envelope{
		Type:   envelope.TypeSubscribe,
		RoomID: roomID,
	})
}

func (c *Client) SendMessageSync(ctx context.Context, roomID string, payload *structpb.Struct) (envelope.Envelope, error) {
	return c.SyncRequest(ctx, envelope.Envelope{
		Type:    envelope.TypeMessage,
		RoomID:  roomID,
		Payload: payload,
	})
}
