package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	ErrProtocol = errors.New("envelope: protocol error")
	ErrInvalid  = errors.New("envelope: invalid envelope")
)

type wireEnvelope struct {
	Type         string          `json:"type"`
	RoomID       string          `json:"roomID,omitempty"`
	ConnectionID string          `json:"connectionID,omitempty"`
	MessageID    string          `json:"messageID"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Validate проверяет поля, обязательные для исходящего конверта.
func (e Envelope) Validate() error {
	if strings.TrimSpace(string(e.Type)) == "" {
		return fmt.Errorf("%w: missing type", ErrInvalid)
	}
	if strings.TrimSpace(e.MessageID) == "" {
		return fmt.Errorf("%w: missing messageID", ErrInvalid)
	}
	return nil
}

// Encode сериализует env в один компактный текстовый JSON-фрейм.
func Encode(env Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	w := wireEnvelope{
		Type:         string(env.Type),
		RoomID:       env.RoomID,
		ConnectionID: env.ConnectionID,
		MessageID:    env.MessageID,
	}
	if env.Payload != nil {
		raw, err := protojson.Marshal(env.Payload)
		if err != nil {
			return nil, fmt.Errorf("envelope: encode payload: %w", err)
		}
		// protojson намеренно нестабилен по пробелам
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, fmt.Errorf("envelope: compact payload: %w", err)
		}
		w.Payload = buf.Bytes()
	}
	return json.Marshal(w)
}

// Decode разбирает один текстовый фрейм. Любое нарушение формы -> ErrProtocol,
// вызывающий логирует и выбрасывает фрейм.
func Decode(frame []byte) (Envelope, error) {
	if len(bytes.TrimSpace(frame)) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty frame", ErrProtocol)
	}
	var w wireEnvelope
	if err := json.Unmarshal(frame, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if w.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrProtocol)
	}
	if w.MessageID == "" {
		return Envelope{}, fmt.Errorf("%w: missing messageID", ErrProtocol)
	}
	env := Envelope{
		Type:         Type(w.Type),
		RoomID:       w.RoomID,
		ConnectionID: w.ConnectionID,
		MessageID:    w.MessageID,
	}
	if len(w.Payload) > 0 && !bytes.Equal(bytes.TrimSpace(w.Payload), []byte("null")) {
		payload := &structpb.Struct{}
		if err := protojson.Unmarshal(w.Payload, payload); err != nil {
			return Envelope{}, fmt.Errorf("%w: payload: %v", ErrProtocol, err)
		}
		env.Payload = payload
	}
	return env, nil
}
