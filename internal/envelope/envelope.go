// Package envelope описывает сообщение, которое ходит по соединению thinws,
// и его кодек в текстовые JSON-фреймы.
//
// Один фрейм = ровно один JSON-объект:
//
//	{"type":"subscribe","roomID":"lobby","messageID":"3f1c…","payload":{...}}
//
// type и messageID обязательны; roomID, connectionID и payload нет.
// payload непрозрачный JSON-объект, хранится как structpb.Struct: его можно
// собрать и прочитать без фиксированной схемы.
package envelope

import (
	"google.golang.org/protobuf/types/known/structpb"
)

// Type вид конверта. Набор открытый: на проводе допустима любая непустая
// строка.
type Type string

const (
	TypeConnect   Type = "connect"
	TypeSubscribe Type = "subscribe"
	TypeMessage   Type = "message"
	TypeAck       Type = "ack"
	TypeError     Type = "error"
)

type Envelope struct {
	Type         Type
	RoomID       string
	ConnectionID string // только в handshake connect
	MessageID    string // id корреляции
	Payload      *structpb.Struct
}

// IsError: пир ответил конвертом error.
func (e Envelope) IsError() bool {
	return e.Type == TypeError
}

// NewPayload собирает payload из обычных Go-значений (допустимые типы см.
// structpb.NewValue).
func NewPayload(fields map[string]any) (*structpb.Struct, error) {
	return structpb.NewStruct(fields)
}

// PayloadString возвращает строковое поле key из payload или "", если
// payload/поля нет или это не строка.
func (e Envelope) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	v, ok := e.Payload.GetFields()[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

// PayloadBool то же для bool.
func (e Envelope) PayloadBool(key string) bool {
	if e.Payload == nil {
		return false
	}
	v, ok := e.Payload.GetFields()[key]
	if !ok {
		return false
	}
	return v.GetBoolValue()
}
