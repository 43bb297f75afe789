package rpclient

import "github.com/EgorLis/thinws/internal/envelope"

// Listener жизненный цикл соединения глазами владельца. Колбэки идут по
// одному в горутине событий транспорта; из них можно звать Request и Close,
// но нельзя блокироваться на SyncRequest.
type Listener interface {
	OnOpen()
	// OnFail: попытка не удалась, соединения ещё не было. Повторяем.
	OnFail(err error)
	// OnDisconnected: открытое соединение потеряно. Повторяем.
	OnDisconnected(err error)
	// OnClose ровно один раз, что бы ни закрыло клиента.
	OnClose()
}

// PushListener опционально реализует Listener, которому нужны входящие
// конверты, не ответившие ни на один запрос.
type PushListener interface {
	OnPush(env envelope.Envelope)
}

// ListenerFuncs адаптер обычных функций к Listener и PushListener. Nil-поля
// пропускаются.
type ListenerFuncs struct {
	Open         func()
	Fail         func(err error)
	Disconnected func(err error)
	Closed       func()
	Push         func(env envelope.Envelope)
}

func (f ListenerFuncs) OnOpen() {
	if f.Open != nil {
		f.Open()
	}
}

func (f ListenerFuncs) OnFail(err error) {
	if f.Fail != nil {
		f.Fail(err)
	}
}

func (f ListenerFuncs) OnDisconnected(err error) {
	if f.Disconnected != nil {
		f.Disconnected(err)
	}
}

func (f ListenerFuncs) OnClose() {
	if f.Closed != nil {
		f.Closed()
	}
}

func (f ListenerFuncs) OnPush(env envelope.Envelope) {
	if f.Push != nil {
		f.Push(env)
	}
}
