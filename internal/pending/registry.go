// Package pending хранит запросы в полёте по id корреляции. Каждый
// завершается ровно один раз: ответом, дедлайном или явной отменой/закрытием,
// что наступит раньше.
package pending

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/EgorLis/thinws/internal/envelope"
	"github.com/rs/zerolog"
)

var (
	ErrDuplicateID = errors.New("pending: request id already in flight")
	ErrEmptyID     = errors.New("pending: empty request id")
	ErrTimeout     = errors.New("request timeout")
	ErrCanceled    = errors.New("request canceled")
)

// TimeoutError получает колбэк, у которого первым сработал дедлайн.
type TimeoutError struct {
	ID    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s timeout after %v", e.ID, e.After)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// Callback получает исход одного запроса: либо конверт ответа и nil,
// либо пустой конверт и причину ошибки.
type Callback func(resp envelope.Envelope, err error)

type entry struct {
	id       string
	cb       Callback
	deadline time.Time
	timeout  time.Duration
	timer    *time.Timer
}

type Registry struct {
	mu    sync.Mutex
	items map[string]*entry
	log   zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		items: make(map[string]*entry),
		log:   log,
	}
}

// Register начинает отслеживать id. id сравниваются побайтно, ровно как на
// проводе (без TrimSpace). Таймер стартует сразу; неположительный timeout
// истекает на ближайшем тике.
func (r *Registry) Register(id string, cb Callback, timeout time.Duration) error {
	if id == "" {
		return ErrEmptyID
	}
	if cb == nil {
		cb = func(envelope.Envelope, error) {}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	e := &entry{
		id:       id,
		cb:       cb,
		deadline: time.Now().Add(timeout),
		timeout:  timeout,
	}
	// колбэк таймера берёт r.mu и не увидит недостроенную запись
	e.timer = time.AfterFunc(timeout, func() { r.expire(e) })
	r.items[id] = e
	return nil
}

// Resolve завершает id ответом.
func (r *Registry) Resolve(id string, resp envelope.Envelope) bool {
	return r.Complete(id, resp, nil)
}

// Reject завершает id ошибкой err.
func (r *Registry) Reject(id string, err error) bool {
	return r.Complete(id, envelope.Envelope{}, err)
}

// Cancel отклоняет id с ErrCanceled.
func (r *Registry) Cancel(id string) bool {
	return r.Reject(id, ErrCanceled)
}

// Complete удаляет id и отдаёт результат колбэку. Если id не ждёт ответа
// (поздний ответ после таймаута, дубль, пуш без запроса), логирует и
// возвращает false.
func (r *Registry) Complete(id string, resp envelope.Envelope, err error) bool {
	r.mu.Lock()
	e, ok := r.items[id]
	if ok {
		delete(r.items, id)
		e.timer.Stop()
	}
	r.mu.Unlock()

	if !ok {
		r.log.Debug().Str("message_id", id).Msg("no pending request for id, dropped")
		return false
	}
	e.cb(resp, err)
	return true
}

// expire путь таймера; выигрывает, только если под id всё ещё лежит e.
func (r *Registry) expire(e *entry) {
	r.mu.Lock()
	cur, ok := r.items[e.id]
	if !ok || cur != e {
		r.mu.Unlock()
		return
	}
	delete(r.items, e.id)
	r.mu.Unlock()

	r.log.Warn().Str("message_id", e.id).Dur("timeout", e.timeout).Msg("request timeout")
	e.cb(envelope.Envelope{}, &TimeoutError{ID: e.id, After: e.timeout})
}

// FailAll отклоняет все ожидающие запросы с err и возвращает их число.
func (r *Registry) FailAll(err error) int {
	r.mu.Lock()
	items := r.items
	r.items = make(map[string]*entry)
	for _, e := range items {
		e.timer.Stop()
	}
	r.mu.Unlock()

	for _, e := range items {
		e.cb(envelope.Envelope{}, err)
	}
	return len(items)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[id]
	return ok
}

// Deadline абсолютный дедлайн id.
func (r *Registry) Deadline(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}
