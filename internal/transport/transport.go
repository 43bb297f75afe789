// Package transport владеет единственным физическим WebSocket-соединением
// клиента thinws: открывает его, шлёт сырые текстовые фреймы, замечает обрыв
// и переподключается по backoff, пока не кончатся попытки.
//
// Состояние соединения меняется только в одной горутине-воркере. Колбэки
// Listener приходят по порядку в отдельной горутине событий, поэтому из
// колбэка можно вызывать Send и Close.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrClosed      = errors.New("transport closed")
	ErrBadURL      = errors.New("transport: url must use ws:// or wss://")
	ErrNilListener = errors.New("transport: nil listener")
)

// Listener получает жизненный цикл соединения.
type Listener interface {
	// OnOpen после каждого успешного открытия, первого или реконнекта.
	OnOpen()
	// OnFrame один входящий текстовый фрейм.
	OnFrame(frame []byte)
	// OnFail попытка не удалась, и с последнего сообщённого обрыва ничего
	// не открывалось. Повтор уже запланирован.
	OnFail(err error)
	// OnDisconnected открытое соединение потеряно. Повтор уже запланирован.
	OnDisconnected(err error)
	// OnClose один раз, когда транспорт сдался насовсем: попытки кончились
	// или пир закрыл нормально. Close его не вызывает.
	OnClose()
}

type options struct {
	log              zerolog.Logger
	retry            RetryPolicy
	tlsConfig        *tls.Config
	header           http.Header
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	closeTimeout     time.Duration
	pingInterval     time.Duration
	pongWait         time.Duration
	readLimit        int64
}

type Option func(*options)

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithTLSConfig TLS-конфиг клиента для wss://. Проверка сертификата как в
// конфиге; nil = настройки платформы.
func WithTLSConfig(c *tls.Config) Option {
	return func(o *options) { o.tlsConfig = c }
}

func WithHeader(h http.Header) Option {
	return func(o *options) { o.header = h }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithCloseTimeout сколько Close ждёт close handshake.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.closeTimeout = d
		}
	}
}

// WithKeepalive пингует пира каждые interval. Если за pongWait не пришёл ни
// pong, ни любой другой фрейм, соединение считается потерянным. Нулевой
// interval выключает keepalive.
func WithKeepalive(interval, pongWait time.Duration) Option {
	return func(o *options) {
		o.pingInterval = interval
		o.pongWait = pongWait
		if o.pongWait <= interval {
			o.pongWait = 3 * interval
		}
	}
}

func WithReadLimit(n int64) Option {
	return func(o *options) { o.readLimit = n }
}

func defaultOptions() options {
	return options{
		log:              zerolog.Nop(),
		retry:            DefaultRetryPolicy(),
		handshakeTimeout: 15 * time.Second,
		writeTimeout:     5 * time.Second,
		closeTimeout:     2 * time.Second,
		readLimit:        64 << 20,
	}
}

type Transport struct {
	url    string
	opts   options
	log    zerolog.Logger
	dialer *websocket.Dialer
	retry  *Retry
	stats  connStats

	worker *serial
	events *serial

	closed  atomic.Bool
	started atomic.Bool

	// владеет воркер
	listener    Listener
	conn        *websocket.Conn
	gen         uint64
	established bool
	retryTimer  *time.Timer
	dialCancel  context.CancelFunc
	pingStop    chan struct{}
}

func New(rawURL string, opts ...Option) (*Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: %q", ErrBadURL, rawURL)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	t := &Transport{
		url:  u.String(),
		opts: o,
		log:  o.log.With().Str("url", u.Redacted()).Logger(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: o.handshakeTimeout,
			TLSClientConfig:  o.tlsConfig,
		},
		retry:  NewRetry(o.retry),
		worker: newSerial(),
		events: newSerial(),
	}
	return t, nil
}

// Connect запускает первую попытку и сразу возвращается. Повторные вызовы
// ничего не делают.
func (t *Transport) Connect(l Listener) error {
	if l == nil {
		return ErrNilListener
	}
	if t.closed.Load() {
		return ErrClosed
	}
	if !t.started.CompareAndSwap(false, true) {
		return nil
	}
	t.log.Debug().Msg("connect")
	t.worker.post(func() {
		t.listener = l
		t.dial()
	})
	return nil
}

// Send ставит frame в очередь текущего соединения и возвращает его как есть.
// Если транспорт закрыт или соединения сейчас нет, фрейм выбрасывается.
func (t *Transport) Send(frame []byte) []byte {
	if t.closed.Load() {
		t.log.Debug().Int("bytes", len(frame)).Msg("send on closed transport, dropped")
		return frame
	}
	t.worker.post(func() { t.write(frame) })
	return frame
}

// Close закрывает транспорт насовсем и ждёт отправки close-фрейма не дольше
// CloseTimeout. Повторный вызов ничего не делает.
func (t *Transport) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.log.Debug().Msg("close")

	done := make(chan struct{})
	if t.worker.post(func() {
		t.teardown(true)
		close(done)
	}) {
		select {
		case <-done:
		case <-time.After(t.opts.closeTimeout):
			t.log.Warn().Dur("timeout", t.opts.closeTimeout).Msg("close handshake did not finish in time")
		}
	}
	t.worker.stop()
	t.events.stop()
}

func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}

// Attempt число неудачных попыток подряд с последнего открытия.
func (t *Transport) Attempt() int {
	return t.retry.Attempt()
}

func (t *Transport) Stats() Stats {
	return t.stats.snapshot()
}

// ---------------------------------------------------------------------------
// сторона воркера

func (t *Transport) emit(fn func(Listener)) {
	l := t.listener
	if l == nil {
		return
	}
	t.events.post(func() { fn(l) })
}

func (t *Transport) dial() {
	if t.closed.Load() {
		return
	}
	t.gen++
	gen := t.gen
	ctx, cancel := context.WithCancel(context.Background())
	t.dialCancel = cancel

	t.log.Debug().Uint64("gen", gen).Int("attempt", t.retry.Attempt()).Msg("dialing")
	go func() {
		conn, _, err := t.dialer.DialContext(ctx, t.url, t.opts.header)
		if !t.worker.post(func() { t.dialed(gen, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (t *Transport) dialed(gen uint64, conn *websocket.Conn, err error) {
	if gen != t.gen || t.closed.Load() {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if t.dialCancel != nil {
		t.dialCancel()
		t.dialCancel = nil
	}
	if err != nil {
		t.log.Warn().Err(err).Msg("connection attempt failed")
		t.failure(err)
		return
	}

	t.conn = conn
	t.established = true
	t.retry.Reset()
	n := t.stats.opened()
	conn.SetReadLimit(t.opts.readLimit)
	t.startKeepalive(gen, conn)
	t.log.Info().Int64("conn", n).Msg("connected")

	go t.readLoop(gen, conn)
	t.emit(func(l Listener) { l.OnOpen() })
}

func (t *Transport) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.worker.post(func() { t.lost(gen, err) })
			return
		}
		if t.opts.pingInterval > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(t.opts.pongWait))
		}
		if mt != websocket.TextMessage {
			t.log.Debug().Int("type", mt).Int("bytes", len(data)).Msg("non-text frame ignored")
			continue
		}
		t.worker.post(func() { t.received(gen, data) })
	}
}

func (t *Transport) received(gen uint64, data []byte) {
	if gen != t.gen || t.conn == nil || t.closed.Load() {
		return
	}
	t.stats.read(len(data))
	t.emit(func(l Listener) { l.OnFrame(data) })
}

func (t *Transport) write(frame []byte) {
	if t.closed.Load() || t.conn == nil {
		t.log.Debug().Int("bytes", len(frame)).Msg("not connected, frame dropped")
		return
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.opts.writeTimeout))
	if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		// readLoop увидит сломанный сокет и сообщит об обрыве
		t.log.Warn().Err(err).Msg("write failed")
		_ = t.conn.Close()
		return
	}
	t.stats.wrote(len(frame))
}

func (t *Transport) lost(gen uint64, err error) {
	if gen != t.gen || t.conn == nil || t.closed.Load() {
		return
	}
	t.teardown(false)

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.log.Info().Msg("peer closed the connection")
		t.giveUp()
		return
	}
	t.log.Warn().Err(err).Msg("connection lost")
	t.failure(err)
}

// failure планирует следующую попытку или сдаётся, если попытки кончились.
func (t *Transport) failure(err error) {
	wasOpen := t.established
	t.established = false

	delay, ok := t.retry.Next()
	if !ok {
		t.log.Error().Int("attempts", t.retry.Attempt()).Msg("give up reconnect, notify closed")
		t.giveUp()
		return
	}
	gen := t.gen
	t.log.Info().Int("attempt", t.retry.Attempt()).Dur("in", delay).Msg("reconnect scheduled")
	t.retryTimer = time.AfterFunc(delay, func() {
		t.worker.post(func() { t.reconnect(gen) })
	})

	if wasOpen {
		t.emit(func(l Listener) { l.OnDisconnected(err) })
	} else {
		t.emit(func(l Listener) { l.OnFail(err) })
	}
}

func (t *Transport) reconnect(gen uint64) {
	if gen != t.gen || t.closed.Load() {
		return
	}
	t.retryTimer = nil
	t.dial()
}

func (t *Transport) giveUp() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.teardown(false)
	t.emit(func(l Listener) { l.OnClose() })
	t.worker.stop()
	t.events.stop()
}

// teardown бросает текущее соединение (если есть) и все его таймеры.
// С graceful сначала пытается отправить нормальный close-фрейм.
func (t *Transport) teardown(graceful bool) {
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	}
	if t.dialCancel != nil {
		t.dialCancel()
		t.dialCancel = nil
	}
	t.stopKeepalive()
	if t.conn == nil {
		return
	}
	if graceful {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.opts.closeTimeout))
	}
	_ = t.conn.Close()
	t.conn = nil
	t.stats.closed()
	t.log.Debug().Str("stats", t.stats.summary()).Msg("connection closed")
}
