package rpclient

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EgorLis/thinws/internal/envelope"
	"github.com/EgorLis/thinws/internal/pending"
	"github.com/EgorLis/thinws/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/EgorLis/thinws/internal/rpclient"

type config struct {
	log            zerolog.Logger
	connectionID   string
	transportOpts  []transport.Option
	metrics        *Metrics
	tracerProvider trace.TracerProvider
	newID          func() string
	timeoutFor     func(encodedLen int) time.Duration
}

type Option func(*config)

func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithConnectionID задаёт id для handshake connect вместо сгенерированного.
func WithConnectionID(id string) Option {
	return func(c *config) { c.connectionID = id }
}

func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *config) { c.transportOpts = append(c.transportOpts, opts...) }
}

func WithMetrics(m *Metrics) Option {
	return func(c *config) { c.metrics = m }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.tracerProvider = tp }
}

// WithIDGenerator заменяет uuid-генератор message id.
func WithIDGenerator(fn func() string) Option {
	return func(c *config) { c.newID = fn }
}

// WithRequestTimeout заменяет pending.TimeoutFor при расчёте дедлайна.
func WithRequestTimeout(fn func(encodedLen int) time.Duration) Option {
	return func(c *config) { c.timeoutFor = fn }
}

// Client мультиплексирует запросы с корреляцией по одному переподключаемому соединению.
type Client struct {
	connectionID string
	listener     Listener
	log          zerolog.Logger
	transport    *transport.Transport
	pending      *pending.Registry
	metrics      *Metrics
	tracer       trace.Tracer
	newID        func() string
	timeoutFor   func(int) time.Duration

	handshakeID atomic.Value // string

	mu    sync.Mutex
	state State
}

// NewMessageID новый id корреляции.
func NewMessageID() string {
	return uuid.NewString()
}

// New создаёт клиента в Idle для url. До Connect ничего не набирается.
func New(url string, listener Listener, opts ...Option) (*Client, error) {
	cfg := config{
		log:        zerolog.Nop(),
		newID:      NewMessageID,
		timeoutFor: pending.TimeoutFor,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.connectionID == "" {
		cfg.connectionID = uuid.NewString()
	}
	if cfg.tracerProvider == nil {
		cfg.tracerProvider = otel.GetTracerProvider()
	}
	if listener == nil {
		listener = ListenerFuncs{}
	}

	log := cfg.log.With().Str("connection_id", cfg.connectionID).Logger()
	topts := append([]transport.Option{
		transport.WithLogger(log.With().Str("component", "transport").Logger()),
	}, cfg.transportOpts...)
	tr, err := transport.New(url, topts...)
	if err != nil {
		return nil, err
	}

	c := &Client{
		connectionID: cfg.connectionID,
		listener:     listener,
		log:          log.With().Str("component", "rpclient").Logger(),
		transport:    tr,
		pending:      pending.NewRegistry(log.With().Str("component", "pending").Logger()),
		metrics:      cfg.metrics,
		tracer:       cfg.tracerProvider.Tracer(tracerName),
		newID:        cfg.newID,
		timeoutFor:   cfg.timeoutFor,
	}
	c.handshakeID.Store("")
	c.metrics.setState(StateIdle)
	return c, nil
}

// Connect начинает подключение в фоне. Ничего не делает, если клиент не в
// Idle; после закрытия возвращает ErrClosed.
func (c *Client) Connect() error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case StateIdle:
		c.setStateLocked(StateConnecting)
	default:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.log.Info().Msg("connecting")
	if err := c.transport.Connect(transportEvents{c}); err != nil {
		return err
	}
	return nil
}

// Request отправляет env; cb получит результат ровно один раз. Пустой
// MessageID заполняется, возвращается реально использованный id. Вызов не
// блокируется. ctx служит только родителем trace span.
//
// Без открытого соединения запросы не копятся: фрейм выбрасывается, запрос
// дожидается дедлайна. После закрытия клиента Request возвращает ErrClosed,
// а cb не вызывается.
func (c *Client) Request(ctx context.Context, env envelope.Envelope, cb pending.Callback) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if env.MessageID == "" {
		env.MessageID = c.newID()
	}
	frame, err := envelope.Encode(env)
	if err != nil {
		return "", err
	}
	timeout := c.timeoutFor(len(frame))

	_, span := c.tracer.Start(ctx, "thinws.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("thinws.type", string(env.Type)),
			attribute.String("thinws.message_id", env.MessageID),
			attribute.String("thinws.room_id", env.RoomID),
			attribute.Int("thinws.frame_bytes", len(frame)),
		))
	start := time.Now()
	done := func(resp envelope.Envelope, err error) {
		c.metrics.observeRequest(env.Type, err, time.Since(start))
		c.metrics.setPending(c.pending.Len())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("thinws.response_type", string(resp.Type)))
		}
		span.End()
		if cb != nil {
			cb(resp, err)
		}
	}

	// регистрация под c.mu упорядочивает с FailAll из Close
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		span.SetStatus(codes.Error, ErrClosed.Error())
		span.End()
		return "", ErrClosed
	}
	err = c.pending.Register(env.MessageID, done, timeout)
	c.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.End()
		return "", err
	}
	c.metrics.setPending(c.pending.Len())

	c.log.Debug().
		Str("type", string(env.Type)).
		Str("message_id", env.MessageID).
		Dur("timeout", timeout).
		Msg("request")
	c.transport.Send(frame)
	return env.MessageID, nil
}

// Cancel отклоняет запрос id с ErrCanceled. false, если он уже завершён.
func (c *Client) Cancel(id string) bool {
	return c.pending.Cancel(id)
}

// Close закрывает клиента: закрывает транспорт, отклоняет все висящие
// запросы с ErrClosed и вызывает OnClose. Повторные вызовы ничего не делают.
func (c *Client) Close() {
	c.shutdown("closed by owner")
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) ConnectionID() string {
	return c.connectionID
}

// Pending число запросов, ждущих ответа.
func (c *Client) Pending() int {
	return c.pending.Len()
}

func (c *Client) Stats() transport.Stats {
	return c.transport.Stats()
}

func (c *Client) setStateLocked(s State) {
	c.state = s
	c.metrics.setState(s)
}

// transition переводит в s, если клиент не закрыт; возвращает, нужно ли
// ещё обрабатывать событие.
func (c *Client) transition(s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	c.setStateLocked(s)
	return true
}

// failedAttempt учитывает неудачный dial. Idle и Connecting становятся
// Connecting, Reconnecting остаётся как есть.
func (c *Client) failedAttempt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateClosed:
		return false
	case StateReconnecting:
		return true
	}
	c.setStateLocked(StateConnecting)
	return true
}

func (c *Client) isClosed() bool {
	return c.State() == StateClosed
}

func (c *Client) shutdown(reason string) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	c.transport.Close()
	n := c.pending.FailAll(ErrClosed)
	c.metrics.setPending(0)
	c.log.Info().Str("reason", reason).Int("failed_pending", n).Msg("closed")
	c.listener.OnClose()
}
