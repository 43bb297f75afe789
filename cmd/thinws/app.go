package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/EgorLis/thinws/internal/config"
	"github.com/EgorLis/thinws/internal/envelope"
	"github.com/EgorLis/thinws/internal/logging"
	"github.com/EgorLis/thinws/internal/rpclient"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

var errConnectionClosed = errors.New("connection closed before it opened")

// app общие флаги всех подкоманд и итоговый конфиг.
type app struct {
	cfgPath     string
	url         string
	logLevel    string
	jsonLogs    bool
	openTimeout time.Duration

	cfg config.Config
	log zerolog.Logger
}

func (a *app) bindFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&a.cfgPath, "config", "c", "", "TOML config file")
	f.StringVarP(&a.url, "url", "u", "", "peer url (ws:// or wss://), overrides the config file")
	f.StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error, off")
	f.BoolVar(&a.jsonLogs, "log-json", false, "write logs as JSON")
	f.DurationVar(&a.openTimeout, "open-timeout", 30*time.Second, "how long to wait for the first open")
}

// load объединяет умолчания, файл конфига и флаги, затем настраивает логи.
func (a *app) load() error {
	cfg := config.Default()
	if a.cfgPath != "" {
		loaded, err := config.Load(a.cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if a.url != "" {
		cfg.URL = strings.TrimSpace(a.url)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.jsonLogs {
		cfg.Log.JSON = true
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	a.cfg = cfg

	logging.ConfigureWith(cfg.Logging())
	a.log = logging.Logger("cli")
	return nil
}

// session подключённый клиент и каналы жизненного цикла, которых ждут
// команды.
type session struct {
	*rpclient.Client
	opened    chan struct{}
	closed    chan struct{}
	openOnce  sync.Once
	closeOnce sync.Once
}

// hooks необязательные колбэки сессии. Оба выполняются в горутине событий
// клиента и не должны блокироваться.
type hooks struct {
	// Open после каждого открытия, первого или реконнекта.
	Open func(c *rpclient.Client)
	// Push непрошеные конверты.
	Push func(env envelope.Envelope)
}

// open подключается к пиру из конфига и ждёт первого открытия.
func (a *app) open(ctx context.Context, h hooks, opts ...rpclient.Option) (*session, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	s := &session{
		opened: make(chan struct{}),
		closed: make(chan struct{}),
	}
	listener := rpclient.ListenerFuncs{
		Open: func() {
			if h.Open != nil {
				h.Open(s.Client)
			}
			s.openOnce.Do(func() { close(s.opened) })
		},
		Fail: func(err error) {
			a.log.Warn().Err(err).Msg("connect failed, retrying")
		},
		Disconnected: func(err error) {
			a.log.Warn().Err(err).Msg("disconnected, retrying")
		},
		Closed: func() {
			s.closeOnce.Do(func() { close(s.closed) })
		},
		Push: h.Push,
	}
	c, err := rpclient.New(a.cfg.URL, listener, a.cfg.ClientOptions(a.log, opts...)...)
	if err != nil {
		return nil, err
	}
	s.Client = c
	if err := c.Connect(); err != nil {
		return nil, err
	}

	timer := time.NewTimer(a.openTimeout)
	defer timer.Stop()
	select {
	case <-s.opened:
		return s, nil
	case <-s.closed:
		return nil, errConnectionClosed
	case <-timer.C:
		c.Close()
		return nil, fmt.Errorf("no connection to %s after %v", a.cfg.URL, a.openTimeout)
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}
}

// parsePayload читает аргумент-объект JSON; "" = без payload.
func parsePayload(raw string) (*structpb.Struct, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var p structpb.Struct
	if err := protojson.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return &p, nil
}

func printEnvelope(w io.Writer, env envelope.Envelope) error {
	frame, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(frame))
	return err
}

// roundTrip отправляет env в новой сессии и печатает ответ.
func (a *app) roundTrip(cmd *cobra.Command, env envelope.Envelope) error {
	ctx := cmd.Context()
	s, err := a.open(ctx, hooks{})
	if err != nil {
		return err
	}
	defer s.Close()

	resp, err := s.SyncRequest(ctx, env)
	if err != nil {
		var remote *rpclient.RemoteError
		if errors.As(err, &remote) {
			_ = printEnvelope(cmd.OutOrStdout(), remote.Response)
		}
		return err
	}
	return printEnvelope(cmd.OutOrStdout(), resp)
}
