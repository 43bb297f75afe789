// Package config читает TOML-файл thinws и превращает его в опции
// транспорта, клиента и логирования.
//
//	url = "wss://chat.example.com/ws"
//	connection_id = ""            # пусто = сгенерировать
//
//	[retry]
//	max_attempts = 10
//	factor = 2.0
//	min_interval = "1s"
//	max_interval = "8s"
//
//	[keepalive]
//	interval = "0s"               # 0 = без пингов
//	pong_wait = "30s"
//
//	[timeouts]
//	handshake = "15s"
//	write = "5s"
//	close = "2s"
//	request = "0s"                # 0 = дедлайн по размеру фрейма
//
//	[log]
//	level = "info"
//	json = false
//	no_color = false
//
//	[metrics]
//	listen = ""                   # например ":9090"
//	path = "/metrics"
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/EgorLis/thinws/internal/logging"
	"github.com/EgorLis/thinws/internal/rpclient"
	"github.com/EgorLis/thinws/internal/transport"
	"github.com/rs/zerolog"
)

var ErrInvalid = errors.New("config: invalid")

// Duration time.Duration, записанный в TOML строкой в формате Go.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	URL          string    `toml:"url"`
	ConnectionID string    `toml:"connection_id"`
	Retry        Retry     `toml:"retry"`
	Keepalive    Keepalive `toml:"keepalive"`
	Timeouts     Timeouts  `toml:"timeouts"`
	Log          Log       `toml:"log"`
	Metrics      Metrics   `toml:"metrics"`
}

type Retry struct {
	MaxAttempts int      `toml:"max_attempts"`
	Factor      float64  `toml:"factor"`
	MinInterval Duration `toml:"min_interval"`
	MaxInterval Duration `toml:"max_interval"`
}

type Keepalive struct {
	Interval Duration `toml:"interval"`
	PongWait Duration `toml:"pong_wait"`
}

type Timeouts struct {
	Handshake Duration `toml:"handshake"`
	Write     Duration `toml:"write"`
	Close     Duration `toml:"close"`
	Request   Duration `toml:"request"`
}

type Log struct {
	Level   string `toml:"level"`
	JSON    bool   `toml:"json"`
	NoColor bool   `toml:"no_color"`
}

type Metrics struct {
	Listen string `toml:"listen"`
	Path   string `toml:"path"`
}

func Default() Config {
	p := transport.DefaultRetryPolicy()
	return Config{
		Retry: Retry{
			MaxAttempts: p.MaxAttempts,
			Factor:      p.Factor,
			MinInterval: Duration{p.MinInterval},
			MaxInterval: Duration{p.MaxInterval},
		},
		Keepalive: Keepalive{
			PongWait: Duration{30 * time.Second},
		},
		Timeouts: Timeouts{
			Handshake: Duration{15 * time.Second},
			Write:     Duration{5 * time.Second},
			Close:     Duration{2 * time.Second},
		},
		Log: Log{Level: "info"},
		Metrics: Metrics{
			Path: "/metrics",
		},
	}
}

// Load читает path поверх Default. Неизвестные ключи считаются ошибкой,
// чтобы опечатка не превращалась молча в значение по умолчанию.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	cfg.ConnectionID = strings.TrimSpace(cfg.ConnectionID)
	return cfg, nil
}

// Validate проверяет конфиг перед подключением.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: missing url", ErrInvalid)
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("%w: url: %v", ErrInvalid, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: url scheme must be ws or wss, got %q", ErrInvalid, u.Scheme)
	}
	r := c.Retry
	if r.Factor < 1 {
		return fmt.Errorf("%w: retry.factor must be >= 1", ErrInvalid)
	}
	if r.MinInterval.Duration <= 0 || r.MaxInterval.Duration < r.MinInterval.Duration {
		return fmt.Errorf("%w: retry intervals need 0 < min_interval <= max_interval", ErrInvalid)
	}
	if c.Keepalive.Interval.Duration < 0 {
		return fmt.Errorf("%w: keepalive.interval is negative", ErrInvalid)
	}
	if c.Timeouts.Request.Duration < 0 {
		return fmt.Errorf("%w: timeouts.request is negative", ErrInvalid)
	}
	if _, ok := logging.ParseLevel(c.Log.Level); !ok && strings.TrimSpace(c.Log.Level) != "" {
		return fmt.Errorf("%w: unknown log level %q", ErrInvalid, c.Log.Level)
	}
	return nil
}

func (c Config) RetryPolicy() transport.RetryPolicy {
	return transport.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		Factor:      c.Retry.Factor,
		MinInterval: c.Retry.MinInterval.Duration,
		MaxInterval: c.Retry.MaxInterval.Duration,
	}
}

func (c Config) TransportOptions() []transport.Option {
	opts := []transport.Option{
		transport.WithRetryPolicy(c.RetryPolicy()),
		transport.WithHandshakeTimeout(c.Timeouts.Handshake.Duration),
		transport.WithWriteTimeout(c.Timeouts.Write.Duration),
		transport.WithCloseTimeout(c.Timeouts.Close.Duration),
	}
	if c.Keepalive.Interval.Duration > 0 {
		opts = append(opts, transport.WithKeepalive(c.Keepalive.Interval.Duration, c.Keepalive.PongWait.Duration))
	}
	return opts
}

// ClientOptions собирает из файла опции rpclient. extra добавляются
// последними и побеждают.
func (c Config) ClientOptions(log zerolog.Logger, extra ...rpclient.Option) []rpclient.Option {
	opts := []rpclient.Option{
		rpclient.WithLogger(log),
		rpclient.WithTransportOptions(c.TransportOptions()...),
	}
	if c.ConnectionID != "" {
		opts = append(opts, rpclient.WithConnectionID(c.ConnectionID))
	}
	if d := c.Timeouts.Request.Duration; d > 0 {
		opts = append(opts, rpclient.WithRequestTimeout(func(int) time.Duration { return d }))
	}
	return append(opts, extra...)
}

// Logging накладывает секцию [log] на профиль запуска. Переменные
// окружения всё равно главнее.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig(logging.ProfileRuntime)
	if lvl, ok := logging.ParseLevel(c.Log.Level); ok {
		cfg.Level = lvl
	}
	cfg.JSON = c.Log.JSON
	cfg.NoColor = c.Log.NoColor
	logging.ApplyEnvOverrides(&cfg)
	return cfg
}
