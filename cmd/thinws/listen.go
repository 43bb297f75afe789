package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/EgorLis/thinws/internal/envelope"
	"github.com/EgorLis/thinws/internal/rpclient"
	"github.com/go-chi/chi/v5"
	"github.com/jpillora/requestlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func listenCmd(a *app) *cobra.Command {
	var (
		rooms   []string
		metrics string
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stay connected and print every unsolicited envelope",
		Long: `listen keeps a connection open, reconnecting as configured, and
prints every envelope that does not answer one of its own requests.
With --metrics it also serves Prometheus metrics and /healthz.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if metrics == "" {
				metrics = a.cfg.Metrics.Listen
			}
			return a.listen(cmd, rooms, metrics)
		},
	}
	cmd.Flags().StringSliceVarP(&rooms, "subscribe", "s", nil, "rooms to subscribe to after every open")
	cmd.Flags().StringVar(&metrics, "metrics", "", "address for the metrics endpoint, e.g. :9090")
	return cmd
}

func (a *app) listen(cmd *cobra.Command, rooms []string, metricsAddr string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := rpclient.NewMetrics(reg)

	s, err := a.open(ctx, hooks{
		Open: a.joinRooms(ctx, rooms),
		Push: func(env envelope.Envelope) {
			if err := printEnvelope(out, env); err != nil {
				a.log.Warn().Err(err).Msg("print push")
			}
		},
	}, rpclient.WithMetrics(m))
	if err != nil {
		return err
	}
	defer s.Close()

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           a.metricsRouter(reg, s.Client),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.log.Info().Str("addr", metricsAddr).Str("path", a.cfg.Metrics.Path).Msg("metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error().Err(err).Msg("metrics server")
			}
		}()
		defer shutdownServer(srv, a.log)
	}

	select {
	case <-ctx.Done():
		a.log.Info().Msg("interrupted")
		return nil
	case <-s.closed:
		return errors.New("connection closed: peer closed normally or retries exhausted")
	}
}

// joinRooms хук открытия, подписывающий на rooms. После реконнекта пир не
// помнит старое соединение, поэтому хук срабатывает на каждом открытии.
func (a *app) joinRooms(ctx context.Context, rooms []string) func(*rpclient.Client) {
	return func(c *rpclient.Client) {
		for _, room := range rooms {
			_, err := c.Subscribe(ctx, room, func(resp envelope.Envelope, err error) {
				if err != nil {
					a.log.Warn().Err(err).Str("room", room).Msg("subscribe failed")
					return
				}
				a.log.Info().Str("room", room).Msg("subscribed")
			})
			if err != nil {
				a.log.Warn().Err(err).Str("room", room).Msg("subscribe")
			}
		}
	}
}

func (a *app) metricsRouter(reg *prometheus.Registry, c *rpclient.Client) http.Handler {
	r := chi.NewRouter()
	r.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		st := c.State()
		if st != rpclient.StateConnected {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write([]byte(st.String() + "\n"))
	})
	return a.wrapHTTP(r)
}

// wrapHTTP логирует запросы на уровне debug.
func (a *app) wrapHTTP(h http.Handler) http.Handler {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		return requestlog.Wrap(h)
	}
	return h
}

func shutdownServer(srv *http.Server, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
}
