package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/EgorLis/thinws/internal/ackserver"
	"github.com/EgorLis/thinws/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func serveCmd(a *app) *cobra.Command {
	var (
		addr string
		path string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference ack server",
		Long: `serve accepts WebSocket connections and answers every envelope
with an ack on the same messageID. A payload with "fail": true gets an
error instead and one with "drop": true gets no answer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			acks := ackserver.New(logging.Logger("ackserver"))

			srv := &http.Server{
				Addr:              addr,
				Handler:           a.serveRouter(acks, path),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				a.log.Info().Str("addr", addr).Str("path", path).Msg("ack server listening")
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			a.log.Info().Msg("shutting down")
			acks.CloseAll(1001, "server shutdown")
			shutdownServer(srv, a.log)
			return nil
		},
	}
	cmd.Flags().StringVarP(&addr, "listen", "l", ":8080", "listen address")
	cmd.Flags().StringVar(&path, "path", "/ws", "WebSocket endpoint path")
	return cmd
}

func (a *app) serveRouter(acks *ackserver.Server, wsPath string) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "thinws",
			Subsystem: "ackserver",
			Name:      "accepted_total",
			Help:      "Accepted WebSocket connections.",
		}, func() float64 { return float64(acks.Accepted()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "thinws",
			Subsystem: "ackserver",
			Name:      "envelopes_total",
			Help:      "Envelopes decoded from peers.",
		}, func() float64 { return float64(acks.Handled()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "thinws",
			Subsystem: "ackserver",
			Name:      "connected",
			Help:      "Currently connected peers.",
		}, func() float64 { return float64(acks.Connected()) }),
	)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle(wsPath, acks)
	r.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accepted":  acks.Accepted(),
			"connected": acks.Connected(),
			"handled":   acks.Handled(),
		})
	})
	return a.wrapHTTP(r)
}
