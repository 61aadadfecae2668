package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/duplexwire/duplexwire/internal/config"
	"github.com/duplexwire/duplexwire/pkg/metrics"
	"github.com/duplexwire/duplexwire/pkg/tracing"
	"github.com/duplexwire/duplexwire/pkg/transport"
	"github.com/duplexwire/duplexwire/pkg/value"
	"github.com/duplexwire/duplexwire/pkg/wsconn"
)

func serveCmd() *cobra.Command {
	var (
		addr               string
		responseTimeoutMs  int
		streamsEnabled     bool
		chunksCanContainWs bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept duplexwire connections over WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr, responseTimeoutMs, streamsEnabled, chunksCanContainWs)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "address to listen on")
	cmd.Flags().IntVar(&responseTimeoutMs, "response-timeout-ms", config.DefaultResponseTimeoutMS, "invoke response timeout")
	cmd.Flags().BoolVar(&streamsEnabled, "streams", config.DefaultStreamsEnabled, "enable object/binary streams")
	cmd.Flags().BoolVar(&chunksCanContainWs, "chunks-can-contain-streams", config.DefaultChunksCanContainStreams, "allow nested stream references inside stream chunks")

	return cmd
}

func runServe(addr string, responseTimeoutMs int, streamsEnabled, chunksCanContainStreams bool) error {
	logger := slog.Default().With("component", "duplexwired")
	opts := config.New(
		config.WithResponseTimeoutMS(responseTimeoutMs),
		config.WithStreamsEnabled(streamsEnabled),
		config.WithChunksCanContainStreams(chunksCanContainStreams),
	)

	collector := metrics.New(metrics.WithNamespace("duplexwired"))
	tracer := tracing.New(tracing.WithTracerName("duplexwired"))
	wsCfg := wsconn.DefaultConfig()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		conn, err := wsconn.Upgrade(w, req, wsCfg)
		if err != nil {
			logger.Error("upgrade failed", "error", err)
			return
		}
		serveConn(conn, opts, collector, tracer, logger)
	})

	info("listening on %s (ws: /ws, metrics: /metrics)", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// serveConn wires one accepted connection into a Transport and runs its
// read loop until the peer disconnects. The default OnInvoke handler echoes
// the call's payload back, giving the binary a usable smoke test without a
// paired client.
func serveConn(conn *wsconn.Conn, opts config.Options, collector *metrics.Collector, tracer *tracing.Tracer, logger *slog.Logger) {
	t := transport.New(conn, opts,
		transport.WithLogger(logger),
		transport.WithInstrumentation(collector),
		transport.WithTracer(tracer),
		transport.WithListeners(transport.Listeners{
			OnInvoke: func(inv *transport.Invoke) {
				inv.End(inv.Data)
			},
			OnTransmit: func(receiver string, v value.Value) {
				logger.Debug("transmit", "receiver", receiver, "kind", v.Kind())
			},
			OnInvalidMessage: func(err error) {
				logger.Warn("invalid message", "error", err)
			},
		}),
	)
	t.MarkConnected()
	conn.ReadLoop(t.HandleMessage, func(err error) {
		t.MarkDisconnected("closed", err.Error())
	})
}
