package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/duplexwire/duplexwire/internal/config"
	"github.com/duplexwire/duplexwire/pkg/metrics"
	"github.com/duplexwire/duplexwire/pkg/tracing"
	"github.com/duplexwire/duplexwire/pkg/transport"
	"github.com/duplexwire/duplexwire/pkg/value"
	"github.com/duplexwire/duplexwire/pkg/wsconn"
)

func dialCmd() *cobra.Command {
	var (
		url       string
		procedure string
		payload   string
		timeoutMs int
	)

	cmd := &cobra.Command{
		Use:   "dial",
		Short: "Connect to a duplexwire server and issue one Invoke",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDial(url, procedure, payload, timeoutMs)
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "ws://127.0.0.1:8080/ws", "server URL to dial")
	cmd.Flags().StringVar(&procedure, "invoke", "echo", "procedure to invoke")
	cmd.Flags().StringVar(&payload, "payload", "hello", "string payload to send")
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", 5000, "invoke timeout")

	return cmd
}

func runDial(url, procedure, payload string, timeoutMs int) error {
	logger := slog.Default().With("component", "duplexwired")
	opts := config.Default()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := wsconn.Dial(ctx, url, nil, wsconn.DefaultConfig())
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	t := transport.New(conn, opts,
		transport.WithLogger(logger),
		transport.WithInstrumentation(metrics.New(metrics.WithNamespace("duplexwire_client"))),
		transport.WithTracer(tracing.New(tracing.WithTracerName("duplexwire-client"))),
	)
	t.MarkConnected()
	go conn.ReadLoop(t.HandleMessage, func(err error) {
		t.MarkDisconnected("closed", err.Error())
	})

	invokeCtx, invokeCancel := context.WithTimeout(context.Background(), time.Duration(timeoutMs)*time.Millisecond)
	defer invokeCancel()
	resp, _, err := t.Invoke(invokeCtx, procedure, value.String(payload), transport.InvokeOptions{})
	if err != nil {
		return fmt.Errorf("invoke %s: %w", procedure, err)
	}
	info("%s -> %v", procedure, resp.StringValue())
	return conn.Close()
}
