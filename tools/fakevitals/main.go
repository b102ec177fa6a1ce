// Package main implements fakevitals, a fake realtime vitals backend for integration
// tests and manual runs of the vitals client. It serves Socket.IO over websockets with
// patient and practice rooms, server-sent event streams with heartbeats and
// Last-Event-ID resumption, and an admin API to publish readings. Several instances
// can share rooms through Redis.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Thejuampi/vitals-client-go/vitals/logging"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fakevitals",
		Short:         "Fake realtime vitals backend (Socket.IO, event streams, admin publish API)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			redisAddr, _ := cmd.Flags().GetString("redis-addr")
			redisChannel, _ := cmd.Flags().GetString("redis-channel")
			logMode, _ := cmd.Flags().GetString("log-mode")
			var options Options
			options.PingInterval, _ = cmd.Flags().GetDuration("ping-interval")
			options.PingTimeout, _ = cmd.Flags().GetDuration("ping-timeout")
			options.Heartbeat, _ = cmd.Flags().GetDuration("heartbeat")
			options.History, _ = cmd.Flags().GetInt("history")
			options.SocketPath, _ = cmd.Flags().GetString("socket-path")
			options.AllowOrigins, _ = cmd.Flags().GetStringSlice("allow-origin")
			traced, _ := cmd.Flags().GetBool("trace")

			logger, err := logging.New(logMode)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if traced {
				exporter, err := stdouttrace.New(stdouttrace.WithWriter(cmd.ErrOrStderr()))
				if err != nil {
					return err
				}
				provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = provider.Shutdown(shutdownCtx)
				}()
				options.TracerProvider = provider
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, addr, redisAddr, redisChannel, options, logger)
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:3000", "listen address")
	cmd.Flags().String("redis-addr", "", "Redis address or URL; empty keeps rooms in memory")
	cmd.Flags().String("redis-channel", "vitals", "Redis pub/sub channel shared by instances")
	cmd.Flags().String("log-mode", "debug", "log mode: prod, debug or info")
	cmd.Flags().Duration("ping-interval", 25*time.Second, "Engine.IO ping interval")
	cmd.Flags().Duration("ping-timeout", 20*time.Second, "Engine.IO ping timeout")
	cmd.Flags().Duration("heartbeat", 15*time.Second, "event stream heartbeat interval")
	cmd.Flags().Int("history", 256, "updates remembered for Last-Event-ID resumption (-1 disables)")
	cmd.Flags().String("socket-path", "/socket.io/", "Socket.IO path")
	cmd.Flags().StringSlice("allow-origin", nil, "browser origins allowed by CORS (default: localhost dev servers)")
	cmd.Flags().Bool("trace", false, "print request spans to stderr")
	return cmd
}

func serve(ctx context.Context, addr string, redisAddr string, redisChannel string, options Options, logger *logging.Logger) error {
	var broker Broker
	if redisAddr != "" {
		redisBroker, err := NewRedisBroker(ctx, redisAddr, redisChannel, logger)
		if err != nil {
			return err
		}
		broker = redisBroker
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	logger.Info("fakevitals listening", "addr", listener.Addr().String(), "redis", redisAddr != "")
	return NewServer(options, broker, logger).Run(ctx, listener)
}
