// Package main implements vitalswatch, which subscribes to realtime vitals for a
// practice or patient and prints every event as a JSON line.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thejuampi/vitals-client-go/vitals"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vitalswatch",
		Short:         "Stream realtime vitals for a practice or patient as JSON lines",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			practice, _ := cmd.Flags().GetString("practice")
			patient, _ := cmd.Flags().GetString("patient")
			method, _ := cmd.Flags().GetString("transport")
			traced, _ := cmd.Flags().GetBool("trace")
			duration, _ := cmd.Flags().GetDuration("duration")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			target := vitals.Target{PracticeID: vitals.ID(practice), PatientID: vitals.ID(patient)}
			return run(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), configPath, method, traced, target)
		},
	}
	cmd.Flags().String("config", "", "YAML config file; VITALS_* environment variables override it")
	cmd.Flags().String("practice", "", "practice id (required)")
	cmd.Flags().String("patient", "", "patient id; empty watches the whole practice")
	cmd.Flags().String("transport", string(vitals.TransportSocket), "socket or stream")
	cmd.Flags().Bool("trace", false, "print connect spans to stderr")
	cmd.Flags().Duration("duration", 0, "stop after this long; 0 runs until interrupted")
	_ = cmd.MarkFlagRequired("practice")
	return cmd
}

func run(ctx context.Context, out io.Writer, errOut io.Writer, configPath string, method string, traced bool, target vitals.Target) error {
	cfg, err := vitals.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	options := []vitals.Option{vitals.WithLogger(logger)}
	if traced {
		provider, shutdown, err := newTracerProvider(errOut)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("trace shutdown failed", "error", err)
			}
		}()
		options = append(options, vitals.WithTracerProvider(provider))
	}

	transport, err := newTransport(method, cfg, options...)
	if err != nil {
		return err
	}
	logger.Info("watching vitals", "transport", method, "patient_scoped", target.PatientScoped())
	return watch(ctx, out, transport, target)
}
