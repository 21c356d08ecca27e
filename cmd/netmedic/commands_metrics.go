package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// =============================================================================
// Metrics Command
// =============================================================================

func buildMetricsCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Serve Prometheus metrics until interrupted",
		Long: `Serve the process metrics registry over HTTP. While running, the
stale-session sweeper also runs on its schedule, so this doubles as a
maintenance daemon for a shared state directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetrics(cmd, configPath, addr)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9090", "Listen address")
	return cmd
}

func runMetrics(cmd *cobra.Command, configPath, addr string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	a.sweeper.Start()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving metrics on http://%s/metrics (ctrl-c to stop)\n", addr)
	select {
	case err := <-serveErr:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
