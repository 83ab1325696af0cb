package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newServeCmd(logger *slog.Logger) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose /metrics and /healthz over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			// serve runs no Queue and does not register queue.NewMetrics:
			// /metrics serves the Prometheus default registry, which
			// holds only the Go runtime and process collectors here.
			mux := http.NewServeMux()
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))

			logger.Info("listening", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("http server error", "error", err)
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	return cmd
}
