package main

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/halvorsen/upnpnode/internal/config"
)

var cfg = config.DefaultConfig()

var rootCmd = &cobra.Command{
	Use:   "upnpnode",
	Short: "A UPnP 1.0 SSDP discovery and description node",
}

func init() {
	cfg.LoadFromEnv()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfg.MulticastGroup, "multicast-group", cfg.MulticastGroup, "SSDP multicast group address")
	pf.IntVar(&cfg.MulticastPort, "multicast-port", cfg.MulticastPort, "SSDP multicast group port")
	pf.IntVar(&cfg.TTL, "ttl", cfg.TTL, "advertised CACHE-CONTROL max-age in seconds")
	pf.IntVar(&cfg.MX, "mx", cfg.MX, "MX seconds advertised on searches this node issues")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "logrus level: trace, debug, info, warn, error")
	pf.BoolVar(&cfg.MetricsEnable, "metrics", cfg.MetricsEnable, "serve Prometheus metrics")
	pf.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "port to serve /metrics on")

	rootCmd.AddCommand(publishCmd, scanCmd)
}

// newLogger builds the component-scoped logrus entry every subcommand
// starts from.
func newLogger() *logrus.Entry {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	return logrus.NewEntry(log)
}

// maybeServeMetrics starts a background /metrics HTTP server against a
// fresh registry when the user asked for one, returning the registerer
// to pass to node.WithMetrics (nil if metrics are disabled).
func maybeServeMetrics(log *logrus.Entry) prometheus.Registerer {
	if !cfg.MetricsEnable {
		return nil
	}
	reg := prometheus.NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
	return reg
}
