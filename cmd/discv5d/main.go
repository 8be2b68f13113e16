// Command discv5d runs a standalone discv5 node: it wires configuration,
// logging, metrics, the UDP transport, the Session Service, the routing
// table and the Lookup Engine into a long-running process using the usual
// daemon layering (load config, build collaborators, install signal
// handling, run until cancellation).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ndxnet/discv5/enode"
	"github.com/ndxnet/discv5/internal/config"
	"github.com/ndxnet/discv5/internal/metrics"
	"github.com/ndxnet/discv5/internal/xlog"
	"github.com/ndxnet/discv5/p2p/discover"
	"github.com/ndxnet/discv5/p2p/discover/v5wire"
	"github.com/ndxnet/discv5/transport"
)

// version is overridden at build time via -ldflags.
var version = "dev"

// shutdownTimeout bounds how long the metrics HTTP server is given to drain
// on SIGINT/SIGTERM before the process exits anyway.
const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string

	root := &cobra.Command{
		Use:           "discv5d",
		Short:         "discv5 session service and lookup engine daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the daemon version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "discv5d:", err)
		return 1
	}
	return 0
}

func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.Log)
	log.Info("discv5d starting", "version", version, "listen", cfg.Listen.Addr, "metrics", cfg.Metrics.Addr)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	listenAddr, err := netip.ParseAddrPort(cfg.Listen.Addr)
	if err != nil {
		return fmt.Errorf("parse listen.addr %q: %w", cfg.Listen.Addr, err)
	}
	tr, err := transport.Listen(listenAddr, log.With("component", "transport"))
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Listen.Addr, err)
	}

	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate static key: %w", err)
	}
	pub := priv.PubKey().SerializeCompressed()
	localID := enode.IDFromPubkey(pub)
	localENR := enode.NewNode(localID, 1, pub, listenAddr)

	svc := discover.NewService(localENR, tr, discover.Config{
		SessionTimeout:       cfg.Session.Timeout,
		RequestTimeout:       cfg.Session.RequestTimeout,
		RequestRetries:       cfg.Session.RequestRetries,
		SessionSweepInterval: cfg.Session.SweepInterval,
		Log:                  log.With("component", "session"),
		Metrics:              collector,
		StaticKey:            v5wire.WrapStaticKey(priv),
	})
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start session service: %w", err)
	}

	table := discover.NewTable(localID, cfg.Lookup.K)
	rn := newRunner(svc, table, log.With("component", "runner"))
	stopRunner := make(chan struct{})
	go rn.run(stopRunner)

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", "err", err)
		}
	}()

	log.Info("discv5d ready", "id", localID)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	log.Info("discv5d shutting down")
	close(stopRunner)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shut down metrics server", "err", err)
	}
	if err := svc.Stop(); err != nil {
		log.Warn("stop session service", "err", err)
	}

	log.Info("discv5d stopped")
	return nil
}

func newLogger(cfg config.LogConfig) xlog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return xlog.NewWithHandler(h)
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
