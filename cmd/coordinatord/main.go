// Command coordinatord runs the build coordinator: it accepts worker
// connections, dispatches actions from the scheduler, and serves Prometheus
// metrics for the cluster.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"bldr/internal/cas"
	"bldr/internal/cluster"
	"bldr/internal/config"
	"bldr/internal/graph"
	"bldr/internal/scheduler"
	"bldr/internal/storage"
	"bldr/internal/telemetry"
)

var (
	listenAddr  string
	metricsAddr string
	casDir      string
	casMaxBytes int64
	shardCount  int
	cacheDBPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coordinatord",
	Short: "Accept worker connections and dispatch build actions",
	RunE:  runCoordinator,
}

func init() {
	rootCmd.Flags().StringVar(&listenAddr, "listen", ":7700", "worker protocol listen address")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":7701", "Prometheus metrics listen address")
	rootCmd.Flags().StringVar(&casDir, "cas-dir", cas.DefaultRoot(), "content-addressable store root")
	rootCmd.Flags().Int64Var(&casMaxBytes, "cas-max-bytes", 0, "CAS eviction threshold, 0 for unbounded")
	rootCmd.Flags().IntVar(&shardCount, "shards", 16, "scheduler shard count")
	rootCmd.Flags().StringVar(&cacheDBPath, "cache-db", "", "path to the action-cache/peer-registry database, empty disables both")
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	log := telemetry.NewLogger(os.Stderr, telemetry.LevelInfo).WithComponent("coordinatord")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if !cmd.Flags().Changed("shards") && cfg.Execution.ShardCount > 0 {
		shardCount = cfg.Execution.ShardCount
	}
	if !cmd.Flags().Changed("cas-max-bytes") && cfg.Cache.MaxBytes > 0 {
		casMaxBytes = cfg.Cache.MaxBytes
	}
	if !cmd.Flags().Changed("cache-db") && cfg.Cache.Dir != "" {
		cacheDBPath = filepath.Join(cfg.Cache.Dir, "coordinator.db")
	}

	store, err := cas.Open(casDir, cas.Config{MaxBytes: casMaxBytes, EvictionPolicy: cas.EvictionLRU})
	if err != nil {
		return fmt.Errorf("opening CAS: %w", err)
	}

	var db *storage.SQLiteStore
	if cacheDBPath != "" {
		db, err = storage.NewSQLiteStore(cacheDBPath)
		if err != nil {
			return fmt.Errorf("opening cache database: %w", err)
		}
		log.Infof("action cache and peer registry backed by %s", cacheDBPath)
		defer db.Close()
	}

	g := graph.New()
	sched := scheduler.New(g, shardCount)
	coord := cluster.NewCoordinator(sched, store, db)

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listenAddr, err)
	}
	log.Infof("listening for workers on %s", listenAddr)

	metrics := telemetry.NewMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		log.Infof("serving metrics on %s", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- coord.Serve(ln) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case <-sigCh:
		log.Info("shutting down")
		coord.Close()
		_ = ln.Close()
		_ = metricsServer.Close()
		return nil
	}
}
