package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/khelechy/lwwdict/board"
	"github.com/khelechy/lwwdict/config"
	"github.com/khelechy/lwwdict/metrics"
	"github.com/khelechy/lwwdict/node"
	"github.com/khelechy/lwwdict/server"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an lwwdict HTTP node",
	Long: `Start an HTTP node hosting node.replicas replicas of every named
dictionary on one in-process board. Each replica periodically publishes its
state there and merges what the other replicas published. Requests pick a
replica with ?replica=<id> (the first one by default).
Endpoints: /set, /get, /remove, /keys, /sync, /replicas and, when enabled,
/metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	logger := initLogger(logLevel)

	conf, err := loadConfig()
	if err != nil {
		level.Error(logger).Log("msg", "failed to load config", "err", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		reg *prom.Registry
		m   = metrics.NewDiscard()
	)
	if conf.API.Metrics {
		reg = prom.NewRegistry()
		if m, err = metrics.New(reg); err != nil {
			return err
		}
	}

	replicas := buildReplicas(conf, board.New(), logger, m)

	srv := &server.Server{Replicas: replicas, Logger: logger, Workers: conf.Sync.Workers}
	if reg != nil {
		srv.Gatherer = reg
	}

	srvAddr := ":" + conf.API.Port
	httpServer := &http.Server{
		Addr:    srvAddr,
		Handler: srv.Routes(),
	}

	// Start server in a goroutine
	errs := make(chan error, 1)
	go func() {
		myfigure := figure.NewColorFigure("lwwdict", "puffy", "green", true)
		myfigure.Print()

		level.Info(logger).Log("msg", "starting server", "addr", srvAddr, "replicas", len(replicas), "bias", conf.NodeBias())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	// Start periodic sync
	for _, n := range replicas {
		n.StartPeriodicSync(ctx, conf.Sync.Interval.Duration, conf.Sync.Workers)
	}

	// Wait for SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-errs:
		level.Error(logger).Log("msg", "server failed", "err", err)
		return err
	}
	level.Info(logger).Log("msg", "shutting down")

	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	if err := httpServer.Shutdown(ctxTimeout); err != nil {
		level.Error(logger).Log("msg", "HTTP server shutdown failed", "err", err)
		return err
	}
	level.Info(logger).Log("msg", "HTTP server exited gracefully")

	return nil
}

// buildReplicas creates the replicas configured in conf, all publishing on b.
func buildReplicas(conf *config.Config, b *board.Board, logger log.Logger, m *metrics.Metrics) []*node.Node {
	ids := conf.ReplicaIDs()
	replicas := make([]*node.Node, 0, len(ids))
	for _, id := range ids {
		replicas = append(replicas, node.New(
			node.WithID(id),
			node.WithBias(conf.NodeBias()),
			node.WithShards(conf.Node.Shards),
			node.WithBoard(b),
			node.WithLogger(logger),
			node.WithMetrics(m),
		))
	}
	return replicas
}
