// Command server runs one mini-dynamo node: it listens for the framed
// client/replication protocol and, alongside it, a small HTTP admin
// surface for health checks, ring introspection, and metrics.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mini-dynamo/mini-dynamo/internal/admin"
	"github.com/mini-dynamo/mini-dynamo/internal/config"
	"github.com/mini-dynamo/mini-dynamo/internal/coordinator"
	"github.com/mini-dynamo/mini-dynamo/internal/ring"
	"github.com/mini-dynamo/mini-dynamo/internal/store"
)

func main() {
	var (
		configFile string
		adminAddr  string
	)

	root := &cobra.Command{
		Use:   "server <port>",
		Short: "Run a mini-dynamo cluster node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[0], err)
			}
			return run(port, configFile, adminAddr)
		},
	}
	root.Flags().StringVar(&configFile, "config", "", "path to a JSON config file (defaults used otherwise)")
	root.Flags().StringVar(&adminAddr, "admin-address", "", "address for the HTTP admin surface (default: <node address>:+1000)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(port int, configFile, adminAddr string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	var cfg *config.Config
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}
	cfg.Port = port

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	self := ring.Node{IP: cfg.Address, Port: cfg.Port}
	if cfg.Address == "0.0.0.0" {
		self.IP = "127.0.0.1"
	}

	hashRing, err := ring.New(cfg.VirtualNodes, cfg.Nodes)
	if err != nil {
		return fmt.Errorf("failed to build hash ring: %w", err)
	}

	kv := store.New()
	sc := coordinator.NewServerCoordinator(cfg, hashRing, kv, self, sugar)

	if adminAddr == "" {
		adminAddr = fmt.Sprintf("%s:%d", cfg.Address, cfg.Port+1000)
	}
	adminServer := admin.NewServer(cfg, hashRing, kv, self, sugar)
	httpServer := &http.Server{Addr: adminAddr, Handler: adminServer.Handler()}

	sugar.Infow("starting mini-dynamo node",
		"node", self,
		"replication_factor", cfg.ReplicationFactor,
		"virtual_nodes", cfg.VirtualNodes,
		"quorum", cfg.Quorum(),
		"admin_address", adminAddr,
	)
	sugar.Info(hashRing.Status())

	errCh := make(chan error, 2)
	go func() {
		if err := sc.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("coordinator stopped: %w", err)
		}
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin server stopped: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		sugar.Info("shutting down")
	case err := <-errCh:
		sugar.Errorw("fatal error", "error", err)
		return err
	}

	httpServer.Close()
	return sc.Stop()
}
