// Command client issues a single PUT or GET against a mini-dynamo
// cluster, resolving the target node(s) from the same static node list
// the cluster itself uses.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mini-dynamo/mini-dynamo/internal/config"
	"github.com/mini-dynamo/mini-dynamo/internal/coordinator"
	"github.com/mini-dynamo/mini-dynamo/internal/ring"
)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:   "client",
		Short: "Issue a single PUT or GET against a mini-dynamo cluster",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a JSON config file describing the cluster's node list")

	root.AddCommand(putCmd(&configFile), getCmd(&configFile))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func putCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "PUT <key> <value>",
		Short: "Write a key's value via its primary node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClientCoordinator(*configFile)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Put(args[0], args[1])
		},
	}
}

func getCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "GET <key>",
		Short: "Read a key with quorum consistency and last-write-wins reconciliation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClientCoordinator(*configFile)
			if err != nil {
				return err
			}
			defer c.Close()

			value, found, err := c.Get(args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Printf("key %q not found\n", args[0])
				return nil
			}
			fmt.Println(value)
			return nil
		},
	}
}

func newClientCoordinator(configFile string) (*coordinator.ClientCoordinator, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	var cfg *config.Config
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	hashRing, err := ring.New(cfg.VirtualNodes, cfg.Nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to build hash ring: %w", err)
	}

	return coordinator.NewClientCoordinator(cfg, hashRing, logger.Sugar()), nil
}
