package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arohanajit/ringpool/internal/config"
)

var (
	seedsFlag      []string
	ringSourceFlag string
	healthFlag     string
	cfg            *config.PoolConfig
	logger         *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ringpool",
	Short: "Topology aware client pool for a partitioned key-value cluster",
	Long: `ringpool routes key operations to the replicas owning each key,
balances load across them by in-flight requests and keeps a short lived
blacklist of nodes that failed at the connection level.

Configuration comes from RINGPOOL_* environment variables; flags override it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.InitLogger(); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = config.GetLogger()

		cfg = config.LoadPoolConfig()
		if len(seedsFlag) > 0 {
			cfg.Seeds = strings.Join(seedsFlag, ",")
		}
		if ringSourceFlag != "" {
			cfg.RingSource = ringSourceFlag
		}
		return cfg.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		config.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(&seedsFlag, "seeds", "s", nil, "Seed node addresses (comma-separated host:port)")
	rootCmd.PersistentFlags().StringVar(&ringSourceFlag, "ring-source", "", "Where the ring is read from: static, http or etcd")
	rootCmd.PersistentFlags().StringVar(&healthFlag, "health", "http", "Health check protocol for blacklisted nodes: http, grpc or none")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
