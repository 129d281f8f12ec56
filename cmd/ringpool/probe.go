package main

import (
	"context"
	"fmt"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/arohanajit/ringpool/internal/cluster"
)

var probeCmd = &cobra.Command{
	Use:   "probe [host:port ...]",
	Short: "Health check nodes",
	Long: `Health check the given nodes, or the seeds when none are given.

Examples:
  ringpool probe 10.0.0.1:9160 10.0.0.2:9160
  ringpool probe --health=grpc --seeds=10.0.0.1:50051`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	var nodes []cluster.Node
	for _, arg := range args {
		node, err := cluster.ParseNode(arg)
		if err != nil {
			return err
		}
		nodes = append(nodes, node)
	}
	if len(nodes) == 0 {
		seeds, err := cfg.SeedNodes()
		if err != nil {
			return err
		}
		nodes = seeds
	}
	if len(nodes) == 0 {
		return fmt.Errorf("no nodes to probe, pass addresses or --seeds")
	}

	c := &components{}
	defer c.Close()
	checker, err := buildHealthChecker(healthFlag, c)
	if err != nil {
		return err
	}
	if checker == nil {
		return fmt.Errorf("--health=none cannot probe")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), describeTimeout)
	defer cancel()

	results := make([]error, len(nodes))
	var wg sync.WaitGroup
	for i, node := range nodes {
		wg.Add(1)
		go func(i int, node cluster.Node) {
			defer wg.Done()
			results[i] = checker.Check(ctx, node)
		}(i, node)
	}
	wg.Wait()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tSTATUS\tERROR")
	unhealthy := 0
	for i, node := range nodes {
		if results[i] != nil {
			unhealthy++
			fmt.Fprintf(w, "%s\tdown\t%v\n", node, results[i])
			continue
		}
		fmt.Fprintf(w, "%s\tup\t\n", node)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if unhealthy > 0 {
		return fmt.Errorf("%d of %d nodes unhealthy", unhealthy, len(nodes))
	}
	return nil
}
