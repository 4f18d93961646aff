package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/khelechy/lwwdict/simulate"
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run in-process replicas through random writes and check convergence",
	Long: `Start a group of in-process nodes sharing one board. Every round each node
sets or removes a random key concurrently and then all nodes sync. When the
rounds are done the nodes keep syncing until they agree, and the command
reports whether every replica converged.

Defaults come from the [simulate] section of the config file; flags override them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimulate(cmd)
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().IntP("replicas", "n", 0, "Number of replicas")
	simulateCmd.Flags().IntP("rounds", "r", 0, "Number of write rounds")
	simulateCmd.Flags().IntP("keys", "k", 0, "Size of the key space")
	simulateCmd.Flags().Int64("seed", time.Now().UnixNano(), "Random seed")
	simulateCmd.Flags().Float64("remove-ratio", 0.3, "Share of operations that remove a key")
	simulateCmd.Flags().Bool("no-banner", false, "Do not print the banner")
}

func runSimulate(cmd *cobra.Command) error {
	logger := initLogger(logLevel)

	conf, err := loadConfig()
	if err != nil {
		return err
	}

	opts := simulate.Options{
		Replicas: conf.Simulate.Replicas,
		Rounds:   conf.Simulate.Rounds,
		Keys:     conf.Simulate.Keys,
		Dict:     conf.Simulate.Dict,
		Bias:     conf.NodeBias(),
		Workers:  conf.Sync.Workers,
		Logger:   logger,
	}
	if v, _ := cmd.Flags().GetInt("replicas"); v > 0 {
		opts.Replicas = v
	}
	if v, _ := cmd.Flags().GetInt("rounds"); v > 0 {
		opts.Rounds = v
	}
	if v, _ := cmd.Flags().GetInt("keys"); v > 0 {
		opts.Keys = v
	}
	opts.Seed, _ = cmd.Flags().GetInt64("seed")
	opts.RemoveRatio, _ = cmd.Flags().GetFloat64("remove-ratio")

	if noBanner, _ := cmd.Flags().GetBool("no-banner"); !noBanner {
		figure.NewFigure("lwwdict", "puffy", true).Print()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := simulate.Run(ctx, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Replicas:  %d\n", len(report.Replicas))
	fmt.Fprintf(out, "Rounds:    %d\n", report.Rounds)
	fmt.Fprintf(out, "Sets:      %d\n", report.Sets)
	fmt.Fprintf(out, "Removes:   %d\n", report.Removes)
	fmt.Fprintf(out, "Keys:      %d visible %v\n", len(report.Keys), report.Keys)

	if !report.Converged() {
		fmt.Fprintf(out, "✗ Replicas diverged on %v\n", report.Divergent)
		return errors.Errorf("replicas diverged on %d keys", len(report.Divergent))
	}
	fmt.Fprintf(out, "✓ All replicas converged (seed %d)\n", opts.Seed)
	return nil
}
