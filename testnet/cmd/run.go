package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/opd-ai/p2pharness/testnet/internal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var errRunFailed = errors.New("scenario run failed")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario and verify its results",
	Long: `Loads the scenario (or the built-in mesh of one receiver and two senders),
starts every node, waits for all of them and compares the results with the
scenario's expectations.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := testConfigFromFlags(cmd)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		setupSignalHandling(cancel)

		fmt.Fprintln(cmd.OutOrStdout(), "🚀 Starting P2P scenario run...")
		results, err := runScenario(ctx, config)
		printSummary(cmd, results)
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	defaults := internal.DefaultTestConfig()
	flags := cmd.Flags()

	// Scenario and network
	flags.String("scenario", "", "Scenario file (default: built-in mesh)")
	flags.String("subnet", defaults.Subnet, "Subnet node addresses are drawn from")
	flags.Uint16("port", defaults.Port, "Port every node listens on")
	flags.Bool("barrier", defaults.Barrier, "Hold connects until every node is ready")
	flags.String("missing-address", defaults.MissingAddress, "Edges to nodes without an address: skip or fail")

	// Timeouts
	flags.Duration("overall-timeout", defaults.OverallTimeout, "Overall run timeout")
	flags.Duration("wait-timeout", defaults.WaitTimeout, "Per-node wait timeout (0 disables)")
	flags.Duration("handshake-timeout", defaults.HandshakeTimeout, "Noise handshake timeout")

	// Logging
	flags.String("log-level", defaults.LogLevel, "Log level (DEBUG, INFO, WARN, ERROR)")
	flags.String("log-format", defaults.LogFormat, "Log format (text, json)")
	flags.String("log-file", "", "Log file path (default: stdout)")
	flags.Bool("verbose", defaults.VerboseOutput, "Log the run configuration")

	// Metrics
	flags.Bool("metrics", defaults.CollectMetrics, "Collect lifecycle metrics")
	flags.String("metrics-file", "", "Write metrics in Prometheus text format to this file")
}

// testConfigFromFlags converts the run flags to a test configuration.
func testConfigFromFlags(cmd *cobra.Command) *internal.TestConfig {
	flags := cmd.Flags()
	config := internal.DefaultTestConfig()

	config.ScenarioFile, _ = flags.GetString("scenario")
	config.Subnet, _ = flags.GetString("subnet")
	config.Port, _ = flags.GetUint16("port")
	config.Barrier, _ = flags.GetBool("barrier")
	config.MissingAddress, _ = flags.GetString("missing-address")
	config.OverallTimeout, _ = flags.GetDuration("overall-timeout")
	config.WaitTimeout, _ = flags.GetDuration("wait-timeout")
	config.HandshakeTimeout, _ = flags.GetDuration("handshake-timeout")
	config.LogLevel, _ = flags.GetString("log-level")
	config.LogFormat, _ = flags.GetString("log-format")
	config.LogFile, _ = flags.GetString("log-file")
	config.VerboseOutput, _ = flags.GetBool("verbose")
	config.CollectMetrics, _ = flags.GetBool("metrics")
	config.MetricsFile, _ = flags.GetString("metrics-file")

	return config
}

// runScenario creates an orchestrator for config and runs it. Node and
// fabric logs follow the orchestrator's logger.
func runScenario(ctx context.Context, config *internal.TestConfig) (*internal.TestResults, error) {
	orchestrator, err := internal.NewTestOrchestrator(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create test orchestrator: %w", err)
	}
	defer orchestrator.Cleanup()

	if err := orchestrator.ValidateConfiguration(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := orchestrator.Logger()
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())
	logrus.SetFormatter(logger.Formatter)

	results, err := orchestrator.RunTests(ctx)
	if err != nil {
		return results, fmt.Errorf("%w: %w", errRunFailed, err)
	}
	if results.FinalStatus != internal.TestStatusPassed {
		return results, fmt.Errorf("%w: status %s", errRunFailed, results.FinalStatus)
	}
	return results, nil
}

func printSummary(cmd *cobra.Command, results *internal.TestResults) {
	if results == nil {
		return
	}
	out := cmd.OutOrStdout()
	if results.FinalStatus == internal.TestStatusPassed {
		fmt.Fprintln(out, "\n🎉 Scenario completed successfully!")
	}
	fmt.Fprintf(out, "\n📊 Summary: %s, %d steps, status %s (execution time: %v)\n",
		results.ScenarioName, len(results.TestSteps), results.FinalStatus, results.ExecutionTime)
}

// setupSignalHandling cancels the run on interrupt.
func setupSignalHandling(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	go func() {
		sig := <-sigChan
		fmt.Printf("\n🛑 Received signal %v, initiating graceful shutdown...\n", sig)
		cancel()
	}()
}
