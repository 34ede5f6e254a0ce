package main

import (
	"fmt"
	"io"

	"github.com/opd-ai/p2pharness/testnet/internal"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <scenario>",
	Short: "Check a scenario file without running it",
	Long:  `Parses the scenario, checks every node reference and builds the connection plan.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(args[0], cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(path string, out io.Writer) error {
	scenario, err := internal.LoadScenario(path)
	if err != nil {
		return err
	}
	network, err := scenario.Build()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Scenario %q is valid! ✅\n", scenario.Name)
	fmt.Fprintf(out, "   %d nodes, %d edges\n", network.Len(), len(network.Edges()))
	for _, e := range network.Edges() {
		fmt.Fprintf(out, "   %s\n", e)
	}
	return nil
}
