package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/finvela/risk-engine/internal/model"
)

var (
	simulateInvoiceID   string
	simulateChangesPath string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Evaluate a what-if change set against an invoice",
	Long:  "Applies hypothetical line edits from a JSON file to a stored invoice and reports how totals and the risk score would change. Nothing is persisted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		raw, err := os.ReadFile(simulateChangesPath)
		if err != nil {
			return eris.Wrapf(err, "read changes file %s", simulateChangesPath)
		}
		var changes []model.LineChange
		if err := json.Unmarshal(raw, &changes); err != nil {
			return eris.Wrapf(err, "parse changes file %s", simulateChangesPath)
		}

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Simulator.Simulate(ctx, simulateInvoiceID, changes)
		if err != nil {
			return eris.Wrap(err, "simulate")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateInvoiceID, "invoice-id", "", "invoice ID to simulate against (required)")
	simulateCmd.Flags().StringVar(&simulateChangesPath, "changes", "", "path to JSON array of line changes (required)")
	_ = simulateCmd.MarkFlagRequired("invoice-id")
	_ = simulateCmd.MarkFlagRequired("changes")
	rootCmd.AddCommand(simulateCmd)
}
