package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runInvoiceID string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a risk evaluation for a single invoice",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		score, err := env.Service.Run(ctx, runInvoiceID)
		if err != nil {
			return eris.Wrap(err, "risk run")
		}

		zap.L().Info("risk run complete",
			zap.String("invoice_id", runInvoiceID),
			zap.Float64("composite", score.Composite),
			zap.String("policy_version", score.PolicyVersion),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(score)
	},
}

func init() {
	runCmd.Flags().StringVar(&runInvoiceID, "invoice-id", "", "invoice ID to score (required)")
	_ = runCmd.MarkFlagRequired("invoice-id")
	rootCmd.AddCommand(runCmd)
}
