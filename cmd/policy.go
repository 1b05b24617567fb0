package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the adaptive weighting policy",
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List learned weight vectors per context bucket",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		states, err := st.ListPolicyStates(ctx)
		if err != nil {
			return eris.Wrap(err, "list policy states")
		}

		zap.L().Info("policy states listed", zap.Int("count", len(states)))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(states)
	},
}

var (
	feedbackInvoiceID string
	feedbackRisky     bool
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record an analyst verdict on a scored invoice",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Service.Feedback(ctx, feedbackInvoiceID, feedbackRisky); err != nil {
			return eris.Wrap(err, "record feedback")
		}

		zap.L().Info("feedback recorded",
			zap.String("invoice_id", feedbackInvoiceID),
			zap.Bool("confirmed_risky", feedbackRisky),
		)
		return nil
	},
}

func init() {
	feedbackCmd.Flags().StringVar(&feedbackInvoiceID, "invoice-id", "", "invoice ID (required)")
	feedbackCmd.Flags().BoolVar(&feedbackRisky, "risky", false, "analyst confirmed the invoice as risky")
	_ = feedbackCmd.MarkFlagRequired("invoice-id")
	policyCmd.AddCommand(policyListCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(feedbackCmd)
}
