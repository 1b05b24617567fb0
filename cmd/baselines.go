package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var baselinesCmd = &cobra.Command{
	Use:   "baselines",
	Short: "Inspect learned price baselines",
}

var baselinesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all price baselines",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		baselines, err := st.ListBaselines(ctx)
		if err != nil {
			return eris.Wrap(err, "list baselines")
		}

		type row struct {
			CategoryKey string  `json:"category_key"`
			MedianPrice float64 `json:"median_price"`
			Scale       float64 `json:"scale"`
			SampleCount int     `json:"sample_count"`
			Version     int64   `json:"version"`
		}
		rows := make([]row, 0, len(baselines))
		for _, b := range baselines {
			rows = append(rows, row{
				CategoryKey: b.CategoryKey,
				MedianPrice: b.MedianPrice,
				Scale:       b.Scale,
				SampleCount: b.SampleCount,
				Version:     b.Version,
			})
		}

		zap.L().Info("baselines listed", zap.Int("count", len(rows)))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	},
}

var baselinesFoldCmd = &cobra.Command{
	Use:   "fold",
	Short: "Fold a scored invoice's prices into the baselines",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		inv, err := env.Store.GetInvoice(ctx, baselinesFoldInvoiceID)
		if err != nil {
			return eris.Wrap(err, "load invoice")
		}
		if err := env.Benchmark.Fold(ctx, inv); err != nil {
			return eris.Wrap(err, "fold baselines")
		}

		zap.L().Info("baselines folded", zap.String("invoice_id", baselinesFoldInvoiceID))
		return nil
	},
}

var baselinesFoldInvoiceID string

func init() {
	baselinesFoldCmd.Flags().StringVar(&baselinesFoldInvoiceID, "invoice-id", "", "invoice ID to fold (required)")
	_ = baselinesFoldCmd.MarkFlagRequired("invoice-id")
	baselinesCmd.AddCommand(baselinesListCmd)
	baselinesCmd.AddCommand(baselinesFoldCmd)
	rootCmd.AddCommand(baselinesCmd)
}
