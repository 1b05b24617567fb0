package main

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finvela/risk-engine/internal/ingest"
	"github.com/finvela/risk-engine/internal/model"
)

var (
	importPath  string
	importSheet string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import invoices from an XLSX or JSON export",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var invoices []*model.InvoiceSnapshot
		var err error
		switch strings.ToLower(filepath.Ext(importPath)) {
		case ".xlsx":
			invoices, err = ingest.LoadXLSX(importPath, ingest.XLSXOptions{SheetName: importSheet})
		case ".json":
			invoices, err = ingest.LoadJSON(importPath)
		default:
			return eris.Errorf("unsupported file type: %s", importPath)
		}
		if err != nil {
			return eris.Wrap(err, "load invoices")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		saved, err := ingest.SaveAll(ctx, st, invoices)
		if err != nil {
			return eris.Wrap(err, "save invoices")
		}

		zap.L().Info("import complete",
			zap.Int("invoices", saved),
			zap.String("file", importPath),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importPath, "file", "", "path to XLSX or JSON export (required)")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
