package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/reconcile-cli/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Validate and list the purchase order catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			return eris.Wrap(err, "load catalog")
		}
		zap.L().Info("catalog valid",
			zap.String("path", cfg.CatalogPath),
			zap.Int("purchase_orders", cat.Len()),
		)

		fmt.Printf("%d purchase orders in %s\n\n", cat.Len(), cfg.CatalogPath)
		for _, po := range cat.All() {
			fmt.Printf("  %-24s %-32s %3d lines  %10.2f %s\n",
				po.PONumber, po.Supplier, len(po.LineItems), po.Total, po.Currency)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
}
