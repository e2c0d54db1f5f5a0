package cmd

import (
	"fmt"

	"github.com/maxpert/tablescan/scan"
	"github.com/maxpert/tablescan/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var txSizesCmd = &cobra.Command{
	Use:   "tx-sizes",
	Short: "Largest encoded transaction per transaction type",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		opts, closeExport, err := scanOptions()
		if err != nil {
			return err
		}
		defer closeExport()

		agg := scan.NewMaxByCategory[scan.TxSample]()
		var res scan.Result
		err = withView(ctx, func(tx store.Tx) error {
			res, err = scan.Run(ctx, tx, scan.TxSizes(), agg, opts)
			return err
		})
		if err != nil {
			return err
		}

		sizes := agg.Result()
		for _, category := range agg.Categories() {
			log.Info().Str("type", category).Int("max_size", sizes[category]).Msg("Max encoded length")
			fmt.Printf("%-10s %d\n", category, sizes[category])
		}
		printResult(res)
		return nil
	},
}
