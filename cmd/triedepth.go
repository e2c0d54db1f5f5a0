package cmd

import (
	"fmt"

	"github.com/maxpert/tablescan/cfg"
	"github.com/maxpert/tablescan/scan"
	"github.com/maxpert/tablescan/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var trieDepthCmd = &cobra.Command{
	Use:   "trie-depth",
	Short: "Per-page and global maximum accounts trie depth",
	Long: `Scans the accounts trie and reports the deepest path of every page and
of the whole table. Branch nodes with fewer than two children are logged as
anomalies.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("max-anomalies") {
			cfg.Config.Scan.MaxAnomalies, _ = cmd.Flags().GetInt("max-anomalies")
		}

		ctx, cancel := signalContext()
		defer cancel()

		opts, closeExport, err := scanOptions()
		if err != nil {
			return err
		}
		defer closeExport()

		tracker := scan.NewDepthTracker(cfg.Config.Scan.MaxAnomalies)
		tracker.Logger = log.With().Str("run_id", opts.RunID).Logger()

		var res scan.Result
		err = withView(ctx, func(tx store.Tx) error {
			res, err = scan.Run(ctx, tx, scan.TrieDepth(), tracker, opts)
			return err
		})
		if err != nil {
			return err
		}

		log.Info().
			Int("max_depth", tracker.GlobalMax).
			Int("anomalies", tracker.AnomalyCount).
			Msg("Global max depth")

		fmt.Printf("max depth: %d\n", tracker.GlobalMax)
		fmt.Printf("anomalies: %d\n", tracker.AnomalyCount)
		for _, a := range tracker.Anomalies {
			fmt.Printf("  %s children=%d state_mask=%016b\n", a.Path, a.Children, a.Node.StateMask)
		}
		if tracker.AnomalyCount > len(tracker.Anomalies) {
			fmt.Printf("  ... %d more\n", tracker.AnomalyCount-len(tracker.Anomalies))
		}
		printResult(res)
		return nil
	},
}

func init() {
	trieDepthCmd.Flags().Int("max-anomalies", 1000, "anomalies listed in the result (all are logged)")
}
