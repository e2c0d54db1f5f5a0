package cmd

import (
	"fmt"

	"github.com/maxpert/tablescan/store"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats [pattern...]",
	Short: "Entry count and native page size of tables matching glob patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		return withView(ctx, func(tx store.Tx) error {
			names, err := store.MatchTables(tx, args)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("no tables")
				return nil
			}
			for _, name := range names {
				st, err := tx.Stats(name)
				if err != nil {
					return fmt.Errorf("stats for %s: %w", name, err)
				}
				fmt.Printf("%-16s entries=%d page_size=%d\n", name, st.Entries, st.PageSize)
			}
			return nil
		})
	},
}
