package cmd

import (
	"context"
	"fmt"

	"github.com/maxpert/tablescan/cfg"
	"github.com/maxpert/tablescan/store"
	"github.com/maxpert/tablescan/tables"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const seedChunk = 10_000

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write deterministic synthetic transactions and trie nodes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		txCount, _ := f.GetInt("transactions")
		nodeCount, _ := f.GetInt("trie-nodes")
		maxDepth, _ := f.GetInt("max-depth")
		seed, _ := f.GetUint64("seed")
		dryRun, _ := f.GetBool("dry-run")

		conf := cfg.Config.Store
		if dryRun {
			conf.Backend = cfg.BackendMemory
		}

		s, err := store.Open(conf)
		if err != nil {
			return fmt.Errorf("failed to open %s store: %w", conf.Backend, err)
		}
		defer s.Close()

		ctx, cancel := signalContext()
		defer cancel()

		synth := tables.NewSynth(seed)
		if err := seedTransactions(ctx, s, synth, txCount); err != nil {
			return err
		}
		if err := seedTrie(ctx, s, synth, nodeCount, maxDepth); err != nil {
			return err
		}

		return s.View(ctx, func(tx store.Tx) error {
			for _, name := range tables.Names() {
				st, err := tx.Stats(name)
				if err != nil {
					continue
				}
				fmt.Printf("%-16s entries=%d\n", name, st.Entries)
			}
			return nil
		})
	},
}

func init() {
	f := seedCmd.Flags()
	f.Int("transactions", 10_000, "transactions to generate")
	f.Int("trie-nodes", 10_000, "accounts trie nodes to generate")
	f.Int("max-depth", 12, "longest generated trie path in nibbles")
	f.Uint64("seed", 1, "generator seed")
	f.Bool("dry-run", false, "generate into an in-memory store and discard")
}

func seedTransactions(ctx context.Context, l store.Loader, synth *tables.Synth, count int) error {
	entries := make([]store.Entry, 0, min(count, seedChunk))
	for n := 0; n < count; n++ {
		k, v, err := tables.Transactions.Encode(uint64(n), synth.Transaction())
		if err != nil {
			return err
		}
		entries = append(entries, store.Entry{Key: k, Value: v})
		if len(entries) == seedChunk || n == count-1 {
			if err := l.Load(ctx, tables.Transactions.Name, entries); err != nil {
				return fmt.Errorf("failed to load transactions: %w", err)
			}
			log.Debug().Int("loaded", n+1).Msg("Seeded transactions")
			entries = entries[:0]
		}
	}
	log.Info().Int("count", count).Msg("Seeded transactions")
	return nil
}

func seedTrie(ctx context.Context, l store.Loader, synth *tables.Synth, count, maxDepth int) error {
	nodes := synth.TrieNodes(count, maxDepth)
	for start := 0; start < len(nodes); start += seedChunk {
		chunk := nodes[start:min(start+seedChunk, len(nodes))]
		entries := make([]store.Entry, 0, len(chunk))
		for _, n := range chunk {
			k, v, err := tables.AccountsTrie.Encode(n.Path, n.Node)
			if err != nil {
				return err
			}
			entries = append(entries, store.Entry{Key: k, Value: v})
		}
		if err := l.Load(ctx, tables.AccountsTrie.Name, entries); err != nil {
			return fmt.Errorf("failed to load trie nodes: %w", err)
		}
	}
	if len(nodes) < count {
		log.Warn().Int("requested", count).Int("generated", len(nodes)).Msg("Trie path space exhausted")
	}
	log.Info().Int("count", len(nodes)).Msg("Seeded trie nodes")
	return nil
}
