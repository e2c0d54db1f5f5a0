package scan

import (
	"fmt"
	"strconv"

	"github.com/maxpert/tablescan/store"
	"github.com/maxpert/tablescan/tables"
)

// TxSample is one transaction reduced to its type and encoded size
type TxSample struct {
	Number uint64
	Type   tables.TxType
	Size   int
}

func (s TxSample) Category() string {
	return s.Type.String()
}

func (s TxSample) Measure() int {
	return s.Size
}

func (s TxSample) Fields() []string {
	return []string{strconv.FormatUint(s.Number, 10), strconv.Itoa(s.Size)}
}

// TxSizes measures the encoded size of every transaction. Empty values are
// degenerate and dropped.
func TxSizes() Pipeline[uint64, tables.Transaction, TxSample] {
	return Pipeline[uint64, tables.Transaction, TxSample]{
		Table:   tables.Transactions,
		Columns: []string{"number", "size"},
		Transform: func(n uint64, tx tables.Transaction, raw store.Entry) TxSample {
			return TxSample{Number: n, Type: tx.Type, Size: len(raw.Value)}
		},
		Filter: func(s TxSample) bool {
			return s.Size > 0
		},
	}
}

func (s DepthSample) Fields() []string {
	return []string{
		s.Path.String(),
		strconv.Itoa(s.Depth),
		strconv.Itoa(s.Children),
		fmt.Sprintf("%04x", s.Node.StateMask),
	}
}

// TrieDepth reduces every accounts trie node to its depth and child count
func TrieDepth() Pipeline[tables.Nibbles, tables.BranchNode, DepthSample] {
	return Pipeline[tables.Nibbles, tables.BranchNode, DepthSample]{
		Table:   tables.AccountsTrie,
		Columns: []string{"path", "depth", "children", "state_mask"},
		Transform: func(path tables.Nibbles, node tables.BranchNode, _ store.Entry) DepthSample {
			return DepthSample{
				Path:     path,
				Depth:    path.Len(),
				Children: node.ChildCount(),
				Node:     node,
			}
		},
	}
}
