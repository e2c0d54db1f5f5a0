package tables

import (
	"math/bits"
	"math/rand/v2"
)

// Synth produces deterministic synthetic records for seeding and tests.
// The same seed always yields the same sequence.
type Synth struct {
	r *rand.Rand
}

// NewSynth creates a generator for the given seed
func NewSynth(seed uint64) *Synth {
	return &Synth{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *Synth) bytes(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(s.r.UintN(256))
	}
	return out
}

// Transaction returns a well-formed transaction with a random envelope type
func (s *Synth) Transaction() Transaction {
	tx := Transaction{
		Type:     TxType(s.r.UintN(4)),
		ChainID:  1,
		Nonce:    s.r.Uint64N(1 << 20),
		GasLimit: 21000 + s.r.Uint64N(1_000_000),
		Value:    s.bytes(1 + s.r.IntN(12)),
		Input:    s.bytes(s.r.IntN(512)),
	}
	if s.r.IntN(20) != 0 || tx.Type == TxBlob {
		tx.To = s.bytes(addressSize)
	}

	switch tx.Type {
	case TxLegacy, TxAccessList:
		tx.GasPrice = 1 + s.r.Uint64N(200_000_000_000)
	default:
		tx.MaxFeePerGas = 1 + s.r.Uint64N(200_000_000_000)
		tx.MaxPriorityFeePerGas = s.r.Uint64N(tx.MaxFeePerGas)
	}

	if tx.Type != TxLegacy {
		for i := s.r.IntN(3); i > 0; i-- {
			tuple := AccessTuple{Address: s.bytes(addressSize)}
			for j := s.r.IntN(4); j > 0; j-- {
				tuple.StorageKeys = append(tuple.StorageKeys, s.bytes(hashSize))
			}
			tx.AccessList = append(tx.AccessList, tuple)
		}
	}
	if tx.Type == TxBlob {
		for i := 1 + s.r.IntN(6); i > 0; i-- {
			tx.BlobHashes = append(tx.BlobHashes, s.bytes(hashSize))
		}
	}
	return tx
}

// TrieNode is a generated accounts trie entry
type TrieNode struct {
	Path Nibbles
	Node BranchNode
}

// BranchNode returns a well-formed branch node. Roughly one node in
// sixteen has a single child.
func (s *Synth) BranchNode() BranchNode {
	var state uint16
	if s.r.IntN(16) == 0 {
		state = 1 << s.r.UintN(16)
	} else {
		for state == 0 || bits.OnesCount16(state) < 2 {
			state = uint16(s.r.UintN(1 << 16))
		}
	}
	tree := state & uint16(s.r.UintN(1<<16))
	hash := state & uint16(s.r.UintN(1<<16))

	node := BranchNode{StateMask: state, TreeMask: tree, HashMask: hash}
	for i := bits.OnesCount16(hash); i > 0; i-- {
		node.Hashes = append(node.Hashes, s.bytes(hashSize))
	}
	if s.r.IntN(4) == 0 {
		node.RootHash = s.bytes(hashSize)
	}
	return node
}

// TrieNodes returns count nodes at distinct paths of length 0..maxDepth
func (s *Synth) TrieNodes(count, maxDepth int) []TrieNode {
	seen := make(map[string]struct{}, count)
	out := make([]TrieNode, 0, count)
	for attempts := 0; len(out) < count && attempts < count*64; attempts++ {
		path := make(Nibbles, s.r.IntN(maxDepth+1))
		for i := range path {
			path[i] = byte(s.r.UintN(16))
		}
		if _, dup := seen[string(path)]; dup {
			continue
		}
		seen[string(path)] = struct{}{}
		out = append(out, TrieNode{Path: path, Node: s.BranchNode()})
	}
	return out
}
