package tables

import (
	"fmt"
	"math/bits"

	"github.com/maxpert/tablescan/encoding"
)

// Nibbles is a trie path, one nibble (0..15) per element
type Nibbles []byte

// Len returns the path length, which is the node depth
func (n Nibbles) Len() int {
	return len(n)
}

func (n Nibbles) String() string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(n))
	for i, v := range n {
		out[i] = digits[v&0x0f]
	}
	return string(out)
}

// BranchNode is a compact branch node as stored in the accounts trie.
// Bit i of a mask refers to child nibble i.
type BranchNode struct {
	StateMask uint16 // children that exist
	TreeMask  uint16 // children stored as further branch nodes
	HashMask  uint16 // children whose hash is kept in Hashes
	Hashes    [][]byte
	RootHash  []byte
}

// ChildCount returns the number of bits set in the state mask
func (b *BranchNode) ChildCount() int {
	return bits.OnesCount16(b.StateMask)
}

// Validate checks mask consistency
func (b *BranchNode) Validate() error {
	if b.TreeMask&^b.StateMask != 0 {
		return fmt.Errorf("tree mask %016b not a subset of state mask %016b", b.TreeMask, b.StateMask)
	}
	if b.HashMask&^b.StateMask != 0 {
		return fmt.Errorf("hash mask %016b not a subset of state mask %016b", b.HashMask, b.StateMask)
	}
	if want := bits.OnesCount16(b.HashMask); len(b.Hashes) != want {
		return fmt.Errorf("hash mask expects %d hashes, got %d", want, len(b.Hashes))
	}
	for i, h := range b.Hashes {
		if len(h) != hashSize {
			return fmt.Errorf("hash %d must be %d bytes, got %d", i, hashSize, len(h))
		}
	}
	if len(b.RootHash) != 0 && len(b.RootHash) != hashSize {
		return fmt.Errorf("root hash must be %d bytes, got %d", hashSize, len(b.RootHash))
	}
	return nil
}

func decodeBranchNode(b []byte) (BranchNode, error) {
	var node BranchNode
	if err := encoding.Unmarshal(b, &node); err != nil {
		return node, err
	}
	if err := node.Validate(); err != nil {
		return node, err
	}
	return node, nil
}

// AccountsTrie maps trie paths to the branch nodes stored at them
var AccountsTrie = Table[Nibbles, BranchNode]{
	Name: "AccountsTrie",
	EncodeKey: func(n Nibbles) ([]byte, error) {
		return encoding.EncodeNibbles(n)
	},
	DecodeKey: func(b []byte) (Nibbles, error) {
		n, err := encoding.DecodeNibbles(b)
		return Nibbles(n), err
	},
	EncodeValue: marshalValue[BranchNode],
	DecodeValue: decodeBranchNode,
}
