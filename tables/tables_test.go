package tables

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactions_EncodeDecode(t *testing.T) {
	s := NewSynth(1)
	for i := uint64(0); i < 200; i++ {
		tx := s.Transaction()
		require.NoError(t, tx.Validate())

		key, value, err := Transactions.Encode(i, tx)
		require.NoError(t, err)

		n, got, err := Transactions.Decode(key, value)
		require.NoError(t, err)
		assert.Equal(t, i, n)
		assert.Equal(t, tx.Type, got.Type)
		assert.Equal(t, tx.Nonce, got.Nonce)
		assert.True(t, bytes.Equal(tx.Input, got.Input))
		assert.Len(t, got.BlobHashes, len(tx.BlobHashes))
	}
}

func TestTransactions_DecodeErrors(t *testing.T) {
	good, err := Transactions.EncodeValue(Transaction{Type: TxDynamicFee, To: make([]byte, 20)})
	require.NoError(t, err)

	bad, err := Transactions.EncodeValue(Transaction{Type: 9})
	require.NoError(t, err)

	blobWithoutHashes, err := Transactions.EncodeValue(Transaction{Type: TxBlob, To: make([]byte, 20)})
	require.NoError(t, err)

	tests := []struct {
		name  string
		key   []byte
		value []byte
		part  Part
	}{
		{"short key", []byte{1, 2}, good, PartKey},
		{"garbage value", make([]byte, 8), []byte{0xc1, 0x00}, PartValue},
		{"unknown type", make([]byte, 8), bad, PartValue},
		{"blob without hashes", make([]byte, 8), blobWithoutHashes, PartValue},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Transactions.Decode(tc.key, tc.value)
			require.Error(t, err)

			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, "Transactions", de.Table)
			assert.Equal(t, tc.part, de.Part)
		})
	}
}

func TestTransactions_EmptyValueDecodesToZero(t *testing.T) {
	for _, v := range [][]byte{nil, {}} {
		n, tx, err := Transactions.Decode(make([]byte, 8), v)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), n)
		assert.Equal(t, Transaction{}, tx)
	}
}

func TestTxType_String(t *testing.T) {
	assert.Equal(t, "legacy", TxLegacy.String())
	assert.Equal(t, "eip1559", TxDynamicFee.String())
	assert.Equal(t, "eip4844", TxBlob.String())
	assert.Equal(t, "unknown(7)", TxType(7).String())
	assert.Len(t, TxTypes(), 4)
}

func TestAccountsTrie_EncodeDecode(t *testing.T) {
	s := NewSynth(2)
	nodes := s.TrieNodes(100, 12)
	require.Len(t, nodes, 100)

	for _, n := range nodes {
		key, value, err := AccountsTrie.Encode(n.Path, n.Node)
		require.NoError(t, err)
		assert.Len(t, key, n.Path.Len())

		path, node, err := AccountsTrie.Decode(key, value)
		require.NoError(t, err)
		assert.Equal(t, n.Path.String(), path.String())
		assert.Equal(t, n.Node.StateMask, node.StateMask)
		assert.Equal(t, n.Node.ChildCount(), node.ChildCount())
	}
}

func TestBranchNode_Validate(t *testing.T) {
	h := make([]byte, 32)
	tests := []struct {
		name string
		node BranchNode
		ok   bool
	}{
		{"valid", BranchNode{StateMask: 0b11, HashMask: 0b01, Hashes: [][]byte{h}}, true},
		{"tree outside state", BranchNode{StateMask: 0b01, TreeMask: 0b10}, false},
		{"hash outside state", BranchNode{StateMask: 0b01, HashMask: 0b10, Hashes: [][]byte{h}}, false},
		{"hash count mismatch", BranchNode{StateMask: 0b11, HashMask: 0b11, Hashes: [][]byte{h}}, false},
		{"short hash", BranchNode{StateMask: 0b1, HashMask: 0b1, Hashes: [][]byte{{1}}}, false},
		{"bad root", BranchNode{StateMask: 0b1, RootHash: []byte{1}}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.node.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAccountsTrie_BadNibble(t *testing.T) {
	value, err := AccountsTrie.EncodeValue(BranchNode{StateMask: 0b11})
	require.NoError(t, err)

	_, _, err = AccountsTrie.Decode([]byte{0x01, 0x1f}, value)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, PartKey, de.Part)
}

func TestSynth_Deterministic(t *testing.T) {
	a := NewSynth(99).TrieNodes(20, 6)
	b := NewSynth(99).TrieNodes(20, 6)
	assert.Equal(t, a, b)
}
