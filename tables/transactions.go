package tables

import (
	"fmt"

	"github.com/maxpert/tablescan/encoding"
)

const (
	addressSize = 20
	hashSize    = 32
)

// TxType is the EIP-2718 transaction envelope type
type TxType uint8

const (
	TxLegacy     TxType = 0
	TxAccessList TxType = 1 // EIP-2930
	TxDynamicFee TxType = 2 // EIP-1559
	TxBlob       TxType = 3 // EIP-4844
)

func (t TxType) String() string {
	switch t {
	case TxLegacy:
		return "legacy"
	case TxAccessList:
		return "eip2930"
	case TxDynamicFee:
		return "eip1559"
	case TxBlob:
		return "eip4844"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// TxTypes lists every supported type in envelope order
func TxTypes() []TxType {
	return []TxType{TxLegacy, TxAccessList, TxDynamicFee, TxBlob}
}

// AccessTuple is one EIP-2930 access list entry
type AccessTuple struct {
	Address     []byte
	StorageKeys [][]byte
}

// Transaction is the stored body of a transaction, keyed by its global
// transaction number.
type Transaction struct {
	Type                 TxType
	ChainID              uint64
	Nonce                uint64
	GasLimit             uint64
	GasPrice             uint64 // legacy and eip2930
	MaxFeePerGas         uint64 // eip1559 and eip4844
	MaxPriorityFeePerGas uint64
	To                   []byte // empty for contract creation
	Value                []byte // big-endian wei, no leading zeros
	Input                []byte
	AccessList           []AccessTuple
	BlobHashes           [][]byte
}

// Validate checks the structural rules of the envelope type
func (tx *Transaction) Validate() error {
	switch tx.Type {
	case TxLegacy, TxAccessList, TxDynamicFee, TxBlob:
	default:
		return fmt.Errorf("unsupported transaction type %d", uint8(tx.Type))
	}

	if len(tx.To) != 0 && len(tx.To) != addressSize {
		return fmt.Errorf("recipient must be %d bytes, got %d", addressSize, len(tx.To))
	}
	if len(tx.Value) > hashSize {
		return fmt.Errorf("value exceeds 256 bits")
	}
	if tx.Type == TxLegacy && len(tx.AccessList) > 0 {
		return fmt.Errorf("legacy transaction carries an access list")
	}
	for i, tuple := range tx.AccessList {
		if len(tuple.Address) != addressSize {
			return fmt.Errorf("access list entry %d: address must be %d bytes", i, addressSize)
		}
		for j, key := range tuple.StorageKeys {
			if len(key) != hashSize {
				return fmt.Errorf("access list entry %d: storage key %d must be %d bytes", i, j, hashSize)
			}
		}
	}

	if tx.Type == TxBlob {
		if len(tx.BlobHashes) == 0 {
			return fmt.Errorf("blob transaction without blob hashes")
		}
		if len(tx.To) == 0 {
			return fmt.Errorf("blob transaction cannot create contracts")
		}
	} else if len(tx.BlobHashes) > 0 {
		return fmt.Errorf("%s transaction carries blob hashes", tx.Type)
	}
	for i, h := range tx.BlobHashes {
		if len(h) != hashSize {
			return fmt.Errorf("blob hash %d must be %d bytes", i, hashSize)
		}
	}
	return nil
}

func decodeTransaction(b []byte) (Transaction, error) {
	var tx Transaction
	// Degenerate zero-length bodies decode to the zero value and are left
	// for the consumer to drop.
	if len(b) == 0 {
		return tx, nil
	}
	if err := encoding.Unmarshal(b, &tx); err != nil {
		return tx, err
	}
	if err := tx.Validate(); err != nil {
		return tx, err
	}
	return tx, nil
}

// Transactions maps transaction number to transaction body
var Transactions = Table[uint64, Transaction]{
	Name: "Transactions",
	EncodeKey: func(n uint64) ([]byte, error) {
		return encoding.EncodeUint64Key(n), nil
	},
	DecodeKey:   encoding.DecodeUint64Key,
	EncodeValue: marshalValue[Transaction],
	DecodeValue: decodeTransaction,
}
