// Package tables describes the scanned tables: their names, their typed keys
// and values, and the codecs between raw bytes and those types.
//
// Decoding is strict. A value that does not round-trip into a well-formed
// record is reported as a *DecodeError rather than skipped, so scans never
// silently under-count.
package tables

import (
	"fmt"

	"github.com/maxpert/tablescan/encoding"
)

// Table binds a table name to its key and value codecs
type Table[K any, V any] struct {
	Name        string
	EncodeKey   func(K) ([]byte, error)
	DecodeKey   func([]byte) (K, error)
	EncodeValue func(V) ([]byte, error)
	DecodeValue func([]byte) (V, error)
}

// Decode decodes one raw entry. Key and value are decoded independently;
// either failure is returned as a *DecodeError.
func (t Table[K, V]) Decode(key, value []byte) (K, V, error) {
	var zeroK K
	var zeroV V

	k, err := t.DecodeKey(key)
	if err != nil {
		return zeroK, zeroV, &DecodeError{Table: t.Name, Part: PartKey, Key: key, Err: err}
	}
	v, err := t.DecodeValue(value)
	if err != nil {
		return zeroK, zeroV, &DecodeError{Table: t.Name, Part: PartValue, Key: key, Err: err}
	}
	return k, v, nil
}

// Encode encodes one entry for loading into a store
func (t Table[K, V]) Encode(k K, v V) ([]byte, []byte, error) {
	key, err := t.EncodeKey(k)
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s key: %w", t.Name, err)
	}
	value, err := t.EncodeValue(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s value: %w", t.Name, err)
	}
	return key, value, nil
}

// Part identifies which half of an entry failed to decode
type Part string

const (
	PartKey   Part = "key"
	PartValue Part = "value"
)

// DecodeError reports a malformed key or value
type DecodeError struct {
	Table string
	Part  Part
	Key   []byte
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s %s at key %s: %v", e.Table, e.Part, encoding.KeyString(e.Key), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Names lists every known table
func Names() []string {
	return []string{Transactions.Name, AccountsTrie.Name}
}

func marshalValue[V any](v V) ([]byte, error) {
	return encoding.Marshal(&v)
}
