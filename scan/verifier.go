package scan

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	cuckoo "github.com/linvon/cuckoo-filter"
	"github.com/maxpert/tablescan/encoding"
	"github.com/rs/zerolog/log"
)

const (
	verifierBucketSize      = 4
	verifierFingerprintSize = 32 // FP rate ~2.3×10⁻¹⁰
	verifierMinKeys         = 1024
)

// DuplicateKeyError reports a key delivered by more than one page, or twice
// within one page
type DuplicateKeyError struct {
	Key  []byte
	Page int
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("key %s delivered again in page %d", encoding.KeyString(e.Key), e.Page)
}

// Verifier checks that no key is seen twice during a scan. Membership is
// approximate: a reported duplicate is wrong with probability ~2.3×10⁻¹⁰
// per key; a missed duplicate is impossible while the filter has room.
type Verifier struct {
	filter *cuckoo.Filter
	buf    []byte
	full   bool
}

// NewVerifier sizes the filter for the expected number of keys
func NewVerifier(expected uint64) *Verifier {
	keys := expected + expected/4
	if keys < verifierMinKeys {
		keys = verifierMinKeys
	}
	return &Verifier{
		filter: cuckoo.NewFilter(verifierBucketSize, verifierFingerprintSize, uint(keys), cuckoo.TableTypePacked),
		buf:    make([]byte, 8),
	}
}

// Check records every key in the page and fails on the first repeat
func (v *Verifier) Check(page *Page) error {
	if v.full {
		return nil
	}
	for _, e := range page.Entries {
		binary.LittleEndian.PutUint64(v.buf, xxhash.Sum64(e.Key))
		if v.filter.Contain(v.buf) {
			return &DuplicateKeyError{Key: e.Key, Page: page.Index}
		}
		if !v.filter.Add(v.buf) {
			log.Warn().Uint("size", v.filter.Size()).Msg("Exactly-once verifier full, verification disabled")
			v.full = true
			return nil
		}
	}
	return nil
}

// Size returns the number of keys recorded
func (v *Verifier) Size() uint {
	return v.filter.Size()
}
