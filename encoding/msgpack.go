// Package encoding provides the serialization used for table values and the
// byte layouts used for table keys.
//
// All msgpack operations go through this package so that every backend and
// every codec agrees on the wire format.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use.
package encoding

import (
	"bytes"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

type encoderPoolEntry struct {
	buf *bytes.Buffer
	enc *msgpack.Encoder
}

var encoderPool = sync.Pool{
	New: func() any {
		buf := &bytes.Buffer{}
		enc := msgpack.NewEncoder(buf)
		// Struct fields are encoded as arrays so value sizes stay close to
		// the field payload, which is what the size scans measure.
		enc.UseArrayEncodedStructs(true)
		return &encoderPoolEntry{buf: buf, enc: enc}
	},
}

// Marshal encodes a value to msgpack format. The returned slice is owned by
// the caller.
func Marshal(v interface{}) ([]byte, error) {
	entry := encoderPool.Get().(*encoderPoolEntry)
	defer encoderPool.Put(entry)
	entry.buf.Reset()

	if err := entry.enc.Encode(v); err != nil {
		return nil, err
	}

	out := make([]byte, entry.buf.Len())
	copy(out, entry.buf.Bytes())
	return out, nil
}

// Unmarshal decodes msgpack data into v.
// Trailing bytes after the first value are reported as an error: a value
// blob holds exactly one record.
func Unmarshal(data []byte, v interface{}) error {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)

	if err := dec.Decode(v); err != nil {
		return err
	}
	if r.Len() != 0 {
		return &TrailingBytesError{Remaining: r.Len()}
	}
	return nil
}

// TrailingBytesError reports bytes left over after decoding one value.
type TrailingBytesError struct {
	Remaining int
}

func (e *TrailingBytesError) Error() string {
	return "msgpack: trailing bytes after value"
}
