package encoding

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Kind  uint8
	Name  string
	Blobs [][]byte
}

func TestMarshalUnmarshal_Struct(t *testing.T) {
	in := sample{Kind: 2, Name: "alpha", Blobs: [][]byte{{1, 2}, {3}}}

	data, err := Marshal(&in)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var out sample
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestUnmarshal_TrailingBytes(t *testing.T) {
	data, err := Marshal(&sample{Name: "x"})
	require.NoError(t, err)

	var out sample
	err = Unmarshal(append(data, 0x01), &out)
	require.Error(t, err)
	var trailing *TrailingBytesError
	assert.ErrorAs(t, err, &trailing)
	assert.Equal(t, 1, trailing.Remaining)
}

func TestUnmarshal_Garbage(t *testing.T) {
	var out sample
	assert.Error(t, Unmarshal([]byte{0xc1}, &out))
	assert.Error(t, Unmarshal(nil, &out))
}

func TestMarshal_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				in := sample{Kind: uint8(id), Name: "worker"}
				data, err := Marshal(&in)
				if err != nil {
					t.Errorf("Marshal failed: %v", err)
					return
				}
				var out sample
				if err := Unmarshal(data, &out); err != nil {
					t.Errorf("Unmarshal failed: %v", err)
					return
				}
				if out.Kind != uint8(id) {
					t.Errorf("expected kind %d, got %d", id, out.Kind)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestUint64Key_Ordering(t *testing.T) {
	a := EncodeUint64Key(255)
	b := EncodeUint64Key(256)
	assert.Less(t, string(a), string(b))

	n, err := DecodeUint64Key(b)
	require.NoError(t, err)
	assert.Equal(t, uint64(256), n)

	_, err = DecodeUint64Key([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestNibbles(t *testing.T) {
	key, err := EncodeNibbles([]byte{0x0a, 0x01, 0x0f})
	require.NoError(t, err)
	assert.Len(t, key, 3)

	_, err = DecodeNibbles([]byte{0x10})
	assert.Error(t, err)

	assert.Equal(t, "empty", KeyString(nil))
	assert.Equal(t, "0a010f", KeyString(key))
}
