package scan

import (
	"bytes"
	"encoding/json"
	"math/rand/v2"
	"testing"

	"github.com/maxpert/tablescan/tables"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sized struct {
	cat  string
	size int
}

func (s sized) Category() string { return s.cat }
func (s sized) Measure() int     { return s.size }
func (s sized) Fields() []string { return nil }

func TestMaxByCategory_Example(t *testing.T) {
	m := NewMaxByCategory[sized]()
	m.Fold(&Page{Index: 0}, []sized{{"A", 12}})
	m.Fold(&Page{Index: 1}, []sized{{"A", 47}})
	m.Fold(&Page{Index: 2}, []sized{{"A", 3}})

	assert.Equal(t, map[string]int{"A": 47}, m.Result())
}

func TestMaxByCategory_LogsPageMaxima(t *testing.T) {
	var buf bytes.Buffer
	m := NewMaxByCategory[sized]()
	m.Logger = zerolog.New(&buf)

	m.Fold(&Page{Index: 3}, []sized{{"A", 5}, {"B", 9}, {"A", 12}})

	var line struct {
		Page    int            `json:"page"`
		Max     map[string]int `json:"max"`
		Message string         `json:"message"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Max size in page", line.Message)
	assert.Equal(t, 3, line.Page)
	assert.Equal(t, map[string]int{"A": 12, "B": 9}, line.Max)
}

func TestMaxByCategory_Commutative(t *testing.T) {
	var tuples []sized
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 500; i++ {
		tuples = append(tuples, sized{cat: []string{"legacy", "eip2930", "eip1559", "eip4844"}[r.IntN(4)], size: r.IntN(10_000)})
	}

	fold := func(ts []sized, pageSize int) map[string]int {
		m := NewMaxByCategory[sized]()
		for i := 0; i < len(ts); i += pageSize {
			m.Fold(&Page{}, ts[i:min(i+pageSize, len(ts))])
		}
		return m.Result()
	}

	want := fold(tuples, len(tuples))
	for i := 0; i < 10; i++ {
		shuffled := append([]sized(nil), tuples...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, fold(shuffled, 1+r.IntN(100)))
	}
}

func TestMaxByCategory_Categories(t *testing.T) {
	m := NewMaxByCategory[sized]()
	m.Fold(&Page{}, []sized{{"b", 1}, {"a", 0}, {"c", 2}})
	assert.Equal(t, []string{"a", "b", "c"}, m.Categories())
	assert.Equal(t, 0, m.Result()["a"])
}

func depthSample(path tables.Nibbles, mask uint16) DepthSample {
	node := tables.BranchNode{StateMask: mask}
	return DepthSample{Path: path, Depth: path.Len(), Children: node.ChildCount(), Node: node}
}

func TestDepthSample_Anomalous(t *testing.T) {
	assert.True(t, depthSample(nil, 0).Anomalous())
	assert.True(t, depthSample(nil, 0b1000_0000_0000_0000).Anomalous())
	assert.False(t, depthSample(nil, 0b11).Anomalous())
	assert.False(t, depthSample(nil, 0xffff).Anomalous())

	assert.Equal(t, "anomaly", depthSample(nil, 1).Category())
	assert.Equal(t, "branch", depthSample(nil, 3).Category())
}

func TestDepthTracker_PageAndGlobalMax(t *testing.T) {
	d := NewDepthTracker(1)
	d.Logger = zerolog.Nop()

	d.Fold(&Page{Index: 0}, []DepthSample{
		depthSample(tables.Nibbles{1, 2}, 0b11),
		depthSample(tables.Nibbles{1}, 0b1),
	})
	d.Fold(&Page{Index: 1}, []DepthSample{
		depthSample(tables.Nibbles{1, 2, 3, 4, 5}, 0),
	})
	d.Fold(&Page{Index: 2}, []DepthSample{
		depthSample(tables.Nibbles{7}, 0b101),
	})

	assert.Equal(t, []int{2, 5, 1}, d.PageMax)
	assert.Equal(t, 5, d.GlobalMax)
	assert.Equal(t, 2, d.AnomalyCount)
	require.Len(t, d.Anomalies, 1, "retention is capped")
	assert.Equal(t, "1", d.Anomalies[0].Path.String())
}

func TestDepthSample_Fields(t *testing.T) {
	s := depthSample(tables.Nibbles{0xa, 0x3}, 0x0103)
	assert.Equal(t, []string{"a3", "2", "3", "0103"}, s.Fields())
}

func TestFormatMask(t *testing.T) {
	assert.Equal(t, "0000000000000101", formatMask(0b101))
	assert.Equal(t, "1000000000000000", formatMask(0x8000))
}
