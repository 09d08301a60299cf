package disagg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shawnbrown/toron/pkg/disagg"
)

func TestQuantizeValues(t *testing.T) {
	items := []disagg.QuantizeItem{
		{IndexID: 1, Value: 3.75},
		{IndexID: 2, Value: 5.25},
	}
	got := disagg.QuantizeValues(items, 9.0)
	assert.Equal(t, []disagg.QuantizeItem{
		{IndexID: 1, Value: 4.0},
		{IndexID: 2, Value: 5.0},
	}, got)
}

func TestQuantizeValuesSumExact(t *testing.T) {
	items := []disagg.QuantizeItem{
		{IndexID: 1, Value: 1.4},
		{IndexID: 2, Value: 2.4},
		{IndexID: 3, Value: 3.2},
	}
	got := disagg.QuantizeValues(items, 7.0)

	sum := 0.0
	for _, item := range got {
		sum += item.Value
	}
	assert.Equal(t, 7.0, sum)

	// No item moves by more than one whole unit.
	for i, item := range got {
		assert.LessOrEqual(t, item.Value-items[i].Value, 1.0)
		assert.GreaterOrEqual(t, item.Value-items[i].Value, -1.0)
	}
}

func TestQuantizeValuesFractionalTotal(t *testing.T) {
	items := []disagg.QuantizeItem{
		{IndexID: 1, Value: 1.6},
		{IndexID: 2, Value: 1.9},
	}
	got := disagg.QuantizeValues(items, 3.5)

	sum := 0.0
	for _, item := range got {
		sum += item.Value
	}
	assert.InDelta(t, 3.5, sum, 1e-12)

	// The fractional leftover lands on a single item; order of the
	// output matches the input.
	assert.Equal(t, uint64(1), got[0].IndexID)
	assert.Equal(t, uint64(2), got[1].IndexID)
}

func TestQuantizeValuesNegative(t *testing.T) {
	items := []disagg.QuantizeItem{
		{IndexID: 1, Value: -3.75},
		{IndexID: 2, Value: -5.25},
	}
	got := disagg.QuantizeValues(items, -9.0)

	sum := 0.0
	for _, item := range got {
		sum += item.Value
	}
	assert.Equal(t, -9.0, sum)
}

func TestQuantizeValuesEmpty(t *testing.T) {
	assert.Nil(t, disagg.QuantizeValues(nil, 5.0))
}

func TestQuantizeValuesSingleton(t *testing.T) {
	got := disagg.QuantizeValues([]disagg.QuantizeItem{{IndexID: 1, Value: 2.5}}, 2.5)
	assert.Equal(t, 2.5, got[0].Value)
}
