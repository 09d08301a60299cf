package disagg_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawnbrown/toron/internal/storage/memstore"
	"github.com/shawnbrown/toron/pkg/disagg"
	"github.com/shawnbrown/toron/pkg/node"
)

func float64Ptr(v float64) *float64 { return &v }

// newTestNode returns an in-memory node with columns A and B, records
// (x,p), (x,q), (y,p), and {A} declared discrete so quantities can
// attach at the A level.
func newTestNode(t *testing.T) *node.Node {
	t.Helper()
	ctx := context.Background()

	n, err := node.New(ctx, memstore.Open())
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	require.NoError(t, n.AddIndexColumns(ctx, "A", "B"))
	stats, err := n.InsertIndex(ctx, [][]string{
		{"x", "p"},
		{"x", "q"},
		{"y", "p"},
	})
	require.NoError(t, err)
	require.Equal(t, 3, stats.Inserted)
	require.NoError(t, n.AddDiscreteCategories(ctx, []string{"A"}))
	return n
}

func runStatic(t *testing.T, n *node.Node) []disagg.Value {
	t.Helper()
	var values []disagg.Value
	err := n.View(context.Background(), func(tx node.Tx) error {
		var err error
		values, err = disagg.Static(tx)
		return err
	})
	require.NoError(t, err)
	return values
}

func TestStaticWeightedSplit(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t)

	group, err := n.AddWeightGroup(ctx, "population", nil)
	require.NoError(t, err)
	_, err = n.InsertWeights(ctx, group.ID, []node.WeightInput{
		{Labels: map[string]string{"A": "x", "B": "p"}, Value: 2},
		{Labels: map[string]string{"A": "x", "B": "q"}, Value: 6},
		{Labels: map[string]string{"A": "y", "B": "p"}, Value: 1},
	})
	require.NoError(t, err)

	_, err = n.InsertQuantities(ctx, []node.QuantityInput{
		{Location: []string{"x", ""}, Attributes: map[string]string{"kind": "a"}, Value: float64Ptr(8)},
	})
	require.NoError(t, err)

	values := runStatic(t, n)
	require.Len(t, values, 2)
	assert.Equal(t, uint64(1), values[0].IndexID)
	assert.InDelta(t, 2.0, values[0].Value, 1e-12)
	assert.Equal(t, uint64(2), values[1].IndexID)
	assert.InDelta(t, 6.0, values[1].Value, 1e-12)
}

func TestStaticEqualSplitFallback(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t)

	// No weight groups at all: the value splits evenly.
	_, err := n.InsertQuantities(ctx, []node.QuantityInput{
		{Location: []string{"x", ""}, Attributes: map[string]string{"kind": "a"}, Value: float64Ptr(8)},
	})
	require.NoError(t, err)

	values := runStatic(t, n)
	require.Len(t, values, 2)
	assert.Equal(t, 4.0, values[0].Value)
	assert.Equal(t, 4.0, values[1].Value)
}

func TestStaticSingleCandidate(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t)

	// (y, p) is the only record with A=y: it takes the whole value.
	_, err := n.InsertQuantities(ctx, []node.QuantityInput{
		{Location: []string{"y", ""}, Attributes: map[string]string{"kind": "a"}, Value: float64Ptr(7)},
	})
	require.NoError(t, err)

	values := runStatic(t, n)
	require.Len(t, values, 1)
	assert.Equal(t, uint64(3), values[0].IndexID)
	assert.Equal(t, 7.0, values[0].Value)
}

func TestStaticWholeNodeQuantity(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t)

	// An all-empty location matches every record; the undefined record
	// takes none of an equal split.
	_, err := n.InsertQuantities(ctx, []node.QuantityInput{
		{Location: []string{"", ""}, Attributes: map[string]string{"kind": "a"}, Value: float64Ptr(9)},
	})
	require.NoError(t, err)

	values := runStatic(t, n)
	require.Len(t, values, 3)
	for _, value := range values {
		assert.NotEqual(t, node.UndefinedID, value.IndexID)
		assert.InDelta(t, 3.0, value.Value, 1e-12)
	}
}

func TestAdaptivePrefersFinerOutput(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t)

	_, err := n.InsertQuantities(ctx, []node.QuantityInput{
		// Finest level: exact records.
		{Location: []string{"x", "p"}, Attributes: map[string]string{"kind": "a"}, Value: float64Ptr(10)},
		{Location: []string{"x", "q"}, Attributes: map[string]string{"kind": "a"}, Value: float64Ptr(30)},
		// Coarser level: split across both x records.
		{Location: []string{"x", ""}, Attributes: map[string]string{"kind": "a"}, Value: float64Ptr(4)},
	})
	require.NoError(t, err)

	var values []disagg.Value
	err = n.View(ctx, func(tx node.Tx) error {
		var err error
		values, err = disagg.Adaptive(tx, nil)
		return err
	})
	require.NoError(t, err)

	// The coarse 4 splits 1:3 after the finer 10 and 30, not evenly.
	require.Len(t, values, 2)
	assert.Equal(t, uint64(1), values[0].IndexID)
	assert.InDelta(t, 11.0, values[0].Value, 1e-12)
	assert.Equal(t, uint64(2), values[1].IndexID)
	assert.InDelta(t, 33.0, values[1].Value, 1e-12)

	t.Run("static splits the same input evenly", func(t *testing.T) {
		values := runStatic(t, n)
		require.Len(t, values, 2)
		assert.InDelta(t, 12.0, values[0].Value, 1e-12)
		assert.InDelta(t, 32.0, values[1].Value, 1e-12)
	})
}

func TestAdaptiveAttributeAgreement(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t)

	_, err := n.InsertQuantities(ctx, []node.QuantityInput{
		{Location: []string{"x", "p"}, Attributes: map[string]string{"kind": "a"}, Value: float64Ptr(10)},
		{Location: []string{"x", "q"}, Attributes: map[string]string{"kind": "a"}, Value: float64Ptr(30)},
		// Different attributes: no finer output agrees, so the split
		// falls back to equal.
		{Location: []string{"x", ""}, Attributes: map[string]string{"kind": "b"}, Value: float64Ptr(4)},
	})
	require.NoError(t, err)

	var values []disagg.Value
	err = n.View(ctx, func(tx node.Tx) error {
		var err error
		values, err = disagg.Adaptive(tx, nil)
		return err
	})
	require.NoError(t, err)

	byKey := make(map[string]float64)
	for _, value := range values {
		byKey[value.Attributes["kind"]] += value.Value
	}
	assert.InDelta(t, 40.0, byKey["a"], 1e-12)
	assert.InDelta(t, 4.0, byKey["b"], 1e-12)

	// The kind=b rows split 2 and 2.
	for _, value := range values {
		if value.Attributes["kind"] == "b" {
			assert.Equal(t, 2.0, value.Value)
		}
	}
}

func TestStaticSelectorPicksGroup(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t)

	// Default group weights one way, a selector-matched group another.
	base, err := n.AddWeightGroup(ctx, "base", nil)
	require.NoError(t, err)
	_, err = n.InsertWeights(ctx, base.ID, []node.WeightInput{
		{Labels: map[string]string{"A": "x", "B": "p"}, Value: 1},
		{Labels: map[string]string{"A": "x", "B": "q"}, Value: 1},
	})
	require.NoError(t, err)

	male, err := n.AddWeightGroup(ctx, "male",
		&node.WeightGroupOptions{Selectors: []string{`[sex="male"]`}})
	require.NoError(t, err)
	_, err = n.InsertWeights(ctx, male.ID, []node.WeightInput{
		{Labels: map[string]string{"A": "x", "B": "p"}, Value: 3},
		{Labels: map[string]string{"A": "x", "B": "q"}, Value: 1},
	})
	require.NoError(t, err)

	_, err = n.InsertQuantities(ctx, []node.QuantityInput{
		{Location: []string{"x", ""}, Attributes: map[string]string{"sex": "male"}, Value: float64Ptr(8)},
		{Location: []string{"x", ""}, Attributes: map[string]string{"sex": "female"}, Value: float64Ptr(8)},
	})
	require.NoError(t, err)

	values := runStatic(t, n)

	byTarget := make(map[[2]string]float64)
	for _, value := range values {
		byTarget[[2]string{value.Attributes["sex"], value.Labels[1]}] = value.Value
	}
	// Male rows split 3:1 through the matched group; female rows split
	// 1:1 through the default.
	assert.InDelta(t, 6.0, byTarget[[2]string{"male", "p"}], 1e-12)
	assert.InDelta(t, 2.0, byTarget[[2]string{"male", "q"}], 1e-12)
	assert.InDelta(t, 4.0, byTarget[[2]string{"female", "p"}], 1e-12)
	assert.InDelta(t, 4.0, byTarget[[2]string{"female", "q"}], 1e-12)
}
