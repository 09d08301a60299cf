package node_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawnbrown/toron/pkg/node"
)

func TestCalculateGranularity(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, []string{"A", "B"}, [][]string{
		{"x", "p"},
		{"x", "q"},
		{"y", "p"},
	})

	granularityOf := func(columns ...string) *float64 {
		var g *float64
		err := n.View(ctx, func(tx node.Tx) error {
			var err error
			g, err = node.CalculateGranularity(tx, columns)
			return err
		})
		require.NoError(t, err)
		return g
	}

	t.Run("partial level", func(t *testing.T) {
		// Column A partitions {xp, xq, yp} into {xp, xq} and {yp}:
		// log2(3) - (2/3)*log2(2) - (1/3)*log2(1).
		g := granularityOf("A")
		require.NotNil(t, g)
		want := math.Log2(3) - 2.0/3.0
		assert.InDelta(t, want, *g, 1e-12)
	})

	t.Run("full level", func(t *testing.T) {
		// All tuples distinct: granularity is log2 of the cardinality.
		g := granularityOf("A", "B")
		require.NotNil(t, g)
		assert.InDelta(t, math.Log2(3), *g, 1e-12)
	})

	t.Run("no columns", func(t *testing.T) {
		assert.Nil(t, granularityOf())
	})
}

func TestCalculateGranularityEmptyIndex(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, []string{"A"}, nil)

	err := n.View(ctx, func(tx node.Tx) error {
		g, err := node.CalculateGranularity(tx, []string{"A"})
		require.NoError(t, err)
		assert.Nil(t, g)
		return nil
	})
	require.NoError(t, err)
}

func TestStructureLevelsByGranularity(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, []string{"A", "B"}, [][]string{
		{"x", "p"},
		{"x", "q"},
		{"y", "p"},
	})
	require.NoError(t, n.AddDiscreteCategories(ctx, []string{"A"}))

	err := n.View(ctx, func(tx node.Tx) error {
		levels, err := node.StructureLevelsByGranularity(tx)
		require.NoError(t, err)
		// Empty level, {A}, and {A,B}; finest first, nil last.
		require.Len(t, levels, 3)
		require.NotNil(t, levels[0].Granularity)
		require.NotNil(t, levels[1].Granularity)
		assert.Greater(t, *levels[0].Granularity, *levels[1].Granularity)
		assert.Nil(t, levels[2].Granularity)
		return nil
	})
	require.NoError(t, err)
}
