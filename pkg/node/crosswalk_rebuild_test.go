package node_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawnbrown/toron/pkg/bitflags"
	pkgerrors "github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/node"
)

func TestRebuildCrosswalkRelations(t *testing.T) {
	ctx := context.Background()
	levelA := bitflags.FromBools([]bool{true, false})

	// Records 1 and 2 share A=x; the crosswalk's weight group splits
	// ambiguous mass between them 10:30.
	setup := func(t *testing.T, extra []node.RelationInput) (*node.Node, *node.Crosswalk) {
		n := newTestNode(t, []string{"A", "B"}, [][]string{
			{"x", "p"},
			{"x", "q"},
			{"y", "p"},
		})
		err := n.Update(ctx, func(tx node.Tx) error {
			group, err := node.AddWeightGroup(tx, "population", nil)
			if err != nil {
				return err
			}
			_, err = node.InsertWeights(tx, group.ID, []node.WeightInput{
				{Labels: map[string]string{"A": "x", "B": "p"}, Value: 10},
				{Labels: map[string]string{"A": "x", "B": "q"}, Value: 30},
				{Labels: map[string]string{"A": "y", "B": "p"}, Value: 5},
			})
			return err
		})
		require.NoError(t, err)

		relations := append([]node.RelationInput{
			{OtherIndexID: 1, IndexID: 1, Value: 4.0, MappingLevel: &levelA},
			{OtherIndexID: 2, IndexID: 3, Value: 2.0},
		}, extra...)
		crosswalk, err := n.AddIncomingEdge(ctx, otherNodeID, "population", relations, nil)
		require.NoError(t, err)
		return n, crosswalk
	}

	rebuild := func(n *node.Node, crosswalk *node.Crosswalk, limit int, overlap bool) error {
		return n.Update(ctx, func(tx node.Tx) error {
			return node.RebuildCrosswalkRelations(tx, crosswalk, limit, overlap)
		})
	}

	t.Run("splits by weight group", func(t *testing.T) {
		n, crosswalk := setup(t, nil)
		require.NoError(t, rebuild(n, crosswalk, 2, false))

		values := make(map[[2]uint64]float64)
		proportions := make(map[[2]uint64]float64)
		for _, relation := range crosswalkRelations(t, n, crosswalk.ID) {
			key := [2]uint64{relation.OtherIndexID, relation.IndexID}
			values[key] = relation.Value
			require.NotNil(t, relation.Proportion)
			proportions[key] = *relation.Proportion
		}

		assert.InDelta(t, 1.0, values[[2]uint64{1, 1}], 1e-12)
		assert.InDelta(t, 3.0, values[[2]uint64{1, 2}], 1e-12)
		assert.Equal(t, 2.0, values[[2]uint64{2, 3}])
		assert.InDelta(t, 0.25, proportions[[2]uint64{1, 1}], 1e-12)
		assert.InDelta(t, 0.75, proportions[[2]uint64{1, 2}], 1e-12)
	})

	t.Run("excludes claimed candidates", func(t *testing.T) {
		// Record 2 is already claimed exactly for external id 1, so
		// the ambiguous relation collapses onto record 1 alone.
		n, crosswalk := setup(t, []node.RelationInput{
			{OtherIndexID: 1, IndexID: 2, Value: 7.0},
		})
		require.NoError(t, rebuild(n, crosswalk, 2, false))

		values := make(map[[2]uint64]float64)
		for _, relation := range crosswalkRelations(t, n, crosswalk.ID) {
			values[[2]uint64{relation.OtherIndexID, relation.IndexID}] = relation.Value
		}
		assert.Equal(t, 4.0, values[[2]uint64{1, 1}])
		assert.Equal(t, 7.0, values[[2]uint64{1, 2}])
	})

	t.Run("match limit exceeded", func(t *testing.T) {
		n, crosswalk := setup(t, nil)
		err := rebuild(n, crosswalk, 1, false)
		assert.True(t, pkgerrors.IsAmbiguity(err))
	})

	t.Run("invalid match limit", func(t *testing.T) {
		n, crosswalk := setup(t, nil)
		err := rebuild(n, crosswalk, 0, false)
		assert.True(t, pkgerrors.IsValidationError(err))
	})
}
