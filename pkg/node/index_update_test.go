package node_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/node"
)

func TestUpdateIndexRecords(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, []string{"A", "B"}, [][]string{
		{"x", "p"},
		{"x", "q"},
		{"y", "p"},
	})

	stats, err := n.UpdateIndex(ctx, []node.IndexUpdate{
		{ID: 3, Labels: []string{"z", "r"}},
		{ID: 1, Labels: []string{"x", "p"}}, // unchanged labels
		{ID: 99, Labels: []string{"w", "w"}},
		{ID: 2, Labels: []string{"too-wide", "q", "q"}},
		{ID: 2, Labels: []string{"", "q"}},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Updated)
	assert.Equal(t, 0, stats.Merged)
	assert.Equal(t, 1, stats.NoMatch)
	assert.Equal(t, 1, stats.SkippedWidth)
	assert.Equal(t, 1, stats.SkippedEmpty)

	records, err := n.SelectIndex(ctx, map[string]string{"A": "z"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(3), records[0].ID)
	assert.Equal(t, []string{"z", "r"}, records[0].Labels)
}

func TestUpdateIndexRecordsConflict(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, []string{"A", "B"}, [][]string{
		{"x", "p"},
		{"x", "q"},
	})

	_, err := n.UpdateIndex(ctx, []node.IndexUpdate{
		{ID: 2, Labels: []string{"x", "p"}},
	}, false)
	assert.True(t, pkgerrors.IsValidationError(err))

	t.Run("undefined record", func(t *testing.T) {
		_, err := n.UpdateIndex(ctx, []node.IndexUpdate{
			{ID: node.UndefinedID, Labels: []string{"x", "z"}},
		}, false)
		assert.True(t, pkgerrors.IsValidationError(err))
	})
}

func TestUpdateIndexRecordsMergeOnConflict(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, []string{"A", "B"}, [][]string{
		{"x", "p"},
		{"x", "q"},
	})

	var groupID uint64
	err := n.Update(ctx, func(tx node.Tx) error {
		group, err := node.AddWeightGroup(tx, "population", nil)
		if err != nil {
			return err
		}
		groupID = group.ID
		_, err = node.InsertWeights(tx, group.ID, []node.WeightInput{
			{Labels: map[string]string{"A": "x", "B": "p"}, Value: 10},
			{Labels: map[string]string{"A": "x", "B": "q"}, Value: 20},
		})
		return err
	})
	require.NoError(t, err)

	stats, err := n.UpdateIndex(ctx, []node.IndexUpdate{
		{ID: 2, Labels: []string{"x", "p"}},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Merged)
	assert.Equal(t, 0, stats.Updated)

	records, err := n.SelectIndex(ctx, nil)
	require.NoError(t, err)
	require.Len(t, records, 2) // undefined + the merged record

	err = n.View(ctx, func(tx node.Tx) error {
		canonical, err := tx.Indexes().Get(1)
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "p"}, canonical.Labels)

		_, err = tx.Indexes().Get(2)
		assert.True(t, pkgerrors.IsNotFound(err))

		weights, err := node.WeightsByIndex(tx, groupID)
		require.NoError(t, err)
		assert.Equal(t, map[uint64]float64{1: 30}, weights)
		return nil
	})
	require.NoError(t, err)
}
