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

const otherNodeID = "00000000-0000-0000-0000-000000000001"

func crosswalkRelations(t *testing.T, n *node.Node, crosswalkID uint64) []node.Relation {
	t.Helper()
	var relations []node.Relation
	err := n.View(context.Background(), func(tx node.Tx) error {
		var err error
		relations, err = tx.Relations().FindByCrosswalk(crosswalkID)
		return err
	})
	require.NoError(t, err)
	return relations
}

func TestAddIncomingEdgeProportions(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, []string{"A"}, [][]string{{"x"}, {"y"}})

	crosswalk, err := n.AddIncomingEdge(ctx, otherNodeID, "population", []node.RelationInput{
		{OtherIndexID: 1, IndexID: 1, Value: 3.75},
		{OtherIndexID: 1, IndexID: 2, Value: 5.25},
		{OtherIndexID: 2, IndexID: 2, Value: 0.0},
	}, nil)
	require.NoError(t, err)
	assert.True(t, crosswalk.IsDefault)
	assert.True(t, crosswalk.IsLocallyComplete)
	assert.NotEmpty(t, crosswalk.OtherIndexHash)

	byTarget := make(map[[2]uint64]float64)
	for _, relation := range crosswalkRelations(t, n, crosswalk.ID) {
		require.NotNil(t, relation.Proportion)
		byTarget[[2]uint64{relation.OtherIndexID, relation.IndexID}] = *relation.Proportion
	}

	assert.InDelta(t, 3.75/9.0, byTarget[[2]uint64{1, 1}], 1e-12)
	assert.InDelta(t, 5.25/9.0, byTarget[[2]uint64{1, 2}], 1e-12)

	// Zero-valued group: mass split equally over its one relation.
	assert.Equal(t, 1.0, byTarget[[2]uint64{2, 2}])

	// The synthetic undefined-to-undefined relation is always present.
	assert.Equal(t, 1.0, byTarget[[2]uint64{0, 0}])
}

func TestAddIncomingEdgeUndefinedSource(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, []string{"A"}, [][]string{{"x"}})

	crosswalk, err := n.AddIncomingEdge(ctx, otherNodeID, "population", []node.RelationInput{
		{OtherIndexID: 0, IndexID: 1, Value: 5.0},
		{OtherIndexID: 1, IndexID: 1, Value: 2.0},
	}, nil)
	require.NoError(t, err)

	byTarget := make(map[[2]uint64]float64)
	for _, relation := range crosswalkRelations(t, n, crosswalk.ID) {
		require.NotNil(t, relation.Proportion)
		byTarget[[2]uint64{relation.OtherIndexID, relation.IndexID}] = *relation.Proportion
	}

	// An unmapped external record contributes nothing to defined
	// records, regardless of its value.
	assert.Equal(t, 0.0, byTarget[[2]uint64{0, 1}])
	assert.Equal(t, 1.0, byTarget[[2]uint64{0, 0}])
	assert.Equal(t, 1.0, byTarget[[2]uint64{1, 1}])
}

func TestAddIncomingEdgeDefaultFlag(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, []string{"A"}, [][]string{{"x"}})

	first, err := n.AddIncomingEdge(ctx, otherNodeID, "first", nil, nil)
	require.NoError(t, err)
	assert.True(t, first.IsDefault)

	second, err := n.AddIncomingEdge(ctx, otherNodeID, "second", nil, nil)
	require.NoError(t, err)
	assert.False(t, second.IsDefault)

	makeDefault := true
	third, err := n.AddIncomingEdge(ctx, otherNodeID, "third", nil,
		&node.CrosswalkOptions{MakeDefault: &makeDefault})
	require.NoError(t, err)
	assert.True(t, third.IsDefault)

	// The previous default lost its flag.
	err = n.View(ctx, func(tx node.Tx) error {
		refreshed, err := tx.Crosswalks().Get(first.ID)
		require.NoError(t, err)
		assert.False(t, refreshed.IsDefault)
		return nil
	})
	require.NoError(t, err)

	t.Run("duplicate name", func(t *testing.T) {
		_, err := n.AddIncomingEdge(ctx, otherNodeID, "first", nil, nil)
		assert.True(t, pkgerrors.IsValidationError(err))
	})
}

func TestFindCrosswalksByRef(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, []string{"A"}, [][]string{{"x"}})

	_, err := n.AddIncomingEdge(ctx, otherNodeID, "population", nil,
		&node.CrosswalkOptions{OtherFilenameHint: "census2020"})
	require.NoError(t, err)

	find := func(ref string) []node.Crosswalk {
		var matches []node.Crosswalk
		err := n.View(ctx, func(tx node.Tx) error {
			var err error
			matches, err = node.FindCrosswalksByRef(tx, ref)
			return err
		})
		require.NoError(t, err)
		return matches
	}

	assert.Len(t, find(otherNodeID), 1, "exact unique id")
	assert.Len(t, find("census2020"), 1, "filename hint")
	assert.Len(t, find("census2020.toron"), 1, "filename hint with extension")
	assert.Len(t, find(otherNodeID[:8]), 1, "unique id prefix")
	assert.Empty(t, find(otherNodeID[:4]), "prefix below the minimum length")
	assert.Empty(t, find("no-such-node-anywhere"))
}

func TestDefaultCrosswalk(t *testing.T) {
	crosswalks := []node.Crosswalk{
		{ID: 1, Name: "a"},
		{ID: 2, Name: "b", IsDefault: true},
	}
	got, err := node.DefaultCrosswalk(crosswalks)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.ID)

	_, err = node.DefaultCrosswalk(crosswalks[:1])
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestReifyRelations(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, []string{"A", "B"}, [][]string{
		{"x", "p"},
		{"x", "q"},
	})

	levelA := bitflags.FromBools([]bool{true, false})
	levelB := bitflags.FromBools([]bool{false, true})

	crosswalk, err := n.AddIncomingEdge(ctx, otherNodeID, "population", []node.RelationInput{
		{OtherIndexID: 1, IndexID: 1, Value: 1.0, MappingLevel: &levelA},
		{OtherIndexID: 1, IndexID: 2, Value: 1.0, MappingLevel: &levelB},
		{OtherIndexID: 2, IndexID: 1, Value: 1.0},
	}, nil)
	require.NoError(t, err)

	stats, err := n.ReifyRelations(ctx, crosswalk.ID, &levelA)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Reified)
	assert.Equal(t, 1, stats.Mismatched)

	columnCount := 2
	ambiguous := 0
	for _, relation := range crosswalkRelations(t, n, crosswalk.ID) {
		if relation.IsAmbiguous(columnCount) {
			ambiguous++
		}
	}
	assert.Equal(t, 1, ambiguous)

	t.Run("nil criteria reifies everything", func(t *testing.T) {
		stats, err := n.ReifyRelations(ctx, crosswalk.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Reified)
		assert.Equal(t, 0, stats.Mismatched)
	})
}
