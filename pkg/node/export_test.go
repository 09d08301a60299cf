package node_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawnbrown/toron/internal/storage/memstore"
	"github.com/shawnbrown/toron/pkg/bitflags"
	pkgerrors "github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/node"
)

// newPopulatedNode builds a node exercising every exported section:
// categories, weights, quantities, and a crosswalk with an ambiguous
// relation.
func newPopulatedNode(t *testing.T) *node.Node {
	t.Helper()
	ctx := context.Background()
	n := newTestNode(t, []string{"A", "B"}, [][]string{
		{"x", "p"},
		{"x", "q"},
	})

	require.NoError(t, n.AddDiscreteCategories(ctx, []string{"A"}))
	require.NoError(t, n.SetDomain(ctx, map[string]string{"year": "2020"}))

	err := n.Update(ctx, func(tx node.Tx) error {
		group, err := node.AddWeightGroup(tx, "population", &node.WeightGroupOptions{
			Description: "census counts",
		})
		if err != nil {
			return err
		}
		_, err = node.InsertWeights(tx, group.ID, []node.WeightInput{
			{Labels: map[string]string{"A": "x", "B": "p"}, Value: 10},
			{Labels: map[string]string{"A": "x", "B": "q"}, Value: 30},
		})
		return err
	})
	require.NoError(t, err)

	value := 8.0
	_, err = n.InsertQuantities(ctx, []node.QuantityInput{
		{Location: []string{"x", ""}, Attributes: map[string]string{"sex": "male"}, Value: &value},
	})
	require.NoError(t, err)

	levelA := bitflags.FromBools([]bool{true, false})
	_, err = n.AddIncomingEdge(ctx, otherNodeID, "population", []node.RelationInput{
		{OtherIndexID: 1, IndexID: 1, Value: 3.75},
		{OtherIndexID: 1, IndexID: 2, Value: 5.25},
		{OtherIndexID: 2, IndexID: 2, Value: 1.0, MappingLevel: &levelA},
	}, &node.CrosswalkOptions{OtherFilenameHint: "census2020"})
	require.NoError(t, err)

	return n
}

func TestExportNode(t *testing.T) {
	ctx := context.Background()
	n := newPopulatedNode(t)

	doc, err := n.Export(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, doc.UniqueID)
	assert.Equal(t, []string{"A", "B"}, doc.IndexColumns)
	assert.Contains(t, doc.DiscreteCategories, []string{"A"})
	assert.Equal(t, map[string]string{"year": "2020"}, doc.Domain)

	require.Len(t, doc.Index, 2) // the undefined record is implicit
	assert.Equal(t, []string{"x", "p"}, doc.Index[0].Labels)

	require.Len(t, doc.WeightGroups, 1)
	group := doc.WeightGroups[0]
	assert.Equal(t, "population", group.Name)
	assert.True(t, group.IsDefault)
	assert.Len(t, group.Weights, 2)

	require.Len(t, doc.Quantities, 1)
	assert.Equal(t, []string{"x", ""}, doc.Quantities[0].Location)
	assert.Equal(t, 8.0, doc.Quantities[0].Value)

	require.Len(t, doc.Crosswalks, 1)
	crosswalk := doc.Crosswalks[0]
	assert.Equal(t, otherNodeID, crosswalk.OtherUniqueID)
	assert.True(t, crosswalk.IsDefault)
	require.Len(t, crosswalk.Relations, 3) // synthetic 0-to-0 omitted
	assert.Equal(t, []string{"A"}, crosswalk.Relations[2].MappingLevel)
}

func TestImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	n := newPopulatedNode(t)

	doc, err := n.Export(ctx)
	require.NoError(t, err)

	m, err := node.New(ctx, memstore.Open())
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.Import(ctx, doc))

	// The imported node answers to the exported identity.
	id, err := m.UniqueID(ctx)
	require.NoError(t, err)
	assert.Equal(t, doc.UniqueID, id)

	roundTripped, err := m.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, doc, roundTripped)

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.IndexCount)
	assert.Equal(t, 1, info.QuantityCount)
	require.Len(t, info.WeightGroups, 1)
	assert.True(t, info.WeightGroups[0].IsComplete)
	require.Len(t, info.Crosswalks, 1)
	assert.True(t, info.Crosswalks[0].IsLocallyComplete)
}

func TestImportRequiresEmptyNode(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, []string{"A"}, nil)

	err := n.Import(ctx, &node.ExportDocument{IndexColumns: []string{"B"}})
	assert.True(t, pkgerrors.IsValidationError(err))

	t.Run("no columns in document", func(t *testing.T) {
		m, err := node.New(ctx, memstore.Open())
		require.NoError(t, err)
		defer m.Close()
		err = m.Import(ctx, &node.ExportDocument{})
		assert.True(t, pkgerrors.IsValidationError(err))
	})
}
