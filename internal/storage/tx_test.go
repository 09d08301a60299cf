package storage_test

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

// update runs fn in a read-write transaction on a fresh store.
func update(t *testing.T, store node.Store, fn func(tx node.Tx) error) {
	t.Helper()
	require.NoError(t, store.Update(context.Background(), fn))
}

func TestIndexRepository(t *testing.T) {
	store := memstore.Open()
	defer store.Close()

	update(t, store, func(tx node.Tx) error {
		// The first record takes id 0, the undefined slot.
		undefined, err := tx.Indexes().Add([]string{"-", "-"})
		require.NoError(t, err)
		assert.Equal(t, uint64(0), undefined.ID)

		first, err := tx.Indexes().Add([]string{"OH", "Butler"})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), first.ID)

		_, err = tx.Indexes().Add([]string{"OH", "Butler"})
		assert.True(t, pkgerrors.IsAlreadyExists(err))

		got, err := tx.Indexes().Get(first.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"OH", "Butler"}, got.Labels)

		byLabels, err := tx.Indexes().FindByLabels([]string{"OH", "Butler"})
		require.NoError(t, err)
		assert.Equal(t, first.ID, byLabels.ID)

		_, err = tx.Indexes().FindByLabels([]string{"nope", "nope"})
		assert.True(t, pkgerrors.IsNotFound(err))
		return nil
	})

	t.Run("update moves the label lookup", func(t *testing.T) {
		update(t, store, func(tx node.Tx) error {
			record, err := tx.Indexes().FindByLabels([]string{"OH", "Butler"})
			require.NoError(t, err)
			record.Labels = []string{"OH", "Hamilton"}
			require.NoError(t, tx.Indexes().Update(record))

			_, err = tx.Indexes().FindByLabels([]string{"OH", "Butler"})
			assert.True(t, pkgerrors.IsNotFound(err))
			moved, err := tx.Indexes().FindByLabels([]string{"OH", "Hamilton"})
			require.NoError(t, err)
			assert.Equal(t, record.ID, moved.ID)
			return nil
		})
	})

	t.Run("deleted ids are never reused", func(t *testing.T) {
		update(t, store, func(tx node.Tx) error {
			record, err := tx.Indexes().FindByLabels([]string{"OH", "Hamilton"})
			require.NoError(t, err)
			require.NoError(t, tx.Indexes().Delete(record.ID))

			next, err := tx.Indexes().Add([]string{"IN", "Knox"})
			require.NoError(t, err)
			assert.Greater(t, next.ID, record.ID)
			return nil
		})
	})
}

func TestIndexRepositoryOrderingAndCardinality(t *testing.T) {
	store := memstore.Open()
	defer store.Close()

	update(t, store, func(tx node.Tx) error {
		_, err := tx.Indexes().Add([]string{"-"})
		require.NoError(t, err)
		for _, label := range []string{"c", "a", "b"} {
			_, err := tx.Indexes().Add([]string{label})
			require.NoError(t, err)
		}

		// All and AllIDs follow id order, not label order.
		ids, err := tx.Indexes().AllIDs(true)
		require.NoError(t, err)
		assert.Equal(t, []uint64{0, 1, 2, 3}, ids)

		ids, err = tx.Indexes().AllIDs(false)
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 2, 3}, ids)

		count, err := tx.Indexes().Cardinality(false)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		return nil
	})
}

func TestStructureRepository(t *testing.T) {
	store := memstore.Open()
	defer store.Close()

	update(t, store, func(tx node.Tx) error {
		g := 1.5
		level := &node.StructureLevel{
			Granularity: &g,
			Bits:        bitflags.FromBools([]bool{true, false}),
		}
		require.NoError(t, tx.Structures().Add(level))
		require.NoError(t, tx.Structures().Add(&node.StructureLevel{
			Bits: bitflags.FromBools([]bool{true, true}),
		}))

		levels, err := tx.Structures().All()
		require.NoError(t, err)
		require.Len(t, levels, 2)
		require.NotNil(t, levels[0].Granularity)
		assert.Equal(t, 1.5, *levels[0].Granularity)
		assert.True(t, levels[0].Bits.Get(0))
		assert.False(t, levels[0].Bits.Get(1))
		assert.Nil(t, levels[1].Granularity)

		require.NoError(t, tx.Structures().DeleteAll())
		levels, err = tx.Structures().All()
		require.NoError(t, err)
		assert.Empty(t, levels)
		return nil
	})
}

func TestWeightRepository(t *testing.T) {
	store := memstore.Open()
	defer store.Close()

	update(t, store, func(tx node.Tx) error {
		group := &node.WeightGroup{Name: "population"}
		require.NoError(t, tx.WeightGroups().Add(group))

		other := &node.WeightGroup{Name: "population"}
		assert.True(t, pkgerrors.IsAlreadyExists(tx.WeightGroups().Add(other)))

		byName, err := tx.WeightGroups().GetByName("population")
		require.NoError(t, err)
		assert.Equal(t, group.ID, byName.ID)

		for indexID, value := range map[uint64]float64{1: 10, 2: 20} {
			err := tx.Weights().Add(&node.Weight{
				WeightGroupID: group.ID, IndexID: indexID, Value: value,
			})
			require.NoError(t, err)
		}

		dup := &node.Weight{WeightGroupID: group.ID, IndexID: 1, Value: 99}
		assert.True(t, pkgerrors.IsAlreadyExists(tx.Weights().Add(dup)))

		weight, err := tx.Weights().FindByGroupAndIndex(group.ID, 2)
		require.NoError(t, err)
		assert.Equal(t, 20.0, weight.Value)

		weights, err := tx.Weights().FindByGroup(group.ID)
		require.NoError(t, err)
		assert.Len(t, weights, 2)

		byIndex, err := tx.Weights().FindByIndex(1)
		require.NoError(t, err)
		require.Len(t, byIndex, 1)
		assert.Equal(t, 10.0, byIndex[0].Value)
		return nil
	})
}

func TestAttributeGroupRepository(t *testing.T) {
	store := memstore.Open()
	defer store.Close()

	update(t, store, func(tx node.Tx) error {
		group, err := tx.AttributeGroups().Add(map[string]string{"sex": "male", "age": ""})
		require.NoError(t, err)
		// Empty values are dropped from the stored dictionary.
		assert.Equal(t, map[string]string{"sex": "male"}, group.Attributes)

		// An equal dictionary, with or without empty values, collides.
		_, err = tx.AttributeGroups().Add(map[string]string{"sex": "male"})
		assert.True(t, pkgerrors.IsAlreadyExists(err))

		found, err := tx.AttributeGroups().FindByAttributes(map[string]string{"sex": "male"})
		require.NoError(t, err)
		assert.Equal(t, group.ID, found.ID)

		_, err = tx.AttributeGroups().Add(map[string]string{"sex": "female"})
		require.NoError(t, err)

		names, err := tx.AttributeGroups().AllAttributeNames()
		require.NoError(t, err)
		assert.Equal(t, []string{"sex"}, names)
		return nil
	})
}

func TestRelationRepository(t *testing.T) {
	store := memstore.Open()
	defer store.Close()

	update(t, store, func(tx node.Tx) error {
		level := bitflags.FromBools([]bool{true, false})
		rows := []node.Relation{
			{CrosswalkID: 1, OtherIndexID: 2, IndexID: 5, Value: 1.5, MappingLevel: &level},
			{CrosswalkID: 1, OtherIndexID: 1, IndexID: 4, Value: 2.5},
			{CrosswalkID: 2, OtherIndexID: 9, IndexID: 4, Value: 3.5},
		}
		for i := range rows {
			require.NoError(t, tx.Relations().Add(&rows[i]))
		}

		// Round trip keeps the mapping level, nil included.
		got, err := tx.Relations().Get(rows[0].ID)
		require.NoError(t, err)
		require.NotNil(t, got.MappingLevel)
		assert.True(t, got.MappingLevel.Get(0))
		assert.False(t, got.MappingLevel.Get(1))
		got, err = tx.Relations().Get(rows[1].ID)
		require.NoError(t, err)
		assert.Nil(t, got.MappingLevel)
		assert.False(t, got.IsAmbiguous(2), "an exact relation must stay exact after storage")

		byCrosswalk, err := tx.Relations().FindByCrosswalk(1)
		require.NoError(t, err)
		assert.Len(t, byCrosswalk, 2)

		byOther, err := tx.Relations().FindByCrosswalkAndOtherIndex(1, 2)
		require.NoError(t, err)
		require.Len(t, byOther, 1)
		assert.Equal(t, uint64(5), byOther[0].IndexID)

		distinct, err := tx.Relations().DistinctOtherIndexIDs(1, true)
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 2}, distinct)

		require.NoError(t, tx.Relations().DeleteByCrosswalk(1))
		byCrosswalk, err = tx.Relations().FindByCrosswalk(1)
		require.NoError(t, err)
		assert.Empty(t, byCrosswalk)
		untouched, err := tx.Relations().FindByCrosswalk(2)
		require.NoError(t, err)
		assert.Len(t, untouched, 1)
		return nil
	})
}

func TestPropertyRepository(t *testing.T) {
	store := memstore.Open()
	defer store.Close()

	update(t, store, func(tx node.Tx) error {
		_, err := tx.Properties().Get("missing")
		assert.True(t, pkgerrors.IsNotFound(err))

		require.NoError(t, tx.Properties().Set("unique_id", []byte("abc")))
		raw, err := tx.Properties().Get("unique_id")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), raw)

		require.NoError(t, tx.Properties().Delete("unique_id"))
		_, err = tx.Properties().Get("unique_id")
		assert.True(t, pkgerrors.IsNotFound(err))
		return nil
	})
}
