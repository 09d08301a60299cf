package badgerstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawnbrown/toron/internal/storage/badgerstore"
	pkgerrors "github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/node"
)

func TestInMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	err = store.Update(ctx, func(tx node.Tx) error {
		if _, err := tx.Indexes().Add([]string{"-"}); err != nil {
			return err
		}
		record, err := tx.Indexes().Add([]string{"x"})
		if err != nil {
			return err
		}
		assert.Equal(t, uint64(1), record.ID)
		return tx.Properties().Set("unique_id", []byte("abc"))
	})
	require.NoError(t, err)

	err = store.View(ctx, func(tx node.Tx) error {
		record, err := tx.Indexes().FindByLabels([]string{"x"})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), record.ID)

		raw, err := tx.Properties().Get("unique_id")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), raw)
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	boom := pkgerrors.New("boom")
	err = store.Update(ctx, func(tx node.Tx) error {
		if err := tx.Properties().Set("unique_id", []byte("abc")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = store.View(ctx, func(tx node.Tx) error {
		_, err := tx.Properties().Get("unique_id")
		assert.True(t, pkgerrors.IsNotFound(err))
		return nil
	})
	require.NoError(t, err)
}

func TestViewIsReadOnly(t *testing.T) {
	ctx := context.Background()
	store, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	err = store.View(ctx, func(tx node.Tx) error {
		err := tx.Properties().Set("unique_id", []byte("abc"))
		assert.ErrorIs(t, err, pkgerrors.ErrReadOnly)
		return nil
	})
	require.NoError(t, err)
}

func TestOpenOnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := badgerstore.Open(badgerstore.Config{Path: dir})
	require.NoError(t, err)

	err = store.Update(ctx, func(tx node.Tx) error {
		return tx.Properties().Set("unique_id", []byte("abc"))
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Data survives a reopen.
	store, err = badgerstore.Open(badgerstore.Config{Path: dir})
	require.NoError(t, err)
	defer store.Close()

	err = store.View(ctx, func(tx node.Tx) error {
		raw, err := tx.Properties().Get("unique_id")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), raw)
		return nil
	})
	require.NoError(t, err)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := badgerstore.Open(badgerstore.Config{})
	assert.Error(t, err)
}
