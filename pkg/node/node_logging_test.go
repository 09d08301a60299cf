package node_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawnbrown/toron/internal/storage/memstore"
	pkgerrors "github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/logging"
	"github.com/shawnbrown/toron/pkg/node"
)

func newLoggedNode(t *testing.T) (*node.Node, *bytes.Buffer) {
	t.Helper()
	ctx := context.Background()

	var buf bytes.Buffer
	logger := logging.NewJSON(&buf)
	n, err := node.New(ctx, memstore.Open(), node.WithLogger(&logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n, &buf
}

func TestFailedOperationLogsThroughConfiguredLogger(t *testing.T) {
	ctx := context.Background()
	n, buf := newLoggedNode(t)
	require.NoError(t, n.AddIndexColumns(ctx, "state"))

	err := n.AddIndexColumns(ctx, "state")
	require.True(t, pkgerrors.IsSchemaInvariant(err))

	assert.Contains(t, buf.String(), `"operation":"add-index-columns"`)
	assert.Contains(t, buf.String(), "duplicate column name")
}

func TestFailedWeightGroupLogsGroupName(t *testing.T) {
	ctx := context.Background()
	n, buf := newLoggedNode(t)
	require.NoError(t, n.AddIndexColumns(ctx, "state"))

	_, err := n.AddWeightGroup(ctx, "population", nil)
	require.NoError(t, err)
	_, err = n.AddWeightGroup(ctx, "population", nil)
	require.True(t, pkgerrors.IsValidationError(err))

	assert.Contains(t, buf.String(), `"operation":"add-weight-group"`)
	assert.Contains(t, buf.String(), `"weight_group":"population"`)
}

func TestSuccessfulOperationStaysQuiet(t *testing.T) {
	ctx := context.Background()
	n, buf := newLoggedNode(t)

	require.NoError(t, n.AddIndexColumns(ctx, "state", "county"))
	assert.Empty(t, buf.String())
}
