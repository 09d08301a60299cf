// Package toron builds and reconciles dataset nodes: labeled index
// schemas with discrete-category lattices, weight groups, located
// quantities, and crosswalks that re-express one node's data in
// another node's index space.
//
// A node is opened from a database directory (BadgerDB) or created in
// memory; all reads and mutations run through the transactional store
// in pkg/node, with disaggregation and translation in pkg/disagg.
package toron

import (
	"context"

	"github.com/shawnbrown/toron/internal/storage/badgerstore"
	"github.com/shawnbrown/toron/internal/storage/memstore"
	"github.com/shawnbrown/toron/pkg/node"
)

// Open opens (creating if needed) the node stored at path.
func Open(ctx context.Context, path string, opts ...node.Option) (*node.Node, error) {
	store, err := badgerstore.Open(badgerstore.DefaultConfig(path))
	if err != nil {
		return nil, err
	}
	n, err := node.New(ctx, store, opts...)
	if err != nil {
		store.Close()
		return nil, err
	}
	return n, nil
}

// OpenInMemory creates a node that lives only in memory, for tests
// and ephemeral work.
func OpenInMemory(ctx context.Context, opts ...node.Option) (*node.Node, error) {
	return node.New(ctx, memstore.Open(), opts...)
}
