// Package node models a single dataset node: a labeled index, the
// discrete categories and structure lattice defined over it, weight
// groups, located quantities, and the crosswalks mapping other nodes'
// index spaces onto this one. All state lives in a transactional Store;
// the package-level engine functions operate on an open transaction,
// and Node wraps a Store with one-call conveniences around them.
package node

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shawnbrown/toron/pkg/bitflags"
	"github.com/shawnbrown/toron/pkg/categories"
	"github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/logging"
)

func toCategories(cats [][]string) []categories.Category {
	out := make([]categories.Category, 0, len(cats))
	for _, cat := range cats {
		out = append(out, categories.New(cat...))
	}
	return out
}

// Node is the high-level handle to one dataset node.
type Node struct {
	store Store
	log   *zerolog.Logger
}

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the logger used by the node's operations.
func WithLogger(log *zerolog.Logger) Option {
	return func(n *Node) {
		n.log = log
	}
}

// New wraps a store as a Node, assigning a fresh unique id when the
// store has none yet.
func New(ctx context.Context, store Store, opts ...Option) (*Node, error) {
	n := &Node{
		store: store,
		log:   logging.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}

	err := store.Update(ctx, func(tx Tx) error {
		id, err := UniqueID(tx)
		if err != nil {
			return err
		}
		if id == "" {
			return SetUniqueID(tx, uuid.NewString())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Store returns the underlying store.
func (n *Node) Store() Store { return n.store }

// Close closes the underlying store.
func (n *Node) Close() error { return n.store.Close() }

// View runs fn in a read-only transaction.
func (n *Node) View(ctx context.Context, fn func(Tx) error) error {
	return n.store.View(ctx, fn)
}

// Update runs fn in a read-write transaction.
func (n *Node) Update(ctx context.Context, fn func(Tx) error) error {
	return n.store.Update(ctx, fn)
}

// opContext attaches the node's logger and the operation name to ctx
// so failures are reported with consistent fields.
func (n *Node) opContext(ctx context.Context, operation string) context.Context {
	return logging.WithOperation(logging.WithLogger(ctx, n.log), operation)
}

// report logs a failed mutating operation and returns err unchanged.
func (n *Node) report(ctx context.Context, err error) error {
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("node operation failed")
	}
	return err
}

// UniqueID returns the node's identity string.
func (n *Node) UniqueID(ctx context.Context) (string, error) {
	var id string
	err := n.store.View(ctx, func(tx Tx) error {
		var err error
		id, err = UniqueID(tx)
		return err
	})
	return id, err
}

// Columns returns the node's index columns.
func (n *Node) Columns(ctx context.Context) ([]string, error) {
	var columns []string
	err := n.store.View(ctx, func(tx Tx) error {
		var err error
		columns, err = Columns(tx)
		return err
	})
	return columns, err
}

// AddIndexColumns appends label columns to the node.
func (n *Node) AddIndexColumns(ctx context.Context, columns ...string) error {
	ctx = n.opContext(ctx, "add-index-columns")
	return n.report(ctx, n.store.Update(ctx, func(tx Tx) error {
		return AddIndexColumns(tx, columns...)
	}))
}

// RenameIndexColumns renames label columns per the given mapping.
func (n *Node) RenameIndexColumns(ctx context.Context, mapping map[string]string) error {
	ctx = n.opContext(ctx, "rename-index-columns")
	return n.report(ctx, n.store.Update(ctx, func(tx Tx) error {
		return RenameIndexColumns(tx, mapping)
	}))
}

// RemoveIndexColumns deletes label columns, subject to the preserve
// flags in opts.
func (n *Node) RemoveIndexColumns(ctx context.Context, columns []string, opts RemoveColumnsOptions) error {
	ctx = n.opContext(ctx, "remove-index-columns")
	return n.report(ctx, n.store.Update(ctx, func(tx Tx) error {
		return RemoveIndexColumns(tx, columns, opts)
	}))
}

// InsertIndex loads index records from label rows.
func (n *Node) InsertIndex(ctx context.Context, rows [][]string) (*InsertIndexStats, error) {
	ctx = n.opContext(ctx, "insert-index")
	var stats *InsertIndexStats
	err := n.store.Update(ctx, func(tx Tx) error {
		var err error
		stats, err = InsertIndexRecords(tx, rows)
		return err
	})
	return stats, n.report(ctx, err)
}

// SelectIndex returns index records matching the label criteria.
func (n *Node) SelectIndex(ctx context.Context, criteria map[string]string) ([]Index, error) {
	var records []Index
	err := n.store.View(ctx, func(tx Tx) error {
		var err error
		records, err = SelectIndexRecords(tx, criteria)
		return err
	})
	return records, err
}

// UpdateIndex relabels index records, merging on label conflicts when
// mergeOnConflict is set.
func (n *Node) UpdateIndex(ctx context.Context, updates []IndexUpdate, mergeOnConflict bool) (*UpdateIndexStats, error) {
	ctx = n.opContext(ctx, "update-index")
	var stats *UpdateIndexStats
	err := n.store.Update(ctx, func(tx Tx) error {
		var err error
		stats, err = UpdateIndexRecords(tx, updates, mergeOnConflict)
		return err
	})
	return stats, n.report(ctx, err)
}

// DeleteIndexRecord removes one index record and its dependent rows.
func (n *Node) DeleteIndexRecord(ctx context.Context, indexID uint64) error {
	ctx = n.opContext(ctx, "delete-index-record")
	return n.report(ctx, n.store.Update(ctx, func(tx Tx) error {
		return DeleteIndexRecord(tx, indexID)
	}))
}

// MergeIndexRecords merges the given records into the lowest id.
func (n *Node) MergeIndexRecords(ctx context.Context, ids []uint64) error {
	ctx = n.opContext(ctx, "merge-index-records")
	return n.report(ctx, n.store.Update(ctx, func(tx Tx) error {
		return MergeIndexRecords(tx, ids)
	}))
}

// AddDiscreteCategories declares category sets over the index columns
// and rebuilds the structure lattice.
func (n *Node) AddDiscreteCategories(ctx context.Context, cats ...[]string) error {
	ctx = n.opContext(ctx, "add-discrete-categories")
	return n.report(ctx, n.store.Update(ctx, func(tx Tx) error {
		return AddDiscreteCategories(tx, toCategories(cats))
	}))
}

// RemoveDiscreteCategories withdraws category sets and rebuilds the
// structure lattice.
func (n *Node) RemoveDiscreteCategories(ctx context.Context, cats ...[]string) error {
	ctx = n.opContext(ctx, "remove-discrete-categories")
	return n.report(ctx, n.store.Update(ctx, func(tx Tx) error {
		return RemoveDiscreteCategories(tx, toCategories(cats))
	}))
}

// AddWeightGroup creates a weight group.
func (n *Node) AddWeightGroup(ctx context.Context, name string, opts *WeightGroupOptions) (*WeightGroup, error) {
	ctx = logging.WithWeightGroup(n.opContext(ctx, "add-weight-group"), name)
	var group *WeightGroup
	err := n.store.Update(ctx, func(tx Tx) error {
		var err error
		group, err = AddWeightGroup(tx, name, opts)
		return err
	})
	return group, n.report(ctx, err)
}

// InsertWeights loads weight rows into a group.
func (n *Node) InsertWeights(ctx context.Context, weightGroupID uint64, inputs []WeightInput) (*InsertWeightsStats, error) {
	ctx = n.opContext(ctx, "insert-weights")
	var stats *InsertWeightsStats
	err := n.store.Update(ctx, func(tx Tx) error {
		var err error
		stats, err = InsertWeights(tx, weightGroupID, inputs)
		return err
	})
	return stats, n.report(ctx, err)
}

// ResolveWeights loads weight rows into a group, applying policy on
// rows that target already-weighted records.
func (n *Node) ResolveWeights(
	ctx context.Context,
	weightGroupID uint64,
	inputs []WeightInput,
	policy ConflictPolicy,
) (*ResolveWeightsStats, error) {
	ctx = n.opContext(ctx, "resolve-weights")
	var stats *ResolveWeightsStats
	err := n.store.Update(ctx, func(tx Tx) error {
		var err error
		stats, err = AddOrResolveWeights(tx, weightGroupID, inputs, policy)
		return err
	})
	return stats, n.report(ctx, err)
}

// EditWeightGroup updates a weight group's metadata.
func (n *Node) EditWeightGroup(ctx context.Context, weightGroupID uint64, edit WeightGroupEdit) (*WeightGroup, error) {
	ctx = n.opContext(ctx, "edit-weight-group")
	var group *WeightGroup
	err := n.store.Update(ctx, func(tx Tx) error {
		var err error
		group, err = EditWeightGroup(tx, weightGroupID, edit)
		return err
	})
	return group, n.report(ctx, err)
}

// DeleteWeightGroup removes a weight group and its weights.
func (n *Node) DeleteWeightGroup(ctx context.Context, weightGroupID uint64) error {
	ctx = n.opContext(ctx, "delete-weight-group")
	return n.report(ctx, n.store.Update(ctx, func(tx Tx) error {
		return DeleteWeightGroup(tx, weightGroupID)
	}))
}

// InsertQuantities loads located quantity rows.
func (n *Node) InsertQuantities(ctx context.Context, inputs []QuantityInput) (*InsertQuantitiesStats, error) {
	ctx = n.opContext(ctx, "insert-quantities")
	var stats *InsertQuantitiesStats
	err := n.store.Update(ctx, func(tx Tx) error {
		var err error
		stats, err = InsertQuantities(tx, inputs)
		return err
	})
	return stats, n.report(ctx, err)
}

// AddIncomingEdge creates a crosswalk from another node.
func (n *Node) AddIncomingEdge(
	ctx context.Context,
	otherUniqueID, name string,
	relations []RelationInput,
	opts *CrosswalkOptions,
) (*Crosswalk, error) {
	ctx = logging.WithCrosswalk(n.opContext(ctx, "add-incoming-edge"), name)
	var crosswalk *Crosswalk
	err := n.store.Update(ctx, func(tx Tx) error {
		var err error
		crosswalk, err = AddIncomingEdge(tx, otherUniqueID, name, relations, opts)
		return err
	})
	return crosswalk, n.report(ctx, err)
}

// EditCrosswalk updates a crosswalk's metadata.
func (n *Node) EditCrosswalk(ctx context.Context, crosswalkID uint64, edit CrosswalkEdit) (*Crosswalk, error) {
	ctx = n.opContext(ctx, "edit-crosswalk")
	var crosswalk *Crosswalk
	err := n.store.Update(ctx, func(tx Tx) error {
		var err error
		crosswalk, err = EditCrosswalk(tx, crosswalkID, edit)
		return err
	})
	return crosswalk, n.report(ctx, err)
}

// DeleteCrosswalk removes a crosswalk and its relations.
func (n *Node) DeleteCrosswalk(ctx context.Context, crosswalkID uint64) error {
	ctx = n.opContext(ctx, "delete-crosswalk")
	return n.report(ctx, n.store.Update(ctx, func(tx Tx) error {
		return DeleteCrosswalk(tx, crosswalkID)
	}))
}

// CrosswalkStatistics reports a crosswalk's mapping coverage.
func (n *Node) CrosswalkStatistics(ctx context.Context, crosswalkID uint64) (*CrosswalkStats, error) {
	var stats *CrosswalkStats
	err := n.store.View(ctx, func(tx Tx) error {
		var err error
		stats, err = CrosswalkStatistics(tx, crosswalkID)
		return err
	})
	return stats, err
}

// Export collects the node's full state into a portable document.
func (n *Node) Export(ctx context.Context) (*ExportDocument, error) {
	var doc *ExportDocument
	err := n.store.View(ctx, func(tx Tx) error {
		var err error
		doc, err = ExportNode(tx)
		return err
	})
	return doc, err
}

// Import loads a document into this node. The node must be empty.
func (n *Node) Import(ctx context.Context, doc *ExportDocument) error {
	ctx = n.opContext(ctx, "import")
	return n.report(ctx, n.store.Update(ctx, func(tx Tx) error {
		return ImportNode(tx, doc)
	}))
}

// ReifyRelations upgrades a crosswalk's ambiguous relations covered
// by criteria to fully-specified.
func (n *Node) ReifyRelations(ctx context.Context, crosswalkID uint64, criteria *bitflags.BitFlags) (*ReifyStats, error) {
	ctx = n.opContext(ctx, "reify-relations")
	var stats *ReifyStats
	err := n.store.Update(ctx, func(tx Tx) error {
		var err error
		stats, err = ReifyRelations(tx, crosswalkID, criteria)
		return err
	})
	return stats, n.report(ctx, err)
}

// Domain returns the node-wide attribute pairs.
func (n *Node) Domain(ctx context.Context) (map[string]string, error) {
	var domain map[string]string
	err := n.store.View(ctx, func(tx Tx) error {
		var err error
		domain, err = Domain(tx)
		return err
	})
	return domain, err
}

// SetDomain stores the node-wide attribute pairs.
func (n *Node) SetDomain(ctx context.Context, domain map[string]string) error {
	ctx = n.opContext(ctx, "set-domain")
	return n.report(ctx, n.store.Update(ctx, func(tx Tx) error {
		return SetDomain(tx, domain)
	}))
}

// WeightGroupInfo summarizes one weight group for Info.
type WeightGroupInfo struct {
	Name       string `json:"name" yaml:"name"`
	IsComplete bool   `json:"is_complete" yaml:"is_complete"`
	IsDefault  bool   `json:"is_default" yaml:"is_default"`
}

// CrosswalkInfo summarizes one crosswalk for Info.
type CrosswalkInfo struct {
	Name              string `json:"name" yaml:"name"`
	OtherUniqueID     string `json:"other_unique_id" yaml:"other_unique_id"`
	IsDefault         bool   `json:"is_default" yaml:"is_default"`
	IsLocallyComplete bool   `json:"is_locally_complete" yaml:"is_locally_complete"`
}

// Info is a point-in-time summary of a node's state.
type Info struct {
	UniqueID       string            `json:"unique_id" yaml:"unique_id"`
	IndexColumns   []string          `json:"index_columns" yaml:"index_columns"`
	IndexCount     int               `json:"index_count" yaml:"index_count"`
	IndexHash      string            `json:"index_hash,omitempty" yaml:"index_hash,omitempty"`
	Domain         map[string]string `json:"domain,omitempty" yaml:"domain,omitempty"`
	Categories     [][]string        `json:"discrete_categories" yaml:"discrete_categories"`
	StructureDepth int               `json:"structure_depth" yaml:"structure_depth"`
	WeightGroups   []WeightGroupInfo `json:"weight_groups" yaml:"weight_groups"`
	Crosswalks     []CrosswalkInfo   `json:"crosswalks" yaml:"crosswalks"`
	QuantityCount  int               `json:"quantity_count" yaml:"quantity_count"`
}

// Info collects a summary of the node's current state.
func (n *Node) Info(ctx context.Context) (*Info, error) {
	info := &Info{}
	err := n.store.View(ctx, func(tx Tx) error {
		var err error
		if info.UniqueID, err = UniqueID(tx); err != nil {
			return err
		}
		if info.IndexColumns, err = Columns(tx); err != nil {
			return err
		}
		if info.IndexCount, err = tx.Indexes().Cardinality(false); err != nil {
			return err
		}
		if info.IndexHash, err = IndexHash(tx); err != nil {
			return err
		}
		if info.Domain, err = Domain(tx); err != nil {
			return err
		}

		cats, err := DiscreteCategories(tx)
		if err != nil {
			return err
		}
		for _, cat := range cats {
			info.Categories = append(info.Categories, cat.Columns())
		}
		levels, err := tx.Structures().All()
		if err != nil {
			return err
		}
		info.StructureDepth = len(levels)

		defaultGroupID, err := DefaultWeightGroupID(tx)
		if err != nil && !errors.IsNotFound(err) {
			return err
		}
		groups, err := tx.WeightGroups().All()
		if err != nil {
			return err
		}
		for _, group := range groups {
			info.WeightGroups = append(info.WeightGroups, WeightGroupInfo{
				Name:       group.Name,
				IsComplete: group.IsComplete,
				IsDefault:  group.ID == defaultGroupID,
			})
		}

		crosswalks, err := tx.Crosswalks().All()
		if err != nil {
			return err
		}
		for _, crosswalk := range crosswalks {
			info.Crosswalks = append(info.Crosswalks, CrosswalkInfo{
				Name:              crosswalk.Name,
				OtherUniqueID:     crosswalk.OtherUniqueID,
				IsDefault:         crosswalk.IsDefault,
				IsLocallyComplete: crosswalk.IsLocallyComplete,
			})
		}

		quantities, err := tx.Quantities().All()
		if err != nil {
			return err
		}
		info.QuantityCount = len(quantities)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}
