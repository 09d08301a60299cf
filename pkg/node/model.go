package node

import (
	"github.com/shawnbrown/toron/pkg/bitflags"
)

// UndefinedID is the reserved index id 0. Every node carries one
// undefined record whose labels are all "-"; it absorbs unmapped
// values so totals are conserved. The id is never reused.
const UndefinedID uint64 = 0

// UndefinedLabel is the label value of the undefined record.
const UndefinedLabel = "-"

// Index is one record of a node's index: an immutable id plus one
// label value per label column.
type Index struct {
	ID     uint64
	Labels []string
}

// Location is a partial-or-complete label tuple that quantities attach
// to. Unlike an Index record, a Location may leave columns empty; the
// populated columns determine which structure level the location's
// quantities disaggregate through.
type Location struct {
	ID     uint64
	Labels []string
}

// StructureLevel is one element of a node's structure: a bit mask over
// the label columns naming an aggregation level, plus its granularity.
// Granularity is nil when the level has no columns or the index has no
// defined records.
type StructureLevel struct {
	ID          uint64
	Granularity *float64
	Bits        bitflags.BitFlags
}

// Columns returns the names of the columns in this level, aligned to
// the given column order.
func (s StructureLevel) Columns(columns []string) []string {
	var names []string
	for i, col := range columns {
		if s.Bits.Get(i) {
			names = append(names, col)
		}
	}
	return names
}

// WeightGroup names a set of weights, one per index record. Selectors
// choose the group for an attribute dictionary during disaggregation.
// IsComplete is true iff every defined index record has a weight.
type WeightGroup struct {
	ID          uint64
	Name        string
	Description string
	Selectors   []string
	IsComplete  bool
}

// Weight is one numeric weight tying a weight group to an index record.
type Weight struct {
	ID            uint64
	WeightGroupID uint64
	IndexID       uint64
	Value         float64
}

// AttributeGroup is a deduplicated attribute dictionary shared by
// quantities.
type AttributeGroup struct {
	ID         uint64
	Attributes map[string]string
}

// Quantity is a numeric value tied to a location and an attribute
// group. It is the payload moved by disaggregation and translation.
type Quantity struct {
	ID               uint64
	LocationID       uint64
	AttributeGroupID uint64
	Value            float64
}

// Crosswalk is a named, directed correspondence from another node's
// index space into this node's. Relations belong to exactly one
// crosswalk; deleting a crosswalk cascades to its relations.
type Crosswalk struct {
	ID                uint64
	OtherUniqueID     string
	OtherFilenameHint string
	Name              string
	Description       string
	Selectors         []string
	IsDefault         bool
	UserProperties    map[string]string

	// OtherIndexHash fingerprints the set of other_index_id values
	// covered by this crosswalk's relations. Derived, never hand-set.
	OtherIndexHash string

	// IsLocallyComplete is true once every local index id, including
	// the undefined record, appears in at least one relation.
	IsLocallyComplete bool
}

// Relation maps one external index id to one local index id with a
// numeric value. Proportion is derived by normalizing values per
// external id. A nil MappingLevel (or one covering every column) means
// the mapping was exact; a proper subset records which columns were
// actually specified, the complement being ambiguous.
type Relation struct {
	ID           uint64
	CrosswalkID  uint64
	OtherIndexID uint64
	IndexID      uint64
	Value        float64
	Proportion   *float64
	MappingLevel *bitflags.BitFlags
}

// IsAmbiguous reports whether the relation's mapping level leaves any
// of the given columns unspecified.
func (r Relation) IsAmbiguous(columnCount int) bool {
	if r.MappingLevel == nil {
		return false
	}
	for i := 0; i < columnCount; i++ {
		if !r.MappingLevel.Get(i) {
			return true
		}
	}
	return false
}

// Float64Ptr returns a pointer to v. Convenience for optional fields.
func Float64Ptr(v float64) *float64 {
	return &v
}

// BitFlagsPtr returns a pointer to f. Convenience for optional fields.
func BitFlagsPtr(f bitflags.BitFlags) *bitflags.BitFlags {
	return &f
}
