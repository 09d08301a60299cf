package node

import "context"

// Store is the persistence collaborator backing a node. Implementations
// must be transactional: a function passed to Update either commits as
// a whole or leaves the store untouched, and readers never observe a
// partially applied mutation.
type Store interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error

	// Update runs fn in a read-write transaction, committing when fn
	// returns nil and rolling back when it returns an error.
	Update(ctx context.Context, fn func(Tx) error) error

	// Close releases the store's resources.
	Close() error
}

// Tx exposes the per-entity repositories of one transaction. All
// repositories obtained from the same Tx observe and apply the same
// uncommitted state.
type Tx interface {
	Indexes() IndexRepository
	Locations() LocationRepository
	Structures() StructureRepository
	WeightGroups() WeightGroupRepository
	Weights() WeightRepository
	AttributeGroups() AttributeGroupRepository
	Quantities() QuantityRepository
	Crosswalks() CrosswalkRepository
	Relations() RelationRepository
	Properties() PropertyRepository
}

// IndexRepository manages index records. Implementations must keep
// label tuples unique and never reuse ids. The undefined record
// (id 0) always exists once any label columns are defined.
type IndexRepository interface {
	// Add creates a record with the given labels and returns it.
	// Returns ErrAlreadyExists when the label tuple is taken.
	Add(labels []string) (*Index, error)

	Get(id uint64) (*Index, error)
	Update(index *Index) error
	Delete(id uint64) error

	// All returns every record, undefined included, ordered by id.
	All() ([]Index, error)

	// AllIDs returns every id in ascending order.
	AllIDs(includeUndefined bool) ([]uint64, error)

	// FindByLabels returns the record whose label tuple matches
	// exactly, or ErrNotFound.
	FindByLabels(labels []string) (*Index, error)

	// FilterByLabels returns records whose labels match every
	// column=value pair in criteria.
	FilterByLabels(criteria map[string]string, includeUndefined bool) ([]Index, error)

	// Cardinality counts index records.
	Cardinality(includeUndefined bool) (int, error)

	// DistinctLabels returns the distinct label tuples over the given
	// columns.
	DistinctLabels(columns []string, includeUndefined bool) ([][]string, error)
}

// LocationRepository manages the partial label tuples that quantities
// attach to. Label tuples are unique; unspecified columns hold "".
type LocationRepository interface {
	Add(labels []string) (*Location, error)
	Get(id uint64) (*Location, error)
	Update(location *Location) error
	Delete(id uint64) error
	All() ([]Location, error)

	// FindByLabels returns the location whose label tuple matches
	// exactly, or ErrNotFound.
	FindByLabels(labels []string) (*Location, error)
}

// StructureRepository manages the node's structure levels.
type StructureRepository interface {
	Add(level *StructureLevel) error
	Update(level *StructureLevel) error

	// All returns every level in insertion order.
	All() ([]StructureLevel, error)

	// DeleteAll clears the structure ahead of a rebuild.
	DeleteAll() error
}

// WeightGroupRepository manages named weight groups.
type WeightGroupRepository interface {
	Add(group *WeightGroup) error
	Get(id uint64) (*WeightGroup, error)

	// GetByName returns the group with the given name, or ErrNotFound.
	GetByName(name string) (*WeightGroup, error)

	Update(group *WeightGroup) error
	Delete(id uint64) error
	All() ([]WeightGroup, error)
}

// WeightRepository manages the weights of all weight groups.
type WeightRepository interface {
	Add(weight *Weight) error
	Get(id uint64) (*Weight, error)
	Update(weight *Weight) error
	Delete(id uint64) error

	// FindByGroupAndIndex returns the weight tying a group to an index
	// record, or ErrNotFound.
	FindByGroupAndIndex(weightGroupID, indexID uint64) (*Weight, error)

	// FindByGroup returns every weight in a group.
	FindByGroup(weightGroupID uint64) ([]Weight, error)

	// FindByIndex returns every weight referencing an index record.
	FindByIndex(indexID uint64) ([]Weight, error)
}

// AttributeGroupRepository manages deduplicated attribute dictionaries.
type AttributeGroupRepository interface {
	// Add creates a group for the given attributes. Returns
	// ErrAlreadyExists when an equal dictionary is already stored.
	Add(attributes map[string]string) (*AttributeGroup, error)

	Get(id uint64) (*AttributeGroup, error)
	Delete(id uint64) error
	All() ([]AttributeGroup, error)

	// FindByAttributes returns the group holding an equal attribute
	// dictionary, or ErrNotFound.
	FindByAttributes(attributes map[string]string) (*AttributeGroup, error)

	// AllAttributeNames returns the distinct attribute keys in use.
	AllAttributeNames() ([]string, error)
}

// QuantityRepository manages located quantity values.
type QuantityRepository interface {
	Add(quantity *Quantity) error
	Get(id uint64) (*Quantity, error)
	Update(quantity *Quantity) error
	Delete(id uint64) error
	All() ([]Quantity, error)

	// FindByLocation returns every quantity at a location.
	FindByLocation(locationID uint64) ([]Quantity, error)
}

// CrosswalkRepository manages crosswalk metadata. Relation rows are
// managed separately by RelationRepository.
type CrosswalkRepository interface {
	Add(crosswalk *Crosswalk) error
	Get(id uint64) (*Crosswalk, error)
	Update(crosswalk *Crosswalk) error
	Delete(id uint64) error
	All() ([]Crosswalk, error)

	// FindByOtherUniqueID returns every crosswalk coming from the
	// given node.
	FindByOtherUniqueID(otherUniqueID string) ([]Crosswalk, error)
}

// RelationRepository manages the relation rows owned by crosswalks.
type RelationRepository interface {
	Add(relation *Relation) error
	Get(id uint64) (*Relation, error)
	Update(relation *Relation) error
	Delete(id uint64) error

	// FindByCrosswalk returns every relation of a crosswalk.
	FindByCrosswalk(crosswalkID uint64) ([]Relation, error)

	// FindByCrosswalkAndOtherIndex returns the relations of a
	// crosswalk sharing one other_index_id.
	FindByCrosswalkAndOtherIndex(crosswalkID, otherIndexID uint64) ([]Relation, error)

	// DistinctOtherIndexIDs returns the distinct other_index_id values
	// of a crosswalk in ascending order.
	DistinctOtherIndexIDs(crosswalkID uint64, includeUndefined bool) ([]uint64, error)

	// DeleteByCrosswalk removes every relation of a crosswalk.
	DeleteByCrosswalk(crosswalkID uint64) error
}

// PropertyRepository stores node-level key/value properties such as
// the label column list, discrete categories, domain, and the index
// hash. Values are serialized by the caller.
type PropertyRepository interface {
	// Get returns the stored value, or ErrNotFound.
	Get(key string) ([]byte, error)

	Set(key string, value []byte) error
	Delete(key string) error
}
