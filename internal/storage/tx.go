package storage

import (
	"fmt"
	"sort"

	"github.com/shawnbrown/toron/pkg/bitflags"
	"github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/node"
)

// Tx adapts one KV transaction to the node persistence contract.
type Tx struct {
	kv KV
}

// NewTx wraps an open KV transaction.
func NewTx(kv KV) *Tx {
	return &Tx{kv: kv}
}

var _ node.Tx = (*Tx)(nil)

func (t *Tx) Indexes() node.IndexRepository                  { return &indexRepo{t.kv} }
func (t *Tx) Locations() node.LocationRepository             { return &locationRepo{t.kv} }
func (t *Tx) Structures() node.StructureRepository           { return &structureRepo{t.kv} }
func (t *Tx) WeightGroups() node.WeightGroupRepository       { return &weightGroupRepo{t.kv} }
func (t *Tx) Weights() node.WeightRepository                 { return &weightRepo{t.kv} }
func (t *Tx) AttributeGroups() node.AttributeGroupRepository { return &attributeGroupRepo{t.kv} }
func (t *Tx) Quantities() node.QuantityRepository            { return &quantityRepo{t.kv} }
func (t *Tx) Crosswalks() node.CrosswalkRepository           { return &crosswalkRepo{t.kv} }
func (t *Tx) Relations() node.RelationRepository             { return &relationRepo{t.kv} }
func (t *Tx) Properties() node.PropertyRepository            { return &propertyRepo{t.kv} }

func getRecord(kv KV, prefix string, entity string, id uint64, out any) error {
	raw, err := kv.Get(idKey(prefix, id))
	if errors.Is(err, ErrKeyNotFound) {
		return errors.NewNotFoundError(entity, id)
	}
	if err != nil {
		return err
	}
	return decode(raw, out)
}

func putRecord(kv KV, prefix string, id uint64, v any) error {
	raw, err := encode(v)
	if err != nil {
		return err
	}
	return kv.Set(idKey(prefix, id), raw)
}

func putLookup(kv KV, key []byte, id uint64) error {
	raw, err := encode(id)
	if err != nil {
		return err
	}
	return kv.Set(key, raw)
}

func getLookup(kv KV, key []byte) (uint64, bool, error) {
	raw, err := kv.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var id uint64
	if err := decode(raw, &id); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// indexColumns reads the node's label column list straight from the
// property row, for finders whose criteria are keyed by column name.
func indexColumns(kv KV) ([]string, error) {
	raw, err := kv.Get([]byte(prefixProperty + "index_columns"))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var columns []string
	if err := decode(raw, &columns); err != nil {
		return nil, err
	}
	return columns, nil
}

// indexRepo

type indexRepo struct {
	kv KV
}

func (r *indexRepo) Add(labels []string) (*node.Index, error) {
	lookup := []byte(prefixIndexLabel + labelKey(labels))
	if _, taken, err := getLookup(r.kv, lookup); err != nil {
		return nil, err
	} else if taken {
		return nil, fmt.Errorf("index labels %q: %w", labels, errors.ErrAlreadyExists)
	}

	// The first record of a node is the undefined record at id 0.
	id, err := nextSeq(r.kv, "index", 0)
	if err != nil {
		return nil, err
	}
	record := &node.Index{ID: id, Labels: append([]string(nil), labels...)}
	if err := putRecord(r.kv, prefixIndex, id, record); err != nil {
		return nil, err
	}
	if err := putLookup(r.kv, lookup, id); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *indexRepo) Get(id uint64) (*node.Index, error) {
	record := &node.Index{}
	if err := getRecord(r.kv, prefixIndex, "index", id, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *indexRepo) Update(record *node.Index) error {
	old, err := r.Get(record.ID)
	if err != nil {
		return err
	}
	newLookup := []byte(prefixIndexLabel + labelKey(record.Labels))
	if id, taken, err := getLookup(r.kv, newLookup); err != nil {
		return err
	} else if taken && id != record.ID {
		return fmt.Errorf("index labels %q: %w", record.Labels, errors.ErrAlreadyExists)
	}

	if err := r.kv.Delete([]byte(prefixIndexLabel + labelKey(old.Labels))); err != nil {
		return err
	}
	if err := putRecord(r.kv, prefixIndex, record.ID, record); err != nil {
		return err
	}
	return putLookup(r.kv, newLookup, record.ID)
}

func (r *indexRepo) Delete(id uint64) error {
	record, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := r.kv.Delete([]byte(prefixIndexLabel + labelKey(record.Labels))); err != nil {
		return err
	}
	return r.kv.Delete(idKey(prefixIndex, id))
}

func (r *indexRepo) All() ([]node.Index, error) {
	var records []node.Index
	err := r.kv.Scan([]byte(prefixIndex), func(_, value []byte) error {
		var record node.Index
		if err := decode(value, &record); err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	return records, err
}

func (r *indexRepo) AllIDs(includeUndefined bool) ([]uint64, error) {
	records, err := r.All()
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, record := range records {
		if !includeUndefined && record.ID == node.UndefinedID {
			continue
		}
		ids = append(ids, record.ID)
	}
	return ids, nil
}

func (r *indexRepo) FindByLabels(labels []string) (*node.Index, error) {
	id, found, err := getLookup(r.kv, []byte(prefixIndexLabel+labelKey(labels)))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("index labels %q: %w", labels, errors.ErrNotFound)
	}
	return r.Get(id)
}

func (r *indexRepo) FilterByLabels(criteria map[string]string, includeUndefined bool) ([]node.Index, error) {
	positions, err := criteriaPositions(r.kv, criteria)
	if err != nil {
		return nil, err
	}
	records, err := r.All()
	if err != nil {
		return nil, err
	}
	var matched []node.Index
	for _, record := range records {
		if !includeUndefined && record.ID == node.UndefinedID {
			continue
		}
		if labelsMatch(record.Labels, positions) {
			matched = append(matched, record)
		}
	}
	return matched, nil
}

func (r *indexRepo) Cardinality(includeUndefined bool) (int, error) {
	ids, err := r.AllIDs(includeUndefined)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (r *indexRepo) DistinctLabels(columns []string, includeUndefined bool) ([][]string, error) {
	allColumns, err := indexColumns(r.kv)
	if err != nil {
		return nil, err
	}
	positions := make([]int, 0, len(columns))
	for _, col := range columns {
		pos := indexOf(allColumns, col)
		if pos < 0 {
			return nil, errors.NewValidationError("columns", col, "no such index column")
		}
		positions = append(positions, pos)
	}

	records, err := r.All()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var distinct [][]string
	for _, record := range records {
		if !includeUndefined && record.ID == node.UndefinedID {
			continue
		}
		tuple := make([]string, len(positions))
		for i, pos := range positions {
			tuple[i] = record.Labels[pos]
		}
		key := labelKey(tuple)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		distinct = append(distinct, tuple)
	}
	return distinct, nil
}

// criteriaPositions resolves column-name criteria to positional
// (index, value) requirements.
func criteriaPositions(kv KV, criteria map[string]string) (map[int]string, error) {
	columns, err := indexColumns(kv)
	if err != nil {
		return nil, err
	}
	positions := make(map[int]string, len(criteria))
	for col, value := range criteria {
		pos := indexOf(columns, col)
		if pos < 0 {
			return nil, errors.NewValidationError("criteria", col, "no such index column")
		}
		positions[pos] = value
	}
	return positions, nil
}

func labelsMatch(labels []string, positions map[int]string) bool {
	for pos, want := range positions {
		if pos >= len(labels) || labels[pos] != want {
			return false
		}
	}
	return true
}

func indexOf(list []string, s string) int {
	for i, item := range list {
		if item == s {
			return i
		}
	}
	return -1
}

// locationRepo

type locationRepo struct {
	kv KV
}

func (r *locationRepo) Add(labels []string) (*node.Location, error) {
	lookup := []byte(prefixLocationLabel + labelKey(labels))
	if _, taken, err := getLookup(r.kv, lookup); err != nil {
		return nil, err
	} else if taken {
		return nil, fmt.Errorf("location labels %q: %w", labels, errors.ErrAlreadyExists)
	}

	id, err := nextSeq(r.kv, "location", 1)
	if err != nil {
		return nil, err
	}
	location := &node.Location{ID: id, Labels: append([]string(nil), labels...)}
	if err := putRecord(r.kv, prefixLocation, id, location); err != nil {
		return nil, err
	}
	if err := putLookup(r.kv, lookup, id); err != nil {
		return nil, err
	}
	return location, nil
}

func (r *locationRepo) Get(id uint64) (*node.Location, error) {
	location := &node.Location{}
	if err := getRecord(r.kv, prefixLocation, "location", id, location); err != nil {
		return nil, err
	}
	return location, nil
}

func (r *locationRepo) Update(location *node.Location) error {
	old, err := r.Get(location.ID)
	if err != nil {
		return err
	}
	newLookup := []byte(prefixLocationLabel + labelKey(location.Labels))
	if id, taken, err := getLookup(r.kv, newLookup); err != nil {
		return err
	} else if taken && id != location.ID {
		return fmt.Errorf("location labels %q: %w", location.Labels, errors.ErrAlreadyExists)
	}

	if err := r.kv.Delete([]byte(prefixLocationLabel + labelKey(old.Labels))); err != nil {
		return err
	}
	if err := putRecord(r.kv, prefixLocation, location.ID, location); err != nil {
		return err
	}
	return putLookup(r.kv, newLookup, location.ID)
}

func (r *locationRepo) Delete(id uint64) error {
	location, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := r.kv.Delete([]byte(prefixLocationLabel + labelKey(location.Labels))); err != nil {
		return err
	}
	return r.kv.Delete(idKey(prefixLocation, id))
}

func (r *locationRepo) All() ([]node.Location, error) {
	var locations []node.Location
	err := r.kv.Scan([]byte(prefixLocation), func(_, value []byte) error {
		var location node.Location
		if err := decode(value, &location); err != nil {
			return err
		}
		locations = append(locations, location)
		return nil
	})
	return locations, err
}

func (r *locationRepo) FindByLabels(labels []string) (*node.Location, error) {
	id, found, err := getLookup(r.kv, []byte(prefixLocationLabel+labelKey(labels)))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("location labels %q: %w", labels, errors.ErrNotFound)
	}
	return r.Get(id)
}

// structureRepo

// structureRecord is the stored form of a structure level. Bits are
// kept as raw bytes so the encoding never depends on struct internals.
type structureRecord struct {
	ID          uint64
	Granularity *float64
	Bits        []byte
}

type structureRepo struct {
	kv KV
}

func (r *structureRepo) Add(level *node.StructureLevel) error {
	id, err := nextSeq(r.kv, "structure", 1)
	if err != nil {
		return err
	}
	level.ID = id
	return putRecord(r.kv, prefixStructure, id, structureRecord{
		ID:          id,
		Granularity: level.Granularity,
		Bits:        level.Bits.Bytes(),
	})
}

func (r *structureRepo) Update(level *node.StructureLevel) error {
	var existing structureRecord
	if err := getRecord(r.kv, prefixStructure, "structure level", level.ID, &existing); err != nil {
		return err
	}
	return putRecord(r.kv, prefixStructure, level.ID, structureRecord{
		ID:          level.ID,
		Granularity: level.Granularity,
		Bits:        level.Bits.Bytes(),
	})
}

func (r *structureRepo) All() ([]node.StructureLevel, error) {
	var levels []node.StructureLevel
	err := r.kv.Scan([]byte(prefixStructure), func(_, value []byte) error {
		var record structureRecord
		if err := decode(value, &record); err != nil {
			return err
		}
		levels = append(levels, node.StructureLevel{
			ID:          record.ID,
			Granularity: record.Granularity,
			Bits:        bitflags.FromBytes(record.Bits),
		})
		return nil
	})
	return levels, err
}

func (r *structureRepo) DeleteAll() error {
	var keys [][]byte
	err := r.kv.Scan([]byte(prefixStructure), func(key, _ []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := r.kv.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// weightGroupRepo

type weightGroupRepo struct {
	kv KV
}

func (r *weightGroupRepo) Add(group *node.WeightGroup) error {
	lookup := []byte(prefixWeightGroupName + group.Name)
	if _, taken, err := getLookup(r.kv, lookup); err != nil {
		return err
	} else if taken {
		return fmt.Errorf("weight group %q: %w", group.Name, errors.ErrAlreadyExists)
	}

	id, err := nextSeq(r.kv, "weight_group", 1)
	if err != nil {
		return err
	}
	group.ID = id
	if err := putRecord(r.kv, prefixWeightGroup, id, group); err != nil {
		return err
	}
	return putLookup(r.kv, lookup, id)
}

func (r *weightGroupRepo) Get(id uint64) (*node.WeightGroup, error) {
	group := &node.WeightGroup{}
	if err := getRecord(r.kv, prefixWeightGroup, "weight group", id, group); err != nil {
		return nil, err
	}
	return group, nil
}

func (r *weightGroupRepo) GetByName(name string) (*node.WeightGroup, error) {
	id, found, err := getLookup(r.kv, []byte(prefixWeightGroupName+name))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("weight group %q: %w", name, errors.ErrNotFound)
	}
	return r.Get(id)
}

func (r *weightGroupRepo) Update(group *node.WeightGroup) error {
	old, err := r.Get(group.ID)
	if err != nil {
		return err
	}
	if old.Name != group.Name {
		if _, taken, err := getLookup(r.kv, []byte(prefixWeightGroupName+group.Name)); err != nil {
			return err
		} else if taken {
			return fmt.Errorf("weight group %q: %w", group.Name, errors.ErrAlreadyExists)
		}
		if err := r.kv.Delete([]byte(prefixWeightGroupName + old.Name)); err != nil {
			return err
		}
		if err := putLookup(r.kv, []byte(prefixWeightGroupName+group.Name), group.ID); err != nil {
			return err
		}
	}
	return putRecord(r.kv, prefixWeightGroup, group.ID, group)
}

func (r *weightGroupRepo) Delete(id uint64) error {
	group, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := r.kv.Delete([]byte(prefixWeightGroupName + group.Name)); err != nil {
		return err
	}
	return r.kv.Delete(idKey(prefixWeightGroup, id))
}

func (r *weightGroupRepo) All() ([]node.WeightGroup, error) {
	var groups []node.WeightGroup
	err := r.kv.Scan([]byte(prefixWeightGroup), func(_, value []byte) error {
		var group node.WeightGroup
		if err := decode(value, &group); err != nil {
			return err
		}
		groups = append(groups, group)
		return nil
	})
	return groups, err
}

// weightRepo

type weightRepo struct {
	kv KV
}

func (r *weightRepo) Add(weight *node.Weight) error {
	lookup := refKey(prefixWeightGroupIndex, weight.WeightGroupID, weight.IndexID)
	if _, taken, err := getLookup(r.kv, lookup); err != nil {
		return err
	} else if taken {
		return fmt.Errorf("weight for group %d index %d: %w",
			weight.WeightGroupID, weight.IndexID, errors.ErrAlreadyExists)
	}

	id, err := nextSeq(r.kv, "weight", 1)
	if err != nil {
		return err
	}
	weight.ID = id
	if err := putRecord(r.kv, prefixWeight, id, weight); err != nil {
		return err
	}
	return putLookup(r.kv, lookup, id)
}

func (r *weightRepo) Get(id uint64) (*node.Weight, error) {
	weight := &node.Weight{}
	if err := getRecord(r.kv, prefixWeight, "weight", id, weight); err != nil {
		return nil, err
	}
	return weight, nil
}

func (r *weightRepo) Update(weight *node.Weight) error {
	old, err := r.Get(weight.ID)
	if err != nil {
		return err
	}
	if old.WeightGroupID != weight.WeightGroupID || old.IndexID != weight.IndexID {
		if err := r.kv.Delete(refKey(prefixWeightGroupIndex, old.WeightGroupID, old.IndexID)); err != nil {
			return err
		}
		lookup := refKey(prefixWeightGroupIndex, weight.WeightGroupID, weight.IndexID)
		if err := putLookup(r.kv, lookup, weight.ID); err != nil {
			return err
		}
	}
	return putRecord(r.kv, prefixWeight, weight.ID, weight)
}

func (r *weightRepo) Delete(id uint64) error {
	weight, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := r.kv.Delete(refKey(prefixWeightGroupIndex, weight.WeightGroupID, weight.IndexID)); err != nil {
		return err
	}
	return r.kv.Delete(idKey(prefixWeight, id))
}

func (r *weightRepo) FindByGroupAndIndex(weightGroupID, indexID uint64) (*node.Weight, error) {
	id, found, err := getLookup(r.kv, refKey(prefixWeightGroupIndex, weightGroupID, indexID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("weight for group %d index %d: %w",
			weightGroupID, indexID, errors.ErrNotFound)
	}
	return r.Get(id)
}

func (r *weightRepo) FindByGroup(weightGroupID uint64) ([]node.Weight, error) {
	var weights []node.Weight
	prefix := refKey(prefixWeightGroupIndex, weightGroupID)
	err := r.kv.Scan(append(prefix, '/'), func(_, value []byte) error {
		var id uint64
		if err := decode(value, &id); err != nil {
			return err
		}
		weight, err := r.Get(id)
		if err != nil {
			return err
		}
		weights = append(weights, *weight)
		return nil
	})
	return weights, err
}

func (r *weightRepo) FindByIndex(indexID uint64) ([]node.Weight, error) {
	var weights []node.Weight
	err := r.kv.Scan([]byte(prefixWeight), func(_, value []byte) error {
		var weight node.Weight
		if err := decode(value, &weight); err != nil {
			return err
		}
		if weight.IndexID == indexID {
			weights = append(weights, weight)
		}
		return nil
	})
	return weights, err
}

// attributeGroupRepo

type attributeGroupRepo struct {
	kv KV
}

func (r *attributeGroupRepo) Add(attributes map[string]string) (*node.AttributeGroup, error) {
	lookup := []byte(prefixAttributeGroupKey + attributesKey(attributes))
	if _, taken, err := getLookup(r.kv, lookup); err != nil {
		return nil, err
	} else if taken {
		return nil, fmt.Errorf("attribute group: %w", errors.ErrAlreadyExists)
	}

	id, err := nextSeq(r.kv, "attribute_group", 1)
	if err != nil {
		return nil, err
	}
	copied := make(map[string]string, len(attributes))
	for key, value := range attributes {
		if value != "" {
			copied[key] = value
		}
	}
	group := &node.AttributeGroup{ID: id, Attributes: copied}
	if err := putRecord(r.kv, prefixAttributeGroup, id, group); err != nil {
		return nil, err
	}
	if err := putLookup(r.kv, lookup, id); err != nil {
		return nil, err
	}
	return group, nil
}

func (r *attributeGroupRepo) Get(id uint64) (*node.AttributeGroup, error) {
	group := &node.AttributeGroup{}
	if err := getRecord(r.kv, prefixAttributeGroup, "attribute group", id, group); err != nil {
		return nil, err
	}
	return group, nil
}

func (r *attributeGroupRepo) Delete(id uint64) error {
	group, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := r.kv.Delete([]byte(prefixAttributeGroupKey + attributesKey(group.Attributes))); err != nil {
		return err
	}
	return r.kv.Delete(idKey(prefixAttributeGroup, id))
}

func (r *attributeGroupRepo) All() ([]node.AttributeGroup, error) {
	var groups []node.AttributeGroup
	err := r.kv.Scan([]byte(prefixAttributeGroup), func(_, value []byte) error {
		var group node.AttributeGroup
		if err := decode(value, &group); err != nil {
			return err
		}
		groups = append(groups, group)
		return nil
	})
	return groups, err
}

func (r *attributeGroupRepo) FindByAttributes(attributes map[string]string) (*node.AttributeGroup, error) {
	id, found, err := getLookup(r.kv, []byte(prefixAttributeGroupKey+attributesKey(attributes)))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("attribute group: %w", errors.ErrNotFound)
	}
	return r.Get(id)
}

func (r *attributeGroupRepo) AllAttributeNames() ([]string, error) {
	groups, err := r.All()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var names []string
	for _, group := range groups {
		for name := range group.Attributes {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// quantityRepo

type quantityRepo struct {
	kv KV
}

func (r *quantityRepo) Add(quantity *node.Quantity) error {
	id, err := nextSeq(r.kv, "quantity", 1)
	if err != nil {
		return err
	}
	quantity.ID = id
	if err := putRecord(r.kv, prefixQuantity, id, quantity); err != nil {
		return err
	}
	return putLookup(r.kv, refKey(prefixQuantityLocation, quantity.LocationID, id), id)
}

func (r *quantityRepo) Get(id uint64) (*node.Quantity, error) {
	quantity := &node.Quantity{}
	if err := getRecord(r.kv, prefixQuantity, "quantity", id, quantity); err != nil {
		return nil, err
	}
	return quantity, nil
}

func (r *quantityRepo) Update(quantity *node.Quantity) error {
	old, err := r.Get(quantity.ID)
	if err != nil {
		return err
	}
	if old.LocationID != quantity.LocationID {
		if err := r.kv.Delete(refKey(prefixQuantityLocation, old.LocationID, old.ID)); err != nil {
			return err
		}
		if err := putLookup(r.kv, refKey(prefixQuantityLocation, quantity.LocationID, quantity.ID), quantity.ID); err != nil {
			return err
		}
	}
	return putRecord(r.kv, prefixQuantity, quantity.ID, quantity)
}

func (r *quantityRepo) Delete(id uint64) error {
	quantity, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := r.kv.Delete(refKey(prefixQuantityLocation, quantity.LocationID, id)); err != nil {
		return err
	}
	return r.kv.Delete(idKey(prefixQuantity, id))
}

func (r *quantityRepo) All() ([]node.Quantity, error) {
	var quantities []node.Quantity
	err := r.kv.Scan([]byte(prefixQuantity), func(_, value []byte) error {
		var quantity node.Quantity
		if err := decode(value, &quantity); err != nil {
			return err
		}
		quantities = append(quantities, quantity)
		return nil
	})
	return quantities, err
}

func (r *quantityRepo) FindByLocation(locationID uint64) ([]node.Quantity, error) {
	var quantities []node.Quantity
	prefix := refKey(prefixQuantityLocation, locationID)
	err := r.kv.Scan(append(prefix, '/'), func(_, value []byte) error {
		var id uint64
		if err := decode(value, &id); err != nil {
			return err
		}
		quantity, err := r.Get(id)
		if err != nil {
			return err
		}
		quantities = append(quantities, *quantity)
		return nil
	})
	return quantities, err
}

// crosswalkRepo

type crosswalkRepo struct {
	kv KV
}

func (r *crosswalkRepo) Add(crosswalk *node.Crosswalk) error {
	id, err := nextSeq(r.kv, "crosswalk", 1)
	if err != nil {
		return err
	}
	crosswalk.ID = id
	return putRecord(r.kv, prefixCrosswalk, id, crosswalk)
}

func (r *crosswalkRepo) Get(id uint64) (*node.Crosswalk, error) {
	crosswalk := &node.Crosswalk{}
	if err := getRecord(r.kv, prefixCrosswalk, "crosswalk", id, crosswalk); err != nil {
		return nil, err
	}
	return crosswalk, nil
}

func (r *crosswalkRepo) Update(crosswalk *node.Crosswalk) error {
	if _, err := r.Get(crosswalk.ID); err != nil {
		return err
	}
	return putRecord(r.kv, prefixCrosswalk, crosswalk.ID, crosswalk)
}

func (r *crosswalkRepo) Delete(id uint64) error {
	if _, err := r.Get(id); err != nil {
		return err
	}
	return r.kv.Delete(idKey(prefixCrosswalk, id))
}

func (r *crosswalkRepo) All() ([]node.Crosswalk, error) {
	var crosswalks []node.Crosswalk
	err := r.kv.Scan([]byte(prefixCrosswalk), func(_, value []byte) error {
		var crosswalk node.Crosswalk
		if err := decode(value, &crosswalk); err != nil {
			return err
		}
		crosswalks = append(crosswalks, crosswalk)
		return nil
	})
	return crosswalks, err
}

func (r *crosswalkRepo) FindByOtherUniqueID(otherUniqueID string) ([]node.Crosswalk, error) {
	all, err := r.All()
	if err != nil {
		return nil, err
	}
	var matched []node.Crosswalk
	for _, crosswalk := range all {
		if crosswalk.OtherUniqueID == otherUniqueID {
			matched = append(matched, crosswalk)
		}
	}
	return matched, nil
}

// relationRepo

// relationRecord is the stored form of a relation. MappingLevel is
// raw bytes; nil means the mapping was exact.
type relationRecord struct {
	ID           uint64
	CrosswalkID  uint64
	OtherIndexID uint64
	IndexID      uint64
	Value        float64
	Proportion   *float64
	MappingLevel []byte
}

func toRelationRecord(relation *node.Relation) relationRecord {
	record := relationRecord{
		ID:           relation.ID,
		CrosswalkID:  relation.CrosswalkID,
		OtherIndexID: relation.OtherIndexID,
		IndexID:      relation.IndexID,
		Value:        relation.Value,
		Proportion:   relation.Proportion,
	}
	if relation.MappingLevel != nil {
		record.MappingLevel = relation.MappingLevel.Bytes()
	}
	return record
}

func (rec relationRecord) toRelation() node.Relation {
	relation := node.Relation{
		ID:           rec.ID,
		CrosswalkID:  rec.CrosswalkID,
		OtherIndexID: rec.OtherIndexID,
		IndexID:      rec.IndexID,
		Value:        rec.Value,
		Proportion:   rec.Proportion,
	}
	// A nil level decodes from YAML as an empty non-nil slice; both
	// mean the mapping was exact.
	if len(rec.MappingLevel) > 0 {
		relation.MappingLevel = node.BitFlagsPtr(bitflags.FromBytes(rec.MappingLevel))
	}
	return relation
}

type relationRepo struct {
	kv KV
}

func (r *relationRepo) Add(relation *node.Relation) error {
	id, err := nextSeq(r.kv, "relation", 1)
	if err != nil {
		return err
	}
	relation.ID = id
	if err := putRecord(r.kv, prefixRelation, id, toRelationRecord(relation)); err != nil {
		return err
	}
	lookup := refKey(prefixRelationRef, relation.CrosswalkID, relation.OtherIndexID, id)
	return putLookup(r.kv, lookup, id)
}

func (r *relationRepo) Get(id uint64) (*node.Relation, error) {
	var record relationRecord
	if err := getRecord(r.kv, prefixRelation, "relation", id, &record); err != nil {
		return nil, err
	}
	relation := record.toRelation()
	return &relation, nil
}

func (r *relationRepo) Update(relation *node.Relation) error {
	old, err := r.Get(relation.ID)
	if err != nil {
		return err
	}
	if old.CrosswalkID != relation.CrosswalkID || old.OtherIndexID != relation.OtherIndexID {
		if err := r.kv.Delete(refKey(prefixRelationRef, old.CrosswalkID, old.OtherIndexID, old.ID)); err != nil {
			return err
		}
		lookup := refKey(prefixRelationRef, relation.CrosswalkID, relation.OtherIndexID, relation.ID)
		if err := putLookup(r.kv, lookup, relation.ID); err != nil {
			return err
		}
	}
	return putRecord(r.kv, prefixRelation, relation.ID, toRelationRecord(relation))
}

func (r *relationRepo) Delete(id uint64) error {
	relation, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := r.kv.Delete(refKey(prefixRelationRef, relation.CrosswalkID, relation.OtherIndexID, id)); err != nil {
		return err
	}
	return r.kv.Delete(idKey(prefixRelation, id))
}

func (r *relationRepo) FindByCrosswalk(crosswalkID uint64) ([]node.Relation, error) {
	return r.scanRefs(refKey(prefixRelationRef, crosswalkID))
}

func (r *relationRepo) FindByCrosswalkAndOtherIndex(crosswalkID, otherIndexID uint64) ([]node.Relation, error) {
	return r.scanRefs(refKey(prefixRelationRef, crosswalkID, otherIndexID))
}

func (r *relationRepo) scanRefs(prefix []byte) ([]node.Relation, error) {
	var relations []node.Relation
	err := r.kv.Scan(append(prefix, '/'), func(_, value []byte) error {
		var id uint64
		if err := decode(value, &id); err != nil {
			return err
		}
		relation, err := r.Get(id)
		if err != nil {
			return err
		}
		relations = append(relations, *relation)
		return nil
	})
	return relations, err
}

func (r *relationRepo) DistinctOtherIndexIDs(crosswalkID uint64, includeUndefined bool) ([]uint64, error) {
	relations, err := r.FindByCrosswalk(crosswalkID)
	if err != nil {
		return nil, err
	}
	seen := make(map[uint64]struct{})
	var ids []uint64
	for _, relation := range relations {
		if !includeUndefined && relation.OtherIndexID == node.UndefinedID {
			continue
		}
		if _, dup := seen[relation.OtherIndexID]; dup {
			continue
		}
		seen[relation.OtherIndexID] = struct{}{}
		ids = append(ids, relation.OtherIndexID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *relationRepo) DeleteByCrosswalk(crosswalkID uint64) error {
	relations, err := r.FindByCrosswalk(crosswalkID)
	if err != nil {
		return err
	}
	for _, relation := range relations {
		if err := r.Delete(relation.ID); err != nil {
			return err
		}
	}
	return nil
}

// propertyRepo

type propertyRepo struct {
	kv KV
}

func (r *propertyRepo) Get(key string) ([]byte, error) {
	raw, err := r.kv.Get([]byte(prefixProperty + key))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("property %q: %w", key, errors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (r *propertyRepo) Set(key string, value []byte) error {
	return r.kv.Set([]byte(prefixProperty+key), append([]byte(nil), value...))
}

func (r *propertyRepo) Delete(key string) error {
	return r.kv.Delete([]byte(prefixProperty + key))
}
