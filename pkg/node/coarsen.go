package node

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shawnbrown/toron/pkg/bitflags"
	"github.com/shawnbrown/toron/pkg/categories"
	"github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/logging"
)

// RemoveColumnsOptions controls how RemoveIndexColumns treats data
// that a removal would degrade. Each preserve flag turns a lossy
// side effect into an error raised before anything is written.
type RemoveColumnsOptions struct {
	// PreserveStructure refuses removals that leave the remaining
	// columns uncovered by the surviving discrete categories.
	PreserveStructure bool

	// PreserveGranularity refuses removals that collapse previously
	// distinct index records into one.
	PreserveGranularity bool

	// PreserveEdges refuses removals that make any relation's
	// mapping level unrepresentable under the new structure.
	PreserveEdges bool

	// MatchLimit and AllowOverlapping are forwarded to the crosswalk
	// rebuild that runs when ambiguous relations survive the removal.
	MatchLimit       int
	AllowOverlapping bool
}

// MergeIndexRecords merges the given index records into the one with
// the lowest id. Weights and relation values referencing merged ids
// are summed onto the surviving id so totals are conserved. Dependent
// hashes, proportions, granularity and completeness flags are
// recomputed before the transaction commits.
func MergeIndexRecords(tx Tx, ids []uint64) error {
	if len(ids) < 2 {
		return errors.NewValidationError("ids", ids, "need at least two records to merge")
	}

	canonical := ids[0]
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if id == UndefinedID {
			return errors.NewValidationError("ids", id, "the undefined record cannot be merged")
		}
		if _, dup := seen[id]; dup {
			return errors.NewValidationError("ids", id, "duplicate id in merge request")
		}
		seen[id] = struct{}{}
		if _, err := tx.Indexes().Get(id); err != nil {
			return err
		}
		if id < canonical {
			canonical = id
		}
	}

	oldToNew := make(map[uint64]uint64, len(ids)-1)
	for _, id := range ids {
		if id != canonical {
			oldToNew[id] = canonical
		}
	}

	if err := remapDependentRows(tx, oldToNew); err != nil {
		return err
	}
	for old := range oldToNew {
		if err := tx.Indexes().Delete(old); err != nil {
			return err
		}
	}

	logging.Info().
		Int("merged", len(oldToNew)).
		Uint64("into", canonical).
		Msg("merged index records")
	return refreshAfterIndexChange(tx)
}

// RemoveIndexColumns deletes label columns from the node. All checks
// run before any write: a rejected removal leaves the node untouched.
// When the reduction collapses records, dependent rows are merged the
// same way MergeIndexRecords merges them; relations whose mapping
// level cannot be expressed over the remaining columns are deleted and
// their crosswalks rebuilt.
func RemoveIndexColumns(tx Tx, remove []string, opts RemoveColumnsOptions) error {
	if opts.MatchLimit < 1 {
		opts.MatchLimit = 1
	}

	columns, err := Columns(tx)
	if err != nil {
		return err
	}
	removeSet := make(map[string]struct{}, len(remove))
	for _, col := range remove {
		removeSet[col] = struct{}{}
	}
	for col := range removeSet {
		if !containsString(columns, col) {
			return errors.NewValidationError("columns", col, "no such index column")
		}
	}

	var remaining []string
	var keepPositions []int
	for i, col := range columns {
		if _, ok := removeSet[col]; !ok {
			remaining = append(remaining, col)
			keepPositions = append(keepPositions, i)
		}
	}
	if len(remaining) == 0 {
		return errors.NewSchemaInvariantError(strings.Join(remove, ", "),
			"cannot remove all index columns")
	}

	// Structure check: categories untouched by the removal must still
	// cover every remaining column.
	cats, err := DiscreteCategories(tx)
	if err != nil {
		return err
	}
	newCats, covered := reduceCategories(cats, removeSet, remaining)
	if opts.PreserveStructure && !covered {
		return errors.NewSchemaInvariantError(strings.Join(remove, ", "),
			"removal leaves remaining columns uncovered by discrete categories")
	}

	// Granularity check: do any records collapse under the reduction?
	records, err := tx.Indexes().All()
	if err != nil {
		return err
	}
	indexMap, collapsed := reductionMap(records, keepPositions)
	if opts.PreserveGranularity && collapsed {
		return errors.NewGranularityLossError(remove,
			"removal collapses distinct index records")
	}

	// Edge check: is every remapped mapping level representable under
	// the structure the remaining categories will produce?
	allowedMasks := allowedMaskSet(newCats, remaining)
	unrepresentable, rebuildSet, err := classifyRelations(tx, keepPositions, allowedMasks)
	if err != nil {
		return err
	}
	if opts.PreserveEdges && len(unrepresentable) > 0 {
		return errors.NewAmbiguityError("", remove,
			fmt.Sprintf("%d relations have mapping levels unrepresentable after removal",
				len(unrepresentable)))
	}

	// Validation passed. Mutate.
	if collapsed {
		if err := remapDependentRows(tx, indexMap); err != nil {
			return err
		}
		for old := range indexMap {
			if err := tx.Indexes().Delete(old); err != nil {
				return err
			}
		}
	}
	if err := relabelIndexRecords(tx, keepPositions); err != nil {
		return err
	}
	if err := coarsenLocations(tx, keepPositions); err != nil {
		return err
	}

	if err := setProperty(tx, propIndexColumns, remaining); err != nil {
		return err
	}
	if err := setDiscreteCategories(tx, newCats); err != nil {
		return err
	}

	if err := remapMappingLevels(tx, keepPositions, allowedMasks); err != nil {
		return err
	}
	for _, relationID := range unrepresentable {
		if err := tx.Relations().Delete(relationID); err != nil {
			return err
		}
	}
	crosswalks, err := tx.Crosswalks().All()
	if err != nil {
		return err
	}
	for _, crosswalk := range crosswalks {
		crosswalk := crosswalk
		if _, needsRebuild := rebuildSet[crosswalk.ID]; needsRebuild {
			err := RebuildCrosswalkRelations(tx, &crosswalk, opts.MatchLimit, opts.AllowOverlapping)
			if err != nil {
				return err
			}
		}
	}

	if err := RebuildStructure(tx); err != nil {
		return err
	}
	if err := refreshAfterIndexChange(tx); err != nil {
		return err
	}

	logging.Info().
		Strs("removed", remove).
		Int("remaining", len(remaining)).
		Bool("collapsed", collapsed).
		Msg("removed index columns")
	return nil
}

// reduceCategories strips removed columns from each category and
// reports whether the untouched categories still cover the remaining
// columns. The returned set is minimized over the remaining whole
// space.
func reduceCategories(
	cats []categories.Category,
	removeSet map[string]struct{},
	remaining []string,
) ([]categories.Category, bool) {
	coverage := categories.New()
	var stripped []categories.Category
	for _, cat := range cats {
		intersects := false
		reduced := categories.New()
		for col := range cat {
			if _, removed := removeSet[col]; removed {
				intersects = true
			} else {
				reduced[col] = struct{}{}
			}
		}
		if !intersects {
			coverage = coverage.Union(cat)
		}
		if reduced.Len() > 0 {
			stripped = append(stripped, reduced)
		}
	}

	whole := categories.New(remaining...)
	covered := coverage.Equal(whole)
	minimized := categories.MinimizeDiscreteCategories(append(stripped, whole))
	return minimized, covered
}

// reductionMap groups records by their reduced label tuple and maps
// every non-minimal member of a multi-record group to the group's
// lowest id.
func reductionMap(records []Index, keepPositions []int) (map[uint64]uint64, bool) {
	groups := make(map[string][]uint64)
	var order []string
	for _, record := range records {
		if record.ID == UndefinedID {
			continue
		}
		key := reducedKey(record.Labels, keepPositions)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], record.ID)
	}

	oldToNew := make(map[uint64]uint64)
	for _, key := range order {
		ids := groups[key]
		if len(ids) < 2 {
			continue
		}
		canonical := ids[0]
		for _, id := range ids[1:] {
			if id < canonical {
				canonical = id
			}
		}
		for _, id := range ids {
			if id != canonical {
				oldToNew[id] = canonical
			}
		}
	}
	return oldToNew, len(oldToNew) > 0
}

func reducedKey(labels []string, keepPositions []int) string {
	parts := make([]string, len(keepPositions))
	for i, pos := range keepPositions {
		parts[i] = labels[pos]
	}
	return strings.Join(parts, "\x1f")
}

// remapDependentRows rewrites Weight and Relation rows whose index_id
// is being merged away. For every weight group and crosswalk the rows
// colliding on the surviving id are summed, so no combination present
// under an old id is dropped.
func remapDependentRows(tx Tx, oldToNew map[uint64]uint64) error {
	groups, err := tx.WeightGroups().All()
	if err != nil {
		return err
	}
	for _, group := range groups {
		if err := mergeWeights(tx, group.ID, oldToNew); err != nil {
			return err
		}
	}

	crosswalks, err := tx.Crosswalks().All()
	if err != nil {
		return err
	}
	for _, crosswalk := range crosswalks {
		if err := mergeRelations(tx, crosswalk.ID, oldToNew); err != nil {
			return err
		}
	}
	return nil
}

// mergeWeights folds one weight group's rows for merged ids onto the
// canonical id. A canonical row is created at zero when only merged
// ids carried a weight, so the combination survives the merge.
func mergeWeights(tx Tx, groupID uint64, oldToNew map[uint64]uint64) error {
	weights, err := tx.Weights().FindByGroup(groupID)
	if err != nil {
		return err
	}

	byIndex := make(map[uint64]*Weight, len(weights))
	for i := range weights {
		byIndex[weights[i].IndexID] = &weights[i]
	}

	for old, canonical := range oldToNew {
		oldWeight, ok := byIndex[old]
		if !ok {
			continue
		}
		target, ok := byIndex[canonical]
		if !ok {
			target = &Weight{WeightGroupID: groupID, IndexID: canonical, Value: 0.0}
			if err := tx.Weights().Add(target); err != nil {
				return err
			}
			byIndex[canonical] = target
		}
		target.Value += oldWeight.Value
		if err := tx.Weights().Update(target); err != nil {
			return err
		}
		if err := tx.Weights().Delete(oldWeight.ID); err != nil {
			return err
		}
		delete(byIndex, old)
	}
	return nil
}

// mergeRelations folds one crosswalk's rows for merged ids onto the
// canonical id, summing value and proportion for rows that collide on
// (other_index_id, canonical id, mapping_level).
func mergeRelations(tx Tx, crosswalkID uint64, oldToNew map[uint64]uint64) error {
	relations, err := tx.Relations().FindByCrosswalk(crosswalkID)
	if err != nil {
		return err
	}

	type key struct {
		otherIndexID uint64
		indexID      uint64
		level        string
	}
	kept := make(map[key]*Relation)
	for i := range relations {
		relation := &relations[i]
		indexID := relation.IndexID
		if canonical, merged := oldToNew[indexID]; merged {
			indexID = canonical
		}
		k := key{relation.OtherIndexID, indexID, levelKey(relation.MappingLevel)}

		target, collides := kept[k]
		if !collides {
			if relation.IndexID != indexID {
				relation.IndexID = indexID
				if err := tx.Relations().Update(relation); err != nil {
					return err
				}
			}
			kept[k] = relation
			continue
		}

		target.Value += relation.Value
		if target.Proportion != nil && relation.Proportion != nil {
			target.Proportion = Float64Ptr(*target.Proportion + *relation.Proportion)
		}
		if err := tx.Relations().Update(target); err != nil {
			return err
		}
		if err := tx.Relations().Delete(relation.ID); err != nil {
			return err
		}
	}
	return nil
}

// relabelIndexRecords rewrites every index record's labels down to the
// kept column positions.
func relabelIndexRecords(tx Tx, keepPositions []int) error {
	records, err := tx.Indexes().All()
	if err != nil {
		return err
	}
	for _, record := range records {
		record := record
		reduced := make([]string, len(keepPositions))
		for i, pos := range keepPositions {
			reduced[i] = record.Labels[pos]
		}
		record.Labels = reduced
		if err := tx.Indexes().Update(&record); err != nil {
			return err
		}
	}
	return nil
}

// coarsenLocations reduces location records to the kept columns,
// merging locations that collapse and summing their quantities by
// attribute group.
func coarsenLocations(tx Tx, keepPositions []int) error {
	locations, err := tx.Locations().All()
	if err != nil {
		return err
	}

	canonicalByKey := make(map[string]uint64)
	oldToNew := make(map[uint64]uint64)
	for _, location := range locations {
		key := reducedKey(location.Labels, keepPositions)
		canonical, ok := canonicalByKey[key]
		if !ok || location.ID < canonical {
			if ok {
				oldToNew[canonical] = location.ID
			}
			canonicalByKey[key] = location.ID
			continue
		}
		oldToNew[location.ID] = canonical
	}
	// Chase single-step chains introduced when a lower id arrived late.
	for old, canonical := range oldToNew {
		if next, ok := oldToNew[canonical]; ok {
			oldToNew[old] = next
		}
	}

	if len(oldToNew) > 0 {
		if err := mergeQuantities(tx, oldToNew); err != nil {
			return err
		}
		for old := range oldToNew {
			if err := tx.Locations().Delete(old); err != nil {
				return err
			}
		}
	}

	survivors, err := tx.Locations().All()
	if err != nil {
		return err
	}
	for _, location := range survivors {
		location := location
		reduced := make([]string, len(keepPositions))
		for i, pos := range keepPositions {
			reduced[i] = location.Labels[pos]
		}
		location.Labels = reduced
		if err := tx.Locations().Update(&location); err != nil {
			return err
		}
	}
	return nil
}

// mergeQuantities re-points quantities at canonical locations and sums
// rows that collide on (location_id, attribute_group_id).
func mergeQuantities(tx Tx, locationMap map[uint64]uint64) error {
	quantities, err := tx.Quantities().All()
	if err != nil {
		return err
	}

	type key struct {
		locationID       uint64
		attributeGroupID uint64
	}
	kept := make(map[key]*Quantity)
	for i := range quantities {
		quantity := &quantities[i]
		locationID := quantity.LocationID
		if canonical, merged := locationMap[locationID]; merged {
			locationID = canonical
		}
		k := key{locationID, quantity.AttributeGroupID}

		target, collides := kept[k]
		if !collides {
			if quantity.LocationID != locationID {
				quantity.LocationID = locationID
				if err := tx.Quantities().Update(quantity); err != nil {
					return err
				}
			}
			kept[k] = quantity
			continue
		}

		target.Value += quantity.Value
		if err := tx.Quantities().Update(target); err != nil {
			return err
		}
		if err := tx.Quantities().Delete(quantity.ID); err != nil {
			return err
		}
	}
	return nil
}

// allowedMaskSet computes the mapping-level masks the new structure
// will permit, keyed by canonical byte form. The all-zero mask is
// excluded: a relation mapped on no columns at all is meaningless.
func allowedMaskSet(cats []categories.Category, remaining []string) map[string]struct{} {
	masks := make(map[string]struct{})
	for _, cat := range categories.MakeStructure(cats) {
		bits := cat.Bits(remaining)
		if bits.IsEmpty() {
			continue
		}
		masks[string(bits.Bytes())] = struct{}{}
	}
	return masks
}

// classifyRelations finds relations whose remapped mapping level the
// new structure cannot represent, and the crosswalks left holding
// ambiguous relations that will need a rebuild.
func classifyRelations(
	tx Tx,
	keepPositions []int,
	allowedMasks map[string]struct{},
) (unrepresentable []uint64, rebuildSet map[uint64]struct{}, err error) {
	rebuildSet = make(map[uint64]struct{})
	crosswalks, err := tx.Crosswalks().All()
	if err != nil {
		return nil, nil, err
	}
	for _, crosswalk := range crosswalks {
		relations, err := tx.Relations().FindByCrosswalk(crosswalk.ID)
		if err != nil {
			return nil, nil, err
		}
		for _, relation := range relations {
			if relation.MappingLevel == nil {
				continue
			}
			if relation.OtherIndexID == UndefinedID && relation.IndexID == UndefinedID {
				continue
			}
			remapped := remapLevel(*relation.MappingLevel, keepPositions)
			if remapped.IsEmpty() {
				unrepresentable = append(unrepresentable, relation.ID)
				continue
			}
			if _, ok := allowedMasks[string(remapped.Bytes())]; !ok {
				unrepresentable = append(unrepresentable, relation.ID)
				continue
			}
			if remapped.Count() < len(keepPositions) {
				rebuildSet[crosswalk.ID] = struct{}{}
			}
		}
	}
	sort.Slice(unrepresentable, func(i, j int) bool {
		return unrepresentable[i] < unrepresentable[j]
	})
	return unrepresentable, rebuildSet, nil
}

// remapLevel drops the removed column positions from a mapping level.
func remapLevel(level bitflags.BitFlags, keepPositions []int) bitflags.BitFlags {
	bits := make([]bool, len(keepPositions))
	for i, pos := range keepPositions {
		bits[i] = level.Get(pos)
	}
	return bitflags.FromBools(bits)
}

// remapMappingLevels rewrites every surviving relation's level into
// the reduced column space. Levels that became fully specified are
// normalized to nil (exact).
func remapMappingLevels(tx Tx, keepPositions []int, allowedMasks map[string]struct{}) error {
	crosswalks, err := tx.Crosswalks().All()
	if err != nil {
		return err
	}
	for _, crosswalk := range crosswalks {
		relations, err := tx.Relations().FindByCrosswalk(crosswalk.ID)
		if err != nil {
			return err
		}
		for _, relation := range relations {
			relation := relation
			if relation.MappingLevel == nil {
				continue
			}
			remapped := remapLevel(*relation.MappingLevel, keepPositions)
			if remapped.IsEmpty() {
				continue // deleted by the caller
			}
			if _, ok := allowedMasks[string(remapped.Bytes())]; !ok {
				continue
			}
			if remapped.Count() == len(keepPositions) {
				relation.MappingLevel = nil
			} else {
				relation.MappingLevel = BitFlagsPtr(remapped)
			}
			if err := tx.Relations().Update(&relation); err != nil {
				return err
			}
		}
	}
	return nil
}

// refreshAfterIndexChange recomputes everything derived from index
// membership: content hash, structure granularity, proportions, and
// per-group/per-crosswalk completeness.
func refreshAfterIndexChange(tx Tx) error {
	if err := RefreshIndexHash(tx); err != nil {
		return err
	}
	if err := RefreshStructureGranularity(tx); err != nil {
		return err
	}
	crosswalks, err := tx.Crosswalks().All()
	if err != nil {
		return err
	}
	for _, crosswalk := range crosswalks {
		if err := refreshAllProportions(tx, crosswalk.ID); err != nil {
			return err
		}
	}
	return refreshCompleteness(tx)
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
