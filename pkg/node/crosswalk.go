package node

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shawnbrown/toron/pkg/bitflags"
	"github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/hashing"
	"github.com/shawnbrown/toron/pkg/logging"
	"github.com/shawnbrown/toron/pkg/selectors"
)

// RelationInput is one incoming relation row for AddIncomingEdge:
// an external index id, a local index id, a numeric value, and an
// optional mapping level (nil means the mapping was exact).
type RelationInput struct {
	OtherIndexID uint64
	IndexID      uint64
	Value        float64
	MappingLevel *bitflags.BitFlags
}

// CrosswalkOptions carries the optional metadata of a new crosswalk.
type CrosswalkOptions struct {
	Description       string
	Selectors         []string
	OtherFilenameHint string
	UserProperties    map[string]string

	// MakeDefault forces the default flag. When nil, the first
	// crosswalk between two nodes becomes the default implicitly.
	MakeDefault *bool
}

// AddIncomingEdge creates a crosswalk from another node and loads its
// relations. The undefined-to-undefined relation is always included.
// Afterwards proportions are normalized and the crosswalk's hash and
// completeness flags derived.
func AddIncomingEdge(
	tx Tx,
	otherUniqueID string,
	name string,
	relations []RelationInput,
	opts *CrosswalkOptions,
) (*Crosswalk, error) {
	if opts == nil {
		opts = &CrosswalkOptions{}
	}
	for _, raw := range opts.Selectors {
		if _, err := selectors.Parse(raw); err != nil {
			return nil, err
		}
	}

	siblings, err := tx.Crosswalks().FindByOtherUniqueID(otherUniqueID)
	if err != nil {
		return nil, err
	}
	for _, sibling := range siblings {
		if sibling.Name == name {
			return nil, errors.NewValidationError("name", name,
				"crosswalk already exists between these nodes")
		}
	}

	isDefault := false
	switch {
	case opts.MakeDefault == nil:
		isDefault = len(siblings) == 0
	case *opts.MakeDefault:
		isDefault = true
		for _, sibling := range siblings {
			if sibling.IsDefault {
				sibling := sibling
				sibling.IsDefault = false
				if err := tx.Crosswalks().Update(&sibling); err != nil {
					return nil, err
				}
			}
		}
	}

	crosswalk := &Crosswalk{
		OtherUniqueID:     otherUniqueID,
		OtherFilenameHint: opts.OtherFilenameHint,
		Name:              name,
		Description:       opts.Description,
		Selectors:         opts.Selectors,
		IsDefault:         isDefault,
		UserProperties:    opts.UserProperties,
	}
	if err := tx.Crosswalks().Add(crosswalk); err != nil {
		return nil, err
	}

	if err := insertRelations(tx, crosswalk.ID, relations); err != nil {
		return nil, err
	}
	if err := refreshAllProportions(tx, crosswalk.ID); err != nil {
		return nil, err
	}
	if err := refreshCrosswalkDerivedState(tx, crosswalk); err != nil {
		return nil, err
	}

	logging.Info().
		Str("crosswalk", name).
		Str("other_unique_id", otherUniqueID).
		Int("relations", len(relations)).
		Bool("is_default", isDefault).
		Msg("added incoming edge")
	return crosswalk, nil
}

// insertRelations stores relation rows, appending the synthetic
// undefined-to-undefined relation when the caller did not provide one.
func insertRelations(tx Tx, crosswalkID uint64, relations []RelationInput) error {
	hasUndefined := false
	for _, input := range relations {
		if input.OtherIndexID == UndefinedID && input.IndexID == UndefinedID {
			hasUndefined = true
		}
		relation := &Relation{
			CrosswalkID:  crosswalkID,
			OtherIndexID: input.OtherIndexID,
			IndexID:      input.IndexID,
			Value:        input.Value,
			MappingLevel: input.MappingLevel,
		}
		if err := tx.Relations().Add(relation); err != nil {
			return err
		}
	}
	if !hasUndefined {
		synthetic := &Relation{CrosswalkID: crosswalkID}
		if err := tx.Relations().Add(synthetic); err != nil {
			return err
		}
	}
	return nil
}

// refreshProportions normalizes the proportion of every relation
// sharing one other_index_id so they sum to 1.0. When the values sum
// to zero the mass is split equally. Relations from the external
// undefined record are special-cased: an unmapped external record
// contributes no probability mass to a defined local record (0.0) and
// exactly all of it to the local undefined record (1.0).
func refreshProportions(tx Tx, crosswalkID, otherIndexID uint64) error {
	relations, err := tx.Relations().FindByCrosswalkAndOtherIndex(crosswalkID, otherIndexID)
	if err != nil {
		return err
	}
	if len(relations) == 0 {
		return nil
	}

	if otherIndexID == UndefinedID {
		for _, relation := range relations {
			relation := relation
			if relation.IndexID == UndefinedID {
				relation.Proportion = Float64Ptr(1.0)
			} else {
				relation.Proportion = Float64Ptr(0.0)
			}
			if err := tx.Relations().Update(&relation); err != nil {
				return err
			}
		}
		return nil
	}

	total := 0.0
	for _, relation := range relations {
		total += relation.Value
	}

	for _, relation := range relations {
		relation := relation
		if total != 0 {
			relation.Proportion = Float64Ptr(relation.Value / total)
		} else {
			relation.Proportion = Float64Ptr(1.0 / float64(len(relations)))
		}
		if err := tx.Relations().Update(&relation); err != nil {
			return err
		}
	}
	return nil
}

// refreshAllProportions runs refreshProportions for every distinct
// other_index_id of a crosswalk.
func refreshAllProportions(tx Tx, crosswalkID uint64) error {
	otherIDs, err := tx.Relations().DistinctOtherIndexIDs(crosswalkID, true)
	if err != nil {
		return err
	}
	for _, otherID := range otherIDs {
		if err := refreshProportions(tx, crosswalkID, otherID); err != nil {
			return err
		}
	}
	return nil
}

// refreshCrosswalkDerivedState recomputes OtherIndexHash and
// IsLocallyComplete and persists the crosswalk when they changed.
//
// OtherIndexHash fingerprints the defined other_index_id coverage set,
// so it changes iff coverage changes, independent of value edits.
// IsLocallyComplete counts the undefined record: every local id must
// appear in at least one relation.
func refreshCrosswalkDerivedState(tx Tx, crosswalk *Crosswalk) error {
	otherIDs, err := tx.Relations().DistinctOtherIndexIDs(crosswalk.ID, false)
	if err != nil {
		return err
	}
	hash, err := hashing.HashSequence(otherIDs)
	if err != nil {
		return err
	}

	relations, err := tx.Relations().FindByCrosswalk(crosswalk.ID)
	if err != nil {
		return err
	}
	mapped := make(map[uint64]struct{})
	for _, relation := range relations {
		mapped[relation.IndexID] = struct{}{}
	}
	totalCount, err := tx.Indexes().Cardinality(true)
	if err != nil {
		return err
	}
	locallyComplete := len(mapped) == totalCount

	if crosswalk.OtherIndexHash != hash || crosswalk.IsLocallyComplete != locallyComplete {
		crosswalk.OtherIndexHash = hash
		crosswalk.IsLocallyComplete = locallyComplete
		return tx.Crosswalks().Update(crosswalk)
	}
	return nil
}

// FindCrosswalksByRef returns the crosswalks coming from the node
// identified by ref: an exact other_unique_id, a filename hint (with
// or without a ".toron" extension), or a unique-id prefix of at least
// seven characters.
func FindCrosswalksByRef(tx Tx, ref string) ([]Crosswalk, error) {
	matches, err := tx.Crosswalks().FindByOtherUniqueID(ref)
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		return matches, nil
	}

	all, err := tx.Crosswalks().All()
	if err != nil {
		return nil, err
	}

	hints := []string{ref}
	if strings.HasSuffix(ref, ".toron") {
		hints = append(hints, strings.TrimSuffix(ref, ".toron"))
	} else {
		hints = append(hints, ref+".toron")
	}
	for _, crosswalk := range all {
		for _, hint := range hints {
			if crosswalk.OtherFilenameHint != "" && crosswalk.OtherFilenameHint == hint {
				matches = append(matches, crosswalk)
				break
			}
		}
	}
	if len(matches) > 0 {
		return matches, nil
	}

	if len(ref) >= 7 {
		for _, crosswalk := range all {
			if strings.HasPrefix(crosswalk.OtherUniqueID, ref) {
				matches = append(matches, crosswalk)
			}
		}
	}
	return matches, nil
}

// DefaultCrosswalk returns the default crosswalk among the given ones,
// or ErrNotFound.
func DefaultCrosswalk(crosswalks []Crosswalk) (*Crosswalk, error) {
	for _, crosswalk := range crosswalks {
		if crosswalk.IsDefault {
			crosswalk := crosswalk
			return &crosswalk, nil
		}
	}
	return nil, fmt.Errorf("no default crosswalk: %w", errors.ErrNotFound)
}

// CrosswalkEdit carries the fields EditCrosswalk may change. Nil
// pointers leave a field untouched; a nil Selectors slice is also
// untouched (pass an empty slice to clear).
type CrosswalkEdit struct {
	Name              *string
	Description       *string
	OtherFilenameHint *string
	Selectors         []string
	MakeDefault       *bool
}

// EditCrosswalk updates a crosswalk's metadata. Making a crosswalk the
// default clears the flag on its siblings from the same node, keeping
// at most one default per node pair.
func EditCrosswalk(tx Tx, crosswalkID uint64, edit CrosswalkEdit) (*Crosswalk, error) {
	crosswalk, err := tx.Crosswalks().Get(crosswalkID)
	if err != nil {
		return nil, err
	}

	if edit.Name != nil && *edit.Name != crosswalk.Name {
		if *edit.Name == "" {
			return nil, errors.NewValidationError("name", *edit.Name,
				"crosswalk name cannot be empty")
		}
		siblings, err := tx.Crosswalks().FindByOtherUniqueID(crosswalk.OtherUniqueID)
		if err != nil {
			return nil, err
		}
		for _, sibling := range siblings {
			if sibling.ID != crosswalkID && sibling.Name == *edit.Name {
				return nil, errors.NewValidationError("name", *edit.Name,
					"crosswalk already exists between these nodes")
			}
		}
		crosswalk.Name = *edit.Name
	}
	if edit.Description != nil {
		crosswalk.Description = *edit.Description
	}
	if edit.OtherFilenameHint != nil {
		crosswalk.OtherFilenameHint = *edit.OtherFilenameHint
	}
	if edit.Selectors != nil {
		for _, raw := range edit.Selectors {
			if _, err := selectors.Parse(raw); err != nil {
				return nil, err
			}
		}
		crosswalk.Selectors = edit.Selectors
	}
	if edit.MakeDefault != nil {
		if *edit.MakeDefault && !crosswalk.IsDefault {
			siblings, err := tx.Crosswalks().FindByOtherUniqueID(crosswalk.OtherUniqueID)
			if err != nil {
				return nil, err
			}
			for _, sibling := range siblings {
				if sibling.ID != crosswalkID && sibling.IsDefault {
					sibling := sibling
					sibling.IsDefault = false
					if err := tx.Crosswalks().Update(&sibling); err != nil {
						return nil, err
					}
				}
			}
		}
		crosswalk.IsDefault = *edit.MakeDefault
	}

	if err := tx.Crosswalks().Update(crosswalk); err != nil {
		return nil, err
	}
	logging.Info().Str("crosswalk", crosswalk.Name).Msg("edited crosswalk")
	return crosswalk, nil
}

// DeleteCrosswalk removes a crosswalk and all of its relations. The
// default crosswalk cannot be deleted while other crosswalks from the
// same node remain; reassign the default first.
func DeleteCrosswalk(tx Tx, crosswalkID uint64) error {
	crosswalk, err := tx.Crosswalks().Get(crosswalkID)
	if err != nil {
		return err
	}
	if crosswalk.IsDefault {
		siblings, err := tx.Crosswalks().FindByOtherUniqueID(crosswalk.OtherUniqueID)
		if err != nil {
			return err
		}
		if len(siblings) > 1 {
			return errors.NewValidationError("crosswalk", crosswalk.Name,
				"cannot delete the default crosswalk while others from the same node remain")
		}
	}

	if err := tx.Relations().DeleteByCrosswalk(crosswalkID); err != nil {
		return err
	}
	if err := tx.Crosswalks().Delete(crosswalkID); err != nil {
		return err
	}
	logging.Info().Str("crosswalk", crosswalk.Name).Msg("deleted crosswalk")
	return nil
}

// CrosswalkStats describes a crosswalk's current mapping coverage.
type CrosswalkStats struct {
	Relations     int
	Ambiguous     int
	MappedLocal   int
	UnmappedLocal int

	// OtherIndexCount is the number of distinct defined external ids
	// covered by the crosswalk's relations.
	OtherIndexCount int

	IsDefault         bool
	IsLocallyComplete bool
}

// CrosswalkStatistics computes coverage counts for one crosswalk.
func CrosswalkStatistics(tx Tx, crosswalkID uint64) (*CrosswalkStats, error) {
	crosswalk, err := tx.Crosswalks().Get(crosswalkID)
	if err != nil {
		return nil, err
	}
	columns, err := Columns(tx)
	if err != nil {
		return nil, err
	}

	relations, err := tx.Relations().FindByCrosswalk(crosswalkID)
	if err != nil {
		return nil, err
	}
	stats := &CrosswalkStats{
		Relations:         len(relations),
		IsDefault:         crosswalk.IsDefault,
		IsLocallyComplete: crosswalk.IsLocallyComplete,
	}
	mapped := make(map[uint64]struct{})
	for _, relation := range relations {
		if relation.IsAmbiguous(len(columns)) {
			stats.Ambiguous++
		}
		mapped[relation.IndexID] = struct{}{}
	}
	stats.MappedLocal = len(mapped)

	total, err := tx.Indexes().Cardinality(true)
	if err != nil {
		return nil, err
	}
	stats.UnmappedLocal = total - len(mapped)

	otherIDs, err := tx.Relations().DistinctOtherIndexIDs(crosswalkID, false)
	if err != nil {
		return nil, err
	}
	stats.OtherIndexCount = len(otherIDs)
	return stats, nil
}

// ReifyStats counts the outcomes of a reification pass.
type ReifyStats struct {
	Reified    int
	Mismatched int
}

// ReifyRelations upgrades ambiguous relations to fully-specified once
// attested accurate. A relation is reified only when criteria covers
// its current mapping level (OR-equality superset test); otherwise it
// is counted as a mismatch and left untouched. With nil criteria every
// ambiguous relation is reified. The undefined-to-undefined relation
// is never reified.
func ReifyRelations(tx Tx, crosswalkID uint64, criteria *bitflags.BitFlags) (*ReifyStats, error) {
	columns, err := Columns(tx)
	if err != nil {
		return nil, err
	}
	fullLevel := fullySpecifiedLevel(len(columns))

	relations, err := tx.Relations().FindByCrosswalk(crosswalkID)
	if err != nil {
		return nil, err
	}

	stats := &ReifyStats{}
	for _, relation := range relations {
		relation := relation
		if !relation.IsAmbiguous(len(columns)) {
			continue
		}
		if relation.OtherIndexID == UndefinedID && relation.IndexID == UndefinedID {
			continue
		}
		if criteria != nil && !criteria.Covers(*relation.MappingLevel) {
			stats.Mismatched++
			continue
		}
		relation.MappingLevel = BitFlagsPtr(fullLevel)
		if err := tx.Relations().Update(&relation); err != nil {
			return nil, err
		}
		stats.Reified++
	}

	logging.Info().
		Uint64("crosswalk_id", crosswalkID).
		Int("reified", stats.Reified).
		Int("mismatched", stats.Mismatched).
		Msg("reified relations")
	return stats, nil
}

// fullySpecifiedLevel returns the mapping level with every column set.
func fullySpecifiedLevel(columnCount int) bitflags.BitFlags {
	bits := make([]bool, columnCount)
	for i := range bits {
		bits[i] = true
	}
	return bitflags.FromBools(bits)
}

// RebuildCrosswalkRelations reconstructs a crosswalk's relations after
// a structural change made some mapping levels unrepresentable. Every
// ambiguous relation is re-expanded into its constituent index records
// (the records agreeing with its target on the level's columns) and
// re-matched: candidate sets larger than matchLimit abort the rebuild,
// and unless allowOverlapping is set, candidates already claimed by an
// exact relation of the same external id are excluded. Values are
// distributed across candidates in proportion to the crosswalk's
// weight group (the group sharing the crosswalk's name, else the
// node's default), with equal split as the last resort. The relation
// set is replaced atomically; crosswalk identity metadata is kept.
func RebuildCrosswalkRelations(
	tx Tx,
	crosswalk *Crosswalk,
	matchLimit int,
	allowOverlapping bool,
) error {
	if matchLimit < 1 {
		return errors.NewValidationError("match_limit", matchLimit, "must be at least 1")
	}
	columns, err := Columns(tx)
	if err != nil {
		return err
	}

	relations, err := tx.Relations().FindByCrosswalk(crosswalk.ID)
	if err != nil {
		return err
	}

	// Index ids already claimed exactly, per external id.
	claimed := make(map[uint64]map[uint64]struct{})
	for _, relation := range relations {
		if relation.IsAmbiguous(len(columns)) {
			continue
		}
		if claimed[relation.OtherIndexID] == nil {
			claimed[relation.OtherIndexID] = make(map[uint64]struct{})
		}
		claimed[relation.OtherIndexID][relation.IndexID] = struct{}{}
	}

	weightsByIndex, err := crosswalkWeights(tx, crosswalk)
	if err != nil {
		return err
	}

	// Validate and expand every relation before any write.
	var rebuilt []Relation
	for _, relation := range relations {
		if !relation.IsAmbiguous(len(columns)) {
			rebuilt = append(rebuilt, relation)
			continue
		}

		target, err := tx.Indexes().Get(relation.IndexID)
		if err != nil {
			return err
		}
		criteria := make(map[string]string)
		for i, col := range columns {
			if relation.MappingLevel.Get(i) {
				criteria[col] = target.Labels[i]
			}
		}
		candidates, err := tx.Indexes().FilterByLabels(criteria, false)
		if err != nil {
			return err
		}
		if !allowOverlapping {
			var kept []Index
			for _, candidate := range candidates {
				if _, ok := claimed[relation.OtherIndexID][candidate.ID]; !ok {
					kept = append(kept, candidate)
				}
			}
			if len(kept) > 0 {
				candidates = kept
			}
		}
		if len(candidates) == 0 {
			return errors.NewAmbiguityError(crosswalk.Name,
				levelColumnNames(*relation.MappingLevel, columns),
				"no index records match the relation's level")
		}
		if len(candidates) > matchLimit {
			return errors.NewAmbiguityError(crosswalk.Name,
				levelColumnNames(*relation.MappingLevel, columns),
				"candidate count exceeds match limit")
		}

		total := 0.0
		for _, candidate := range candidates {
			total += weightsByIndex[candidate.ID]
		}
		for _, candidate := range candidates {
			share := 1.0 / float64(len(candidates))
			if total > 0 {
				share = weightsByIndex[candidate.ID] / total
			}
			rebuilt = append(rebuilt, Relation{
				CrosswalkID:  crosswalk.ID,
				OtherIndexID: relation.OtherIndexID,
				IndexID:      candidate.ID,
				Value:        relation.Value * share,
				MappingLevel: relation.MappingLevel,
			})
		}
	}

	// Merge rows that collided after expansion.
	rebuilt = mergeRelationRows(rebuilt)

	// Atomic replacement within the enclosing transaction.
	if err := tx.Relations().DeleteByCrosswalk(crosswalk.ID); err != nil {
		return err
	}
	for _, relation := range rebuilt {
		relation := relation
		relation.ID = 0
		relation.Proportion = nil
		if err := tx.Relations().Add(&relation); err != nil {
			return err
		}
	}
	if err := refreshAllProportions(tx, crosswalk.ID); err != nil {
		return err
	}
	return refreshCrosswalkDerivedState(tx, crosswalk)
}

// crosswalkWeights resolves the weight values used to split ambiguous
// relations: the weight group named after the crosswalk when present,
// else the node's default group, else no weights at all.
func crosswalkWeights(tx Tx, crosswalk *Crosswalk) (map[uint64]float64, error) {
	group, err := tx.WeightGroups().GetByName(crosswalk.Name)
	if errors.IsNotFound(err) {
		groupID, derr := DefaultWeightGroupID(tx)
		if errors.IsNotFound(derr) {
			return map[uint64]float64{}, nil
		}
		if derr != nil {
			return nil, derr
		}
		group, err = tx.WeightGroups().Get(groupID)
	}
	if err != nil {
		return nil, err
	}

	weights, err := tx.Weights().FindByGroup(group.ID)
	if err != nil {
		return nil, err
	}
	byIndex := make(map[uint64]float64, len(weights))
	for _, weight := range weights {
		byIndex[weight.IndexID] = weight.Value
	}
	return byIndex, nil
}

// mergeRelationRows sums value over rows sharing (other_index_id,
// index_id, mapping_level), preserving first-seen order.
func mergeRelationRows(relations []Relation) []Relation {
	type key struct {
		otherIndexID uint64
		indexID      uint64
		level        string
	}
	merged := make(map[key]int)
	var out []Relation
	for _, relation := range relations {
		k := key{relation.OtherIndexID, relation.IndexID, levelKey(relation.MappingLevel)}
		if i, ok := merged[k]; ok {
			out[i].Value += relation.Value
			continue
		}
		merged[k] = len(out)
		out = append(out, relation)
	}
	return out
}

func levelKey(level *bitflags.BitFlags) string {
	if level == nil {
		return "\x00nil"
	}
	return string(level.Bytes())
}

// levelColumnNames renders a mapping level as column names for error
// messages.
func levelColumnNames(level bitflags.BitFlags, columns []string) []string {
	names := level.SetBits()
	var out []string
	for _, i := range names {
		if i < len(columns) {
			out = append(out, columns[i])
		}
	}
	sort.Strings(out)
	return []string{strings.Join(out, ", ")}
}
