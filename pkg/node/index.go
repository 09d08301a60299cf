package node

import (
	stderrors "errors"

	"github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/logging"
)

// InsertIndexStats counts the per-row outcomes of a batch insert.
// Recoverable bad rows are counted, not raised.
type InsertIndexStats struct {
	Inserted     int
	SkippedDupe  int
	SkippedEmpty int
	SkippedWidth int
}

// InsertIndexRecords adds index records from rows of label values
// aligned to the node's column order. Rows with empty labels, wrong
// width, or duplicate label tuples are skipped and counted. After the
// batch, the index hash and structure granularity are refreshed and
// completeness flags re-derived.
func InsertIndexRecords(tx Tx, rows [][]string) (*InsertIndexStats, error) {
	columns, err := Columns(tx)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, errors.NewSchemaInvariantError("",
			"must add index columns before inserting records")
	}

	stats := &InsertIndexStats{}
	for _, row := range rows {
		if len(row) != len(columns) {
			stats.SkippedWidth++
			continue
		}
		empty := false
		for _, label := range row {
			if label == "" {
				empty = true
				break
			}
		}
		if empty {
			stats.SkippedEmpty++
			continue
		}

		if _, err := tx.Indexes().Add(row); err != nil {
			if stderrors.Is(err, errors.ErrAlreadyExists) {
				stats.SkippedDupe++
				continue
			}
			return nil, err
		}
		stats.Inserted++
	}

	if stats.Inserted > 0 {
		if err := RefreshIndexHash(tx); err != nil {
			return nil, err
		}
		if err := RefreshStructureGranularity(tx); err != nil {
			return nil, err
		}
		if err := refreshCompleteness(tx); err != nil {
			return nil, err
		}
	}

	logging.Info().
		Int("inserted", stats.Inserted).
		Int("skipped_duplicate", stats.SkippedDupe).
		Int("skipped_empty", stats.SkippedEmpty).
		Int("skipped_width", stats.SkippedWidth).
		Msg("inserted index records")
	return stats, nil
}

// SelectIndexRecords returns index records matching every column=value
// pair in criteria; with empty criteria it returns all records.
func SelectIndexRecords(tx Tx, criteria map[string]string) ([]Index, error) {
	if len(criteria) == 0 {
		return tx.Indexes().All()
	}
	return tx.Indexes().FilterByLabels(criteria, true)
}

// IndexUpdate assigns new labels to one existing index record.
type IndexUpdate struct {
	ID     uint64
	Labels []string
}

// UpdateIndexStats counts the per-row outcomes of a batch update.
type UpdateIndexStats struct {
	Updated      int
	Merged       int
	SkippedWidth int
	SkippedEmpty int
	NoMatch      int
}

// UpdateIndexRecords relabels index records. Rows with the wrong
// width, empty labels, or an unknown id are counted and skipped. When
// a row's new labels collide with another existing record the batch
// aborts, unless mergeOnConflict is set, in which case the two records
// are merged into the lower id. The undefined record cannot be
// relabeled.
func UpdateIndexRecords(tx Tx, updates []IndexUpdate, mergeOnConflict bool) (*UpdateIndexStats, error) {
	columns, err := Columns(tx)
	if err != nil {
		return nil, err
	}

	stats := &UpdateIndexStats{}
	for _, update := range updates {
		if update.ID == UndefinedID {
			return nil, errors.NewValidationError("index_id", update.ID,
				"cannot relabel the undefined record")
		}
		if len(update.Labels) != len(columns) {
			stats.SkippedWidth++
			continue
		}
		empty := false
		for _, label := range update.Labels {
			if label == "" {
				empty = true
				break
			}
		}
		if empty {
			stats.SkippedEmpty++
			continue
		}

		record, err := tx.Indexes().Get(update.ID)
		if errors.IsNotFound(err) {
			stats.NoMatch++
			continue
		}
		if err != nil {
			return nil, err
		}

		existing, err := tx.Indexes().FindByLabels(update.Labels)
		switch {
		case errors.IsNotFound(err):
			record.Labels = append([]string(nil), update.Labels...)
			if err := tx.Indexes().Update(record); err != nil {
				return nil, err
			}
			stats.Updated++
		case err != nil:
			return nil, err
		case existing.ID == update.ID:
			stats.Updated++ // already carries these labels
		case !mergeOnConflict:
			return nil, errors.NewValidationError("labels", update.Labels,
				"labels already used by another record")
		default:
			if err := MergeIndexRecords(tx, []uint64{update.ID, existing.ID}); err != nil {
				return nil, err
			}
			// The canonical record keeps the new labels either way:
			// when the lower id is the updated record, the colliding
			// tuple was freed by the merge.
			canonical, err := tx.Indexes().Get(min(update.ID, existing.ID))
			if err != nil {
				return nil, err
			}
			canonical.Labels = append([]string(nil), update.Labels...)
			if err := tx.Indexes().Update(canonical); err != nil {
				return nil, err
			}
			stats.Merged++
		}
	}

	if stats.Updated > 0 || stats.Merged > 0 {
		if err := RefreshIndexHash(tx); err != nil {
			return nil, err
		}
		if err := RefreshStructureGranularity(tx); err != nil {
			return nil, err
		}
		if err := refreshCompleteness(tx); err != nil {
			return nil, err
		}
	}

	logging.Info().
		Int("updated", stats.Updated).
		Int("merged", stats.Merged).
		Int("skipped_width", stats.SkippedWidth).
		Int("skipped_empty", stats.SkippedEmpty).
		Int("no_match", stats.NoMatch).
		Msg("updated index records")
	return stats, nil
}

// DeleteIndexRecord removes one defined index record along with its
// weights and relations, then re-derives the dependent state. The
// record cannot be deleted while any of its relations is ambiguous:
// an ambiguous relation cannot be narrowed to the surviving records.
func DeleteIndexRecord(tx Tx, indexID uint64) error {
	if indexID == UndefinedID {
		return errors.NewValidationError("index_id", indexID,
			"cannot delete the undefined record")
	}
	if _, err := tx.Indexes().Get(indexID); err != nil {
		return err
	}
	columns, err := Columns(tx)
	if err != nil {
		return err
	}

	// Validate before mutating: no ambiguous relations may reference
	// the record.
	crosswalks, err := tx.Crosswalks().All()
	if err != nil {
		return err
	}
	type affected struct {
		crosswalkID  uint64
		otherIndexID uint64
	}
	var doomed []Relation
	var touched []affected
	for _, crosswalk := range crosswalks {
		relations, err := tx.Relations().FindByCrosswalk(crosswalk.ID)
		if err != nil {
			return err
		}
		for _, relation := range relations {
			if relation.IndexID != indexID {
				continue
			}
			if relation.IsAmbiguous(len(columns)) {
				return errors.NewAmbiguityError(crosswalk.Name, nil,
					"cannot delete index record referenced by ambiguous relations")
			}
			doomed = append(doomed, relation)
			touched = append(touched, affected{crosswalk.ID, relation.OtherIndexID})
		}
	}

	weights, err := tx.Weights().FindByIndex(indexID)
	if err != nil {
		return err
	}
	for _, weight := range weights {
		if err := tx.Weights().Delete(weight.ID); err != nil {
			return err
		}
	}

	for _, relation := range doomed {
		if err := tx.Relations().Delete(relation.ID); err != nil {
			return err
		}
	}
	for _, a := range touched {
		if err := refreshProportions(tx, a.crosswalkID, a.otherIndexID); err != nil {
			return err
		}
	}

	if err := tx.Indexes().Delete(indexID); err != nil {
		return err
	}

	if err := RefreshIndexHash(tx); err != nil {
		return err
	}
	if err := RefreshStructureGranularity(tx); err != nil {
		return err
	}
	return refreshCompleteness(tx)
}

// refreshCompleteness re-derives WeightGroup.IsComplete and
// Crosswalk.IsLocallyComplete/OtherIndexHash after any change to index
// membership.
func refreshCompleteness(tx Tx) error {
	groups, err := tx.WeightGroups().All()
	if err != nil {
		return err
	}
	for _, group := range groups {
		group := group
		if err := refreshWeightGroupCompleteness(tx, &group); err != nil {
			return err
		}
	}

	crosswalks, err := tx.Crosswalks().All()
	if err != nil {
		return err
	}
	for _, crosswalk := range crosswalks {
		crosswalk := crosswalk
		if err := refreshCrosswalkDerivedState(tx, &crosswalk); err != nil {
			return err
		}
	}
	return nil
}
