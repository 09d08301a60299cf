package node

import (
	"github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/logging"
	"github.com/shawnbrown/toron/pkg/selectors"
)

// WeightGroupOptions carries the optional attributes of a new group.
type WeightGroupOptions struct {
	Description string
	Selectors   []string
	MakeDefault bool
}

// AddWeightGroup creates a weight group. The first group of a node
// becomes the default even when MakeDefault is unset, matching the
// implicit-default behavior of crosswalks.
func AddWeightGroup(tx Tx, name string, opts *WeightGroupOptions) (*WeightGroup, error) {
	if opts == nil {
		opts = &WeightGroupOptions{}
	}
	if name == "" {
		return nil, errors.NewValidationError("name", name, "weight group name cannot be empty")
	}
	if _, err := tx.WeightGroups().GetByName(name); err == nil {
		return nil, errors.NewValidationError("name", name, "weight group already exists")
	} else if !errors.IsNotFound(err) {
		return nil, err
	}
	for _, raw := range opts.Selectors {
		if _, err := selectors.Parse(raw); err != nil {
			return nil, err
		}
	}

	existing, err := tx.WeightGroups().All()
	if err != nil {
		return nil, err
	}

	group := &WeightGroup{
		Name:        name,
		Description: opts.Description,
		Selectors:   opts.Selectors,
	}
	if err := tx.WeightGroups().Add(group); err != nil {
		return nil, err
	}

	if opts.MakeDefault || len(existing) == 0 {
		if err := SetDefaultWeightGroup(tx, group.ID); err != nil {
			return nil, err
		}
	}

	logging.Info().Str("weight_group", name).Msg("added weight group")
	return group, nil
}

// WeightInput is one incoming weight row: label criteria that must
// identify exactly one index record, and the weight value.
type WeightInput struct {
	Labels map[string]string
	Value  float64
}

// InsertWeightsStats summarizes one batch load.
type InsertWeightsStats struct {
	Inserted       int
	SkippedNoMatch int
	SkippedDupe    int
	SkippedValue   int
}

// InsertWeights loads weight rows into a group. Rows whose labels
// match no index record, rows duplicating an already-weighted record,
// and rows with a negative value are counted and skipped rather than
// failing the batch. Group completeness is re-derived afterwards.
func InsertWeights(tx Tx, weightGroupID uint64, inputs []WeightInput) (*InsertWeightsStats, error) {
	group, err := tx.WeightGroups().Get(weightGroupID)
	if err != nil {
		return nil, err
	}

	existing, err := tx.Weights().FindByGroup(weightGroupID)
	if err != nil {
		return nil, err
	}
	weighted := make(map[uint64]struct{}, len(existing))
	for _, weight := range existing {
		weighted[weight.IndexID] = struct{}{}
	}

	stats := &InsertWeightsStats{}
	for _, input := range inputs {
		if input.Value < 0 {
			stats.SkippedValue++
			continue
		}
		matches, err := tx.Indexes().FilterByLabels(input.Labels, false)
		if err != nil {
			return nil, err
		}
		if len(matches) != 1 {
			stats.SkippedNoMatch++
			continue
		}
		record := matches[0]
		if _, dup := weighted[record.ID]; dup {
			stats.SkippedDupe++
			continue
		}
		weight := &Weight{
			WeightGroupID: weightGroupID,
			IndexID:       record.ID,
			Value:         input.Value,
		}
		if err := tx.Weights().Add(weight); err != nil {
			return nil, err
		}
		weighted[record.ID] = struct{}{}
		stats.Inserted++
	}

	if err := refreshWeightGroupCompleteness(tx, group); err != nil {
		return nil, err
	}

	logging.Info().
		Str("weight_group", group.Name).
		Int("inserted", stats.Inserted).
		Int("skipped_no_match", stats.SkippedNoMatch).
		Int("skipped_dupe", stats.SkippedDupe).
		Int("skipped_value", stats.SkippedValue).
		Msg("inserted weights")
	return stats, nil
}

// ConflictPolicy decides what AddOrResolveWeights does when an
// incoming row targets an index record that already has a weight in
// the group.
type ConflictPolicy int

const (
	// OnConflictAbort fails the whole batch on the first conflict.
	OnConflictAbort ConflictPolicy = iota

	// OnConflictSkip leaves the stored weight untouched.
	OnConflictSkip

	// OnConflictOverwrite replaces the stored value.
	OnConflictOverwrite

	// OnConflictSum adds the incoming value to the stored one.
	OnConflictSum
)

func (p ConflictPolicy) String() string {
	switch p {
	case OnConflictAbort:
		return "abort"
	case OnConflictSkip:
		return "skip"
	case OnConflictOverwrite:
		return "overwrite"
	case OnConflictSum:
		return "sum"
	}
	return "unknown"
}

// ParseConflictPolicy parses the policy names accepted on the command
// line: abort, skip, overwrite, sum.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch s {
	case "abort":
		return OnConflictAbort, nil
	case "skip":
		return OnConflictSkip, nil
	case "overwrite":
		return OnConflictOverwrite, nil
	case "sum":
		return OnConflictSum, nil
	}
	return 0, errors.NewValidationError("on_conflict", s,
		"must be abort, skip, overwrite, or sum")
}

// ResolveWeightsStats summarizes one add-or-resolve batch.
type ResolveWeightsStats struct {
	Inserted       int
	Overwritten    int
	Summed         int
	SkippedDupe    int
	SkippedNoMatch int
	SkippedValue   int
}

// AddOrResolveWeights loads weight rows into a group like
// InsertWeights, but applies policy when a row targets an
// already-weighted record instead of always skipping it.
func AddOrResolveWeights(
	tx Tx,
	weightGroupID uint64,
	inputs []WeightInput,
	policy ConflictPolicy,
) (*ResolveWeightsStats, error) {
	group, err := tx.WeightGroups().Get(weightGroupID)
	if err != nil {
		return nil, err
	}

	stats := &ResolveWeightsStats{}
	for _, input := range inputs {
		if input.Value < 0 {
			stats.SkippedValue++
			continue
		}
		matches, err := tx.Indexes().FilterByLabels(input.Labels, false)
		if err != nil {
			return nil, err
		}
		if len(matches) != 1 {
			stats.SkippedNoMatch++
			continue
		}
		record := matches[0]

		stored, err := tx.Weights().FindByGroupAndIndex(weightGroupID, record.ID)
		switch {
		case errors.IsNotFound(err):
			weight := &Weight{
				WeightGroupID: weightGroupID,
				IndexID:       record.ID,
				Value:         input.Value,
			}
			if err := tx.Weights().Add(weight); err != nil {
				return nil, err
			}
			stats.Inserted++
		case err != nil:
			return nil, err
		default:
			switch policy {
			case OnConflictAbort:
				return nil, errors.NewValidationError("labels", input.Labels,
					"index record already weighted in group "+group.Name)
			case OnConflictSkip:
				stats.SkippedDupe++
			case OnConflictOverwrite:
				stored.Value = input.Value
				if err := tx.Weights().Update(stored); err != nil {
					return nil, err
				}
				stats.Overwritten++
			case OnConflictSum:
				stored.Value += input.Value
				if err := tx.Weights().Update(stored); err != nil {
					return nil, err
				}
				stats.Summed++
			}
		}
	}

	if err := refreshWeightGroupCompleteness(tx, group); err != nil {
		return nil, err
	}

	logging.Info().
		Str("weight_group", group.Name).
		Str("on_conflict", policy.String()).
		Int("inserted", stats.Inserted).
		Int("overwritten", stats.Overwritten).
		Int("summed", stats.Summed).
		Int("skipped_dupe", stats.SkippedDupe).
		Int("skipped_no_match", stats.SkippedNoMatch).
		Int("skipped_value", stats.SkippedValue).
		Msg("resolved weights")
	return stats, nil
}

// WeightGroupEdit carries the fields EditWeightGroup may change. Nil
// pointers leave a field untouched; a nil Selectors slice is also
// untouched (pass an empty slice to clear).
type WeightGroupEdit struct {
	Name        *string
	Description *string
	Selectors   []string
	MakeDefault *bool
}

// EditWeightGroup updates a group's metadata. Only MakeDefault true is
// honored; the default designation moves between groups rather than
// being cleared.
func EditWeightGroup(tx Tx, weightGroupID uint64, edit WeightGroupEdit) (*WeightGroup, error) {
	group, err := tx.WeightGroups().Get(weightGroupID)
	if err != nil {
		return nil, err
	}

	if edit.Name != nil && *edit.Name != group.Name {
		if *edit.Name == "" {
			return nil, errors.NewValidationError("name", *edit.Name,
				"weight group name cannot be empty")
		}
		if _, err := tx.WeightGroups().GetByName(*edit.Name); err == nil {
			return nil, errors.NewValidationError("name", *edit.Name,
				"weight group already exists")
		} else if !errors.IsNotFound(err) {
			return nil, err
		}
		group.Name = *edit.Name
	}
	if edit.Description != nil {
		group.Description = *edit.Description
	}
	if edit.Selectors != nil {
		for _, raw := range edit.Selectors {
			if _, err := selectors.Parse(raw); err != nil {
				return nil, err
			}
		}
		group.Selectors = edit.Selectors
	}

	if err := tx.WeightGroups().Update(group); err != nil {
		return nil, err
	}
	if edit.MakeDefault != nil && *edit.MakeDefault {
		if err := SetDefaultWeightGroup(tx, group.ID); err != nil {
			return nil, err
		}
	}

	logging.Info().Str("weight_group", group.Name).Msg("edited weight group")
	return group, nil
}

// DeleteWeightGroup removes a group and all of its weights. When the
// group was the node's default, the default designation is cleared.
func DeleteWeightGroup(tx Tx, weightGroupID uint64) error {
	group, err := tx.WeightGroups().Get(weightGroupID)
	if err != nil {
		return err
	}

	weights, err := tx.Weights().FindByGroup(weightGroupID)
	if err != nil {
		return err
	}
	for _, weight := range weights {
		if err := tx.Weights().Delete(weight.ID); err != nil {
			return err
		}
	}
	if err := tx.WeightGroups().Delete(weightGroupID); err != nil {
		return err
	}

	defaultID, err := DefaultWeightGroupID(tx)
	if err == nil && defaultID == weightGroupID {
		if err := tx.Properties().Delete(propDefaultWeightGroupID); err != nil {
			return err
		}
	} else if err != nil && !errors.IsNotFound(err) {
		return err
	}

	logging.Info().Str("weight_group", group.Name).
		Int("weights", len(weights)).Msg("deleted weight group")
	return nil
}

// WeightsByIndex returns a group's weight values keyed by index id.
func WeightsByIndex(tx Tx, weightGroupID uint64) (map[uint64]float64, error) {
	weights, err := tx.Weights().FindByGroup(weightGroupID)
	if err != nil {
		return nil, err
	}
	byIndex := make(map[uint64]float64, len(weights))
	for _, weight := range weights {
		byIndex[weight.IndexID] = weight.Value
	}
	return byIndex, nil
}

// refreshWeightGroupCompleteness sets IsComplete when every defined
// index record carries a weight in the group.
func refreshWeightGroupCompleteness(tx Tx, group *WeightGroup) error {
	weights, err := tx.Weights().FindByGroup(group.ID)
	if err != nil {
		return err
	}
	definedWeights := 0
	for _, weight := range weights {
		if weight.IndexID != UndefinedID {
			definedWeights++
		}
	}
	definedRecords, err := tx.Indexes().Cardinality(false)
	if err != nil {
		return err
	}

	complete := definedRecords > 0 && definedWeights == definedRecords
	if group.IsComplete != complete {
		group.IsComplete = complete
		return tx.WeightGroups().Update(group)
	}
	return nil
}
