package node

import (
	"github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/logging"
)

// QuantityInput is one incoming quantity row. Location labels follow
// the node's index columns; an empty string marks an unpopulated
// column, which is how a quantity attaches to a coarser structure
// level. A nil Value marks a row whose value could not be read.
type QuantityInput struct {
	Location   []string
	Attributes map[string]string
	Value      *float64
}

// InsertQuantitiesStats summarizes one batch load.
type InsertQuantitiesStats struct {
	Inserted          int
	SkippedEmptyAttrs int
	SkippedValue      int
	SkippedWidth      int
}

// InsertQuantities loads quantity rows, creating location and
// attribute-group records on first use. Rows with no attributes, no
// value, or the wrong label width are counted and skipped; the rest of
// the batch proceeds.
func InsertQuantities(tx Tx, inputs []QuantityInput) (*InsertQuantitiesStats, error) {
	columns, err := Columns(tx)
	if err != nil {
		return nil, err
	}

	stats := &InsertQuantitiesStats{}
	for _, input := range inputs {
		if len(input.Location) != len(columns) {
			stats.SkippedWidth++
			continue
		}
		if len(input.Attributes) == 0 || attributesAllEmpty(input.Attributes) {
			stats.SkippedEmptyAttrs++
			continue
		}
		if input.Value == nil {
			stats.SkippedValue++
			continue
		}

		location, err := getOrCreateLocation(tx, input.Location)
		if err != nil {
			return nil, err
		}
		group, err := getOrCreateAttributeGroup(tx, input.Attributes)
		if err != nil {
			return nil, err
		}

		quantity := &Quantity{
			LocationID:       location.ID,
			AttributeGroupID: group.ID,
			Value:            *input.Value,
		}
		if err := tx.Quantities().Add(quantity); err != nil {
			return nil, err
		}
		stats.Inserted++
	}

	logging.Info().
		Int("inserted", stats.Inserted).
		Int("skipped_empty_attrs", stats.SkippedEmptyAttrs).
		Int("skipped_value", stats.SkippedValue).
		Int("skipped_width", stats.SkippedWidth).
		Msg("inserted quantities")
	return stats, nil
}

func attributesAllEmpty(attributes map[string]string) bool {
	for _, value := range attributes {
		if value != "" {
			return false
		}
	}
	return true
}

func getOrCreateLocation(tx Tx, labels []string) (*Location, error) {
	location, err := tx.Locations().FindByLabels(labels)
	if err == nil {
		return location, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}
	return tx.Locations().Add(labels)
}

func getOrCreateAttributeGroup(tx Tx, attributes map[string]string) (*AttributeGroup, error) {
	group, err := tx.AttributeGroups().FindByAttributes(attributes)
	if err == nil {
		return group, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}
	copied := make(map[string]string, len(attributes))
	for key, value := range attributes {
		if value != "" {
			copied[key] = value
		}
	}
	return tx.AttributeGroups().Add(copied)
}
