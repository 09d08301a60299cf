package node

import (
	"github.com/shawnbrown/toron/pkg/bitflags"
	"github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/logging"
)

// ExportDocument is the portable YAML form of a node: identity,
// schema, index records, weights, quantities, and incoming crosswalks.
// Derived state (hashes, proportions, completeness flags) is omitted
// and recomputed on import.
type ExportDocument struct {
	UniqueID           string            `yaml:"unique_id"`
	Domain             map[string]string `yaml:"domain,omitempty"`
	IndexColumns       []string          `yaml:"index_columns"`
	DiscreteCategories [][]string        `yaml:"discrete_categories,omitempty"`
	Index              []ExportIndex     `yaml:"index"`
	WeightGroups       []ExportGroup     `yaml:"weight_groups,omitempty"`
	Quantities         []ExportQuantity  `yaml:"quantities,omitempty"`
	Crosswalks         []ExportCrosswalk `yaml:"crosswalks,omitempty"`
}

// ExportIndex is one index record. Ids are only meaningful within the
// document; import assigns fresh ids and remaps references.
type ExportIndex struct {
	ID     uint64   `yaml:"id"`
	Labels []string `yaml:"labels"`
}

// ExportGroup is one weight group with its weights.
type ExportGroup struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Selectors   []string       `yaml:"selectors,omitempty"`
	IsDefault   bool           `yaml:"is_default,omitempty"`
	Weights     []ExportWeight `yaml:"weights,omitempty"`
}

// ExportWeight ties a weight value to an index id of the document.
type ExportWeight struct {
	IndexID uint64  `yaml:"index_id"`
	Value   float64 `yaml:"value"`
}

// ExportQuantity is one located quantity row.
type ExportQuantity struct {
	Location   []string          `yaml:"location"`
	Attributes map[string]string `yaml:"attributes"`
	Value      float64           `yaml:"value"`
}

// ExportCrosswalk is one incoming crosswalk with its relations.
type ExportCrosswalk struct {
	OtherUniqueID     string            `yaml:"other_unique_id"`
	OtherFilenameHint string            `yaml:"other_filename_hint,omitempty"`
	Name              string            `yaml:"name"`
	Description       string            `yaml:"description,omitempty"`
	Selectors         []string          `yaml:"selectors,omitempty"`
	IsDefault         bool              `yaml:"is_default,omitempty"`
	UserProperties    map[string]string `yaml:"user_properties,omitempty"`
	Relations         []ExportRelation  `yaml:"relations"`
}

// ExportRelation is one relation row. MappingLevel lists the column
// names the mapping specified; absent means the mapping was exact.
type ExportRelation struct {
	OtherIndexID uint64   `yaml:"other_index_id"`
	IndexID      uint64   `yaml:"index_id"`
	Value        float64  `yaml:"value"`
	MappingLevel []string `yaml:"mapping_level,omitempty"`
}

// ExportNode collects the node's full state into a document.
func ExportNode(tx Tx) (*ExportDocument, error) {
	doc := &ExportDocument{}
	var err error
	if doc.UniqueID, err = UniqueID(tx); err != nil {
		return nil, err
	}
	if doc.Domain, err = Domain(tx); err != nil {
		return nil, err
	}
	if len(doc.Domain) == 0 {
		doc.Domain = nil
	}
	if doc.IndexColumns, err = Columns(tx); err != nil {
		return nil, err
	}

	cats, err := DiscreteCategories(tx)
	if err != nil {
		return nil, err
	}
	for _, cat := range cats {
		doc.DiscreteCategories = append(doc.DiscreteCategories, cat.Columns())
	}

	records, err := tx.Indexes().All()
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.ID == UndefinedID {
			continue
		}
		doc.Index = append(doc.Index, ExportIndex{ID: record.ID, Labels: record.Labels})
	}

	defaultGroupID, err := DefaultWeightGroupID(tx)
	if err != nil && !errors.IsNotFound(err) {
		return nil, err
	}
	groups, err := tx.WeightGroups().All()
	if err != nil {
		return nil, err
	}
	for _, group := range groups {
		exported := ExportGroup{
			Name:        group.Name,
			Description: group.Description,
			Selectors:   group.Selectors,
			IsDefault:   group.ID == defaultGroupID,
		}
		weights, err := tx.Weights().FindByGroup(group.ID)
		if err != nil {
			return nil, err
		}
		for _, weight := range weights {
			exported.Weights = append(exported.Weights, ExportWeight{
				IndexID: weight.IndexID,
				Value:   weight.Value,
			})
		}
		doc.WeightGroups = append(doc.WeightGroups, exported)
	}

	quantities, err := tx.Quantities().All()
	if err != nil {
		return nil, err
	}
	for _, quantity := range quantities {
		location, err := tx.Locations().Get(quantity.LocationID)
		if err != nil {
			return nil, err
		}
		group, err := tx.AttributeGroups().Get(quantity.AttributeGroupID)
		if err != nil {
			return nil, err
		}
		doc.Quantities = append(doc.Quantities, ExportQuantity{
			Location:   location.Labels,
			Attributes: group.Attributes,
			Value:      quantity.Value,
		})
	}

	crosswalks, err := tx.Crosswalks().All()
	if err != nil {
		return nil, err
	}
	for _, crosswalk := range crosswalks {
		exported := ExportCrosswalk{
			OtherUniqueID:     crosswalk.OtherUniqueID,
			OtherFilenameHint: crosswalk.OtherFilenameHint,
			Name:              crosswalk.Name,
			Description:       crosswalk.Description,
			Selectors:         crosswalk.Selectors,
			IsDefault:         crosswalk.IsDefault,
			UserProperties:    crosswalk.UserProperties,
		}
		relations, err := tx.Relations().FindByCrosswalk(crosswalk.ID)
		if err != nil {
			return nil, err
		}
		for _, relation := range relations {
			if relation.OtherIndexID == UndefinedID && relation.IndexID == UndefinedID {
				continue // re-created on import
			}
			row := ExportRelation{
				OtherIndexID: relation.OtherIndexID,
				IndexID:      relation.IndexID,
				Value:        relation.Value,
			}
			if relation.MappingLevel != nil {
				for i, col := range doc.IndexColumns {
					if relation.MappingLevel.Get(i) {
						row.MappingLevel = append(row.MappingLevel, col)
					}
				}
			}
			exported.Relations = append(exported.Relations, row)
		}
		doc.Crosswalks = append(doc.Crosswalks, exported)
	}
	return doc, nil
}

// ImportNode loads a document into an empty node. The node must have
// no index columns yet; the document's unique id, when present,
// replaces the node's own so crosswalk references keep resolving.
func ImportNode(tx Tx, doc *ExportDocument) error {
	existing, err := Columns(tx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return errors.NewValidationError("index_columns", existing,
			"cannot import into a node that already has index columns")
	}
	if len(doc.IndexColumns) == 0 {
		return errors.NewValidationError("index_columns", nil,
			"document defines no index columns")
	}

	if doc.UniqueID != "" {
		if err := SetUniqueID(tx, doc.UniqueID); err != nil {
			return err
		}
	}
	if err := AddIndexColumns(tx, doc.IndexColumns...); err != nil {
		return err
	}

	// Document ids need not be dense; remap them as records are added.
	idMap := map[uint64]uint64{UndefinedID: UndefinedID}
	for _, record := range doc.Index {
		added, err := tx.Indexes().Add(record.Labels)
		if err != nil {
			return err
		}
		idMap[record.ID] = added.ID
	}
	if err := RefreshIndexHash(tx); err != nil {
		return err
	}
	if err := RefreshStructureGranularity(tx); err != nil {
		return err
	}

	if len(doc.DiscreteCategories) > 0 {
		cats := toCategories(doc.DiscreteCategories)
		if err := AddDiscreteCategories(tx, cats); err != nil {
			return err
		}
	}
	if len(doc.Domain) > 0 {
		if err := SetDomain(tx, doc.Domain); err != nil {
			return err
		}
	}

	for _, exported := range doc.WeightGroups {
		group, err := AddWeightGroup(tx, exported.Name, &WeightGroupOptions{
			Description: exported.Description,
			Selectors:   exported.Selectors,
			MakeDefault: exported.IsDefault,
		})
		if err != nil {
			return err
		}
		for _, row := range exported.Weights {
			indexID, ok := idMap[row.IndexID]
			if !ok {
				return errors.NewValidationError("index_id", row.IndexID,
					"weight references an index record absent from the document")
			}
			weight := &Weight{
				WeightGroupID: group.ID,
				IndexID:       indexID,
				Value:         row.Value,
			}
			if err := tx.Weights().Add(weight); err != nil {
				return err
			}
		}
		if err := refreshWeightGroupCompleteness(tx, group); err != nil {
			return err
		}
	}

	if len(doc.Quantities) > 0 {
		inputs := make([]QuantityInput, 0, len(doc.Quantities))
		for _, row := range doc.Quantities {
			row := row
			inputs = append(inputs, QuantityInput{
				Location:   row.Location,
				Attributes: row.Attributes,
				Value:      &row.Value,
			})
		}
		if _, err := InsertQuantities(tx, inputs); err != nil {
			return err
		}
	}

	columnIndex := make(map[string]int, len(doc.IndexColumns))
	for i, col := range doc.IndexColumns {
		columnIndex[col] = i
	}
	for _, exported := range doc.Crosswalks {
		relations := make([]RelationInput, 0, len(exported.Relations))
		for _, row := range exported.Relations {
			indexID, ok := idMap[row.IndexID]
			if !ok {
				return errors.NewValidationError("index_id", row.IndexID,
					"relation references an index record absent from the document")
			}
			input := RelationInput{
				OtherIndexID: row.OtherIndexID,
				IndexID:      indexID,
				Value:        row.Value,
			}
			if row.MappingLevel != nil {
				bits := make([]bool, len(doc.IndexColumns))
				for _, col := range row.MappingLevel {
					i, ok := columnIndex[col]
					if !ok {
						return errors.NewValidationError("mapping_level", col,
							"not an index column")
					}
					bits[i] = true
				}
				input.MappingLevel = BitFlagsPtr(bitflags.FromBools(bits))
			}
			relations = append(relations, input)
		}
		isDefault := exported.IsDefault
		_, err := AddIncomingEdge(tx, exported.OtherUniqueID, exported.Name, relations,
			&CrosswalkOptions{
				Description:       exported.Description,
				Selectors:         exported.Selectors,
				OtherFilenameHint: exported.OtherFilenameHint,
				UserProperties:    exported.UserProperties,
				MakeDefault:       &isDefault,
			})
		if err != nil {
			return err
		}
	}

	logging.Info().
		Str("unique_id", doc.UniqueID).
		Int("index_records", len(doc.Index)).
		Int("weight_groups", len(doc.WeightGroups)).
		Int("quantities", len(doc.Quantities)).
		Int("crosswalks", len(doc.Crosswalks)).
		Msg("imported node document")
	return nil
}
