package node

import (
	stderrors "errors"

	"github.com/shawnbrown/toron/pkg/errors"
)

// reservedIdentifiers are names that can never be used as label
// columns because they collide with record identifiers or derived
// fields.
var reservedIdentifiers = map[string]struct{}{
	"index_id":       {},
	"location_id":    {},
	"structure_id":   {},
	"weight_id":      {},
	"quantity_id":    {},
	"value":          {},
	"granularity":    {},
	"mapping_level":  {},
	"other_index_id": {},
}

// Columns returns the node's label columns in definition order.
func Columns(tx Tx) ([]string, error) {
	var columns []string
	err := getProperty(tx, propIndexColumns, &columns)
	if stderrors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return columns, nil
}

// AddIndexColumns appends label columns to the node's schema. New
// columns must be non-empty, unique, not reserved, and must not
// collide with domain keys or quantity attribute names. Existing index
// records are extended with the undefined label; existing locations
// with the empty label. The structure is rebuilt afterwards.
func AddIndexColumns(tx Tx, newColumns ...string) error {
	if len(newColumns) == 0 {
		return errors.NewSchemaInvariantError("", "no columns given")
	}

	existing, err := Columns(tx)
	if err != nil {
		return err
	}
	domain, err := Domain(tx)
	if err != nil {
		return err
	}
	attributeNames, err := tx.AttributeGroups().AllAttributeNames()
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(existing))
	for _, col := range existing {
		seen[col] = struct{}{}
	}
	attributeSet := make(map[string]struct{}, len(attributeNames))
	for _, name := range attributeNames {
		attributeSet[name] = struct{}{}
	}

	for _, col := range newColumns {
		if col == "" {
			return errors.NewSchemaInvariantError(col, "empty column name")
		}
		if _, ok := reservedIdentifiers[col]; ok {
			return errors.NewSchemaInvariantError(col, "reserved identifier")
		}
		if _, ok := seen[col]; ok {
			return errors.NewSchemaInvariantError(col, "duplicate column name")
		}
		if _, ok := domain[col]; ok {
			return errors.NewSchemaInvariantError(col, "already used in the domain")
		}
		if _, ok := attributeSet[col]; ok {
			return errors.NewSchemaInvariantError(col, "already used as an attribute name")
		}
		seen[col] = struct{}{}
	}

	firstColumns := len(existing) == 0
	columns := append(append([]string{}, existing...), newColumns...)
	if err := setProperty(tx, propIndexColumns, columns); err != nil {
		return err
	}

	if firstColumns {
		// Seed the undefined record at id 0.
		undefined := make([]string, len(columns))
		for i := range undefined {
			undefined[i] = UndefinedLabel
		}
		if _, err := tx.Indexes().Add(undefined); err != nil {
			return err
		}
	} else {
		// Extend existing records to the new width.
		if err := extendRecords(tx, len(newColumns)); err != nil {
			return err
		}
	}

	return RebuildStructure(tx)
}

// extendRecords pads every index record with the undefined label and
// every location with the empty label, n columns each.
func extendRecords(tx Tx, n int) error {
	indexes, err := tx.Indexes().All()
	if err != nil {
		return err
	}
	for _, index := range indexes {
		index := index
		for i := 0; i < n; i++ {
			index.Labels = append(index.Labels, UndefinedLabel)
		}
		if err := tx.Indexes().Update(&index); err != nil {
			return err
		}
	}

	locations, err := tx.Locations().All()
	if err != nil {
		return err
	}
	for _, location := range locations {
		location := location
		for i := 0; i < n; i++ {
			location.Labels = append(location.Labels, "")
		}
		if err := tx.Locations().Update(&location); err != nil {
			return err
		}
	}
	return nil
}

// RenameIndexColumns renames label columns using the given old-to-new
// mapping. Category definitions are renamed in place; structure bits
// are positional and unaffected.
func RenameIndexColumns(tx Tx, mapping map[string]string) error {
	columns, err := Columns(tx)
	if err != nil {
		return err
	}

	columnSet := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		columnSet[col] = struct{}{}
	}
	for oldName := range mapping {
		if _, ok := columnSet[oldName]; !ok {
			return errors.NewSchemaInvariantError(oldName, "not an index column")
		}
	}

	renamed := make([]string, len(columns))
	seen := make(map[string]struct{}, len(columns))
	for i, col := range columns {
		name := col
		if newName, ok := mapping[col]; ok {
			name = newName
		}
		if name == "" {
			return errors.NewSchemaInvariantError(col, "empty column name")
		}
		if _, ok := reservedIdentifiers[name]; ok {
			return errors.NewSchemaInvariantError(name, "reserved identifier")
		}
		if _, ok := seen[name]; ok {
			return errors.NewSchemaInvariantError(name, "duplicate column name")
		}
		seen[name] = struct{}{}
		renamed[i] = name
	}

	if err := setProperty(tx, propIndexColumns, renamed); err != nil {
		return err
	}
	return renameCategoryColumns(tx, mapping, renamed)
}
