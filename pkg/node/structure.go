package node

import (
	stderrors "errors"
	"sort"

	"github.com/shawnbrown/toron/pkg/bitflags"
	"github.com/shawnbrown/toron/pkg/categories"
	"github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/hashing"
	"github.com/shawnbrown/toron/pkg/logging"
)

// DiscreteCategories returns the node's discrete categories. When none
// have been stored, the whole column space is the single default
// category; with no columns the result is empty.
func DiscreteCategories(tx Tx) ([]categories.Category, error) {
	var stored [][]string
	err := getProperty(tx, propDiscreteCategories, &stored)
	if stderrors.Is(err, errors.ErrNotFound) {
		columns, err := Columns(tx)
		if err != nil {
			return nil, err
		}
		if len(columns) == 0 {
			return nil, nil
		}
		return []categories.Category{categories.New(columns...)}, nil
	}
	if err != nil {
		return nil, err
	}

	cats := make([]categories.Category, 0, len(stored))
	for _, cols := range stored {
		cats = append(cats, categories.New(cols...))
	}
	return cats, nil
}

// setDiscreteCategories stores the category list.
func setDiscreteCategories(tx Tx, cats []categories.Category) error {
	stored := make([][]string, 0, len(cats))
	for _, cat := range cats {
		stored = append(stored, cat.Columns())
	}
	return setProperty(tx, propDiscreteCategories, stored)
}

// AddDiscreteCategories registers additional discrete categories and
// rebuilds the structure. Every category column must be an index
// column. Categories derivable from the kept set are dropped with a
// log notice rather than an error.
func AddDiscreteCategories(tx Tx, newCategories []categories.Category) error {
	columns, err := Columns(tx)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return errors.NewSchemaInvariantError("",
			"must add index columns before defining categories")
	}

	columnSet := categories.New(columns...)
	for _, cat := range newCategories {
		if !cat.SubsetOf(columnSet) {
			return errors.NewSchemaInvariantError(cat.String(),
				"category columns must be index columns")
		}
	}

	existing, err := DiscreteCategories(tx)
	if err != nil {
		return err
	}

	minimized := categories.MinimizeDiscreteCategories(
		newCategories, existing, []categories.Category{columnSet})

	var omitted []string
	for _, cat := range newCategories {
		kept := false
		for _, m := range minimized {
			if m.Equal(cat) {
				kept = true
				break
			}
		}
		if !kept {
			omitted = append(omitted, cat.String())
		}
	}
	if len(omitted) > 0 {
		logging.Warn().
			Strs("categories", omitted).
			Msg("omitting redundant categories")
	}

	if err := setDiscreteCategories(tx, minimized); err != nil {
		return err
	}
	return RebuildStructure(tx)
}

// RemoveDiscreteCategories removes the given categories and rebuilds
// the structure. The whole column space can never be removed; it is
// the implicit coarsest category.
func RemoveDiscreteCategories(tx Tx, remove []categories.Category) error {
	columns, err := Columns(tx)
	if err != nil {
		return err
	}
	columnSet := categories.New(columns...)

	existing, err := DiscreteCategories(tx)
	if err != nil {
		return err
	}

	var kept []categories.Category
	for _, cat := range existing {
		removed := false
		for _, r := range remove {
			if cat.Equal(r) {
				removed = true
				break
			}
		}
		if removed && cat.Equal(columnSet) {
			return errors.NewGranularityLossError(cat.Columns(),
				"cannot remove whole-space category")
		}
		if !removed {
			kept = append(kept, cat)
		}
	}

	minimized := categories.MinimizeDiscreteCategories(
		kept, []categories.Category{columnSet})
	if err := setDiscreteCategories(tx, minimized); err != nil {
		return err
	}
	return RebuildStructure(tx)
}

// renameCategoryColumns rewrites stored categories after a column
// rename. The structure is positional and needs no rebuild.
func renameCategoryColumns(tx Tx, mapping map[string]string, _ []string) error {
	var stored [][]string
	err := getProperty(tx, propDiscreteCategories, &stored)
	if stderrors.Is(err, errors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	for i, cols := range stored {
		for j, col := range cols {
			if newName, ok := mapping[col]; ok {
				stored[i][j] = newName
			}
		}
	}
	return setProperty(tx, propDiscreteCategories, stored)
}

// RebuildStructure regenerates the structure table from the discrete
// categories: one level per unique union, each with its bit mask over
// the current column order and a freshly calculated granularity.
func RebuildStructure(tx Tx) error {
	if err := tx.Structures().DeleteAll(); err != nil {
		return err
	}

	columns, err := Columns(tx)
	if err != nil {
		return err
	}
	cats, err := DiscreteCategories(tx)
	if err != nil {
		return err
	}

	for _, cat := range categories.MakeStructure(cats) {
		granularity, err := CalculateGranularity(tx, cat.Columns())
		if err != nil {
			return err
		}
		level := &StructureLevel{
			Granularity: granularity,
			Bits:        cat.Bits(columns),
		}
		if err := tx.Structures().Add(level); err != nil {
			return err
		}
	}
	return nil
}

// RefreshStructureGranularity recalculates the granularity of every
// structure level in place. Must run after any index insert, merge, or
// delete.
func RefreshStructureGranularity(tx Tx) error {
	columns, err := Columns(tx)
	if err != nil {
		return err
	}
	levels, err := tx.Structures().All()
	if err != nil {
		return err
	}
	for _, level := range levels {
		level := level
		granularity, err := CalculateGranularity(tx, level.Columns(columns))
		if err != nil {
			return err
		}
		level.Granularity = granularity
		if err := tx.Structures().Update(&level); err != nil {
			return err
		}
	}
	return nil
}

// StructureLevelsByGranularity returns the structure levels ordered
// most-to-least granular. Levels without a granularity sort last.
// This ordering drives the per-level walks of disaggregation and is
// load-bearing, not cosmetic.
func StructureLevelsByGranularity(tx Tx) ([]StructureLevel, error) {
	levels, err := tx.Structures().All()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(levels, func(i, j int) bool {
		gi, gj := levels[i].Granularity, levels[j].Granularity
		switch {
		case gi == nil:
			return false
		case gj == nil:
			return true
		default:
			return *gi > *gj
		}
	})
	return levels, nil
}

// AllowedMappingLevels returns the set of bit masks that relations may
// use as mapping levels under the current structure. The all-zero mask
// is excluded: it is a lattice element but never a valid mapping level.
func AllowedMappingLevels(tx Tx) (map[bitflags.BitFlags]struct{}, error) {
	levels, err := tx.Structures().All()
	if err != nil {
		return nil, err
	}
	allowed := make(map[bitflags.BitFlags]struct{}, len(levels))
	for _, level := range levels {
		if level.Bits.IsEmpty() {
			continue
		}
		allowed[level.Bits] = struct{}{}
	}
	return allowed, nil
}

// RefreshIndexHash recomputes the node's index fingerprint from the
// defined index ids. Must run after any insert or delete on the index.
func RefreshIndexHash(tx Tx) error {
	ids, err := tx.Indexes().AllIDs(false)
	if err != nil {
		return err
	}
	seq := hashing.NewSequenceHash()
	for _, id := range ids {
		if err := seq.AddValue(id); err != nil {
			return err
		}
	}
	return setProperty(tx, propIndexHash, seq.Hexdigest())
}
