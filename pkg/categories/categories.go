// Package categories builds and minimizes the join-semilattice of
// discrete categories that organizes data within a node.
//
// A category is a set of label-column names believed to be discrete in
// the modeled domain. The structure generated from a list of categories
// is the closure of that list under set union. Union closure is used
// instead of intersection closure on purpose: a union involving an
// accidentally-invalid category is more specific than its components,
// which preserves context and makes the mistake noticeable, while an
// intersection would be less specific and could silently lose context.
package categories

import (
	"sort"
	"strings"

	"github.com/shawnbrown/toron/pkg/bitflags"
)

// Category is a set of label-column names.
type Category map[string]struct{}

// New creates a Category from the given column names.
func New(columns ...string) Category {
	c := make(Category, len(columns))
	for _, col := range columns {
		c[col] = struct{}{}
	}
	return c
}

// Contains reports whether the category includes the given column.
func (c Category) Contains(column string) bool {
	_, ok := c[column]
	return ok
}

// Len returns the number of columns in the category.
func (c Category) Len() int {
	return len(c)
}

// Columns returns the category's column names in sorted order.
func (c Category) Columns() []string {
	cols := make([]string, 0, len(c))
	for col := range c {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Union returns a new category holding every column of c and other.
func (c Category) Union(other Category) Category {
	merged := make(Category, len(c)+len(other))
	for col := range c {
		merged[col] = struct{}{}
	}
	for col := range other {
		merged[col] = struct{}{}
	}
	return merged
}

// Equal reports whether two categories hold the same columns.
func (c Category) Equal(other Category) bool {
	if len(c) != len(other) {
		return false
	}
	for col := range c {
		if _, ok := other[col]; !ok {
			return false
		}
	}
	return true
}

// SubsetOf reports whether every column of c is in other.
func (c Category) SubsetOf(other Category) bool {
	if len(c) > len(other) {
		return false
	}
	for col := range c {
		if _, ok := other[col]; !ok {
			return false
		}
	}
	return true
}

// Bits encodes the category as a bit mask aligned to the given
// column order. Columns not present in the order are dropped.
func (c Category) Bits(columns []string) bitflags.BitFlags {
	bits := make([]bool, len(columns))
	for i, col := range columns {
		bits[i] = c.Contains(col)
	}
	return bitflags.FromBools(bits)
}

// FromBits decodes a bit mask back into a Category using the given
// column order.
func FromBits(f bitflags.BitFlags, columns []string) Category {
	c := make(Category)
	for i, col := range columns {
		if f.Get(i) {
			c[col] = struct{}{}
		}
	}
	return c
}

// String returns a readable representation such as "{county, state}".
func (c Category) String() string {
	return "{" + strings.Join(c.Columns(), ", ") + "}"
}

// MakeStructure returns all unique unions from the given list of
// discrete categories, including the empty set, preserving first-seen
// order. The result is a join-semilattice over the inputs.
//
// The enumeration walks every combination of the inputs, sizes 0
// through n, so the cost is O(2^n) in the number of categories. That
// is acceptable because categories are domain-curated, never per-row.
func MakeStructure(discreteCategories []Category) []Category {
	var structure []Category
	n := len(discreteCategories)
	for length := 0; length <= n; length++ {
		forEachCombination(n, length, func(indexes []int) {
			unioned := New()
			for _, i := range indexes {
				unioned = unioned.Union(discreteCategories[i])
			}
			if !containsCategory(structure, unioned) {
				structure = append(structure, unioned)
			}
		})
	}
	return structure
}

// MinimizeDiscreteCategories returns a minimal list of base categories
// sufficient to generate every category in every given base.
//
// Categories are processed in order of increasing size so that smaller
// sets serve as the basis for building larger ones; a category is kept
// only when the structure generated by the already-kept categories
// cannot reproduce it.
func MinimizeDiscreteCategories(bases ...[]Category) []Category {
	var all []Category
	for _, base := range bases {
		all = append(all, base...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return len(all[i]) < len(all[j])
	})

	var kept []Category
	for _, category := range all {
		structure := MakeStructure(kept)
		if !containsCategory(structure, category) {
			kept = append(kept, category)
		}
	}
	return kept
}

// forEachCombination calls fn with every k-combination of indexes
// 0..n-1 in lexicographic order. The slice passed to fn is reused
// between calls.
func forEachCombination(n, k int, fn func(indexes []int)) {
	if k > n {
		return
	}
	indexes := make([]int, k)
	for i := range indexes {
		indexes[i] = i
	}
	for {
		fn(indexes)

		// Advance to the next combination.
		i := k - 1
		for i >= 0 && indexes[i] == n-k+i {
			i--
		}
		if i < 0 {
			return
		}
		indexes[i]++
		for j := i + 1; j < k; j++ {
			indexes[j] = indexes[j-1] + 1
		}
	}
}

func containsCategory(list []Category, c Category) bool {
	for _, existing := range list {
		if existing.Equal(c) {
			return true
		}
	}
	return false
}
