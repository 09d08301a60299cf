package categories_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawnbrown/toron/pkg/bitflags"
	"github.com/shawnbrown/toron/pkg/categories"
)

func TestCategoryBasics(t *testing.T) {
	c := categories.New("state", "county")

	assert.Equal(t, 2, c.Len())
	assert.True(t, c.Contains("state"))
	assert.False(t, c.Contains("tract"))
	assert.Equal(t, []string{"county", "state"}, c.Columns())
	assert.Equal(t, "{county, state}", c.String())
}

func TestUnion(t *testing.T) {
	a := categories.New("A")
	b := categories.New("B", "C")

	got := a.Union(b)
	assert.True(t, got.Equal(categories.New("A", "B", "C")))

	// Inputs unchanged
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 2, b.Len())
}

func TestEqualAndSubset(t *testing.T) {
	assert.True(t, categories.New("A", "B").Equal(categories.New("B", "A")))
	assert.False(t, categories.New("A").Equal(categories.New("A", "B")))

	assert.True(t, categories.New("A").SubsetOf(categories.New("A", "B")))
	assert.True(t, categories.New().SubsetOf(categories.New("A")))
	assert.False(t, categories.New("A", "B").SubsetOf(categories.New("A")))
}

func TestBitsRoundTrip(t *testing.T) {
	columns := []string{"state", "county", "tract"}
	c := categories.New("state", "tract")

	bits := c.Bits(columns)
	assert.True(t, bits.Get(0))
	assert.False(t, bits.Get(1))
	assert.True(t, bits.Get(2))

	back := categories.FromBits(bits, columns)
	assert.True(t, c.Equal(back))
}

func TestMakeStructure(t *testing.T) {
	t.Run("basic open sets", func(t *testing.T) {
		got := categories.MakeStructure([]categories.Category{
			categories.New("A"),
			categories.New("B"),
			categories.New("B", "C"),
		})
		want := []categories.Category{
			categories.New(),
			categories.New("A"),
			categories.New("B"),
			categories.New("B", "C"),
			categories.New("A", "B"),
			categories.New("A", "B", "C"),
		}
		requireSameCategories(t, want, got)
	})

	t.Run("no intersection closure", func(t *testing.T) {
		// {B} is the intersection of the two inputs but must not be
		// derived; unions only.
		got := categories.MakeStructure([]categories.Category{
			categories.New("A", "B"),
			categories.New("B", "C"),
		})
		want := []categories.Category{
			categories.New(),
			categories.New("A", "B"),
			categories.New("B", "C"),
			categories.New("A", "B", "C"),
		}
		requireSameCategories(t, want, got)
	})

	t.Run("single chain of categories", func(t *testing.T) {
		got := categories.MakeStructure([]categories.Category{
			categories.New("A"),
			categories.New("A", "B"),
		})
		want := []categories.Category{
			categories.New(),
			categories.New("A"),
			categories.New("A", "B"),
		}
		requireSameCategories(t, want, got)
	})

	t.Run("empty input", func(t *testing.T) {
		got := categories.MakeStructure(nil)
		require.Len(t, got, 1)
		assert.Equal(t, 0, got[0].Len())
	})
}

func TestMakeStructureClosure(t *testing.T) {
	input := []categories.Category{
		categories.New("A"),
		categories.New("B", "C"),
		categories.New("C", "D"),
	}
	structure := categories.MakeStructure(input)

	// Closed under union of any pair of its own elements.
	for _, a := range structure {
		for _, b := range structure {
			assert.True(t, containsCategory(structure, a.Union(b)),
				"union of %v and %v missing from structure", a, b)
		}
	}

	// Always contains the empty category.
	assert.True(t, containsCategory(structure, categories.New()))

	// Idempotent under re-application.
	again := categories.MakeStructure(structure)
	assert.Len(t, again, len(structure))
	for _, c := range structure {
		assert.True(t, containsCategory(again, c))
	}
}

func TestMinimizeDiscreteCategories(t *testing.T) {
	t.Run("merges two bases", func(t *testing.T) {
		baseA := []categories.Category{
			categories.New("A"),
			categories.New("B"),
			categories.New("B", "C"),
		}
		baseB := []categories.Category{
			categories.New("A", "C"),
			categories.New("C"),
			categories.New("C", "D"),
		}
		got := categories.MinimizeDiscreteCategories(baseA, baseB)
		want := []categories.Category{
			categories.New("A"),
			categories.New("B"),
			categories.New("C"),
			categories.New("C", "D"),
		}
		requireSameCategories(t, want, got)
	})

	t.Run("coverage", func(t *testing.T) {
		// The structure generated from the minimized set reproduces
		// every category in every base.
		baseA := []categories.Category{
			categories.New("A"),
			categories.New("B"),
			categories.New("B", "C"),
		}
		baseB := []categories.Category{
			categories.New("A", "C"),
			categories.New("C"),
		}
		minimized := categories.MinimizeDiscreteCategories(baseA, baseB)
		structure := categories.MakeStructure(minimized)
		for _, base := range [][]categories.Category{baseA, baseB} {
			for _, c := range base {
				assert.True(t, containsCategory(structure, c),
					"minimized structure missing %v", c)
			}
		}
	})

	t.Run("fixed point", func(t *testing.T) {
		minimal := []categories.Category{
			categories.New("A"),
			categories.New("B"),
		}
		got := categories.MinimizeDiscreteCategories(minimal)
		requireSameCategories(t, minimal, got)
	})

	t.Run("drops derivable categories", func(t *testing.T) {
		got := categories.MinimizeDiscreteCategories([]categories.Category{
			categories.New("A"),
			categories.New("B"),
			categories.New("A", "B"), // derivable as union
		})
		requireSameCategories(t, []categories.Category{
			categories.New("A"),
			categories.New("B"),
		}, got)
	})
}

func TestStructureLevelBits(t *testing.T) {
	// A structure's levels encode to distinct masks over the column order.
	columns := []string{"A", "B"}
	structure := categories.MakeStructure([]categories.Category{
		categories.New("A"),
		categories.New("A", "B"),
	})

	seen := make(map[bitflags.BitFlags]bool)
	for _, level := range structure {
		seen[level.Bits(columns)] = true
	}
	assert.Len(t, seen, len(structure))
}

func requireSameCategories(t *testing.T, want, got []categories.Category) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]),
			"position %d: want %v, got %v", i, want[i], got[i])
	}
}

func containsCategory(list []categories.Category, c categories.Category) bool {
	for _, existing := range list {
		if existing.Equal(c) {
			return true
		}
	}
	return false
}
