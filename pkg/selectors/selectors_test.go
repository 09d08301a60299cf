package selectors_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/selectors"
)

func TestParseSimple(t *testing.T) {
	t.Run("presence", func(t *testing.T) {
		sel, err := selectors.Parse("[edition]")
		require.NoError(t, err)
		assert.True(t, sel.Match(map[string]string{"edition": "2024"}))
		assert.False(t, sel.Match(map[string]string{"series": "acs"}))
		assert.Equal(t, selectors.Specificity{1, 0}, sel.Specificity())
	})

	t.Run("equality", func(t *testing.T) {
		sel, err := selectors.Parse(`[edition="2024"]`)
		require.NoError(t, err)
		assert.True(t, sel.Match(map[string]string{"edition": "2024"}))
		assert.False(t, sel.Match(map[string]string{"edition": "2023"}))
		assert.Equal(t, selectors.Specificity{1, 1}, sel.Specificity())
	})

	t.Run("single quotes", func(t *testing.T) {
		sel, err := selectors.Parse(`[series='acs']`)
		require.NoError(t, err)
		assert.True(t, sel.Match(map[string]string{"series": "acs"}))
	})

	t.Run("unquoted value", func(t *testing.T) {
		sel, err := selectors.Parse("[series=acs]")
		require.NoError(t, err)
		assert.True(t, sel.Match(map[string]string{"series": "acs"}))
	})
}

func TestParseOperators(t *testing.T) {
	attrs := map[string]string{"series": "acs-5yr", "notes": "revised draft copy"}

	cases := []struct {
		selector string
		want     bool
	}{
		{`[series^="acs"]`, true},
		{`[series^="5yr"]`, false},
		{`[series$="5yr"]`, true},
		{`[series$="acs"]`, false},
		{`[series*="-"]`, true},
		{`[series*="xyz"]`, false},
		{`[notes~="revised"]`, true},
		{`[notes~="revise"]`, false},
	}
	for _, tc := range cases {
		sel, err := selectors.Parse(tc.selector)
		require.NoError(t, err, tc.selector)
		assert.Equal(t, tc.want, sel.Match(attrs), tc.selector)
	}
}

func TestParseIgnoreCase(t *testing.T) {
	sel, err := selectors.Parse(`[edition="ACS" i]`)
	require.NoError(t, err)
	assert.True(t, sel.Match(map[string]string{"edition": "acs"}))
	assert.True(t, sel.Match(map[string]string{"edition": "Acs"}))
	assert.False(t, sel.Match(map[string]string{"edition": "dec"}))
}

func TestParseCompound(t *testing.T) {
	sel, err := selectors.Parse(`[series="acs"][year]`)
	require.NoError(t, err)

	assert.True(t, sel.Match(map[string]string{"series": "acs", "year": "2020"}))
	assert.False(t, sel.Match(map[string]string{"series": "acs"}))
	assert.Equal(t, selectors.Specificity{2, 1}, sel.Specificity())
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"",
		"edition",
		"[edition",
		"[]",
		`[= "2024"]`,
		`[edition="2024]`,
		"[edition i]",
	}
	for _, input := range cases {
		_, err := selectors.Parse(input)
		require.Error(t, err, "input %q", input)
		assert.True(t, pkgerrors.IsValidationError(err), "input %q", input)
	}
}

func TestParseList(t *testing.T) {
	sels, err := selectors.ParseList([]string{"[a]", `[b="1"]`})
	require.NoError(t, err)
	require.Len(t, sels, 2)

	_, err = selectors.ParseList([]string{"[a]", "bad"})
	assert.Error(t, err)
}

func TestSpecificityCompare(t *testing.T) {
	assert.Equal(t, 0, selectors.Specificity{1, 1}.Compare(selectors.Specificity{1, 1}))
	assert.Equal(t, -1, selectors.Specificity{1, 0}.Compare(selectors.Specificity{1, 1}))
	assert.Equal(t, 1, selectors.Specificity{2, 0}.Compare(selectors.Specificity{1, 1}))
}

func TestStringRoundTrip(t *testing.T) {
	for _, input := range []string{`[edition="2024"]`, "[series]", `[a="1"][b]`} {
		sel, err := selectors.Parse(input)
		require.NoError(t, err)
		again, err := selectors.Parse(sel.String())
		require.NoError(t, err)
		assert.Equal(t, sel.Specificity(), again.Specificity())
	}
}

func TestGetGreatestUniqueSpecificity(t *testing.T) {
	parse := func(t *testing.T, inputs ...string) []selectors.Selector {
		t.Helper()
		sels, err := selectors.ParseList(inputs)
		require.NoError(t, err)
		return sels
	}

	t.Run("picks most specific match", func(t *testing.T) {
		candidates := map[uint64][]selectors.Selector{
			1: parse(t, "[series]"),
			2: parse(t, `[series="acs"]`),
		}
		got := selectors.GetGreatestUniqueSpecificity(
			map[string]string{"series": "acs"}, candidates, 99)
		assert.Equal(t, uint64(2), got)
	})

	t.Run("tie falls back to default", func(t *testing.T) {
		candidates := map[uint64][]selectors.Selector{
			1: parse(t, `[series="acs"]`),
			2: parse(t, `[year="2020"]`),
		}
		got := selectors.GetGreatestUniqueSpecificity(
			map[string]string{"series": "acs", "year": "2020"}, candidates, 99)
		assert.Equal(t, uint64(99), got)
	})

	t.Run("no match falls back to default", func(t *testing.T) {
		candidates := map[uint64][]selectors.Selector{
			1: parse(t, `[series="dec"]`),
		}
		got := selectors.GetGreatestUniqueSpecificity(
			map[string]string{"series": "acs"}, candidates, 99)
		assert.Equal(t, uint64(99), got)
	})

	t.Run("best selector per candidate counts", func(t *testing.T) {
		candidates := map[uint64][]selectors.Selector{
			1: parse(t, "[series]", `[series="acs"][year="2020"]`),
			2: parse(t, `[series="acs"]`),
		}
		got := selectors.GetGreatestUniqueSpecificity(
			map[string]string{"series": "acs", "year": "2020"}, candidates, 99)
		assert.Equal(t, uint64(1), got)
	})
}
