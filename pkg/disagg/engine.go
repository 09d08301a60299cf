// Package disagg disaggregates located quantities across index
// records and translates quantities between nodes along crosswalks.
//
// Every quantity attaches to a location whose populated columns pick
// out exactly one structure level. Disaggregation walks the levels
// from finest to coarsest and splits each quantity across the index
// records agreeing with its location on the populated columns, in
// proportion to a per-level weight source.
package disagg

import (
	"sort"
	"strings"

	"github.com/shawnbrown/toron/pkg/bitflags"
	"github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/logging"
	"github.com/shawnbrown/toron/pkg/node"
	"github.com/shawnbrown/toron/pkg/selectors"
)

// Strategy is the weight source used to split one quantity. The set
// is closed: static group weights, weights derived from finer-grained
// output already produced, or an equal split.
type Strategy interface {
	strategyName() string
}

// StaticWeights splits by the values of one weight group.
type StaticWeights struct {
	WeightGroupID uint64
}

// AdaptiveWeights splits by summed output from finer levels,
// optionally restricted to rows agreeing on MatchAttributes.
type AdaptiveWeights struct {
	MatchAttributes []string
}

// EqualSplit splits evenly across the defined candidate records.
type EqualSplit struct{}

func (StaticWeights) strategyName() string   { return "static" }
func (AdaptiveWeights) strategyName() string { return "adaptive" }
func (EqualSplit) strategyName() string      { return "equal" }

// Value is one disaggregated output row.
type Value struct {
	IndexID    uint64
	Labels     []string
	Attributes map[string]string
	Value      float64
}

// Static disaggregates every quantity using static weight groups,
// resolved per attribute dictionary by selector specificity with the
// node's default group as fallback. Results are summed by index record
// and attribute dictionary.
func Static(tx node.Tx) ([]Value, error) {
	return disaggregate(tx, false, nil)
}

// Adaptive disaggregates like Static, but levels other than the
// finest prefer weights derived from already-produced finer-grained
// output, keyed on matchAttributes when given (all attributes when
// nil), before falling back to static weights and then equal split.
func Adaptive(tx node.Tx, matchAttributes []string) ([]Value, error) {
	return disaggregate(tx, true, matchAttributes)
}

func disaggregate(tx node.Tx, adaptive bool, matchAttributes []string) ([]Value, error) {
	columns, err := node.Columns(tx)
	if err != nil {
		return nil, err
	}
	levels, err := node.StructureLevelsByGranularity(tx)
	if err != nil {
		return nil, err
	}
	quantities, err := tx.Quantities().All()
	if err != nil {
		return nil, err
	}
	resolver, err := newGroupResolver(tx)
	if err != nil {
		return nil, err
	}

	// Group quantities by their location's populated-column pattern;
	// each pattern belongs to at most one structure level.
	byPattern := make(map[bitflags.BitFlags][]node.Quantity)
	locationCache := make(map[uint64]*node.Location)
	for _, quantity := range quantities {
		location, err := cachedLocation(tx, locationCache, quantity.LocationID)
		if err != nil {
			return nil, err
		}
		pattern := locationPattern(location.Labels)
		byPattern[pattern] = append(byPattern[pattern], quantity)
	}

	attrCache := make(map[uint64]map[string]string)
	var accumulated []Value
	for _, level := range levels {
		for _, quantity := range byPattern[level.Bits] {
			location := locationCache[quantity.LocationID]
			attrs, err := cachedAttributes(tx, attrCache, quantity.AttributeGroupID)
			if err != nil {
				return nil, err
			}

			criteria := make(map[string]string)
			for i, col := range columns {
				if location.Labels[i] != "" {
					criteria[col] = location.Labels[i]
				}
			}
			candidates, err := tx.Indexes().FilterByLabels(criteria, true)
			if err != nil {
				return nil, err
			}
			if len(candidates) == 0 {
				continue
			}

			weights, strategy, err := resolveWeights(
				tx, resolver, candidates, attrs, accumulated, adaptive, matchAttributes)
			if err != nil {
				return nil, err
			}
			logging.Debug().
				Uint64("quantity_id", quantity.ID).
				Str("strategy", strategy.strategyName()).
				Int("candidates", len(candidates)).
				Msg("disaggregating quantity")

			shares := splitShares(candidates, weights)
			for _, candidate := range candidates {
				// Output rows cover defined records only; the
				// undefined record never receives disaggregated mass.
				if candidate.ID == node.UndefinedID {
					continue
				}
				share, ok := shares[candidate.ID]
				if !ok {
					continue
				}
				accumulated = append(accumulated, Value{
					IndexID:    candidate.ID,
					Labels:     candidate.Labels,
					Attributes: attrs,
					Value:      quantity.Value * share,
				})
			}
		}
	}

	return sumByIndexAndAttributes(accumulated), nil
}

// locationPattern maps a location's labels to the structure-level
// bitmask it belongs to: a bit is set iff the column is populated.
func locationPattern(labels []string) bitflags.BitFlags {
	bits := make([]bool, len(labels))
	for i, label := range labels {
		bits[i] = label != ""
	}
	return bitflags.FromBools(bits)
}

// resolveWeights picks the weight source for one quantity and returns
// the per-index weights it yields.
func resolveWeights(
	tx node.Tx,
	resolver *groupResolver,
	candidates []node.Index,
	attrs map[string]string,
	accumulated []Value,
	adaptive bool,
	matchAttributes []string,
) (map[uint64]float64, Strategy, error) {
	if adaptive {
		weights := adaptiveWeights(accumulated, candidates, attrs, matchAttributes)
		if sumWeights(weights) > 0 {
			return weights, AdaptiveWeights{MatchAttributes: matchAttributes}, nil
		}
	}

	groupID, ok := resolver.resolve(attrs)
	if ok {
		weights, err := node.WeightsByIndex(tx, groupID)
		if err != nil {
			return nil, nil, err
		}
		if candidateWeightSum(candidates, weights) > 0 {
			return weights, StaticWeights{WeightGroupID: groupID}, nil
		}
	}
	return nil, EqualSplit{}, nil
}

// adaptiveWeights sums already-produced output per candidate id,
// keeping only rows whose attributes agree with attrs on the matching
// key set (every attribute when matchAttributes is nil).
func adaptiveWeights(
	accumulated []Value,
	candidates []node.Index,
	attrs map[string]string,
	matchAttributes []string,
) map[uint64]float64 {
	candidateSet := make(map[uint64]struct{}, len(candidates))
	for _, candidate := range candidates {
		candidateSet[candidate.ID] = struct{}{}
	}

	weights := make(map[uint64]float64)
	for _, value := range accumulated {
		if _, ok := candidateSet[value.IndexID]; !ok {
			continue
		}
		if !attributesAgree(value.Attributes, attrs, matchAttributes) {
			continue
		}
		weights[value.IndexID] += value.Value
	}
	return weights
}

func attributesAgree(a, b map[string]string, keys []string) bool {
	if keys == nil {
		if len(a) != len(b) {
			return false
		}
		for key, value := range a {
			if b[key] != value {
				return false
			}
		}
		return true
	}
	for _, key := range keys {
		if a[key] != b[key] {
			return false
		}
	}
	return true
}

// splitShares computes each candidate's share of a quantity. With
// usable weights the split is proportional and an unweighted record
// gets 0.0. With no usable weights the split is equal across defined
// records, with the undefined record getting 0.0. A single candidate
// always takes the full value.
func splitShares(candidates []node.Index, weights map[uint64]float64) map[uint64]float64 {
	shares := make(map[uint64]float64, len(candidates))
	if len(candidates) == 1 {
		shares[candidates[0].ID] = 1.0
		return shares
	}

	total := candidateWeightSum(candidates, weights)
	if total > 0 {
		for _, candidate := range candidates {
			shares[candidate.ID] = weights[candidate.ID] / total
		}
		return shares
	}

	defined := 0
	for _, candidate := range candidates {
		if candidate.ID != node.UndefinedID {
			defined++
		}
	}
	for _, candidate := range candidates {
		if candidate.ID == node.UndefinedID {
			shares[candidate.ID] = 0.0
		} else {
			shares[candidate.ID] = 1.0 / float64(defined)
		}
	}
	return shares
}

func candidateWeightSum(candidates []node.Index, weights map[uint64]float64) float64 {
	total := 0.0
	for _, candidate := range candidates {
		total += weights[candidate.ID]
	}
	return total
}

func sumWeights(weights map[uint64]float64) float64 {
	total := 0.0
	for _, weight := range weights {
		total += weight
	}
	return total
}

// sumByIndexAndAttributes groups output rows by index record and
// attribute dictionary, summing values, ordered by index id then
// attribute key.
func sumByIndexAndAttributes(values []Value) []Value {
	type key struct {
		indexID uint64
		attrs   string
	}
	merged := make(map[key]int)
	var out []Value
	for _, value := range values {
		k := key{value.IndexID, canonicalAttributes(value.Attributes)}
		if i, ok := merged[k]; ok {
			out[i].Value += value.Value
			continue
		}
		merged[k] = len(out)
		out = append(out, value)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IndexID != out[j].IndexID {
			return out[i].IndexID < out[j].IndexID
		}
		return canonicalAttributes(out[i].Attributes) < canonicalAttributes(out[j].Attributes)
	})
	return out
}

func canonicalAttributes(attrs map[string]string) string {
	pairs := make([]string, 0, len(attrs))
	for key, value := range attrs {
		pairs = append(pairs, key+"\x1e"+value)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "\x1f")
}

// groupResolver picks the weight group for an attribute dictionary by
// greatest unique selector specificity, with the node's default group
// as fallback.
type groupResolver struct {
	candidates map[uint64][]selectors.Selector
	defaultID  uint64
	hasDefault bool
}

func newGroupResolver(tx node.Tx) (*groupResolver, error) {
	groups, err := tx.WeightGroups().All()
	if err != nil {
		return nil, err
	}

	resolver := &groupResolver{candidates: make(map[uint64][]selectors.Selector)}
	for _, group := range groups {
		parsed, err := selectors.ParseList(group.Selectors)
		if err != nil {
			return nil, err
		}
		resolver.candidates[group.ID] = parsed
	}

	defaultID, err := node.DefaultWeightGroupID(tx)
	if err == nil {
		resolver.defaultID = defaultID
		resolver.hasDefault = true
	} else if !errors.IsNotFound(err) {
		return nil, err
	}
	return resolver, nil
}

func (r *groupResolver) resolve(attrs map[string]string) (uint64, bool) {
	if len(r.candidates) == 0 {
		return 0, false
	}
	id := selectors.GetGreatestUniqueSpecificity(attrs, r.candidates, r.defaultID)
	if id == 0 && !r.hasDefault {
		return 0, false
	}
	return id, true
}

func cachedLocation(tx node.Tx, cache map[uint64]*node.Location, id uint64) (*node.Location, error) {
	if location, ok := cache[id]; ok {
		return location, nil
	}
	location, err := tx.Locations().Get(id)
	if err != nil {
		return nil, err
	}
	cache[id] = location
	return location, nil
}

func cachedAttributes(tx node.Tx, cache map[uint64]map[string]string, id uint64) (map[string]string, error) {
	if attrs, ok := cache[id]; ok {
		return attrs, nil
	}
	group, err := tx.AttributeGroups().Get(id)
	if err != nil {
		return nil, err
	}
	cache[id] = group.Attributes
	return group.Attributes, nil
}
