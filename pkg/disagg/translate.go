package disagg

import (
	"fmt"

	"github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/logging"
	"github.com/shawnbrown/toron/pkg/node"
	"github.com/shawnbrown/toron/pkg/selectors"
)

// IncomingValue is one quantity expressed in another node's index
// space: the external index id, its attribute dictionary, and the
// value to re-express locally.
type IncomingValue struct {
	OtherIndexID uint64
	Attributes   map[string]string
	Value        float64
}

// TranslateOptions configures Translate.
type TranslateOptions struct {
	// Quantize applies the Largest Remainder Method to each incoming
	// row's distributed portions, so whole-valued inputs stay whole
	// across the translation.
	Quantize bool
}

// Translate re-expresses incoming values in this node's index space.
// ref identifies the source node (unique id, filename hint, or a
// unique-id prefix). For each row the crosswalk is chosen by greatest
// unique selector specificity against the row's attributes, falling
// back to the node-pair's default crosswalk, which must be locally
// complete. Each value is multiplied by the matched relations'
// proportions and the result re-aggregated by local index id.
func Translate(tx node.Tx, ref string, rows []IncomingValue, opts *TranslateOptions) ([]Value, error) {
	if opts == nil {
		opts = &TranslateOptions{}
	}

	crosswalks, err := node.FindCrosswalksByRef(tx, ref)
	if err != nil {
		return nil, err
	}
	if len(crosswalks) == 0 {
		return nil, fmt.Errorf("no crosswalk matches %q: %w", ref, errors.ErrNotFound)
	}
	defaultCrosswalk, err := node.DefaultCrosswalk(crosswalks)
	if err != nil {
		return nil, err
	}
	if !defaultCrosswalk.IsLocallyComplete {
		return nil, errors.NewCompletenessError("crosswalk", defaultCrosswalk.Name)
	}

	candidates := make(map[uint64][]selectors.Selector, len(crosswalks))
	byID := make(map[uint64]*node.Crosswalk, len(crosswalks))
	for i := range crosswalks {
		crosswalk := &crosswalks[i]
		parsed, err := selectors.ParseList(crosswalk.Selectors)
		if err != nil {
			return nil, err
		}
		candidates[crosswalk.ID] = parsed
		byID[crosswalk.ID] = crosswalk
	}

	indexCache := make(map[uint64]*node.Index)
	var out []Value
	for _, row := range rows {
		crosswalkID := selectors.GetGreatestUniqueSpecificity(
			row.Attributes, candidates, defaultCrosswalk.ID)
		crosswalk := byID[crosswalkID]

		relations, err := tx.Relations().FindByCrosswalkAndOtherIndex(crosswalk.ID, row.OtherIndexID)
		if err != nil {
			return nil, err
		}

		portions := make([]QuantizeItem, 0, len(relations))
		for _, relation := range relations {
			proportion := 0.0
			if relation.Proportion != nil {
				proportion = *relation.Proportion
			}
			portions = append(portions, QuantizeItem{
				IndexID: relation.IndexID,
				Value:   row.Value * proportion,
			})
		}
		if opts.Quantize {
			portions = QuantizeValues(portions, row.Value)
		}

		for _, portion := range portions {
			record, err := cachedIndex(tx, indexCache, portion.IndexID)
			if err != nil {
				return nil, err
			}
			out = append(out, Value{
				IndexID:    portion.IndexID,
				Labels:     record.Labels,
				Attributes: row.Attributes,
				Value:      portion.Value,
			})
		}
	}

	logging.Info().
		Str("ref", ref).
		Int("rows", len(rows)).
		Int("portions", len(out)).
		Msg("translated incoming values")
	return sumByIndexAndAttributes(out), nil
}

func cachedIndex(tx node.Tx, cache map[uint64]*node.Index, id uint64) (*node.Index, error) {
	if record, ok := cache[id]; ok {
		return record, nil
	}
	record, err := tx.Indexes().Get(id)
	if err != nil {
		return nil, err
	}
	cache[id] = record
	return record, nil
}
