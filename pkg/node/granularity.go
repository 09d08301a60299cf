package node

import (
	"math"
	"strings"
)

// CalculateGranularity returns the granularity of the level defined by
// the given columns, or nil when the column list is empty or the index
// holds no defined records.
//
// The metric is the Shannon-entropy "granularity measure of a
// partition" (Wierman 1999; Yao 2003, Eq. 6):
//
//	log2|U| - sum( |A_i|/|U| * log2|A_i| )
//
// where U is the set of defined index records and A_i the partitions
// of U grouped by the level's columns.
func CalculateGranularity(tx Tx, columns []string) (*float64, error) {
	if len(columns) == 0 {
		return nil, nil
	}

	total, err := tx.Indexes().Cardinality(false)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}

	distinct, err := tx.Indexes().DistinctLabels(columns, false)
	if err != nil {
		return nil, err
	}

	uncertainty := 0.0
	for _, labels := range distinct {
		criteria := make(map[string]string, len(columns))
		for i, col := range columns {
			criteria[col] = labels[i]
		}
		matched, err := tx.Indexes().FilterByLabels(criteria, false)
		if err != nil {
			return nil, err
		}
		cardinality := float64(len(matched))
		uncertainty += (cardinality / float64(total)) * math.Log2(cardinality)
	}

	granularity := math.Log2(float64(total)) - uncertainty
	return &granularity, nil
}

// labelKey joins a label tuple into a single map key. The unit
// separator cannot appear in label values.
func labelKey(labels []string) string {
	return strings.Join(labels, "\x1f")
}
