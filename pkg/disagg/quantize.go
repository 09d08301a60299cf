package disagg

import (
	"math"
	"sort"
)

// QuantizeItem pairs an index id with a fractional share.
type QuantizeItem struct {
	IndexID uint64
	Value   float64
}

// QuantizeValues redistributes sumTotal across items using the
// Largest Remainder Method. Each item keeps its whole part; the
// integer remainder of sumTotal is handed out one unit at a time,
// sign-aware, to the items with the largest fractional parts, and any
// leftover fractional remainder goes to the next item in that order.
// The output values sum to sumTotal exactly, and no item moves by
// more than one whole unit from its input.
func QuantizeValues(items []QuantizeItem, sumTotal float64) []QuantizeItem {
	if len(items) == 0 {
		return nil
	}

	out := make([]QuantizeItem, len(items))
	fracs := make([]float64, len(items))
	sumWhole := 0.0
	for i, item := range items {
		whole := math.Trunc(item.Value)
		out[i] = QuantizeItem{IndexID: item.IndexID, Value: whole}
		fracs[i] = item.Value - whole
		sumWhole += whole
	}

	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return math.Abs(fracs[order[a]]) > math.Abs(fracs[order[b]])
	})

	remainder := sumTotal - sumWhole
	units := int(math.Abs(math.Trunc(remainder)))
	unit := math.Copysign(1, remainder)
	for k := 0; k < units; k++ {
		out[order[k%len(order)]].Value += unit
	}

	leftover := remainder - math.Trunc(remainder)
	if leftover != 0 {
		out[order[units%len(order)]].Value += leftover
	}
	return out
}
