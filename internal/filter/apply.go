package filter

import (
	"slices"

	"migrator/internal/domain/entity"
)

// Apply keeps the indices accepted by indexPred and, within each, the
// sub-collections accepted by typePred. A nil predicate keeps everything.
// Indices left with no sub-collections are dropped. Input order is preserved
// and the input is not modified.
func Apply(indices []entity.Index, indexPred, typePred Predicate) []entity.Index {
	out := make([]entity.Index, 0, len(indices))
	for _, idx := range indices {
		if indexPred != nil && !indexPred(idx.Name) {
			continue
		}
		subs := make([]string, 0, len(idx.Subcollections))
		for _, sub := range idx.Subcollections {
			if typePred == nil || typePred(sub) {
				subs = append(subs, sub)
			}
		}
		if len(subs) == 0 {
			continue
		}
		out = append(out, entity.Index{Name: idx.Name, Subcollections: subs})
	}
	return out
}

// Sort orders indices by name with cmp, keeping the original order for ties.
// A nil cmp leaves the order unchanged.
func Sort(indices []entity.Index, cmp Comparator) {
	if cmp == nil {
		return
	}
	slices.SortStableFunc(indices, func(a, b entity.Index) int {
		return cmp(a.Name, b.Name)
	})
}
