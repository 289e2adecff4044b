package atomizer

import (
	"slices"

	"go.hackfix.me/schemer/schema"
)

// sortByReferences returns diffs sorted so that every table comes after the
// tables it references through foreign keys, either before or after the
// change. The sort is stable: unrelated tables keep their insertion order.
// Tables in a reference cycle are placed in insertion order once no other
// table can be placed.
func sortByReferences(diffs []schema.Diff) []schema.Diff {
	index := make(map[string]int, len(diffs))
	for i, d := range diffs {
		index[d.Table] = i
	}

	deps := make([][]int, len(diffs))
	for i, d := range diffs {
		refs := append(d.Before.References(), d.After.References()...)
		for _, ref := range refs {
			j, ok := index[ref]
			if ok && j != i && !slices.Contains(deps[i], j) {
				deps[i] = append(deps[i], j)
			}
		}
	}

	sorted := make([]schema.Diff, 0, len(diffs))
	placed := make([]bool, len(diffs))
	for len(sorted) < len(diffs) {
		progress := false
		for i, d := range diffs {
			if placed[i] {
				continue
			}
			ready := true
			for _, j := range deps[i] {
				if !placed[j] {
					ready = false
					break
				}
			}
			if ready {
				sorted = append(sorted, d)
				placed[i] = true
				progress = true
				// Restart, so earlier tables unblocked by this one keep their
				// relative order.
				break
			}
		}
		if !progress {
			// Cycle: place the first remaining table.
			for i, d := range diffs {
				if !placed[i] {
					sorted = append(sorted, d)
					placed[i] = true
					break
				}
			}
		}
	}

	return sorted
}
