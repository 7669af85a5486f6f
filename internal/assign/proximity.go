package assign

import (
	"math"
	"sort"
)

// suppress drops the weaker of any two assignments whose box centers are
// closer than factor times the smaller box size. Kept assignments retain
// their input order.
func suppress(assigned []Assignment, factor float64) ([]Assignment, []Suppressed) {
	if len(assigned) < 2 || factor <= 0 {
		return assigned, nil
	}

	order := make([]int, len(assigned))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return assigned[order[a]].Score > assigned[order[b]].Score
	})

	keptBy := make([]int, len(assigned))
	var winners []int
	for _, i := range order {
		keptBy[i] = -1
		for _, w := range winners {
			if tooClose(assigned[i], assigned[w], factor) {
				keptBy[i] = w
				break
			}
		}
		if keptBy[i] < 0 {
			winners = append(winners, i)
		}
	}

	kept := make([]Assignment, 0, len(winners))
	var dropped []Suppressed
	for i, a := range assigned {
		if w := keptBy[i]; w >= 0 {
			dropped = append(dropped, Suppressed{Assignment: a, KeptBy: assigned[w].DetectionID})
			continue
		}
		kept = append(kept, a)
	}
	return kept, dropped
}

func tooClose(a, b Assignment, factor float64) bool {
	ax, ay := a.Box.Center()
	bx, by := b.Box.Center()
	limit := min(a.Box.Size(), b.Box.Size()) * factor
	return math.Hypot(ax-bx, ay-by) < limit
}
