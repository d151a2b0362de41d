package plan

import "slices"

// Comparison lists what changes when moving from one plan to another.
type Comparison struct {
	NewFeatures     []Feature
	LostFeatures    []Feature
	IncreasedLimits map[Metric]LimitChange
	DecreasedLimits map[Metric]LimitChange
}

type LimitChange struct {
	From int64
	To   int64
}

// HasDecreases reports whether any limit shrinks.
func (c Comparison) HasDecreases() bool {
	return len(c.DecreasedLimits) > 0
}

// Compare returns the differences between current and target. A metric
// missing from one side is treated as a cap of 0, matching GetLimit.
func Compare(current, target Plan) Comparison {
	cmp := Comparison{
		IncreasedLimits: make(map[Metric]LimitChange),
		DecreasedLimits: make(map[Metric]LimitChange),
	}

	for _, f := range target.Features {
		if !slices.Contains(current.Features, f) {
			cmp.NewFeatures = append(cmp.NewFeatures, f)
		}
	}
	for _, f := range current.Features {
		if !slices.Contains(target.Features, f) {
			cmp.LostFeatures = append(cmp.LostFeatures, f)
		}
	}

	metrics := make(map[Metric]struct{}, len(current.Limits)+len(target.Limits))
	for m := range current.Limits {
		metrics[m] = struct{}{}
	}
	for m := range target.Limits {
		metrics[m] = struct{}{}
	}

	for m := range metrics {
		from, to := GetLimit(current, m), GetLimit(target, m)
		if from == to {
			continue
		}
		change := LimitChange{From: from, To: to}
		switch {
		// Losing unlimited access is always a decrease.
		case IsUnlimited(from):
			cmp.DecreasedLimits[m] = change
		case IsUnlimited(to), to > from:
			cmp.IncreasedLimits[m] = change
		default:
			cmp.DecreasedLimits[m] = change
		}
	}
	return cmp
}
