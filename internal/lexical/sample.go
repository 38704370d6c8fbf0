package lexical

import "figmapedia/kbservice/internal/domain"

// Sample picks up to n items spread across sections in proportion to each
// section's size. Items without a section form their own group. A corpus
// with no sections is sampled as a plain prefix.
func Sample(items []domain.Item, n int) []domain.Item {
	if n <= 0 || len(items) == 0 {
		return []domain.Item{}
	}
	if len(items) <= n {
		return append([]domain.Item(nil), items...)
	}

	var order []string
	groups := make(map[string][]domain.Item)
	for _, it := range items {
		if _, ok := groups[it.Section]; !ok {
			order = append(order, it.Section)
		}
		groups[it.Section] = append(groups[it.Section], it)
	}
	if len(order) == 1 {
		return append([]domain.Item(nil), items[:n]...)
	}

	quota := make(map[string]int, len(order))
	assigned := 0
	for _, key := range order {
		q := len(groups[key]) * n / len(items)
		if q == 0 {
			q = 1
		}
		quota[key] = q
		assigned += q
	}
	// Rounding leftovers go to the groups in first-seen order.
	for i := 0; assigned < n; i = (i + 1) % len(order) {
		key := order[i]
		if quota[key] < len(groups[key]) {
			quota[key]++
			assigned++
		}
	}

	out := make([]domain.Item, 0, n)
	for _, key := range order {
		group := groups[key]
		take := min(quota[key], len(group))
		out = append(out, group[:take]...)
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}
