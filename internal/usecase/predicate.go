package usecase

// Predicate reports whether a cached row satisfies a filter.
type Predicate[T any] func(T) bool

// And is satisfied when every predicate is. With no predicates it matches everything.
func And[T any](preds ...Predicate[T]) Predicate[T] {
	return func(v T) bool {
		for _, pred := range preds {
			if !pred(v) {
				return false
			}
		}
		return true
	}
}

// Where returns the rows matching pred, leaving rows untouched.
func Where[T any](rows []T, pred Predicate[T]) []T {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if pred(row) {
			out = append(out, row)
		}
	}
	return out
}

type idSet map[int64]struct{}

func newIDSet(ids ...int64) idSet {
	set := make(idSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (s idSet) has(id int64) bool {
	_, ok := s[id]
	return ok
}

// intersect keeps the ids of left that also appear in right, preserving left's order.
func intersect(left, right []int64) []int64 {
	allowed := newIDSet(right...)
	out := make([]int64, 0, len(left))
	for _, id := range left {
		if allowed.has(id) {
			out = append(out, id)
		}
	}
	return out
}

func distinct(ids []int64) []int64 {
	seen := make(idSet, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen.has(id) {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
