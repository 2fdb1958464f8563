package usecase

import (
	"reflect"
	"testing"
)

func TestPredicateCombinators(t *testing.T) {
	even := Predicate[int](func(v int) bool { return v%2 == 0 })
	positive := Predicate[int](func(v int) bool { return v > 0 })
	rows := []int{-4, -1, 0, 2, 3, 8}

	if got := Where(rows, And(even, positive)); !reflect.DeepEqual(got, []int{2, 8}) {
		t.Fatalf("and: got %v", got)
	}
	if got := Where(rows, And[int]()); len(got) != len(rows) {
		t.Fatalf("empty and should match everything, got %v", got)
	}
}

func TestIDSetHelpers(t *testing.T) {
	if got := intersect([]int64{3, 1, 2, 1}, []int64{1, 3}); !reflect.DeepEqual(got, []int64{3, 1, 1}) {
		t.Fatalf("intersect: got %v", got)
	}
	if got := distinct([]int64{3, 1, 3, 2, 1}); !reflect.DeepEqual(got, []int64{3, 1, 2}) {
		t.Fatalf("distinct: got %v", got)
	}
}
