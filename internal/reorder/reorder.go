// Package reorder renumbers positioned collections. Channels and groups both
// keep a dense 0..N-1 position space, and both reuse the same move logic
// through the position/apply callbacks.
package reorder

import "fmt"

// Move relocates the item currently at position from so it ends up at
// position to, shifting every item in between by one so positions remain a
// dense permutation of 0..len(items)-1.
//
// apply is invoked exactly once per item whose position changes, with the
// item and its new position. If apply fails the move stops and the error is
// returned as-is; items already applied are not rolled back, so callers that
// need atomicity must make apply transactional.
func Move[T any](items []T, position func(T) int, from, to int, apply func(item T, newPos int) error) error {
	n := len(items)
	if from < 0 || from >= n {
		return fmt.Errorf("reorder: from position %d out of range 0..%d", from, n-1)
	}
	if to < 0 || to >= n {
		return fmt.Errorf("reorder: to position %d out of range 0..%d", to, n-1)
	}
	if from == to {
		return nil
	}

	moved := false
	for _, it := range items {
		p := position(it)
		switch {
		case p == from:
			moved = true
			if err := apply(it, to); err != nil {
				return err
			}
		case from < to && p > from && p <= to:
			if err := apply(it, p-1); err != nil {
				return err
			}
		case from > to && p >= to && p < from:
			if err := apply(it, p+1); err != nil {
				return err
			}
		}
	}

	if !moved {
		return fmt.Errorf("reorder: no item at position %d", from)
	}
	return nil
}

// Remove closes the gap left by deleting the item that held position
// removed: every item past it shifts down by one. The deleted item itself
// must already be gone from items.
func Remove[T any](items []T, position func(T) int, removed int, apply func(item T, newPos int) error) error {
	if removed < 0 {
		return fmt.Errorf("reorder: removed position %d out of range", removed)
	}
	for _, it := range items {
		if p := position(it); p > removed {
			if err := apply(it, p-1); err != nil {
				return err
			}
		}
	}
	return nil
}

// Verify reports whether positions form a dense 0..len(items)-1 permutation.
func Verify[T any](items []T, position func(T) int) error {
	seen := make([]bool, len(items))
	for _, it := range items {
		p := position(it)
		if p < 0 || p >= len(items) {
			return fmt.Errorf("reorder: position %d out of range 0..%d", p, len(items)-1)
		}
		if seen[p] {
			return fmt.Errorf("reorder: duplicate position %d", p)
		}
		seen[p] = true
	}
	return nil
}
