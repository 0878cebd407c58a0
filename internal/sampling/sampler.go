// Package sampling draws labels from weighted categorical tables.
//
// Every draw takes an explicit *rand.Rand so callers decide whether a stream
// is seeded, shared or private to a worker.
package sampling

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

var (
	// ErrInvalidInput is returned for a malformed weight table: no entries,
	// or a weight that is not a positive finite number.
	ErrInvalidInput = errors.New("sampling: invalid input")

	// ErrConfiguration is returned when a conditioned lookup has no table for
	// the requested key.
	ErrConfiguration = errors.New("sampling: configuration error")
)

// Entry is one (label, weight) pair of a weight table.
type Entry[T any] struct {
	Label  T
	Weight float64
}

// E builds an Entry.
func E[T any](label T, weight float64) Entry[T] {
	return Entry[T]{Label: label, Weight: weight}
}

// Table is a validated, ordered weight table. The zero value is not usable;
// build tables with NewTable or MustTable.
type Table[T any] struct {
	entries []Entry[T]
	// cumulative[i] is the sum of weights 0..i
	cumulative []float64
}

// NewTable validates the entries and returns a table ready for drawing.
// Weights need not sum to one.
func NewTable[T any](entries ...Entry[T]) (Table[T], error) {
	if len(entries) == 0 {
		return Table[T]{}, fmt.Errorf("%w: empty weight table", ErrInvalidInput)
	}
	cumulative := make([]float64, len(entries))
	var total float64
	for i, e := range entries {
		if !(e.Weight > 0) || math.IsInf(e.Weight, 0) {
			return Table[T]{}, fmt.Errorf("%w: entry %d (%v) has weight %v", ErrInvalidInput, i, e.Label, e.Weight)
		}
		total += e.Weight
		cumulative[i] = total
	}
	owned := make([]Entry[T], len(entries))
	copy(owned, entries)
	return Table[T]{entries: owned, cumulative: cumulative}, nil
}

// MustTable is NewTable for package-level constants. It panics on an invalid
// table.
func MustTable[T any](entries ...Entry[T]) Table[T] {
	t, err := NewTable(entries...)
	if err != nil {
		panic(err)
	}
	return t
}

// Len returns the number of entries.
func (t Table[T]) Len() int { return len(t.entries) }

// Entries returns a copy of the table entries in their original order.
func (t Table[T]) Entries() []Entry[T] {
	out := make([]Entry[T], len(t.entries))
	copy(out, t.entries)
	return out
}

// Total returns the sum of all weights.
func (t Table[T]) Total() float64 {
	if len(t.cumulative) == 0 {
		return 0
	}
	return t.cumulative[len(t.cumulative)-1]
}

// Draw returns one label; label i comes out with probability
// weight_i / Total(). Draw panics on the zero Table.
func (t Table[T]) Draw(rng *rand.Rand) T {
	if len(t.entries) == 1 {
		return t.entries[0].Label
	}
	u := rng.Float64() * t.Total()
	lo, hi := 0, len(t.cumulative)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if u < t.cumulative[mid] {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return t.entries[lo].Label
}

// Choose validates entries and draws from them in one call.
func Choose[T any](rng *rand.Rand, entries ...Entry[T]) (T, error) {
	t, err := NewTable(entries...)
	if err != nil {
		var zero T
		return zero, err
	}
	return t.Draw(rng), nil
}

// IntBetween draws uniformly from the inclusive range [lo, hi].
func IntBetween(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.IntN(hi-lo+1)
}

// Bernoulli reports true with probability p.
func Bernoulli(rng *rand.Rand, p float64) bool {
	return rng.Float64() < p
}

// SampleDistinct returns k distinct items picked uniformly without
// replacement, in draw order. k is capped at len(items).
func SampleDistinct[T any](rng *rand.Rand, items []T, k int) []T {
	if k > len(items) {
		k = len(items)
	}
	if k <= 0 {
		return nil
	}
	pool := make([]T, len(items))
	copy(pool, items)
	for i := 0; i < k; i++ {
		j := i + rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k:k]
}
