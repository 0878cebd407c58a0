package sampling

import (
	"fmt"
	"math/rand/v2"
)

// Conditioned maps a closed set of conditioning keys to weight tables, e.g.
// treatment -> response table.
type Conditioned[K comparable, T any] struct {
	name   string
	tables map[K]Table[T]
}

// NewConditioned builds a conditioned table. name is used in error messages.
func NewConditioned[K comparable, T any](name string, tables map[K]Table[T]) Conditioned[K, T] {
	owned := make(map[K]Table[T], len(tables))
	for k, t := range tables {
		owned[k] = t
	}
	return Conditioned[K, T]{name: name, tables: owned}
}

// Lookup returns the table for key, or ErrConfiguration.
func (c Conditioned[K, T]) Lookup(key K) (Table[T], error) {
	t, ok := c.tables[key]
	if !ok || t.Len() == 0 {
		return Table[T]{}, fmt.Errorf("%w: %s has no table for key %v", ErrConfiguration, c.name, key)
	}
	return t, nil
}

// Draw looks up the table for key and draws from it.
func (c Conditioned[K, T]) Draw(rng *rand.Rand, key K) (T, error) {
	t, err := c.Lookup(key)
	if err != nil {
		var zero T
		return zero, err
	}
	return t.Draw(rng), nil
}

// Validate checks that every key of the closed set has a usable table.
func (c Conditioned[K, T]) Validate(keys ...K) error {
	for _, k := range keys {
		if _, err := c.Lookup(k); err != nil {
			return err
		}
	}
	return nil
}
