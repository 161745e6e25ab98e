package util

import (
	"maps"
)

func SetEqual[K comparable, V any](a, b []V, key func(V) K, eq func(a, b V) bool) bool {
	if len(a) == 1 && len(b) == 1 {
		return eq(a[0], b[0])
	}

	// NB: duplicate keys collapse, so ["a", "a"] is set-equal to ["a"].
	m := make(map[K]V, len(a))
	for _, v := range a {
		m[key(v)] = v
	}

	n := make(map[K]V, len(b))
	for _, v := range b {
		n[key(v)] = v
	}

	return maps.EqualFunc(m, n, eq)
}

func PtrEqual[T comparable](a, b *T) bool {
	return FastEqual(a, b, func(a, b *T) bool { return *a == *b })
}

func FastEqual[V any](a, b *V, slowEqual func(a, b *V) bool) bool {
	if a == b {
		return true
	}

	if a == nil || b == nil {
		return false
	}

	return slowEqual(a, b)
}
