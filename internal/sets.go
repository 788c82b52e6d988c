// Package internal provides internal utility functions used across the tagcache packages.
package internal

import (
	"math"
	"slices"
)

// AppendUnique appends v to s unless it is already present.
// It reports whether s changed.
func AppendUnique(s []string, v string) ([]string, bool) {
	if slices.Contains(s, v) {
		return s, false
	}
	return append(s, v), true
}

// Remove returns s without any occurrence of the values in drop.
// The input slice is not modified.
func Remove(s []string, drop ...string) []string {
	if len(drop) == 0 {
		return slices.Clone(s)
	}
	out := make([]string, 0, len(s))
	for _, v := range s {
		if !slices.Contains(drop, v) {
			out = append(out, v)
		}
	}
	return out
}

// Dedupe returns the distinct values of s in first-seen order.
func Dedupe(s []string) []string {
	seen := make(map[string]struct{}, len(s))
	out := make([]string, 0, len(s))
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Intersect returns the values present in every set, in the order of the first.
func Intersect(sets ...[]string) []string {
	if len(sets) == 0 {
		return nil
	}
	out := Dedupe(sets[0])
	for _, s := range sets[1:] {
		out = slices.DeleteFunc(out, func(v string) bool {
			return !slices.Contains(s, v)
		})
	}
	return out
}

// Union returns the distinct values of all sets in first-seen order.
func Union(sets ...[]string) []string {
	var all []string
	for _, s := range sets {
		all = append(all, s...)
	}
	return Dedupe(all)
}

// Round2 rounds f to two decimal places.
func Round2(f float64) float64 {
	return math.Round(f*100) / 100
}
