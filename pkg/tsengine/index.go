// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

package tsengine

import (
	"sort"

	"github.com/cespare/xxhash/v2"
)

// LabelIndex is an inverted index from label name to label value to the
// set of series keys carrying it, maintained synchronously with series
// creation and deletion (spec §3, "LabelIndex"). It never mutates during
// ADD. Iteration order over a result set is insertion order of series
// into the engine (spec §4.4).
type LabelIndex struct {
	// byLabel[name][value] -> set of series keys.
	byLabel map[string]map[string]map[string]struct{}
	// order records the insertion sequence of every currently indexed
	// series key; Remove drops a key's entry.
	order map[string]int
	seq   int
}

// NewLabelIndex constructs an empty index.
func NewLabelIndex() *LabelIndex {
	return &LabelIndex{
		byLabel: make(map[string]map[string]map[string]struct{}),
		order:   make(map[string]int),
	}
}

// Add indexes a newly-created series under its labels and records its
// insertion order.
func (idx *LabelIndex) Add(key string, labels []Label) {
	if _, ok := idx.order[key]; !ok {
		idx.order[key] = idx.seq
		idx.seq++
	}
	for _, l := range labels {
		vals, ok := idx.byLabel[l.Name]
		if !ok {
			vals = make(map[string]map[string]struct{})
			idx.byLabel[l.Name] = vals
		}
		keys, ok := vals[l.Value]
		if !ok {
			keys = make(map[string]struct{})
			vals[l.Value] = keys
		}
		keys[key] = struct{}{}
	}
}

// Remove deletes a series' entries from the index entirely (spec §5,
// "Destruction cascades").
func (idx *LabelIndex) Remove(key string, labels []Label) {
	for _, l := range labels {
		if vals, ok := idx.byLabel[l.Name]; ok {
			if keys, ok := vals[l.Value]; ok {
				delete(keys, key)
				if len(keys) == 0 {
					delete(vals, l.Value)
				}
			}
			if len(vals) == 0 {
				delete(idx.byLabel, l.Name)
			}
		}
	}
	delete(idx.order, key)
}

// positiveKeys returns the set of series keys carrying label name=value.
func (idx *LabelIndex) positiveKeys(name, value string) map[string]struct{} {
	if vals, ok := idx.byLabel[name]; ok {
		if keys, ok := vals[value]; ok {
			return keys
		}
	}
	return nil
}

// Select evaluates a parsed selector against the index and returns the
// matching series keys in insertion order (spec §4.4): intersect the
// positive-value predicates' key sets, then filter by the remaining
// predicates using the supplied label lookup.
func (idx *LabelIndex) Select(preds []predicate, labelsOf func(key string) []Label) []string {
	var candidate map[string]struct{}
	for _, p := range preds {
		if p.kind != predEquals {
			continue
		}
		keys := idx.positiveKeys(p.name, p.value)
		if candidate == nil {
			candidate = make(map[string]struct{}, len(keys))
			for k := range keys {
				candidate[k] = struct{}{}
			}
			continue
		}
		for k := range candidate {
			if _, ok := keys[k]; !ok {
				delete(candidate, k)
			}
		}
	}
	if len(candidate) == 0 {
		return nil
	}

	result := make([]string, 0, len(candidate))
outer:
	for k := range candidate {
		labels := labelsOf(k)
		lookup := func(name string) (string, bool) {
			for _, l := range labels {
				if l.Name == name {
					return l.Value, true
				}
			}
			return "", false
		}
		for _, p := range preds {
			if p.kind == predEquals {
				continue // already satisfied by construction
			}
			v, present := lookup(p.name)
			switch p.kind {
			case predNotEquals:
				if !present || v == p.value {
					continue outer
				}
			case predAbsent:
				if present {
					continue outer
				}
			case predPresent:
				if !present {
					continue outer
				}
			}
		}
		result = append(result, k)
	}

	sort.Slice(result, func(i, j int) bool {
		return idx.order[result[i]] < idx.order[result[j]]
	})
	return result
}

// selectorHash computes a stable hash of a selector's token slice, used
// by the query-time LRU cache (pkg/tsengine/query.go) to memoize
// selector evaluation without holding the tokens themselves as the map
// key, mirroring the cache key hashing pattern the teacher applies to
// cacheutil's memcached keys.
func selectorHash(toks []string) uint64 {
	var joined string
	for _, t := range toks {
		joined += t + "\x00"
	}
	return xxhash.Sum64String(joined)
}
