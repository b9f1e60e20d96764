// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

package tsengine

import (
	lru "github.com/hashicorp/golang-lru"
)

// RangeSample is one (timestamp, formatted-value) reply element (spec
// §4.2, §6).
type RangeSample struct {
	T uint64
	V string
}

// Range returns samples with from <= t <= to in order (spec §4.2). It
// walks chunks, skipping those that cannot contain a matching sample.
func Range(s *Series, from, to uint64) []RangeSample {
	var out []RangeSample
	s.walk(from, to, func(smp Sample) {
		out = append(out, RangeSample{T: smp.T, V: formatValue(smp.V)})
	})
	return out
}

// RangeAggregated yields one sample per bucket containing >= 1 source
// sample (spec §4.2). Bucket keys are floor(t/bucketSize)*bucketSize.
// The aggregator is applied fresh per bucket: query-time aggregation
// never touches a rule's persisted AggContext.
func RangeAggregated(s *Series, from, to uint64, agg Aggregator, bucketSize uint64) []RangeSample {
	var (
		out      []RangeSample
		cur      uint64
		curAcc   accumulator
		haveCur  bool
	)
	flush := func() {
		if haveCur {
			out = append(out, RangeSample{T: cur, V: formatValue(curAcc.finalize(agg))})
		}
	}
	s.walk(from, to, func(smp Sample) {
		b := bucketStart(smp.T, bucketSize)
		if !haveCur || b != cur {
			flush()
			cur = b
			curAcc = newAccumulator()
			haveCur = true
		}
		curAcc.fold(agg, smp.V)
	})
	flush()
	return out
}

// selectorCache is a bounded LRU of evaluated label selectors, keyed by
// a hash of their token slice, mapping to the resolved series-key slice.
// It is invalidated wholesale on any series create/delete, the way a
// cache fronting a small, frequently-mutated index is expected to behave
// (modeled on the teacher's pkg/store/cache caching-bucket pattern,
// generalized here to an in-process LRU via hashicorp/golang-lru instead
// of an external cache backend).
type selectorCache struct {
	cache *lru.Cache
}

func newSelectorCache(size int) *selectorCache {
	if size <= 0 {
		size = 256
	}
	c, _ := lru.New(size)
	return &selectorCache{cache: c}
}

func (sc *selectorCache) get(toks []string) ([]string, bool) {
	v, ok := sc.cache.Get(selectorHash(toks))
	if !ok {
		return nil, false
	}
	return v.([]string), true
}

func (sc *selectorCache) put(toks []string, keys []string) {
	sc.cache.Add(selectorHash(toks), keys)
}

func (sc *selectorCache) purge() {
	sc.cache.Purge()
}
