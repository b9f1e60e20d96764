// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

package tsengine

import (
	"math"
	"strings"
)

// Aggregator is a tagged enumeration of the supported downsampling/
// aggregation kinds (spec §4.3). The teacher dispatches on a similar
// kind-per-metric-name suffix in pkg/compact/downsample/downsample.go
// (downsampleSum/downsampleMin/downsampleMax/downsampleCount); here the
// dispatch is a single enum shared by both the incremental compaction
// path (AggContext) and the query-time path (rangeAggregated).
type Aggregator int

const (
	AggAvg Aggregator = iota
	AggSum
	AggMin
	AggMax
	AggCount
	AggFirst
	AggLast
	AggRange
)

// ParseAggregator accepts an aggregator name case-insensitively, per
// spec §4.3 ("Aggregator names are accepted case-insensitively").
func ParseAggregator(name string) (Aggregator, error) {
	switch strings.ToUpper(name) {
	case "AVG":
		return AggAvg, nil
	case "SUM":
		return AggSum, nil
	case "MIN":
		return AggMin, nil
	case "MAX":
		return AggMax, nil
	case "COUNT":
		return AggCount, nil
	case "FIRST":
		return AggFirst, nil
	case "LAST":
		return AggLast, nil
	case "RANGE":
		return AggRange, nil
	default:
		return 0, ErrUnknownAggregator
	}
}

// String renders the aggregator the way TS.INFO echoes it: uppercase.
func (a Aggregator) String() string {
	switch a {
	case AggAvg:
		return "AVG"
	case AggSum:
		return "SUM"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	case AggCount:
		return "COUNT"
	case AggFirst:
		return "FIRST"
	case AggLast:
		return "LAST"
	case AggRange:
		return "RANGE"
	default:
		return "UNKNOWN"
	}
}

// accumulator holds the per-kind running state for one open bucket. It
// is shared by AggContext (the persisted, incremental, rule-driven path)
// and by the transient per-bucket accumulators rangeAggregated builds at
// query time — the same tagged-variant dispatch, fresh each time.
type accumulator struct {
	sum      float64
	min      float64
	max      float64
	count    uint64
	first    float64
	firstSet bool
	last     float64
}

func newAccumulator() accumulator {
	return accumulator{
		min: math.MaxFloat64,
		max: -math.MaxFloat64,
	}
}

// fold incorporates one sample into the accumulator for aggregator a.
func (acc *accumulator) fold(a Aggregator, v float64) {
	switch a {
	case AggAvg, AggSum:
		acc.sum += v
	case AggMin:
		if v < acc.min {
			acc.min = v
		}
	case AggMax:
		if v > acc.max {
			acc.max = v
		}
	case AggRange:
		if v < acc.min {
			acc.min = v
		}
		if v > acc.max {
			acc.max = v
		}
	case AggFirst:
		if !acc.firstSet {
			acc.first = v
			acc.firstSet = true
		}
	case AggLast:
		acc.last = v
	}
	acc.count++
}

// finalize computes the closed-bucket value for aggregator a (spec §4.3
// table).
func (acc *accumulator) finalize(a Aggregator) float64 {
	switch a {
	case AggAvg:
		if acc.count == 0 {
			return 0
		}
		return acc.sum / float64(acc.count)
	case AggSum:
		return acc.sum
	case AggMin:
		return acc.min
	case AggMax:
		return acc.max
	case AggCount:
		return float64(acc.count)
	case AggFirst:
		return acc.first
	case AggLast:
		return acc.last
	case AggRange:
		return acc.max - acc.min
	default:
		return 0
	}
}

// bucketStart returns floor(t/bucketSize)*bucketSize (spec §4.3 step 1).
func bucketStart(t, bucketSize uint64) uint64 {
	return (t / bucketSize) * bucketSize
}
