// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

package tsengine

// aggContext is the per-rule mutable state carrying the in-progress
// bucket (spec §3, "AggContext"). It is preserved across snapshot/
// restore so a partially filled bucket continues accumulating correctly
// after the host reopens the database.
type aggContext struct {
	initialized bool
	bucket      uint64
	acc         accumulator
}

// onSample folds (t, v) into the context for aggregator a / bucketSize b,
// returning the current open bucket's (bucketStart, value) so the caller
// can upsert it into the destination on every sample — not just when the
// bucket rolls over (spec §4.3 steps 1-4; the original RedisTimeSeries
// ground truth keeps the destination's last bucket continuously visible
// and growing, only its *value* changes until the next rollover closes
// it for good). rolledOver reports whether this sample opened a new
// bucket, i.e. the previously open bucket is now closed.
func (c *aggContext) onSample(a Aggregator, b uint64, t uint64, v float64) (bucket uint64, value float64, rolledOver bool) {
	nb := bucketStart(t, b)

	if !c.initialized {
		c.initialized = true
		c.bucket = nb
		c.acc = newAccumulator()
		c.acc.fold(a, v)
		return c.bucket, c.acc.finalize(a), false
	}

	if nb == c.bucket {
		c.acc.fold(a, v)
		return c.bucket, c.acc.finalize(a), false
	}

	// nb > c.bucket: the open bucket closes for good (its last upsert
	// already carries its final value), then a new one opens and seeds
	// with this sample.
	c.bucket = nb
	c.acc = newAccumulator()
	c.acc.fold(a, v)
	return c.bucket, c.acc.finalize(a), true
}

// destResolver looks up a series by key, returning nil if it does not
// exist. Rules reference their destination by key rather than by direct
// pointer (design notes §9), so that restore order and series deletion
// never leave a rule holding a dangling pointer; resolution happens
// fresh on every fan-out.
type destResolver func(key string) *Series

// CompactionRule binds a source series to a destination series through
// an aggregator and bucket size, and owns the AggContext that tracks the
// currently-open bucket (spec §3, "CompactionRule").
type CompactionRule struct {
	DestKey    string
	Aggregator Aggregator
	BucketSize uint64

	ctx      aggContext
	resolve  destResolver
	metrics  *metrics
}

func newCompactionRule(destKey string, agg Aggregator, bucketSize uint64, resolve destResolver) *CompactionRule {
	return &CompactionRule{
		DestKey:    destKey,
		Aggregator: agg,
		BucketSize: bucketSize,
		resolve:    resolve,
	}
}

// onSample runs the rule's aggregation step and upserts the current open
// bucket's value into the destination series on every source sample, the
// way the ground-truth original keeps a derived series' last bucket
// continuously visible and growing (spec §4.3 steps 1-4). A dangling
// destination (deleted or never restored) is tolerated: the upsert is
// simply skipped.
func (r *CompactionRule) onSample(t uint64, v float64) error {
	bucket, value, rolledOver := r.ctx.onSample(r.Aggregator, r.BucketSize, t, v)
	if rolledOver && r.metrics != nil {
		r.metrics.rulesFinalized.Inc()
	}
	dst := r.resolve(r.DestKey)
	if dst == nil {
		return nil
	}
	return dst.upsert(bucket, value)
}
