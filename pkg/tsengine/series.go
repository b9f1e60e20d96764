// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

package tsengine

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// defaultMaxSamplesPerChunk is the default chunk capacity (spec §3).
const defaultMaxSamplesPerChunk = 360

// Label is an ordered (name, value) pair. Series preserve the
// user-supplied order of their label list (spec §3).
type Label struct {
	Name  string
	Value string
}

// Series is a named, ordered, append-mostly sequence of samples backed
// by an ordered slice of fixed-capacity chunks, plus retention and
// compaction-rule metadata (spec §3, "Series").
type Series struct {
	Key                string
	Labels             []Label
	RetentionSecs      uint64
	MaxSamplesPerChunk int

	chunks        []*chunk
	lastTimestamp uint64
	hasData       bool

	// isDerived marks this series as the destination of a compaction
	// rule (set by the Engine on CREATERULE). A derived series may never
	// itself be the source of a rule (spec §4.3 CyclicRule).
	isDerived bool

	rules []*CompactionRule

	logger  log.Logger
	metrics *metrics
}

// NewSeries constructs an empty series with the given chunk capacity
// (0 selects the default) and retention in seconds (0 = infinite).
func NewSeries(key string, maxSamplesPerChunk int, retentionSecs uint64, labels []Label, logger log.Logger) *Series {
	if maxSamplesPerChunk <= 0 {
		maxSamplesPerChunk = defaultMaxSamplesPerChunk
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Series{
		Key:                key,
		Labels:             labels,
		RetentionSecs:      retentionSecs,
		MaxSamplesPerChunk: maxSamplesPerChunk,
		logger:             logger,
	}
}

// LastTimestamp returns the timestamp of the last sample and whether the
// series has any data at all.
func (s *Series) LastTimestamp() (uint64, bool) {
	return s.lastTimestamp, s.hasData
}

// ChunkCount reports the number of allocated chunks, used by TS.INFO.
func (s *Series) ChunkCount() int {
	return len(s.chunks)
}

// append is the sole mutation entry point for samples landing directly
// on the wire (spec §4.1). It enforces strict monotonicity, grows a new
// chunk when the tail is full, applies retention, and fans out to every
// outgoing compaction rule before returning — so that a client who
// receives an ADD acknowledgement can immediately RANGE a destination
// series and observe a just-finalized bucket (spec §5, "Ordering").
func (s *Series) append(t uint64, v float64) error {
	if s.hasData && t <= s.lastTimestamp {
		return errors.Wrapf(ErrBadTimestamp, "series %q: new timestamp %d <= last %d", s.Key, t, s.lastTimestamp)
	}
	s.rawAppend(t, v)
	return s.afterAppend(t, v)
}

// rawAppend performs the unconditional chunk-level write: grow a new
// chunk if the tail is full or absent, then write the sample.
func (s *Series) rawAppend(t uint64, v float64) {
	if len(s.chunks) == 0 || s.chunks[len(s.chunks)-1].full() {
		s.chunks = append(s.chunks, newChunk(s.MaxSamplesPerChunk))
	}
	s.chunks[len(s.chunks)-1].append(Sample{T: t, V: v})
	s.lastTimestamp = t
	s.hasData = true
}

// afterAppend applies retention and fans the new sample out to every
// outgoing rule, in the order the rules were created.
func (s *Series) afterAppend(t uint64, v float64) error {
	s.applyRetention()
	for _, r := range s.rules {
		if err := r.onSample(t, v); err != nil {
			level.Warn(s.logger).Log("msg", "compaction rule fan-out failed", "src", s.Key, "dst", r.DestKey, "err", err)
			return err
		}
	}
	return nil
}

// upsert overwrites the last sample's value in place if t equals
// lastTimestamp, otherwise appends (t, v) as a new sample through the
// normal monotonic append path. This is shared by appendAutoTimestamp's
// same-second update (spec §4.1) and by a compaction rule's destination
// write, which continuously upserts its currently open bucket on every
// source sample (spec §4.3).
func (s *Series) upsert(t uint64, v float64) error {
	if s.hasData && t == s.lastTimestamp {
		s.chunks[len(s.chunks)-1].overwriteLast(v)
		return s.afterAppend(t, v)
	}
	return s.append(t, v)
}

// appendAutoTimestamp uses the host's wall clock (the milliseconds since
// epoch that the engine's injected Now returns, passed in unchanged) for
// the timestamp. If the derived timestamp equals lastTimestamp, the last
// sample's value is overwritten rather than a new one appended — the one
// exception to strict monotonicity, and it applies only to automatic
// timestamps (spec §4.1).
func (s *Series) appendAutoTimestamp(t uint64, v float64) error {
	return s.upsert(t, v)
}

// incrBy/decrBy share this implementation (spec §4.1). now is the host's
// wall-clock timestamp; sign is +1 for incrBy, -1 for decrBy. The series
// holds a single running counter value: each call folds sign*delta into
// the current value, either by overwriting the last sample in place
// (when its timestamp already matches the write point) or by appending a
// fresh sample that carries the new running total forward.
//
// An in-place overwrite only updates the existing sample's value — it is
// not a new sample landing on the series, so unlike a normal append it
// does not re-run retention eviction (lastTimestamp, and therefore the
// retention cutoff, is unchanged) or re-fan-out to outgoing compaction
// rules (re-folding the same timestamp's updated value would double-count
// it in a rule's open bucket).
//
// With resetBucket set, the write point is the aligned bucket start and
// crossing into a new bucket restarts the counter at sign*delta instead
// of carrying the old total forward — the bucket's value is folded by
// repeated overwrites of the same sample until the bucket closes.
// Without resetBucket, the write point is now itself and the counter
// never resets.
func (s *Series) incrDecr(delta float64, sign float64, now uint64, resetBucket uint64) (uint64, error) {
	if resetBucket > 0 {
		bucket := bucketStart(now, resetBucket)
		if !s.hasData || s.lastTimestamp < bucket {
			if err := s.append(bucket, sign*delta); err != nil {
				return 0, err
			}
			return bucket, nil
		}
		s.overwriteLastValue(s.lastSampleValue() + sign*delta)
		return s.lastTimestamp, nil
	}

	if !s.hasData {
		if err := s.append(now, sign*delta); err != nil {
			return 0, err
		}
		return now, nil
	}
	if now == s.lastTimestamp {
		s.overwriteLastValue(s.lastSampleValue() + sign*delta)
		return now, nil
	}
	if err := s.append(now, s.lastSampleValue()+sign*delta); err != nil {
		return 0, err
	}
	return now, nil
}

func (s *Series) lastSampleValue() float64 {
	last := s.chunks[len(s.chunks)-1]
	return last.samples[len(last.samples)-1].V
}

func (s *Series) overwriteLastValue(v float64) {
	s.chunks[len(s.chunks)-1].overwriteLast(v)
}

// applyRetention drops whole leading chunks whose last timestamp falls
// strictly before lastTimestamp-RetentionSecs (spec §4.1). Retention is
// chunk-granular; partial-chunk truncation is never performed.
func (s *Series) applyRetention() {
	if s.RetentionSecs == 0 || !s.hasData {
		return
	}
	cutoff := int64(s.lastTimestamp) - int64(s.RetentionSecs)
	if cutoff <= 0 {
		return
	}
	i := 0
	for i < len(s.chunks) && int64(s.chunks[i].lastT()) < cutoff {
		i++
	}
	if i > 0 {
		level.Debug(s.logger).Log("msg", "retention dropped chunks", "series", s.Key, "dropped", i)
		s.chunks = s.chunks[i:]
		if s.metrics != nil {
			s.metrics.chunksDropped.Add(float64(i))
		}
	}
}

// walk invokes fn for every sample in [from, to], in order, skipping
// chunks that cannot contain a matching sample (spec §4.2 range).
func (s *Series) walk(from, to uint64, fn func(Sample)) {
	for _, c := range s.chunks {
		if c.count() == 0 {
			continue
		}
		if c.lastT() < from {
			continue
		}
		if c.firstT() > to {
			break
		}
		for _, smp := range c.samples {
			if smp.T < from {
				continue
			}
			if smp.T > to {
				return
			}
			fn(smp)
		}
	}
}

// IsDerived reports whether this series is the destination of a
// compaction rule.
func (s *Series) IsDerived() bool {
	return s.isDerived
}

// markDerived flags the series as a rule destination. Called once by
// the Engine on successful CREATERULE.
func (s *Series) markDerived() {
	s.isDerived = true
}

// unmarkDerived clears the destination flag, called when the owning
// rule is deleted or its source series is destroyed.
func (s *Series) unmarkDerived() {
	s.isDerived = false
}

// Rules returns the series' outgoing compaction rules in creation order.
func (s *Series) Rules() []*CompactionRule {
	return s.rules
}

// hasRuleTo reports whether an outgoing rule to destKey already exists.
func (s *Series) hasRuleTo(destKey string) bool {
	for _, r := range s.rules {
		if r.DestKey == destKey {
			return true
		}
	}
	return false
}

// addRule attaches a new outgoing rule.
func (s *Series) addRule(r *CompactionRule) {
	s.rules = append(s.rules, r)
}

// removeRule detaches the outgoing rule to destKey, reporting whether
// one was found.
func (s *Series) removeRule(destKey string) bool {
	for i, r := range s.rules {
		if r.DestKey == destKey {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return true
		}
	}
	return false
}

// LabelValue returns the value of label name and whether it is present.
func (s *Series) LabelValue(name string) (string, bool) {
	for _, l := range s.Labels {
		if l.Name == name {
			return l.Value, true
		}
	}
	return "", false
}
