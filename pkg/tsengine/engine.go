// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

package tsengine

import (
	"sort"
	"sync"
	"time"

	"github.com/facette/natsort"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Now is the injected wall-clock source, expressed as milliseconds since
// epoch to match the Sample timestamp scale. Tests substitute a
// deterministic function (design notes §9, "Wall-clock source is an
// injected dependency").
type Now func() uint64

// RealNow returns the system wall clock in milliseconds since epoch.
func RealNow() uint64 {
	return uint64(time.Now().UnixNano() / int64(time.Millisecond))
}

// Engine is the top-level registry of series plus the label index (spec
// §3, "Engine"). It is process-wide per database and is assumed to be
// invoked from a single-threaded command-execution context; the mutex
// here exists only to make that assumption explicit and cheap to check
// under `-race`, not to allow concurrent command execution (spec §5).
type Engine struct {
	mu       sync.Mutex
	series   map[string]*Series
	index    *LabelIndex
	cache    *selectorCache
	now      Now
	logger   log.Logger
	metrics  *metrics
	SortKeys bool // opt-in natural-sort of multi-key replies; default false (insertion order, spec §4.4)
}

// Options configures a new Engine.
type Options struct {
	Logger      log.Logger
	Registerer  prometheus.Registerer
	Now         Now
	SelectorLRU int
}

// NewEngine constructs an empty engine.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	now := opts.Now
	if now == nil {
		now = RealNow
	}
	return &Engine{
		series:  make(map[string]*Series),
		index:   NewLabelIndex(),
		cache:   newSelectorCache(opts.SelectorLRU),
		now:     now,
		logger:  logger,
		metrics: newMetrics(opts.Registerer),
	}
}

// CreateOptions configures TS.CREATE / the implicit creation TS.ADD does.
type CreateOptions struct {
	RetentionSecs      uint64
	MaxSamplesPerChunk int
	Labels             []Label
}

// Create implements TS.CREATE. It fails ErrSeriesExists if key is
// already registered.
func (e *Engine) Create(key string, opts CreateOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.create(key, opts)
}

func (e *Engine) create(key string, opts CreateOptions) error {
	if _, ok := e.series[key]; ok {
		return errors.Wrapf(ErrSeriesExists, "key %q", key)
	}
	s := NewSeries(key, opts.MaxSamplesPerChunk, opts.RetentionSecs, opts.Labels, e.logger)
	s.metrics = e.metrics
	e.series[key] = s
	e.index.Add(key, opts.Labels)
	e.cache.purge()
	return nil
}

// resolve looks up a series by key, or nil. Passed to CompactionRule as
// its destResolver.
func (e *Engine) resolve(key string) *Series {
	return e.series[key]
}

// Add implements TS.ADD for an explicit timestamp. It creates the key
// with opts if absent.
func (e *Engine) Add(key string, t uint64, v float64, opts CreateOptions) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.getOrCreate(key, opts)
	if err != nil {
		return 0, err
	}
	if err := s.append(t, v); err != nil {
		e.metrics.appendErrors.WithLabelValues("bad_timestamp").Inc()
		return 0, err
	}
	e.metrics.samplesAppended.Inc()
	return t, nil
}

// AddAutoTimestamp implements TS.ADD with ts="*": the timestamp comes
// from the injected wall clock (spec §4.1).
func (e *Engine) AddAutoTimestamp(key string, v float64, opts CreateOptions) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.getOrCreate(key, opts)
	if err != nil {
		return 0, err
	}
	t := e.now()
	if err := s.appendAutoTimestamp(t, v); err != nil {
		e.metrics.appendErrors.WithLabelValues("bad_timestamp").Inc()
		return 0, err
	}
	e.metrics.samplesAppended.Inc()
	return t, nil
}

func (e *Engine) getOrCreate(key string, opts CreateOptions) (*Series, error) {
	if s, ok := e.series[key]; ok {
		return s, nil
	}
	if err := e.create(key, opts); err != nil {
		return nil, err
	}
	return e.series[key], nil
}

// IncrBy implements TS.INCRBY. resetBucket == 0 means no RESET argument
// was given.
func (e *Engine) IncrBy(key string, delta float64, resetBucket uint64, opts CreateOptions) (uint64, error) {
	return e.incrDecr(key, delta, 1, resetBucket, opts)
}

// DecrBy implements TS.DECRBY.
func (e *Engine) DecrBy(key string, delta float64, resetBucket uint64, opts CreateOptions) (uint64, error) {
	return e.incrDecr(key, delta, -1, resetBucket, opts)
}

func (e *Engine) incrDecr(key string, delta, sign float64, resetBucket uint64, opts CreateOptions) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.getOrCreate(key, opts)
	if err != nil {
		return 0, err
	}
	t, err := s.incrDecr(delta, sign, e.now(), resetBucket)
	if err != nil {
		e.metrics.appendErrors.WithLabelValues("bad_timestamp").Inc()
		return 0, err
	}
	e.metrics.samplesAppended.Inc()
	return t, nil
}

// Delete removes a series entirely, cascading to the label index and to
// any related rule endpoints (spec §3, §5 "Destruction cascades").
func (e *Engine) Delete(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.series[key]
	if !ok {
		return errors.Wrapf(ErrNoSuchSeries, "key %q", key)
	}
	for _, r := range s.rules {
		if dst := e.series[r.DestKey]; dst != nil {
			dst.unmarkDerived()
		}
	}
	for _, other := range e.series {
		other.removeRule(key)
	}
	e.index.Remove(key, s.Labels)
	delete(e.series, key)
	e.cache.purge()
	return nil
}

// CreateRule implements TS.CREATERULE (spec §4.3).
func (e *Engine) CreateRule(srcKey, dstKey string, agg Aggregator, bucketSize uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	src, ok := e.series[srcKey]
	if !ok {
		return errors.Wrapf(ErrNoSuchSeries, "source key %q", srcKey)
	}
	dst, ok := e.series[dstKey]
	if !ok {
		return errors.Wrapf(ErrNoSuchSeries, "destination key %q", dstKey)
	}
	if src.hasRuleTo(dstKey) {
		return errors.Wrapf(ErrRuleExists, "%q -> %q", srcKey, dstKey)
	}
	if dst.IsDerived() {
		return errors.Wrapf(ErrDstAlreadyDerived, "destination %q", dstKey)
	}
	if src.IsDerived() {
		return errors.Wrapf(ErrCyclicRule, "source %q is itself derived", srcKey)
	}

	rule := newCompactionRule(dstKey, agg, bucketSize, e.resolve)
	rule.metrics = e.metrics
	src.addRule(rule)
	dst.markDerived()
	level.Debug(e.logger).Log("msg", "created compaction rule", "src", srcKey, "dst", dstKey, "agg", agg.String(), "bucket", bucketSize)
	return nil
}

// DeleteRule implements TS.DELETERULE. The rule's AggContext is
// discarded without flushing (spec §4.3).
func (e *Engine) DeleteRule(srcKey, dstKey string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	src, ok := e.series[srcKey]
	if !ok {
		return errors.Wrapf(ErrNoSuchRule, "source key %q", srcKey)
	}
	if !src.removeRule(dstKey) {
		return errors.Wrapf(ErrNoSuchRule, "%q -> %q", srcKey, dstKey)
	}
	if dst := e.series[dstKey]; dst != nil {
		dst.unmarkDerived()
	}
	return nil
}

// Get returns the series for key, or an error.
func (e *Engine) Get(key string) (*Series, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.series[key]
	if !ok {
		return nil, errors.Wrapf(ErrNoSuchSeries, "key %q", key)
	}
	return s, nil
}

// QueryIndex implements TS.QUERYINDEX: evaluate a selector and return
// matching series keys (spec §4.4).
func (e *Engine) QueryIndex(selectorToks []string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queryIndex(selectorToks)
}

func (e *Engine) queryIndex(selectorToks []string) ([]string, error) {
	if cached, ok := e.cache.get(selectorToks); ok {
		return cached, nil
	}
	preds, err := ParseSelectors(selectorToks)
	if err != nil {
		return nil, err
	}
	keys := e.index.Select(preds, func(key string) []Label {
		if s := e.series[key]; s != nil {
			return s.Labels
		}
		return nil
	})
	if e.SortKeys {
		sorted := append([]string(nil), keys...)
		sort.Slice(sorted, func(i, j int) bool { return natsort.Compare(sorted[i], sorted[j]) })
		keys = sorted
	}
	e.cache.put(selectorToks, keys)
	return keys, nil
}

// RangeResult is one RANGE/MRANGE reply element.
type RangeResult struct {
	Key     string
	Labels  []Label
	Samples []RangeSample
}

// AggregationSpec carries an optional AGGREGATION clause.
type AggregationSpec struct {
	Present    bool
	Aggregator Aggregator
	BucketSize uint64
}

// QueryRange implements TS.RANGE.
func (e *Engine) QueryRange(key string, from, to uint64, agg AggregationSpec) ([]RangeSample, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.series[key]
	if !ok {
		return nil, errors.Wrapf(ErrNoSuchSeries, "key %q", key)
	}
	var out []RangeSample
	if agg.Present {
		out = RangeAggregated(s, from, to, agg.Aggregator, agg.BucketSize)
	} else {
		out = Range(s, from, to)
	}
	e.metrics.queriesTotal.WithLabelValues("range").Inc()
	e.metrics.querySamplesTotal.Add(float64(len(out)))
	return out, nil
}

// QueryMultiRange implements TS.MRANGE: resolve selector, then run
// QueryRange per matching series (spec §4.4).
func (e *Engine) QueryMultiRange(from, to uint64, agg AggregationSpec, selectorToks []string) ([]RangeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys, err := e.queryIndex(selectorToks)
	if err != nil {
		return nil, err
	}
	results := make([]RangeResult, 0, len(keys))
	for _, k := range keys {
		s := e.series[k]
		if s == nil {
			continue
		}
		var samples []RangeSample
		if agg.Present {
			samples = RangeAggregated(s, from, to, agg.Aggregator, agg.BucketSize)
		} else {
			samples = Range(s, from, to)
		}
		results = append(results, RangeResult{Key: k, Labels: s.Labels, Samples: samples})
	}
	e.metrics.queriesTotal.WithLabelValues("mrange").Inc()
	return results, nil
}

// RuleInfo is one entry of TS.INFO's "rules" field.
type RuleInfo struct {
	DestKey    string
	BucketSize uint64
	Aggregator string
}

// Info implements TS.INFO.
type Info struct {
	LastTimestamp      uint64
	HasData            bool
	RetentionSecs      uint64
	ChunkCount         int
	MaxSamplesPerChunk int
	Labels             []Label
	Rules              []RuleInfo
}

func (e *Engine) Info(key string) (Info, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.series[key]
	if !ok {
		return Info{}, errors.Wrapf(ErrNoSuchSeries, "key %q", key)
	}
	last, has := s.LastTimestamp()
	info := Info{
		LastTimestamp:      last,
		HasData:            has,
		RetentionSecs:      s.RetentionSecs,
		ChunkCount:         s.ChunkCount(),
		MaxSamplesPerChunk: s.MaxSamplesPerChunk,
		Labels:             s.Labels,
	}
	for _, r := range s.Rules() {
		info.Rules = append(info.Rules, RuleInfo{
			DestKey:    r.DestKey,
			BucketSize: r.BucketSize,
			Aggregator: r.Aggregator.String(),
		})
	}
	return info, nil
}
