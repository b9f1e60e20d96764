// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

package tsengine

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"math/rand"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/golang/snappy"
	"github.com/oklog/ulid"
	"github.com/pkg/errors"
)

// snapshotVersion is the one-byte version tag that leads every series
// payload, to permit forward evolution of the format (spec §4.6, §6).
// The tag sits inside the snappy-compressed payload: the blob as returned
// by EncodeSeries does not start with it, and DecodeSeries reads it only
// after decompressing.
const snapshotVersion byte = 1

// EncodeSeries serializes a Series the way spec §4.6 prescribes: labels
// (count + pairs), retentionSecs, maxSamplesPerChunk, chunk count, then
// per chunk count + sample bytes; followed by outgoing rules (count +
// per rule destKey/aggregator id/bucketSize/AggContext). The payload is
// snappy-compressed before being returned, the same way the teacher
// snappy-compresses chunk and index-cache payloads pack-wide.
func EncodeSeries(s *Series) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(snapshotVersion)

	writeUvarint(&buf, uint64(len(s.Labels)))
	for _, l := range s.Labels {
		writeString(&buf, l.Name)
		writeString(&buf, l.Value)
	}
	writeUvarint(&buf, s.RetentionSecs)
	writeUvarint(&buf, uint64(s.MaxSamplesPerChunk))

	writeUvarint(&buf, uint64(len(s.chunks)))
	for _, c := range s.chunks {
		writeUvarint(&buf, uint64(c.count()))
		for _, smp := range c.samples {
			writeFixed64(&buf, smp.T)
			writeFloat64(&buf, smp.V)
		}
	}

	writeUvarint(&buf, uint64(len(s.rules)))
	for _, r := range s.rules {
		writeString(&buf, r.DestKey)
		buf.WriteByte(byte(r.Aggregator))
		writeUvarint(&buf, r.BucketSize)
		encodeAggContext(&buf, &r.ctx)
	}

	return snappy.Encode(nil, buf.Bytes()), nil
}

func encodeAggContext(buf *bytes.Buffer, c *aggContext) {
	if c.initialized {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	writeFixed64(buf, c.bucket)
	writeFloat64(buf, c.acc.sum)
	writeFloat64(buf, c.acc.min)
	writeFloat64(buf, c.acc.max)
	writeUvarint(buf, c.acc.count)
	writeFloat64(buf, c.acc.first)
	if c.acc.firstSet {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	writeFloat64(buf, c.acc.last)
}

func decodeAggContext(r *bytes.Reader) (aggContext, error) {
	var c aggContext
	initialized, err := r.ReadByte()
	if err != nil {
		return c, err
	}
	c.initialized = initialized == 1
	if c.bucket, err = readFixed64(r); err != nil {
		return c, err
	}
	if c.acc.sum, err = readFloat64(r); err != nil {
		return c, err
	}
	if c.acc.min, err = readFloat64(r); err != nil {
		return c, err
	}
	if c.acc.max, err = readFloat64(r); err != nil {
		return c, err
	}
	if c.acc.count, err = binary.ReadUvarint(r); err != nil {
		return c, err
	}
	if c.acc.first, err = readFloat64(r); err != nil {
		return c, err
	}
	firstSet, err := r.ReadByte()
	if err != nil {
		return c, err
	}
	c.acc.firstSet = firstSet == 1
	if c.acc.last, err = readFloat64(r); err != nil {
		return c, err
	}
	return c, nil
}

// decodedRule is a rule read off a series blob before its destination
// has necessarily been restored.
type decodedRule struct {
	destKey    string
	aggregator Aggregator
	bucketSize uint64
	ctx        aggContext
}

// DecodeSeries reverses EncodeSeries, returning the reconstructed Series
// (without its rules wired to a resolver yet) and the raw decoded rules,
// which the Engine resolves against destinations separately (spec §4.6:
// "the engine tolerates restore order").
func DecodeSeries(key string, blob []byte, logger log.Logger) (*Series, []decodedRule, error) {
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, nil, errors.Wrap(err, "snappy decode series blob")
	}
	r := bytes.NewReader(raw)

	version, err := r.ReadByte()
	if err != nil {
		return nil, nil, errors.Wrap(err, "read version")
	}
	if version != snapshotVersion {
		return nil, nil, errors.Errorf("unsupported snapshot version %d", version)
	}

	nLabels, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read label count")
	}
	labels := make([]Label, 0, nLabels)
	for i := uint64(0); i < nLabels; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, nil, errors.Wrap(err, "read label name")
		}
		value, err := readString(r)
		if err != nil {
			return nil, nil, errors.Wrap(err, "read label value")
		}
		labels = append(labels, Label{Name: name, Value: value})
	}

	retention, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read retention")
	}
	maxSamples, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read chunk capacity")
	}

	s := NewSeries(key, int(maxSamples), retention, labels, logger)

	nChunks, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read chunk count")
	}
	for i := uint64(0); i < nChunks; i++ {
		nSamples, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, nil, errors.Wrap(err, "read sample count")
		}
		c := newChunk(int(maxSamples))
		for j := uint64(0); j < nSamples; j++ {
			t, err := readFixed64(r)
			if err != nil {
				return nil, nil, errors.Wrap(err, "read sample timestamp")
			}
			v, err := readFloat64(r)
			if err != nil {
				return nil, nil, errors.Wrap(err, "read sample value")
			}
			c.append(Sample{T: t, V: v})
			s.lastTimestamp = t
			s.hasData = true
		}
		s.chunks = append(s.chunks, c)
	}

	nRules, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read rule count")
	}
	rules := make([]decodedRule, 0, nRules)
	for i := uint64(0); i < nRules; i++ {
		destKey, err := readString(r)
		if err != nil {
			return nil, nil, errors.Wrap(err, "read rule dest")
		}
		aggByte, err := r.ReadByte()
		if err != nil {
			return nil, nil, errors.Wrap(err, "read rule aggregator")
		}
		bucketSize, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, nil, errors.Wrap(err, "read rule bucket size")
		}
		ctx, err := decodeAggContext(r)
		if err != nil {
			return nil, nil, errors.Wrap(err, "read rule agg context")
		}
		rules = append(rules, decodedRule{
			destKey:    destKey,
			aggregator: Aggregator(aggByte),
			bucketSize: bucketSize,
			ctx:        ctx,
		})
	}

	return s, rules, nil
}

// Dump serializes every series in the engine into independent blobs,
// keyed by series key, alongside a ULID stamp identifying this snapshot
// generation for the host's own bookkeeping.
func (e *Engine) Dump() (ulid.ULID, map[string][]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := ulid.New(ulid.Now(), rand.New(rand.NewSource(int64(e.now()))))
	if err != nil {
		return ulid.ULID{}, nil, errors.Wrap(err, "mint snapshot id")
	}

	blobs := make(map[string][]byte, len(e.series))
	var total int
	for key, s := range e.series {
		blob, err := EncodeSeries(s)
		if err != nil {
			return id, nil, errors.Wrapf(err, "encode series %q", key)
		}
		blobs[key] = blob
		total += len(blob)
	}
	e.metrics.snapshotBytes.Set(float64(total))
	return id, blobs, nil
}

// Restore reconstructs the engine's series and rules from blobs produced
// by Dump. Rules whose destination has not yet appeared are held
// pending and resolved once all blobs are decoded; a rule whose
// destination never appears is discarded with a logged warning (spec
// §4.6, "dangling").
func (e *Engine) Restore(blobs map[string][]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.series = make(map[string]*Series)
	e.index = NewLabelIndex()
	e.cache.purge()

	type pending struct {
		srcKey string
		rule   decodedRule
	}
	var pendingRules []pending

	for key, blob := range blobs {
		s, rules, err := DecodeSeries(key, blob, e.logger)
		if err != nil {
			return errors.Wrapf(err, "decode series %q", key)
		}
		s.metrics = e.metrics
		e.series[key] = s
		e.index.Add(key, s.Labels)
		for _, rl := range rules {
			pendingRules = append(pendingRules, pending{srcKey: key, rule: rl})
		}
	}

	for _, p := range pendingRules {
		src := e.series[p.srcKey]
		dst, ok := e.series[p.rule.destKey]
		if !ok {
			level.Warn(e.logger).Log("msg", "dropping dangling compaction rule on restore",
				"src", p.srcKey, "dst", p.rule.destKey)
			continue
		}
		rule := newCompactionRule(p.rule.destKey, p.rule.aggregator, p.rule.bucketSize, e.resolve)
		rule.ctx = p.rule.ctx
		rule.metrics = e.metrics
		src.addRule(rule)
		dst.markDerived()
	}
	return nil
}

// --- low level wire helpers -------------------------------------------------

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeFixed64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func readFixed64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(tmp[:]), nil
}

func writeFloat64(buf *bytes.Buffer, v float64) {
	writeFixed64(buf, math.Float64bits(v))
}

func readFloat64(r *bytes.Reader) (float64, error) {
	bits, err := readFixed64(r)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}
