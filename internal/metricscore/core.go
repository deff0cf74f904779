// Package metricscore implements the Metrics & Streaming Subsystem (spec
// section 4.H): a bounded ring buffer of points, per-stream aggregation
// with interpolated percentiles, trend/correlation analysis, anomaly
// baselines, subscriber fan-out, and a composite health score.
//
// Grounded in the teacher's internal/metrics/collector.go (snapshot +
// bounded-history trim pattern) and internal/metrics/alerts.go's
// threshold-check style, generalized from CLIAIMONITOR's fixed
// AgentMetrics fields into the spec's generic (kind, tags, value) point
// model.
package metricscore

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/maps"

	"github.com/agentmesh/orchestrator/internal/clock"
)

// Point is one recorded measurement (spec section 3's Metric Point).
type Point struct {
	Kind      string
	Value     float64
	Tags      map[string]string
	Timestamp time.Time
}

// Aggregation selects the reduction function for Aggregate/TopN.
type Aggregation string

const (
	AggSum   Aggregation = "SUM"
	AggAvg   Aggregation = "AVG"
	AggMin   Aggregation = "MIN"
	AggMax   Aggregation = "MAX"
	AggCount Aggregation = "COUNT"
	AggP50   Aggregation = "P50"
	AggP95   Aggregation = "P95"
	AggP99   Aggregation = "P99"
	AggRate  Aggregation = "RATE"
)

const (
	defaultRingCapacity   = 100_000
	defaultStreamCapacity = 1000
	defaultCacheTTL       = 60 * time.Second
	defaultAnomalyThresholdSigma = 3.0
	subscriberBufferSize  = 100
	anomalyHistoryCap     = 1000
	trendBuckets          = 10
)

type cacheEntry struct {
	value     float64
	expiresAt time.Time
}

type baselineKey struct {
	kind   string
	tagSig string
}

type baseline struct {
	mean   float64
	stddev float64
	count  int
}

type subscription struct {
	id   uint64
	kind string
	tags map[string]string
	ch   chan Point
}

// Subscription is a handle to a live Subscribe call.
type Subscription struct {
	id   uint64
	kind string
	c    <-chan Point
}

// C returns the channel of matching points. Full channels drop
// non-blocking (spec section 4.H).
func (s *Subscription) C() <-chan Point { return s.c }

// Health is the composite score from Core.Health.
type Health struct {
	Score  float64
	Status string
}

// GroupResult is one row of a TopN result.
type GroupResult struct {
	Key   string
	Value float64
}

// Trend is the result of Core.Trend.
type Trend struct {
	Direction  string
	Slope      float64
	Confidence float64
	Anomalies  []time.Time
}

// Option configures New.
type Option func(*Core)

// WithClock overrides the default system clock (for deterministic tests).
func WithClock(c clock.Clock) Option {
	return func(core *Core) { core.clock = c }
}

// WithCacheTTL overrides the default 60s aggregate cache lifetime.
func WithCacheTTL(d time.Duration) Option {
	return func(core *Core) { core.cacheTTL = d }
}

// WithAnomalyThreshold overrides the default 3-sigma outlier threshold.
func WithAnomalyThreshold(sigma float64) Option {
	return func(core *Core) { core.anomalyThreshold = sigma }
}

// Core is the Metrics Core (spec section 4.H).
type Core struct {
	clock clock.Clock

	mu        sync.RWMutex
	ring      []Point
	ringCap   int
	streams   map[string][]Point
	streamCap int

	baselineMu sync.RWMutex
	baselines  map[baselineKey]baseline

	cacheMu  sync.Mutex
	cache    map[string]cacheEntry
	cacheTTL time.Duration

	anomalyMu sync.Mutex
	anomalies []Point

	subsMu  sync.Mutex
	subs    map[string][]*subscription
	nextSub uint64

	anomalyThreshold float64
}

// New creates a Metrics Core.
func New(opts ...Option) *Core {
	c := &Core{
		clock:            clock.New(),
		ringCap:          defaultRingCapacity,
		streamCap:        defaultStreamCapacity,
		streams:          make(map[string][]Point),
		baselines:        make(map[baselineKey]baseline),
		cache:            make(map[string]cacheEntry),
		cacheTTL:         defaultCacheTTL,
		subs:             make(map[string][]*subscription),
		anomalyThreshold: defaultAnomalyThresholdSigma,
	}
	for _, fn := range opts {
		fn(c)
	}
	return c
}

// Record appends p to the ring buffer and its stream-key list, checks it
// against any recorded baseline, and notifies matching subscribers (spec
// section 4.H).
func (c *Core) Record(p Point) {
	if p.Timestamp.IsZero() {
		p.Timestamp = c.clock.Now()
	}

	key := streamKey(p.Kind, p.Tags)

	c.mu.Lock()
	c.ring = appendBounded(c.ring, p, c.ringCap)
	c.streams[key] = appendBounded(c.streams[key], p, c.streamCap)
	c.mu.Unlock()

	if c.isOutlier(p.Kind, p.Tags, p.Value) {
		c.recordAnomaly(p)
	}

	c.notifySubscribers(p)
}

func appendBounded(s []Point, p Point, capacity int) []Point {
	s = append(s, p)
	if len(s) > capacity {
		s = s[len(s)-capacity:]
	}
	return s
}

func (c *Core) recordAnomaly(p Point) {
	c.anomalyMu.Lock()
	c.anomalies = appendBounded(c.anomalies, p, anomalyHistoryCap)
	c.anomalyMu.Unlock()
}

// Anomalies returns a snapshot of recorded outlier points.
func (c *Core) Anomalies() []Point {
	c.anomalyMu.Lock()
	defer c.anomalyMu.Unlock()
	out := make([]Point, len(c.anomalies))
	copy(out, c.anomalies)
	return out
}

func (c *Core) notifySubscribers(p Point) {
	c.subsMu.Lock()
	subs := append([]*subscription(nil), c.subs[p.Kind]...)
	c.subsMu.Unlock()

	for _, sub := range subs {
		if !tagsSubset(sub.tags, p.Tags) {
			continue
		}
		select {
		case sub.ch <- p:
		default:
		}
	}
}

// Subscribe delivers every future point of kind matching tags (a subset
// filter) to the returned Subscription's channel.
func (c *Core) Subscribe(kind string, tags map[string]string) *Subscription {
	c.subsMu.Lock()
	c.nextSub++
	sub := &subscription{id: c.nextSub, kind: kind, tags: tags, ch: make(chan Point, subscriberBufferSize)}
	c.subs[kind] = append(c.subs[kind], sub)
	c.subsMu.Unlock()

	return &Subscription{id: sub.id, kind: kind, c: sub.ch}
}

// Unsubscribe removes sub from the notification list.
func (c *Core) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	list := c.subs[sub.kind]
	for i, s := range list {
		if s.id == sub.id {
			c.subs[sub.kind] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Aggregate scans the ring buffer for points of kind within the last
// window whose tags are a superset of the filter, and applies agg. The
// result is cached for cacheTTL keyed by (kind, agg, window, tag
// signature), per spec section 4.H.
func (c *Core) Aggregate(kind string, agg Aggregation, window time.Duration, tags map[string]string) float64 {
	sig := tagSignature(tags)
	cacheKey := fmt.Sprintf("%s|%s|%s|%s", kind, agg, window, sig)

	now := c.clock.Now()

	c.cacheMu.Lock()
	if entry, ok := c.cache[cacheKey]; ok && now.Before(entry.expiresAt) {
		c.cacheMu.Unlock()
		return entry.value
	}
	c.cacheMu.Unlock()

	samples := c.samplesInWindow(kind, tags, now.Add(-window), now)
	value := applyAggregation(agg, samples, window.Seconds())

	c.cacheMu.Lock()
	c.cache[cacheKey] = cacheEntry{value: value, expiresAt: now.Add(c.cacheTTL)}
	c.cacheMu.Unlock()

	return value
}

func (c *Core) samplesInWindow(kind string, tags map[string]string, start, end time.Time) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []float64
	for _, p := range c.ring {
		if p.Kind != kind {
			continue
		}
		if p.Timestamp.Before(start) || p.Timestamp.After(end) {
			continue
		}
		if !tagsSubset(tags, p.Tags) {
			continue
		}
		out = append(out, p.Value)
	}
	return out
}

func (c *Core) pointsInWindow(kind string, start, end time.Time) []Point {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Point
	for _, p := range c.ring {
		if p.Kind != kind {
			continue
		}
		if p.Timestamp.Before(start) || p.Timestamp.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func applyAggregation(agg Aggregation, samples []float64, windowSeconds float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	switch agg {
	case AggSum:
		return sumOf(samples)
	case AggAvg:
		return meanOf(samples)
	case AggMin:
		return minOf(samples)
	case AggMax:
		return maxOf(samples)
	case AggCount:
		return float64(len(samples))
	case AggRate:
		if windowSeconds <= 0 {
			return 0
		}
		return float64(len(samples)) / windowSeconds
	case AggP50:
		return percentile(samples, 0.50)
	case AggP95:
		return percentile(samples, 0.95)
	case AggP99:
		return percentile(samples, 0.99)
	default:
		return meanOf(samples)
	}
}

// Trend divides window into 10 buckets, averages within each, fits a
// linear slope, and reports direction/confidence/anomalies exactly as
// spec section 4.H.
func (c *Core) Trend(kind string, window time.Duration, tags map[string]string) Trend {
	now := c.clock.Now()
	start := now.Add(-window)
	bucketDur := window / trendBuckets
	if bucketDur <= 0 {
		bucketDur = time.Nanosecond
	}

	sums := make([]float64, trendBuckets)
	counts := make([]int, trendBuckets)

	for _, p := range c.pointsInWindow(kind, start, now) {
		if !tagsSubset(tags, p.Tags) {
			continue
		}
		idx := int(p.Timestamp.Sub(start) / bucketDur)
		if idx < 0 {
			idx = 0
		}
		if idx >= trendBuckets {
			idx = trendBuckets - 1
		}
		sums[idx] += p.Value
		counts[idx]++
	}

	avgs := make([]float64, trendBuckets)
	for i := range avgs {
		if counts[i] > 0 {
			avgs[i] = sums[i] / float64(counts[i])
		}
	}

	slope := linearSlope(avgs)
	mean := meanOf(avgs)
	variance := varianceOf(avgs, mean)

	direction := "stable"
	if mean != 0 && math.Abs(slope*trendBuckets)/mean > 0.05 && slope > 0 {
		direction = "increasing"
	} else if slope < 0 {
		direction = "decreasing"
	}

	confidence := 1.0
	if mean != 0 {
		confidence = 1 - variance/(mean*mean)
	}
	confidence = clamp(confidence, 0, 1)

	var anomalyTimes []time.Time
	for i, avg := range avgs {
		if counts[i] == 0 {
			continue
		}
		if c.isOutlier(kind, tags, avg) {
			anomalyTimes = append(anomalyTimes, start.Add(time.Duration(i)*bucketDur+bucketDur/2))
		}
	}

	return Trend{Direction: direction, Slope: slope, Confidence: confidence, Anomalies: anomalyTimes}
}

// Correlation time-aligns kindA and kindB into 1-minute buckets and
// returns their Pearson correlation over the overlapping buckets (spec
// section 4.H).
func (c *Core) Correlation(kindA, kindB string, window time.Duration) float64 {
	now := c.clock.Now()
	start := now.Add(-window)

	bucketsA := bucketByMinute(c.pointsInWindow(kindA, start, now))
	bucketsB := bucketByMinute(c.pointsInWindow(kindB, start, now))

	var xs, ys []float64
	for minute, avgA := range bucketsA {
		if avgB, ok := bucketsB[minute]; ok {
			xs = append(xs, avgA)
			ys = append(ys, avgB)
		}
	}
	return pearson(xs, ys)
}

func bucketByMinute(points []Point) map[int64]float64 {
	sums := map[int64]float64{}
	counts := map[int64]int{}
	for _, p := range points {
		bucket := p.Timestamp.Unix() / 60
		sums[bucket] += p.Value
		counts[bucket]++
	}
	out := make(map[int64]float64, len(sums))
	for bucket, sum := range sums {
		out[bucket] = sum / float64(counts[bucket])
	}
	return out
}

// TopN groups points of kind by tags[tagKey], aggregates within each
// group, and returns the top n descending (spec section 4.H).
func (c *Core) TopN(kind string, tagKey string, agg Aggregation, window time.Duration, n int) []GroupResult {
	now := c.clock.Now()
	start := now.Add(-window)

	groups := map[string][]float64{}
	for _, p := range c.pointsInWindow(kind, start, now) {
		groupKey := p.Tags[tagKey]
		groups[groupKey] = append(groups[groupKey], p.Value)
	}

	// Iterate a stable key snapshot (golang.org/x/exp/maps) before reducing
	// each group, so two calls over identical input always produce the
	// same tie-break ordering below.
	keys := maps.Keys(groups)
	sort.Strings(keys)

	results := make([]GroupResult, 0, len(groups))
	for _, key := range keys {
		results = append(results, GroupResult{Key: key, Value: applyAggregation(agg, groups[key], window.Seconds())})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Value != results[j].Value {
			return results[i].Value > results[j].Value
		}
		return results[i].Key < results[j].Key
	})

	if n < len(results) {
		results = results[:n]
	}
	return results
}

// UpdateBaselines recomputes mean/stddev per (kind, tag signature) over
// window, for every group with at least 10 samples (spec section 4.H).
func (c *Core) UpdateBaselines(window time.Duration) {
	now := c.clock.Now()
	start := now.Add(-window)

	c.mu.RLock()
	groups := map[baselineKey][]float64{}
	for _, p := range c.ring {
		if p.Timestamp.Before(start) || p.Timestamp.After(now) {
			continue
		}
		key := baselineKey{kind: p.Kind, tagSig: tagSignature(p.Tags)}
		groups[key] = append(groups[key], p.Value)
	}
	c.mu.RUnlock()

	c.baselineMu.Lock()
	defer c.baselineMu.Unlock()
	for key, values := range groups {
		if len(values) < 10 {
			continue
		}
		mean := meanOf(values)
		stddev := math.Sqrt(varianceOf(values, mean))
		c.baselines[key] = baseline{mean: mean, stddev: stddev, count: len(values)}
	}
}

func (c *Core) isOutlier(kind string, tags map[string]string, value float64) bool {
	key := baselineKey{kind: kind, tagSig: tagSignature(tags)}
	c.baselineMu.RLock()
	b, ok := c.baselines[key]
	c.baselineMu.RUnlock()
	if !ok || b.stddev == 0 {
		return false
	}
	return math.Abs(value-b.mean)/b.stddev > c.anomalyThreshold
}

func streamKey(kind string, tags map[string]string) string {
	return kind + "|" + tagSignature(tags)
}

func tagSignature(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+tags[k])
	}
	return strings.Join(parts, ",")
}

func tagsSubset(filter, actual map[string]string) bool {
	for k, v := range filter {
		if actual[k] != v {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
