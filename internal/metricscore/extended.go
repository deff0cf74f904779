package metricscore

import (
	"math"
	"sort"
	"time"
)

// Kinds of points the Health composite expects to find recorded, so
// callers can feed Record with conventional names (spec section 4.H).
const (
	KindSuccessRate  = "success_rate"
	KindErrorRate    = "error_rate"
	KindResponseTime = "response_time_ms"
	KindCPUPercent   = "cpu_percent"
	KindMemPercent   = "mem_percent"
)

// Health computes the spec's composite health score over window:
// 0.4·performance + 0.3·responsiveness + 0.3·resources.
func (c *Core) Health(window time.Duration) Health {
	successRate := c.avgOrDefault(KindSuccessRate, window, 1.0)
	errorRate := c.avgOrDefault(KindErrorRate, window, 0.0)
	p95 := c.p95OrDefault(KindResponseTime, window, 0.0)
	cpu := c.avgOrDefault(KindCPUPercent, window, 0.0)
	mem := c.avgOrDefault(KindMemPercent, window, 0.0)

	performance := clamp((successRate+(1-errorRate))/2, 0, 1)
	responsiveness := clamp(1-p95/1000, 0, 1)
	resources := clamp(1-(cpu+mem)/200, 0, 1)

	score := 0.4*performance + 0.3*responsiveness + 0.3*resources

	status := "poor"
	switch {
	case score >= 0.9:
		status = "excellent"
	case score >= 0.7:
		status = "good"
	case score >= 0.5:
		status = "fair"
	}

	return Health{Score: score, Status: status}
}

func (c *Core) avgOrDefault(kind string, window time.Duration, def float64) float64 {
	samples := c.samplesInWindow(kind, nil, c.clock.Now().Add(-window), c.clock.Now())
	if len(samples) == 0 {
		return def
	}
	return meanOf(samples)
}

func (c *Core) p95OrDefault(kind string, window time.Duration, def float64) float64 {
	samples := c.samplesInWindow(kind, nil, c.clock.Now().Add(-window), c.clock.Now())
	if len(samples) == 0 {
		return def
	}
	return percentile(samples, 0.95)
}

// percentile implements sorted-sample interpolation: p in [0,1] maps to
// a position between two sorted samples, linearly interpolated (spec
// section 4.H).
func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// pearson computes the Pearson correlation coefficient between xs and
// ys. Returns 0 if fewer than 2 paired samples or zero variance.
func pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n < 2 || n != len(ys) {
		return 0
	}

	meanX, meanY := meanOf(xs), meanOf(ys)

	var covariance, varX, varY float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		covariance += dx * dy
		varX += dx * dx
		varY += dy * dy
	}

	if varX == 0 || varY == 0 {
		return 0
	}
	return covariance / math.Sqrt(varX*varY)
}

// linearSlope fits a least-squares line to (index, value) pairs and
// returns its slope.
func linearSlope(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}

	denom := float64(n)*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (float64(n)*sumXY - sumX*sumY) / denom
}

func sumOf(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sumOf(values) / float64(len(values))
}

func varianceOf(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total float64
	for _, v := range values {
		d := v - mean
		total += d * d
	}
	return total / float64(len(values))
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
