// Package estimator holds the I/O-side streaming estimators (SPEC_FULL.md
// §4.4, §4.5): LRC channel regression and the support/resistance band
// aggregator. Grounded on the teacher's internal/indicators/indicators.go
// pure-function streaming style and feeds/orderbook.go's Level shape.
package estimator

import "math"

// TrendState classifies the LRC slope.
type TrendState string

const (
	TrendUp      TrendState = "up"
	TrendDown    TrendState = "down"
	TrendFlat    TrendState = "flat"
	TrendUnknown TrendState = "unknown"
)

// LRCSnapshot is a value-type, never an alias into the estimator's ring
// buffer (DESIGN NOTES §9 ownership rule).
type LRCSnapshot struct {
	Ready           bool
	Slope           float64
	Intercept       float64
	Deviation       float64
	NormalizedSlope float64
	TrendState      TrendState
	ChannelMid      float64
	ChannelTop      float64
	ChannelBottom   float64
}

// LRC is a streaming ordinary-least-squares regression over the last Len
// mid prices, per instrument (DESIGN NOTES §9: per-instrument singleton).
type LRC struct {
	len           int
	k             float64 // normalizedSlope scale constant
	flatThreshold float64
	devLen        float64

	buf      []float64
	writePos int
	filled   int
}

// NewLRC builds an estimator with a fixed buffer length. k scales the
// normalized-slope threshold check (§4.4); flatThreshold and devLen are
// the channel-width/trend-classification tunables.
func NewLRC(length int, k, flatThreshold, devLen float64) *LRC {
	return &LRC{
		len:           length,
		k:             k,
		flatThreshold: flatThreshold,
		devLen:        devLen,
		buf:           make([]float64, maxInt(length, 0)),
	}
}

// Update pushes one tick (mid price, falling back to lastTrade when mid is
// absent) and returns the resulting snapshot. A nil/non-finite value is
// still pushed so the buffer rotates, but yields trendState=unknown.
func (l *LRC) Update(mid, lastTrade *float64) LRCSnapshot {
	if l.len <= 0 {
		return LRCSnapshot{Ready: false, TrendState: TrendUnknown}
	}

	var price float64
	hasPrice := false
	if mid != nil {
		price, hasPrice = *mid, true
	} else if lastTrade != nil {
		price, hasPrice = *lastTrade, true
	}
	if !hasPrice {
		price = math.NaN()
	}

	l.buf[l.writePos] = price
	l.writePos = (l.writePos + 1) % l.len
	if l.filled < l.len {
		l.filled++
	}

	if l.filled < l.len {
		return LRCSnapshot{Ready: false, TrendState: TrendUnknown}
	}

	ordered := l.ordered()
	for _, v := range ordered {
		if !isFinite(v) {
			return LRCSnapshot{Ready: false, TrendState: TrendUnknown}
		}
	}

	slope, intercept := olsFit(ordered)
	dev := rmsResidual(ordered, slope, intercept)

	if !isFinite(slope) || !isFinite(intercept) || !isFinite(dev) {
		return LRCSnapshot{Ready: false, TrendState: TrendUnknown}
	}

	normalizedSlope := math.Abs(slope) / (l.k / float64(l.len))
	trend := l.classify(slope, normalizedSlope)

	channelMid := intercept + slope*float64(l.len-1)
	channelTop := channelMid + dev*l.devLen
	channelBottom := channelMid - dev*l.devLen

	return LRCSnapshot{
		Ready:           true,
		Slope:           slope,
		Intercept:       intercept,
		Deviation:       dev,
		NormalizedSlope: normalizedSlope,
		TrendState:      trend,
		ChannelMid:      channelMid,
		ChannelTop:      channelTop,
		ChannelBottom:   channelBottom,
	}
}

func (l *LRC) classify(slope, normalizedSlope float64) TrendState {
	if normalizedSlope >= l.flatThreshold {
		if slope > 0 {
			return TrendUp
		}
		return TrendDown
	}
	return TrendFlat
}

// ordered returns the buffer contents in chronological (oldest-first) order.
func (l *LRC) ordered() []float64 {
	out := make([]float64, l.len)
	for i := 0; i < l.len; i++ {
		out[i] = l.buf[(l.writePos+i)%l.len]
	}
	return out
}

func olsFit(ys []float64) (slope, intercept float64) {
	n := float64(len(ys))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

func rmsResidual(ys []float64, slope, intercept float64) float64 {
	var sumSq float64
	for i, y := range ys {
		fitted := intercept + slope*float64(i)
		resid := y - fitted
		sumSq += resid * resid
	}
	return math.Sqrt(sumSq / float64(len(ys)))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
