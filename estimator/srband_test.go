package estimator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordersys/hlexec/estimator"
)

func TestLRCNotReadyUntilBufferFull(t *testing.T) {
	lrc := estimator.NewLRC(10, 1.0, 1.0, 2.0)
	mid := 100.0
	for i := 0; i < 9; i++ {
		snap := lrc.Update(&mid, nil)
		assert.False(t, snap.Ready)
		assert.Equal(t, estimator.TrendUnknown, snap.TrendState)
		mid++
	}
}

func TestLRCTrendUpOnLinearlyIncreasingPrices(t *testing.T) {
	lrc := estimator.NewLRC(10, 1.0, 1.0, 2.0)
	var snap estimator.LRCSnapshot
	price := 1.0
	for i := 0; i < 10; i++ {
		snap = lrc.Update(&price, nil)
		price++
	}

	require.True(t, snap.Ready)
	assert.InDelta(t, 1.0, snap.Slope, 1e-9)
	assert.InDelta(t, 10.0, snap.NormalizedSlope, 1e-9)
	assert.Equal(t, estimator.TrendUp, snap.TrendState)
}

func TestLRCTrendFlatOnConstantSeries(t *testing.T) {
	lrc := estimator.NewLRC(10, 1.0, 1.0, 2.0)
	price := 42.0
	var snap estimator.LRCSnapshot
	for i := 0; i < 10; i++ {
		snap = lrc.Update(&price, nil)
	}

	require.True(t, snap.Ready)
	assert.InDelta(t, 0.0, snap.Slope, 1e-9)
	assert.Equal(t, estimator.TrendFlat, snap.TrendState)
}

func TestSRBandsNotReadyWithNoSamples(t *testing.T) {
	sr := estimator.NewSR(estimator.DefaultSRConfig())
	snap := sr.Refresh(50_000, time.Now())

	assert.False(t, snap.Ready)
	assert.Equal(t, estimator.FallbackNoBands, snap.FallbackReason)
}

func TestSRStructureWidthGuard(t *testing.T) {
	cfg := estimator.DefaultSRConfig()
	cfg.MinStructureWidthUSD = 120
	sr := estimator.NewSR(cfg)

	now := time.Now()
	sr.AddSample(estimator.DepthSample{TS: now, Price: 50_100, Size: 10, Side: estimator.DepthBid})
	sr.AddSample(estimator.DepthSample{TS: now, Price: 50_190, Size: 10, Side: estimator.DepthAsk})

	snap := sr.Refresh(50_150, now)

	assert.False(t, snap.Ready)
	assert.Equal(t, estimator.FallbackStructureWidthTooNarrow, snap.FallbackReason)
}

func TestSRReadyWithWideEnoughStructure(t *testing.T) {
	cfg := estimator.DefaultSRConfig()
	cfg.MinStructureWidthUSD = 50
	sr := estimator.NewSR(cfg)

	now := time.Now()
	sr.AddSample(estimator.DepthSample{TS: now, Price: 49_900, Size: 10, Side: estimator.DepthBid})
	sr.AddSample(estimator.DepthSample{TS: now, Price: 50_200, Size: 10, Side: estimator.DepthAsk})

	snap := sr.Refresh(50_000, now)

	assert.True(t, snap.Ready)
	assert.Equal(t, estimator.FallbackNone, snap.FallbackReason)
	assert.True(t, snap.SupportCenter < snap.ResistanceCenter)
}

func TestSRRefreshOverBudgetReportsCalcTimeout(t *testing.T) {
	cfg := estimator.DefaultSRConfig()
	cfg.MinStructureWidthUSD = 50
	cfg.CalcTimeBudgetMs = -1 // force "always over budget"
	sr := estimator.NewSR(cfg)

	now := time.Now()
	sr.AddSample(estimator.DepthSample{TS: now, Price: 49_900, Size: 10, Side: estimator.DepthBid})
	sr.AddSample(estimator.DepthSample{TS: now, Price: 50_200, Size: 10, Side: estimator.DepthAsk})

	snap := sr.Refresh(50_000, now)

	assert.False(t, snap.Ready)
	assert.Equal(t, estimator.FallbackCalcTimeout, snap.FallbackReason)
	assert.GreaterOrEqual(t, snap.Diagnostics.CalcTimeMs, int64(0))
}

func TestSRRefreshRecoversFromPanicAsFallbackError(t *testing.T) {
	cfg := estimator.DefaultSRConfig()
	cfg.MaxBands = -1 // forces a negative-length slice expression during truncation
	sr := estimator.NewSR(cfg)

	now := time.Now()
	sr.AddSample(estimator.DepthSample{TS: now, Price: 49_000, Size: 10, Side: estimator.DepthBid})
	sr.AddSample(estimator.DepthSample{TS: now, Price: 48_000, Size: 10, Side: estimator.DepthBid})
	sr.AddSample(estimator.DepthSample{TS: now, Price: 51_000, Size: 10, Side: estimator.DepthAsk})
	sr.AddSample(estimator.DepthSample{TS: now, Price: 52_000, Size: 10, Side: estimator.DepthAsk})

	snap := sr.Refresh(50_000, now)

	assert.False(t, snap.Ready)
	assert.Equal(t, estimator.FallbackError, snap.FallbackReason)
}

func TestSRDropsStaleSamples(t *testing.T) {
	cfg := estimator.DefaultSRConfig()
	cfg.WindowMin = 1 * time.Minute
	sr := estimator.NewSR(cfg)

	old := time.Now().Add(-5 * time.Minute)
	sr.AddSample(estimator.DepthSample{TS: old, Price: 49_900, Size: 10, Side: estimator.DepthBid})

	snap := sr.Refresh(50_000, time.Now())
	assert.False(t, snap.Ready)
	assert.Equal(t, estimator.FallbackNoBands, snap.FallbackReason)
}
