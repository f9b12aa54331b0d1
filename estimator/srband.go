package estimator

import (
	"sort"
	"time"
)

// DepthSide is which side of the book a depth sample was observed on.
type DepthSide string

const (
	DepthBid DepthSide = "bid"
	DepthAsk DepthSide = "ask"
)

// DepthSample is one observed book entry, already typed by the (out of
// scope) raw WS ingestion layer.
type DepthSample struct {
	TS    time.Time
	Price float64
	Size  float64
	Side  DepthSide
}

// BandSide is which side of mid an SR band sits on.
type BandSide string

const (
	BandSupport    BandSide = "support"
	BandResistance BandSide = "resistance"
)

// Band is one aggregated support/resistance cluster (§3).
type Band struct {
	Side   BandSide
	Center float64
	Width  float64
	Lower  float64
	Upper  float64
	Size   float64
	Count  int
}

// FallbackReason explains why SRSnapshot.Ready is false.
type FallbackReason string

const (
	FallbackNone                   FallbackReason = ""
	FallbackNoBands                FallbackReason = "no_bands"
	FallbackCalcTimeout            FallbackReason = "calc_timeout"
	FallbackDataStale              FallbackReason = "data_stale"
	FallbackStructureWidthTooNarrow FallbackReason = "structure_width_too_narrow"
	FallbackError                  FallbackReason = "error"
)

// Diagnostics records sample counts and drop reasons for one refresh cycle.
type Diagnostics struct {
	SamplesPreFilter  int
	SamplesPostFilter int
	BandCountPreTrunc int
	BandCountFinal    int
	CalcTimeMs        int64
}

// calcTimeBudget is the §4.5/§8 readiness budget: a cycle that takes longer
// than this is not ready, regardless of what it computed.
const calcTimeBudget = 1000 * time.Millisecond

// SRSnapshot is the aggregator's published, value-type output.
type SRSnapshot struct {
	Ready           bool
	FallbackReason  FallbackReason
	SupportCenter   float64
	SupportWidth    float64
	SupportLower    float64
	SupportUpper    float64
	ResistanceCenter float64
	ResistanceWidth  float64
	ResistanceLower  float64
	ResistanceUpper  float64
	StructuralDistance float64
	ChannelWidthUSD    float64
	Diagnostics        Diagnostics
}

// RepPoint selects how a merged cluster's representative price is chosen.
type RepPoint string

const (
	RepMaxThickness RepPoint = "max_thickness"
	RepWeightedAvg  RepPoint = "weighted_avg"
)

// SRConfig tunes the aggregator (§4.5, §9 Open Question decisions).
type SRConfig struct {
	WindowMin          time.Duration
	RefreshInterval    time.Duration
	KScale             float64
	TargetBands        int
	MergeUSD           float64
	MergeUSDMin        float64
	MergeUSDMax        float64
	MinBandWidthUSD    float64
	MaxBands           int
	MinStructureWidthUSD float64
	RepPoint           RepPoint
	// CalcTimeBudgetMs is the §4.5/§8 readiness budget in milliseconds;
	// zero means DefaultSRConfig's 1000ms. Configurable mainly so tests can
	// force FallbackCalcTimeout deterministically instead of racing the
	// clock.
	CalcTimeBudgetMs int64
}

// DefaultSRConfig matches the spec's stated defaults.
func DefaultSRConfig() SRConfig {
	return SRConfig{
		WindowMin:            15 * time.Minute,
		RefreshInterval:      20 * time.Second,
		KScale:               1.0,
		TargetBands:          4,
		MergeUSD:             50,
		MergeUSDMin:          10,
		MergeUSDMax:          500,
		MinBandWidthUSD:      20,
		MaxBands:             8,
		MinStructureWidthUSD: 120,
		RepPoint:             RepMaxThickness,
		CalcTimeBudgetMs:     1000,
	}
}

// calcTimeBudget resolves the configured budget: zero means "use the
// spec default", negative means "always over budget" (used by tests to
// force FallbackCalcTimeout deterministically).
func (s *SR) calcTimeBudget() time.Duration {
	switch {
	case s.cfg.CalcTimeBudgetMs == 0:
		return calcTimeBudget
	case s.cfg.CalcTimeBudgetMs < 0:
		return -1
	default:
		return time.Duration(s.cfg.CalcTimeBudgetMs) * time.Millisecond
	}
}

// SR is the Support/Resistance aggregator, one per instrument.
type SR struct {
	cfg     SRConfig
	samples []DepthSample
}

// NewSR builds an aggregator with the given config.
func NewSR(cfg SRConfig) *SR {
	return &SR{cfg: cfg}
}

// AddSample appends one depth sample to the rolling window.
func (s *SR) AddSample(sample DepthSample) {
	s.samples = append(s.samples, sample)
}

// Refresh runs one aggregation cycle against mid and now (§4.5 steps 1-12).
// Exceptions in the cycle are caught and reported as FallbackError; a cycle
// slower than calcTimeBudget is reported as FallbackCalcTimeout instead of
// publishing stale-but-computed bands as ready (§4.5, §8).
func (s *SR) Refresh(mid float64, now time.Time) (snapshot SRSnapshot) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			snapshot = SRSnapshot{Ready: false, FallbackReason: FallbackError}
		}
		snapshot.Diagnostics.CalcTimeMs = time.Since(start).Milliseconds()
		if time.Since(start) > s.calcTimeBudget() {
			snapshot.Ready = false
			snapshot.FallbackReason = FallbackCalcTimeout
		}
	}()
	return s.refreshInner(mid, now)
}

// refreshInner is the unguarded §4.5 steps 1-12 body.
func (s *SR) refreshInner(mid float64, now time.Time) SRSnapshot {
	diag := Diagnostics{SamplesPreFilter: len(s.samples)}

	// Step 1: drop samples older than windowMin.
	cutoff := now.Add(-s.cfg.WindowMin)
	kept := s.samples[:0:0]
	var latest time.Time
	for _, sample := range s.samples {
		if sample.TS.Before(cutoff) {
			continue
		}
		kept = append(kept, sample)
		if sample.TS.After(latest) {
			latest = sample.TS
		}
	}
	s.samples = kept
	diag.SamplesPostFilter = len(kept)

	if len(kept) == 0 {
		return SRSnapshot{Ready: false, FallbackReason: FallbackNoBands, Diagnostics: diag}
	}

	// Step 2: age.
	age := now.Sub(latest)
	if age > s.cfg.WindowMin {
		return SRSnapshot{Ready: false, FallbackReason: FallbackDataStale, Diagnostics: diag}
	}

	// Step 3: partition.
	var supportSamples, resistanceSamples []DepthSample
	for _, sample := range kept {
		if sample.Price <= mid {
			supportSamples = append(supportSamples, sample)
		} else {
			resistanceSamples = append(resistanceSamples, sample)
		}
	}

	// Step 4: sort by distance from mid.
	sort.Slice(supportSamples, func(i, j int) bool { return supportSamples[i].Price > supportSamples[j].Price })
	sort.Slice(resistanceSamples, func(i, j int) bool { return resistanceSamples[i].Price < resistanceSamples[j].Price })

	supportBands := s.mergeSide(supportSamples, BandSupport)
	resistanceBands := s.mergeSide(resistanceSamples, BandResistance)

	allBands := append(append([]Band{}, supportBands...), resistanceBands...)
	diag.BandCountPreTrunc = len(allBands)

	if len(allBands) > s.cfg.MaxBands {
		supportBands, resistanceBands = s.coarseMergeAndTruncate(supportBands, resistanceBands)
		allBands = append(append([]Band{}, supportBands...), resistanceBands...)
	}
	diag.BandCountFinal = len(allBands)

	if len(allBands) < 2 {
		return SRSnapshot{Ready: false, FallbackReason: FallbackNoBands, Diagnostics: diag}
	}

	// Step 10: innermost bands (closest to mid = first element, since each
	// side is already sorted by distance from mid before merging).
	var primarySupport, primaryResistance *Band
	if len(supportBands) > 0 {
		primarySupport = &supportBands[0]
	}
	if len(resistanceBands) > 0 {
		primaryResistance = &resistanceBands[0]
	}
	if primarySupport == nil || primaryResistance == nil {
		return SRSnapshot{Ready: false, FallbackReason: FallbackNoBands, Diagnostics: diag}
	}

	structureWidth := absFloat(primaryResistance.Center - primarySupport.Center)
	if structureWidth < s.cfg.MinStructureWidthUSD {
		return SRSnapshot{Ready: false, FallbackReason: FallbackStructureWidthTooNarrow, Diagnostics: diag}
	}

	structuralDistance := maxFloat(0, primaryResistance.Lower-primarySupport.Upper)
	channelWidth := primaryResistance.Upper - primarySupport.Lower

	return SRSnapshot{
		Ready:              true,
		FallbackReason:     FallbackNone,
		SupportCenter:      primarySupport.Center,
		SupportWidth:       primarySupport.Width,
		SupportLower:       primarySupport.Lower,
		SupportUpper:       primarySupport.Upper,
		ResistanceCenter:   primaryResistance.Center,
		ResistanceWidth:    primaryResistance.Width,
		ResistanceLower:    primaryResistance.Lower,
		ResistanceUpper:    primaryResistance.Upper,
		StructuralDistance: structuralDistance,
		ChannelWidthUSD:    channelWidth,
		Diagnostics:        diag,
	}
}

// mergeSide runs steps 5-8 for one side (samples must already be sorted by
// distance from mid).
func (s *SR) mergeSide(samples []DepthSample, side BandSide) []Band {
	if len(samples) == 0 {
		return nil
	}

	minP, maxP := samples[0].Price, samples[0].Price
	for _, sample := range samples {
		if sample.Price < minP {
			minP = sample.Price
		}
		if sample.Price > maxP {
			maxP = sample.Price
		}
	}
	channelWidth := maxP - minP

	mergeUSDEff := s.cfg.MergeUSD
	if channelWidth > 0 {
		mergeUSDEff = clamp(s.cfg.KScale*channelWidth/float64(s.cfg.TargetBands), s.cfg.MergeUSDMin, s.cfg.MergeUSDMax)
	}
	minBandWidthEff := clamp(s.cfg.KScale*s.cfg.MinBandWidthUSD, s.cfg.MergeUSDMin, 800)

	var bands []Band
	cluster := []DepthSample{samples[0]}
	flush := func() {
		bands = append(bands, buildBand(cluster, side, minBandWidthEff, s.cfg.RepPoint))
	}
	for i := 1; i < len(samples); i++ {
		gap := absFloat(samples[i].Price - cluster[len(cluster)-1].Price)
		if gap <= mergeUSDEff {
			cluster = append(cluster, samples[i])
			continue
		}
		flush()
		cluster = []DepthSample{samples[i]}
	}
	flush()

	return bands
}

func buildBand(cluster []DepthSample, side BandSide, minBandWidthEff float64, rep RepPoint) Band {
	minP, maxP := cluster[0].Price, cluster[0].Price
	var totalSize float64
	var maxSizeSample DepthSample
	var weightedSum float64
	for _, sample := range cluster {
		if sample.Price < minP {
			minP = sample.Price
		}
		if sample.Price > maxP {
			maxP = sample.Price
		}
		totalSize += sample.Size
		weightedSum += sample.Price * sample.Size
		if sample.Size > maxSizeSample.Size {
			maxSizeSample = sample
		}
	}

	var center float64
	switch rep {
	case RepWeightedAvg:
		if totalSize > 0 {
			center = weightedSum / totalSize
		} else {
			center = (minP + maxP) / 2
		}
	default: // RepMaxThickness
		center = maxSizeSample.Price
	}

	clusterRange := maxP - minP
	width := maxFloat(clusterRange+1, minBandWidthEff)

	return Band{
		Side:   side,
		Center: center,
		Width:  width,
		Lower:  center - width/2,
		Upper:  center + width/2,
		Size:   totalSize,
		Count:  len(cluster),
	}
}

// coarseMergeAndTruncate runs step 9: a coarser second merge pass, then a
// balanced truncation to MaxBands between the two sides.
func (s *SR) coarseMergeAndTruncate(support, resistance []Band) ([]Band, []Band) {
	coarseThreshold := minFloat(1.75*s.effectiveMergeUSD(), 700)

	support = coarseMergeBands(support, coarseThreshold)
	resistance = coarseMergeBands(resistance, coarseThreshold)

	half := s.cfg.MaxBands / 2
	if len(support) > half {
		support = support[:half]
	}
	remaining := s.cfg.MaxBands - len(support)
	if len(resistance) > remaining {
		resistance = resistance[:remaining]
	}
	return support, resistance
}

// effectiveMergeUSD approximates the last-used merge threshold for the
// coarse pass; since both sides may have used different per-side
// thresholds, this uses the configured baseline as a stable reference.
func (s *SR) effectiveMergeUSD() float64 {
	return clamp(s.cfg.MergeUSD, s.cfg.MergeUSDMin, s.cfg.MergeUSDMax)
}

func coarseMergeBands(bands []Band, threshold float64) []Band {
	if len(bands) == 0 {
		return bands
	}
	var out []Band
	cur := bands[0]
	for i := 1; i < len(bands); i++ {
		if absFloat(bands[i].Center-cur.Center) <= threshold {
			cur = mergeBands(cur, bands[i])
			continue
		}
		out = append(out, cur)
		cur = bands[i]
	}
	out = append(out, cur)
	return out
}

func mergeBands(a, b Band) Band {
	totalSize := a.Size + b.Size
	center := a.Center
	if totalSize > 0 {
		center = (a.Center*a.Size + b.Center*b.Size) / totalSize
	}
	lower := minFloat(a.Lower, b.Lower)
	upper := maxFloat(a.Upper, b.Upper)
	return Band{
		Side:   a.Side,
		Center: center,
		Width:  maxFloat(upper-lower, maxFloat(a.Width, b.Width)),
		Lower:  lower,
		Upper:  upper,
		Size:   totalSize,
		Count:  a.Count + b.Count,
	}
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

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
