package signal

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Filter inspects one signal and either passes it or drops it with a
// reason. Filters run in order; the first rejection wins.
type Filter interface {
	Name() string
	Apply(s Signal, ctx Context) (bool, string)
}

// VolumeFilter drops signals emitted on thin or unremarkable volume.
type VolumeFilter struct {
	MinVolume   float64
	VolumeRatio float64
}

func (f VolumeFilter) Name() string { return "volume" }

func (f VolumeFilter) Apply(s Signal, ctx Context) (bool, string) {
	if ctx.CurrentVolume < f.MinVolume {
		return false, fmt.Sprintf("volume %.2f below minimum %.2f", ctx.CurrentVolume, f.MinVolume)
	}
	if f.VolumeRatio > 0 && ctx.AvgVolume > 0 && ctx.CurrentVolume < ctx.AvgVolume*f.VolumeRatio {
		return false, fmt.Sprintf("volume ratio %.2f below required %.2f",
			ctx.CurrentVolume/ctx.AvgVolume, f.VolumeRatio)
	}
	return true, ""
}

// PriceFilter drops signals at dust prices or after implausible jumps.
type PriceFilter struct {
	MinPrice       float64
	MaxPriceChange float64
}

func (f PriceFilter) Name() string { return "price" }

func (f PriceFilter) Apply(s Signal, ctx Context) (bool, string) {
	if s.Price < f.MinPrice {
		return false, fmt.Sprintf("price %v below minimum %v", s.Price, f.MinPrice)
	}
	if ctx.PreviousPrice > 0 && f.MaxPriceChange > 0 {
		change := math.Abs(s.Price-ctx.PreviousPrice) / ctx.PreviousPrice
		if change > f.MaxPriceChange {
			return false, fmt.Sprintf("price change %.2f%% exceeds maximum %.2f%%",
				change*100, f.MaxPriceChange*100)
		}
	}
	return true, ""
}

// IntervalFilter throttles signal frequency per symbol.
type IntervalFilter struct {
	MinInterval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

func NewIntervalFilter(minInterval time.Duration) *IntervalFilter {
	return &IntervalFilter{
		MinInterval: minInterval,
		last:        make(map[string]time.Time),
	}
}

func (f *IntervalFilter) Name() string { return "interval" }

func (f *IntervalFilter) Apply(s Signal, ctx Context) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	if last, ok := f.last[s.Symbol]; ok {
		if elapsed := now.Sub(last); elapsed < f.MinInterval {
			return false, fmt.Sprintf("signal too soon for %s, wait %s", s.Symbol, f.MinInterval-elapsed)
		}
	}
	f.last[s.Symbol] = now
	return true, ""
}

// ConfidenceFilter drops low-conviction signals outright.
type ConfidenceFilter struct {
	MinConfidence float64
}

func (f ConfidenceFilter) Name() string { return "confidence" }

func (f ConfidenceFilter) Apply(s Signal, ctx Context) (bool, string) {
	if s.Confidence < f.MinConfidence {
		return false, fmt.Sprintf("confidence %.2f below minimum %.2f", s.Confidence, f.MinConfidence)
	}
	return true, ""
}
