// internal/layer/info.go

package layer

import (
	"sync"

	"vsyncd/internal/clock"
)

// Info tracks the presentation cadence of one surface.
type Info struct {
	name               string
	minRefreshDuration int64
	cfg                Config
	clock              clock.Clock

	mu              sync.Mutex
	lastPresentTime int64
	lastUpdatedTime int64
	presentTimes    *PresentTimeHistory
	refreshRates    *RefreshDurationHistory
	hdr             bool
	visible         bool
}

// NewInfo creates the tracker for a surface whose panel tops out at
// maxRefreshRate Hz. A non-positive rate uses cfg.MaxRefreshRate.
func NewInfo(name string, maxRefreshRate float32, cfg Config, clk clock.Clock) *Info {
	cfg.clamp()
	if maxRefreshRate <= 0 {
		maxRefreshRate = cfg.MaxRefreshRate
	}
	if clk == nil {
		clk = clock.System{}
	}
	minRefreshDuration := int64(1e9 / float64(maxRefreshRate))
	return &Info{
		name:               name,
		minRefreshDuration: minRefreshDuration,
		cfg:                cfg,
		clock:              clk,
		presentTimes:       NewPresentTimeHistory(cfg.PresentHistorySize),
		refreshRates:       NewRefreshDurationHistory(cfg.RefreshHistorySize, minRefreshDuration),
	}
}

func (l *Info) Name() string { return l.name }

func (l *Info) MinRefreshDuration() int64 { return l.minRefreshDuration }

// SetLastPresentTime records a new present of the surface.
func (l *Info) SetLastPresentTime(lastPresentTime int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Buffers can come with a present time far in the future. That keeps them relevant.
	l.lastUpdatedTime = max(lastPresentTime, l.clock.Now())
	l.presentTimes.Insert(l.lastUpdatedTime)

	timeDiff := lastPresentTime - l.lastPresentTime
	l.lastPresentTime = lastPresentTime
	// stale interval, the previous present is too old to describe a cadence
	if timeDiff > l.cfg.timeEpsilon() {
		return
	}
	refreshDuration := l.minRefreshDuration
	if timeDiff > 0 {
		refreshDuration = timeDiff
	}
	l.refreshRates.Insert(refreshDuration)
}

// DesiredRefreshRate is the average rate over a full refresh window, or the
// max rate while the window is still filling.
func (l *Info) DesiredRefreshRate() float32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshRates.AverageRate()
}

// IsRecentlyActive checks the present time history to see whether the layer
// is still relevant.
func (l *Info) IsRecentlyActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.presentTimes.IsRelevant(l.clock.Now(), l.cfg.timeEpsilon())
}

func (l *Info) IsLowActivity() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.presentTimes.IsLowActivity(l.clock.Now(), l.cfg.lowActivityWindow(), l.cfg.LowActivityBuffers)
}

func (l *Info) SetHDRContent(isHDR bool) {
	l.mu.Lock()
	l.hdr = isHDR
	l.mu.Unlock()
}

func (l *Info) HDRContent() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hdr
}

func (l *Info) SetVisibility(visible bool) {
	l.mu.Lock()
	l.visible = visible
	l.mu.Unlock()
}

func (l *Info) Visible() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.visible
}

func (l *Info) LastPresentTime() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastPresentTime
}

func (l *Info) LastUpdatedTime() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastUpdatedTime
}

// RefreshDurations returns the refresh window, oldest first.
func (l *Info) RefreshDurations() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshRates.Values()
}

// PresentTimes returns the present window, oldest first.
func (l *Info) PresentTimes() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.presentTimes.Values()
}

// ClearHistory forgets both windows, e.g. when the layer goes obsolete.
func (l *Info) ClearHistory() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.presentTimes.Clear()
	l.refreshRates.Clear()
}
