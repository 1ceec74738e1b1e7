package layer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vsyncd/internal/clock"
)

func newTestInfo(t *testing.T, start int64) (*Info, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(start)
	return NewInfo("test-layer", 60, DefaultConfig(), clk), clk
}

func TestMinRefreshDurationFromMaxRate(t *testing.T) {
	l, _ := newTestInfo(t, 0)
	assert.Equal(t, int64(16666666), l.MinRefreshDuration())

	l = NewInfo("fast", 120, DefaultConfig(), clock.NewManual(0))
	assert.Equal(t, int64(8333333), l.MinRefreshDuration())
}

func TestSetLastPresentTimeRecordsShortIntervals(t *testing.T) {
	l, _ := newTestInfo(t, 0)

	for _, ts := range []int64{1000, 1016, 1033} {
		l.SetLastPresentTime(ts)
	}

	durations := l.RefreshDurations()
	require.Len(t, durations, 3)
	assert.Equal(t, []int64{16, 17}, durations[1:])
	assert.Equal(t, int64(1033), l.LastPresentTime())
}

func TestSetLastPresentTime60Hz(t *testing.T) {
	l, clk := newTestInfo(t, int64(time.Second))

	frame := int64(16666667)
	ts := clk.Now()
	for i := 0; i < 5; i++ {
		l.SetLastPresentTime(ts)
		ts += frame
		clk.Set(ts)
	}

	durations := l.RefreshDurations()
	// the first present has no predecessor within the epsilon
	require.Len(t, durations, 4)
	for _, d := range durations {
		assert.Equal(t, frame, d)
	}
}

func TestStaleGapIsNotARefreshSample(t *testing.T) {
	l, clk := newTestInfo(t, int64(10*time.Second))

	first := clk.Now()
	l.SetLastPresentTime(first)
	before := l.RefreshDurations()

	later := first + int64(5*time.Second)
	clk.Set(later)
	l.SetLastPresentTime(later)

	assert.Equal(t, later, l.LastPresentTime())
	assert.Equal(t, later, l.LastUpdatedTime())
	assert.Equal(t, before, l.RefreshDurations())
	assert.NotContains(t, l.RefreshDurations(), int64(5*time.Second))
}

func TestNonPositiveIntervalUsesMinDuration(t *testing.T) {
	l, clk := newTestInfo(t, int64(time.Second))

	ts := clk.Now()
	l.SetLastPresentTime(ts)
	l.SetLastPresentTime(ts)
	l.SetLastPresentTime(ts - 1000)

	durations := l.RefreshDurations()
	require.GreaterOrEqual(t, len(durations), 2)
	assert.Equal(t, []int64{l.MinRefreshDuration(), l.MinRefreshDuration()}, durations[len(durations)-2:])
}

func TestFuturePresentTimeIsKept(t *testing.T) {
	l, clk := newTestInfo(t, int64(time.Minute))

	future := clk.Now() + int64(time.Hour)
	l.SetLastPresentTime(future)

	assert.Equal(t, future, l.LastUpdatedTime())
	assert.Equal(t, future, l.LastPresentTime())
	assert.Equal(t, []int64{future}, l.PresentTimes())
}

func TestPastPresentTimeUpdatesToNow(t *testing.T) {
	l, clk := newTestInfo(t, int64(time.Minute))

	l.SetLastPresentTime(clk.Now() - int64(time.Second))
	assert.Equal(t, clk.Now(), l.LastUpdatedTime())
}

func TestDesiredRefreshRate(t *testing.T) {
	l, clk := newTestInfo(t, int64(time.Second))

	// not enough samples, report the max rate
	assert.InDelta(t, 60.0, l.DesiredRefreshRate(), 0.01)

	frame := int64(33333333)
	ts := clk.Now()
	for i := 0; i <= DefaultConfig().RefreshHistorySize; i++ {
		clk.Set(ts)
		l.SetLastPresentTime(ts)
		ts += frame
	}
	assert.InDelta(t, 30.0, l.DesiredRefreshRate(), 0.01)
}

func TestIsRecentlyActive(t *testing.T) {
	l, clk := newTestInfo(t, int64(time.Second))
	assert.False(t, l.IsRecentlyActive())

	frame := int64(16666667)
	for i := 0; i < DefaultConfig().PresentHistorySize; i++ {
		l.SetLastPresentTime(clk.Now())
		clk.Advance(frame)
	}
	assert.True(t, l.IsRecentlyActive())

	clk.Advance(int64(time.Second))
	assert.False(t, l.IsRecentlyActive())
}

func TestIsLowActivity(t *testing.T) {
	l, clk := newTestInfo(t, int64(time.Second))
	assert.True(t, l.IsLowActivity())

	l.SetLastPresentTime(clk.Now())
	assert.True(t, l.IsLowActivity())

	clk.Advance(int64(10 * time.Millisecond))
	l.SetLastPresentTime(clk.Now())
	assert.False(t, l.IsLowActivity())

	clk.Advance(int64(500 * time.Millisecond))
	assert.True(t, l.IsLowActivity())
}

func TestClearHistory(t *testing.T) {
	l, clk := newTestInfo(t, int64(time.Second))
	l.SetLastPresentTime(clk.Now())
	l.SetLastPresentTime(clk.Now() + 1000)
	l.SetHDRContent(true)
	l.SetVisibility(true)

	l.ClearHistory()
	assert.Empty(t, l.PresentTimes())
	assert.Empty(t, l.RefreshDurations())
	assert.True(t, l.HDRContent())
	assert.True(t, l.Visible())
}
