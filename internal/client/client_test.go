package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vsyncd/internal/clock"
	"vsyncd/internal/job"
	"vsyncd/internal/layer"
	"vsyncd/internal/trace"
	"vsyncd/internal/vsync"
)

// pump feeds hardware vsync at period until ctx ends.
func pump(ctx context.Context, wg *sync.WaitGroup, src *vsync.HardwareSource, clk clock.Clock, period time.Duration) {
	defer wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			src.OnVsync(clk.Now())
		}
	}
}

func TestClientsRenderAtTheirCadence(t *testing.T) {
	src := vsync.NewHardwareSource()
	d := vsync.New(src, vsync.DefaultConfig())
	defer d.Close()

	rec := trace.NewRecorder(nil, 1024)
	recDone := make(chan error, 1)
	go func() { recDone <- rec.Run() }()

	history := layer.NewHistory(layer.DefaultConfig(), clock.System{}, zerolog.Nop())

	fast, err := New(d, Spec{Name: "fast", Cadence: 1, MaxRate: 60, Work: job.RenderWork(time.Millisecond)}, rec, history, nil)
	require.NoError(t, err)
	slow, err := New(d, Spec{Name: "slow", Cadence: 4, MaxRate: 60}, rec, history, nil)
	require.NoError(t, err)
	once, err := New(d, Spec{Name: "once", Cadence: -3, MaxRate: 60}, rec, history, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), once.Connection().Cadence(), "one-shot clients start disabled")

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(4)
	go pump(ctx, &wg, src, clock.System{}, 4*time.Millisecond)
	for _, c := range []*Client{fast, slow, once} {
		go func(c *Client) {
			defer wg.Done()
			assert.NoError(t, c.Run(ctx))
		}(c)
	}

	require.Eventually(t, func() bool {
		return rec.Total("fast") >= 40 && rec.Total("slow") >= 5 && rec.Total("once") >= 5
	}, 5*time.Second, 10*time.Millisecond)

	info, ok := history.Info(fast.Layer())
	require.True(t, ok)
	assert.NotEmpty(t, info.PresentTimes())

	cancel()
	wg.Wait()
	rec.Close()
	require.NoError(t, <-recDone)

	// fast should see roughly four times the ticks of slow
	assert.Greater(t, rec.Total("fast"), 2*rec.Total("slow"))
	assert.Empty(t, d.Snapshot().Connections, "clients release their connections")
}

func TestNewClampsCadence(t *testing.T) {
	d := vsync.New(vsync.NewHardwareSource(), vsync.DefaultConfig())
	defer d.Close()

	c, err := New(d, Spec{Name: "greedy", Cadence: 100}, nil, nil, nil)
	require.NoError(t, err)
	defer c.Connection().Release()
	assert.Equal(t, MaxCadence, c.Connection().Cadence())
}

func TestNewFailsOnClosedDispatcher(t *testing.T) {
	d := vsync.New(vsync.NewHardwareSource(), vsync.DefaultConfig())
	require.NoError(t, d.Close())

	_, err := New(d, Spec{Name: "late"}, nil, nil, nil)
	assert.ErrorIs(t, err, vsync.ErrClosed)
}

func TestCadenceFor(t *testing.T) {
	tests := []struct {
		panel, desired float32
		want           int32
	}{
		{60, 60, 1},
		{60, 90, 1},
		{60, 30, 2},
		{60, 24, 3},
		{120, 30, 4},
		{60, 1, MaxCadence},
		{60, 0, 1},
		{0, 30, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CadenceFor(tt.panel, tt.desired), "panel %v desired %v", tt.panel, tt.desired)
	}
}

func TestRetune(t *testing.T) {
	d := vsync.New(vsync.NewHardwareSource(), vsync.DefaultConfig())
	defer d.Close()

	video, err := New(d, Spec{Name: "video", Cadence: 1}, nil, nil, nil)
	require.NoError(t, err)
	defer video.Connection().Release()
	ui, err := New(d, Spec{Name: "ui", Cadence: OneShot}, nil, nil, nil)
	require.NoError(t, err)
	defer ui.Connection().Release()

	changed, err := video.Retune(2)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int32(2), video.Connection().Cadence())

	changed, err = video.Retune(2)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = video.Retune(50)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, MaxCadence, video.Connection().Cadence())

	changed, err = ui.Retune(3)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, int32(-1), ui.Connection().Cadence())

	require.NoError(t, d.Close())
	_, err = video.Retune(1)
	assert.ErrorIs(t, err, vsync.ErrClosed)
}
