package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"vsyncd/internal/client"
	"vsyncd/internal/clock"
	"vsyncd/internal/job"
	"vsyncd/internal/layer"
	"vsyncd/internal/trace"
	"vsyncd/internal/vsync"
)

func main() {
	configPath := flag.String("config", "config.yml", "YAML config file")
	csvPath := flag.String("csv", "", "write the client trace to this CSV file")
	runFor := flag.Duration("duration", 3*time.Second, "how long to run the demo")
	flag.Parse()

	// Read the configuration
	vcfg := vsync.Load(*configPath)
	lcfg := layer.Load(*configPath)

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		Level(vcfg.Level()).
		With().Timestamp().Logger()
	log.Info().Interface("vsync", vcfg).Interface("layer", lcfg).Msg("loaded config")

	if err := run(log, vcfg, lcfg, *csvPath, *runFor); err != nil {
		log.Error().Err(err).Msg("vsyncd failed")
		os.Exit(1)
	}
}

func run(log zerolog.Logger, vcfg vsync.Config, lcfg layer.Config, csvPath string, runFor time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runFor)
	defer cancel()

	clk := clock.System{}

	// the "panel": a hardware source fed by a 60Hz timer
	hw := vsync.NewHardwareSource()
	fallback := vsync.NewSoftwareSource(vcfg.SoftwarePeriod(), clk)
	d := vsync.New(hw, vcfg,
		vsync.WithLogger(log),
		vsync.WithClock(clk),
		vsync.WithFallbackSource(fallback),
		vsync.WithResyncCallback(func() { log.Debug().Msg("resync hardware vsync model") }),
	)
	defer d.Close()

	rec := trace.NewRecorder(os.Stdout, 4096)
	rec.Quiet(trace.KindVsync)
	rec.Quiet(trace.KindRequest)
	rec.Quiet(trace.KindFrameDone)
	if csvPath != "" {
		if err := rec.EnableCSVLogging(csvPath); err != nil {
			return fmt.Errorf("csv trace: %w", err)
		}
	}
	recDone := make(chan error, 1)
	go func() { recDone <- rec.Run() }()

	history := layer.NewHistory(lcfg, clk, log)

	specs := []client.Spec{
		{Name: "ui", Cadence: client.OneShot, MaxRate: lcfg.MaxRefreshRate, Budget: 16 * time.Millisecond, Work: job.RenderWork(4 * time.Millisecond)},
		{Name: "video", Cadence: 1, MaxRate: lcfg.MaxRefreshRate, Budget: 33 * time.Millisecond, Work: job.RenderWork(8 * time.Millisecond)},
		{Name: "game", Cadence: 1, MaxRate: lcfg.MaxRefreshRate, Budget: 16 * time.Millisecond, Work: job.RenderWork(20 * time.Millisecond)},
	}
	var (
		wg    sync.WaitGroup
		video *client.Client
	)
	for _, spec := range specs {
		c, err := client.New(d, spec, rec, history, clk)
		if err != nil {
			return err
		}
		if spec.Name == "video" {
			video = c
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Run(ctx); err != nil {
				log.Warn().Err(err).Str("client", c.Name()).Msg("client stopped")
			}
		}()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		panel(ctx, hw, clk, time.Second/time.Duration(lcfg.MaxRefreshRate))
	}()
	go func() {
		defer wg.Done()
		policy(ctx, log, d, history, rec, video, lcfg.MaxRefreshRate, runFor)
	}()

	wg.Wait()
	d.Close()
	rec.Close()
	if err := <-recDone; err != nil {
		return err
	}
	for _, spec := range specs {
		log.Info().Str("client", spec.Name).Int64("vsyncs", rec.Total(spec.Name)).Msg("done")
	}
	return nil
}

// panel reports a hardware vsync every period.
func panel(ctx context.Context, hw *vsync.HardwareSource, clk clock.Clock, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hw.OnVsync(clk.Now())
		}
	}
}

// videoFPS is the content rate of the demo video stream.
const videoFPS = 30

// policy plays the external rate policy and display manager: it reads the
// layer summary, paces the video client from it, and exercises hotplug and
// screen power halfway through.
func policy(ctx context.Context, log zerolog.Logger, d *vsync.Dispatcher, history *layer.History, rec *trace.Recorder, video *client.Client, panelRate float32, runFor time.Duration) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	screenOff := time.After(runFor / 2)
	var screenOn <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-screenOff:
			d.OnHotplugReceived(vsync.DisplayExternal, true)
			d.OnScreenReleased()
			screenOn = time.After(runFor / 6)
		case <-screenOn:
			d.OnScreenAcquired()
			screenOn = nil
		case <-ticker.C:
			s := history.Summarize()
			snap := d.Snapshot()
			log.Debug().
				Float32("desired_hz", s.DesiredRefreshRate).
				Int("active_layers", s.ActiveLayers).
				Bool("vsync_enabled", snap.VsyncEnabled).
				Bool("software_vsync", snap.FallbackEnabled).
				Msg("layer summary")
			rec.Emit(trace.Record{
				Kind:   trace.KindPolicy,
				Client: "policy",
				Detail: fmt.Sprintf("desired=%.1fHz active=%d hdr=%t", s.DesiredRefreshRate, s.ActiveLayers, s.HDR),
			})

			// no point in showing video frames faster than the screen wants
			if s.DesiredRefreshRate > 0 {
				cadence := client.CadenceFor(panelRate, min(s.DesiredRefreshRate, videoFPS))
				if changed, err := video.Retune(cadence); err != nil {
					log.Warn().Err(err).Msg("retune video")
				} else if changed {
					log.Info().Int32("cadence", cadence).Msg("video retuned")
				}
			}
		}
	}
}
