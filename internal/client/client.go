// internal/client/client.go

package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"vsyncd/internal/clock"
	"vsyncd/internal/layer"
	"vsyncd/internal/trace"
	"vsyncd/internal/vsync"
)

const (
	// OneShot re-arms a single vsync before every frame.
	OneShot int32 = 0
	// MaxCadence bounds continuous mode to every 8th tick.
	MaxCadence int32 = 8
)

// Spec describes one simulated render client.
type Spec struct {
	Name    string
	Cadence int32                           // OneShot, or deliver every Cadence-th tick
	MaxRate float32                         // panel max for the client's layer, Hz
	Budget  time.Duration                   // frames slower than this are reported late
	Work    func(ctx context.Context) error // per-frame work (e.g. job.RenderWork)
}

// Client owns a connection and a layer, and renders one frame per vsync it
// receives.
type Client struct {
	spec    Spec
	conn    *vsync.Connection
	recv    *vsync.Receiver
	rec     *trace.Recorder
	history *layer.History
	layerID layer.Handle
	clock   clock.Clock
}

// New registers a client with d. rec and history may be nil.
func New(d *vsync.Dispatcher, spec Spec, rec *trace.Recorder, history *layer.History, clk clock.Clock) (*Client, error) {
	// clamp cadence within the legal region.
	if spec.Cadence < OneShot {
		spec.Cadence = OneShot
	} else if spec.Cadence > MaxCadence {
		spec.Cadence = MaxCadence
	}
	if clk == nil {
		clk = clock.System{}
	}

	conn, err := d.CreateConnection()
	if err != nil {
		return nil, err
	}
	recv, err := conn.ReceiveChannel()
	if err != nil {
		conn.Release()
		return nil, err
	}
	if err := d.RegisterConnection(conn); err != nil {
		recv.Close()
		conn.Release()
		return nil, fmt.Errorf("client %s: %w", spec.Name, err)
	}
	if spec.Cadence >= 1 {
		if err := conn.SetVsyncRate(spec.Cadence); err != nil {
			recv.Close()
			conn.Release()
			return nil, fmt.Errorf("client %s: %w", spec.Name, err)
		}
	}

	c := &Client{
		spec:    spec,
		conn:    conn,
		recv:    recv,
		rec:     rec,
		history: history,
		clock:   clk,
	}
	if history != nil {
		c.layerID = history.Create(spec.Name, spec.MaxRate)
		_ = history.SetVisibility(c.layerID, true)
	}
	return c, nil
}

// CadenceFor maps a desired content rate to the vsync divisor closest to it
// on a panel running at panelRate.
func CadenceFor(panelRate, desired float32) int32 {
	if panelRate <= 0 || desired <= 0 || desired >= panelRate {
		return 1
	}
	n := int32(math.Round(float64(panelRate / desired)))
	return min(max(n, 1), MaxCadence)
}

func (c *Client) Name() string { return c.spec.Name }

func (c *Client) Connection() *vsync.Connection { return c.conn }

// Layer returns the client's layer handle in the history, if any.
func (c *Client) Layer() layer.Handle { return c.layerID }

// Retune moves a continuous client to a new cadence. One-shot clients keep
// re-arming and are left alone. It reports whether the rate changed.
func (c *Client) Retune(cadence int32) (bool, error) {
	if c.spec.Cadence == OneShot {
		return false, nil
	}
	cadence = min(max(cadence, 1), MaxCadence)
	if c.conn.Cadence() == cadence {
		return false, nil
	}
	if err := c.conn.SetVsyncRate(cadence); err != nil {
		return false, fmt.Errorf("client %s: %w", c.spec.Name, err)
	}
	c.emit(trace.Record{Kind: trace.KindPolicy, Count: uint32(cadence), Detail: "retune"})
	return true, nil
}

// Run renders until ctx ends or the dispatcher drops the connection, then
// releases the connection.
func (c *Client) Run(ctx context.Context) error {
	defer func() {
		c.recv.Close()
		c.conn.Release()
		if c.history != nil {
			c.history.Destroy(c.layerID)
		}
	}()

	for ctx.Err() == nil {
		if c.spec.Cadence == OneShot {
			c.conn.RequestNextVsync()
			c.emit(trace.Record{Kind: trace.KindRequest})
		}

		ev, err := c.recv.NextWithin(100 * time.Millisecond)
		switch {
		case err == nil:
		case errors.Is(err, os.ErrDeadlineExceeded):
			continue
		default:
			return err
		}

		switch ev.Kind {
		case vsync.EventHotplug:
			c.emit(trace.Record{
				Kind:      trace.KindHotplug,
				Timestamp: ev.Timestamp,
				Detail:    fmt.Sprintf("%s connected=%t", ev.Display, ev.Connected),
			})
		case vsync.EventVsync:
			c.emit(trace.Record{Kind: trace.KindVsync, Timestamp: ev.Timestamp, Count: ev.Count})
			if err := c.renderFrame(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
	return nil
}

func (c *Client) renderFrame(ctx context.Context, ev vsync.Event) error {
	start := time.Now()
	if c.spec.Work != nil {
		if err := c.spec.Work(ctx); err != nil {
			return err
		}
	}
	took := time.Since(start)

	if c.history != nil {
		if err := c.history.Insert(c.layerID, c.clock.Now(), false); err != nil {
			return err
		}
	}
	kind := trace.KindFrameDone
	if c.spec.Budget > 0 && took > c.spec.Budget {
		kind = trace.KindFrameLate
	}
	c.emit(trace.Record{Kind: kind, Timestamp: ev.Timestamp, Count: ev.Count, Detail: took.String()})
	return nil
}

func (c *Client) emit(rec trace.Record) {
	if c.rec == nil {
		return
	}
	rec.Client = c.spec.Name
	c.rec.Emit(rec)
}
