// internal/vsync/dispatcher.go

package vsync

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	catrate "github.com/joeycumines/go-catrate"
	"github.com/rs/zerolog"

	"vsyncd/internal/clock"
	"vsyncd/internal/tube"
)

var (
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("vsync: dispatcher closed")
	// ErrInvalidVsyncRate rejects rates other than -1, 0 or >= 1.
	ErrInvalidVsyncRate = errors.New("vsync: invalid vsync rate")
	// ErrForeignConnection is returned for a connection created by another dispatcher.
	ErrForeignConnection = errors.New("vsync: connection belongs to another dispatcher")
)

const resyncCategory = "resync"

// Dispatcher fans vsync ticks out to registered connections at each
// connection's own cadence, and keeps the vsync source enabled only while
// some connection is waiting for a tick.
//
// All state is guarded by mu. The source is only configured from the
// dispatch goroutine while it holds mu; callers just update connection state
// and wake the loop.
type Dispatcher struct {
	cfg       Config
	log       zerolog.Logger
	clock     clock.Clock
	src       Source
	fallback  Source
	resync    func()
	resetIdle func()
	intercept func(timestamp int64)

	resyncLimiter *catrate.Limiter
	warnLimiter   *catrate.Limiter

	mu   sync.Mutex
	cond *sync.Cond

	conns   *connTable
	pending *linkedlistqueue.Queue // hotplug events, plus vsync events when not coalescing
	vsync   *Event                 // latest vsync when coalescing

	nextID          uint64
	vsyncCount      uint32 // ticks received from the sources
	processedCount  uint32 // ticks consumed by the loop
	vsyncEnabled    bool
	fallbackEnabled bool
	useSoftware     bool // screen released
	keepRunning     bool
	phaseOffset     int64
	phasePending    bool

	done chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(log zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

func WithClock(clk clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = clk }
}

// WithFallbackSource wires a source that serves requests while the screen is
// released. Without one, no ticks are produced with the screen off.
func WithFallbackSource(src Source) Option {
	return func(d *Dispatcher) { d.fallback = src }
}

// WithResyncCallback is invoked, rate limited, whenever a client requests
// the next vsync, so the hardware model can resynchronize.
func WithResyncCallback(fn func()) Option {
	return func(d *Dispatcher) { d.resync = fn }
}

// WithResetIdleTimer is invoked whenever a client requests the next vsync.
func WithResetIdleTimer(fn func()) Option {
	return func(d *Dispatcher) { d.resetIdle = fn }
}

// WithInterceptVsync sees the timestamp of every tick before it is queued.
func WithInterceptVsync(fn func(timestamp int64)) Option {
	return func(d *Dispatcher) { d.intercept = fn }
}

// New takes ownership of src and starts the dispatch goroutine.
func New(src Source, cfg Config, opts ...Option) *Dispatcher {
	cfg.clamp()
	d := &Dispatcher{
		cfg:         cfg,
		log:         zerolog.Nop(),
		clock:       clock.System{},
		src:         src,
		conns:       newConnTable(),
		pending:     linkedlistqueue.New(),
		keepRunning: true,
		done:        make(chan struct{}),
		resyncLimiter: catrate.NewLimiter(map[time.Duration]int{
			time.Duration(cfg.ResyncRateLimitMS) * time.Millisecond: 1,
		}),
		warnLimiter: catrate.NewLimiter(map[time.Duration]int{
			time.Duration(cfg.WriteWarnIntervalMS) * time.Millisecond: 1,
		}),
	}
	d.cond = sync.NewCond(&d.mu)
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With().Str("thread", cfg.ThreadName).Logger()

	d.src.SetCallback(d.onVsyncEvent)
	if d.fallback != nil {
		d.fallback.SetCallback(d.onVsyncEvent)
	}

	go d.threadMain()
	return d
}

// CreateConnection allocates a disabled connection with an open channel. It
// is not tracked until RegisterConnection.
func (d *Dispatcher) CreateConnection() (*Connection, error) {
	ch, err := tube.New(d.cfg.ChannelBufferSize)
	if err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.mu.Unlock()
	return &Connection{
		id:         id,
		dispatcher: d,
		channel:    ch,
		count:      -1,
	}, nil
}

// RegisterConnection starts tracking c. Registering a tracked connection
// again does nothing.
func (d *Dispatcher) RegisterConnection(c *Connection) error {
	if c.dispatcher != d {
		return ErrForeignConnection
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.keepRunning {
		return ErrClosed
	}
	if !d.conns.put(c) {
		d.log.Debug().Uint64("conn", c.id).Msg("connection already registered")
		return nil
	}
	d.cond.Broadcast()
	return nil
}

// UnregisterConnection stops tracking c. Connections of another dispatcher
// are ignored: ids are only unique per dispatcher.
func (d *Dispatcher) UnregisterConnection(c *Connection) {
	if c.dispatcher != d {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conns.remove(c.id) {
		d.cond.Broadcast()
	}
}

// SetVsyncRate sets the cadence of c: deliver every count-th tick for
// count >= 1, one pending one-shot for 0, nothing for -1.
func (d *Dispatcher) SetVsyncRate(count int32, c *Connection) error {
	if count < -1 {
		d.log.Warn().Int32("count", count).Uint64("conn", c.id).Msg("rejecting vsync rate")
		return fmt.Errorf("%w: %d", ErrInvalidVsyncRate, count)
	}
	if c.dispatcher != d {
		return ErrForeignConnection
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.keepRunning {
		return ErrClosed
	}
	if c.count != count {
		c.count = count
		c.shadow = count
		d.cond.Broadcast()
	}
	return nil
}

// RequestNextVsync arms a one-shot on a disabled connection. It returns
// immediately; the event arrives with a later tick.
func (d *Dispatcher) RequestNextVsync(c *Connection) {
	if c.dispatcher != d {
		return
	}
	d.mu.Lock()
	if !d.keepRunning {
		d.mu.Unlock()
		return
	}
	if c.count < 0 {
		c.count = 0
		d.cond.Broadcast()
	}
	d.mu.Unlock()

	// callbacks run unlocked, they may call back into the dispatcher
	if d.resetIdle != nil {
		d.resetIdle()
	}
	if d.resync != nil {
		if _, ok := d.resyncLimiter.Allow(resyncCategory); ok {
			d.resync()
		}
	}
}

// OnScreenReleased stops hardware vsync regardless of pending requests.
func (d *Dispatcher) OnScreenReleased() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.keepRunning || d.useSoftware {
		return
	}
	d.log.Info().Msg("screen released")
	d.useSoftware = true
	d.cond.Broadcast()
}

// OnScreenAcquired resumes hardware vsync for pending requests.
func (d *Dispatcher) OnScreenAcquired() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.keepRunning || !d.useSoftware {
		return
	}
	d.log.Info().Msg("screen acquired")
	d.useSoftware = false
	d.cond.Broadcast()
}

// OnHotplugReceived queues a hotplug event for every connection.
func (d *Dispatcher) OnHotplugReceived(display DisplayType, connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.keepRunning {
		return
	}
	d.log.Info().Stringer("display", display).Bool("connected", connected).Msg("hotplug")
	d.pending.Enqueue(Event{
		Kind:      EventHotplug,
		Display:   display,
		Timestamp: d.clock.Now(),
		Connected: connected,
	})
	d.cond.Broadcast()
}

// SetPhaseOffset is applied to the source by the dispatch goroutine before
// it handles the next event.
func (d *Dispatcher) SetPhaseOffset(offset int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.keepRunning {
		return
	}
	d.phaseOffset = offset
	d.phasePending = true
	d.cond.Broadcast()
}

// Close stops the dispatch goroutine after its current batch and disables
// the source. Safe to call more than once.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	d.stopLocked()
	d.mu.Unlock()
	<-d.done
	return nil
}

// stopLocked makes the loop exit at its next check; events still queued are
// dropped.
func (d *Dispatcher) stopLocked() {
	d.keepRunning = false
	d.cond.Broadcast()
}

// ConnectionState is one row of a Snapshot.
type ConnectionState struct {
	ID      uint64
	Cadence int32
}

// Snapshot is a point in time view of the dispatcher, for dumps and tests.
type Snapshot struct {
	VsyncEnabled    bool
	FallbackEnabled bool
	ScreenReleased  bool
	Running         bool
	PendingEvents   int
	ReceivedTicks   uint32
	ProcessedTicks  uint32
	Connections     []ConnectionState
}

// Snapshot also prunes connections that are gone.
func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Snapshot{
		VsyncEnabled:    d.vsyncEnabled,
		FallbackEnabled: d.fallbackEnabled,
		ScreenReleased:  d.useSoftware,
		Running:         d.keepRunning,
		PendingEvents:   d.pending.Size(),
		ReceivedTicks:   d.vsyncCount,
		ProcessedTicks:  d.processedCount,
	}
	if d.vsync != nil {
		s.PendingEvents++
	}
	for _, c := range d.conns.live(d.logGone) {
		s.Connections = append(s.Connections, ConnectionState{ID: c.id, Cadence: c.count})
	}
	return s
}

// IsRegistered reports whether c is tracked and alive.
func (d *Dispatcher) IsRegistered(c *Connection) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns.live(d.logGone)
	return d.conns.contains(c.id)
}

func (d *Dispatcher) wake() {
	d.mu.Lock()
	d.cond.Broadcast()
	d.mu.Unlock()
}

// onVsyncEvent is the source callback: enqueue and wake.
func (d *Dispatcher) onVsyncEvent(timestamp int64) {
	if d.intercept != nil {
		d.intercept(timestamp)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueueVsyncLocked(timestamp)
}

func (d *Dispatcher) enqueueVsyncLocked(timestamp int64) {
	if !d.keepRunning {
		return
	}
	d.vsyncCount++
	ev := Event{
		Kind:      EventVsync,
		Display:   DisplayPrimary,
		Timestamp: timestamp,
		Count:     d.vsyncCount,
	}
	if d.cfg.CoalesceVsync {
		d.vsync = &ev
	} else {
		d.pending.Enqueue(ev)
	}
	d.cond.Broadcast()
}

func (d *Dispatcher) threadMain() {
	defer close(d.done)

	d.mu.Lock()
	for {
		ev, due, ok := d.waitForEventLocked()
		if !ok {
			break
		}
		d.mu.Unlock()

		var failed []*Connection
		for _, c := range due {
			err := c.PostEvent(ev)
			switch {
			case err == nil:
			case errors.Is(err, tube.ErrWouldBlock):
				// the client is behind; it will catch up with a later event
				if _, allow := d.warnLimiter.Allow(c.id); allow {
					d.log.Warn().Uint64("conn", c.id).Stringer("kind", ev.Kind).Msg("dropping event, channel full")
				}
			default:
				d.log.Warn().Err(err).Uint64("conn", c.id).Msg("channel write failed, removing connection")
				failed = append(failed, c)
			}
		}

		d.mu.Lock()
		for _, c := range failed {
			d.conns.remove(c.id)
		}
	}
	d.disableVsyncLocked()
	d.setFallbackLocked(false)
	d.mu.Unlock()
}

// waitForEventLocked blocks until there is an event with at least one
// recipient, deciding cadence and source state on every pass. It returns
// false once the dispatcher is shutting down.
func (d *Dispatcher) waitForEventLocked() (Event, []*Connection, bool) {
	for d.keepRunning {
		if d.phasePending {
			d.phasePending = false
			d.src.SetPhaseOffset(d.phaseOffset)
			if d.fallback != nil {
				d.fallback.SetPhaseOffset(d.phaseOffset)
			}
		}

		ev, hasEvent := d.takeEventLocked()
		ticks := int32(0)
		if hasEvent && ev.Kind == EventVsync {
			ticks = int32(ev.Count - d.processedCount)
			if ticks < 1 {
				ticks = 1
			}
			d.processedCount = ev.Count
		}

		var (
			due       []*Connection
			needVsync bool
		)
		for _, c := range d.conns.live(d.logGone) {
			if c.count >= 0 {
				needVsync = true
			}
			if !hasEvent {
				continue
			}
			if ev.Kind == EventHotplug {
				due = append(due, c)
				continue
			}
			switch {
			case c.count == 0:
				c.count = -1
				due = append(due, c)
			case c.count >= 1:
				c.shadow -= ticks
				if c.shadow <= 0 {
					c.shadow = c.count
					due = append(due, c)
				}
			}
		}

		if needVsync && !d.useSoftware {
			d.enableVsyncLocked()
		} else {
			d.disableVsyncLocked()
		}
		d.setFallbackLocked(needVsync && d.useSoftware)

		if len(due) > 0 {
			return ev, due, true
		}
		if hasEvent {
			// nobody wanted it, look at the next one
			continue
		}
		d.cond.Wait()
	}
	return Event{}, nil, false
}

func (d *Dispatcher) takeEventLocked() (Event, bool) {
	if v, ok := d.pending.Dequeue(); ok {
		return v.(Event), true
	}
	if d.vsync != nil {
		ev := *d.vsync
		d.vsync = nil
		return ev, true
	}
	return Event{}, false
}

func (d *Dispatcher) enableVsyncLocked() {
	if d.vsyncEnabled {
		return
	}
	d.vsyncEnabled = true
	d.log.Debug().Msg("vsync enabled")
	d.src.SetVsyncEnabled(true)
}

func (d *Dispatcher) disableVsyncLocked() {
	if !d.vsyncEnabled {
		return
	}
	d.vsyncEnabled = false
	d.log.Debug().Msg("vsync disabled")
	d.src.SetVsyncEnabled(false)
}

func (d *Dispatcher) setFallbackLocked(enable bool) {
	if d.fallback == nil || d.fallbackEnabled == enable {
		return
	}
	d.fallbackEnabled = enable
	d.log.Debug().Bool("enabled", enable).Msg("software vsync")
	d.fallback.SetVsyncEnabled(enable)
}

func (d *Dispatcher) logGone(id uint64, collected bool) {
	d.log.Debug().Uint64("conn", id).Bool("collected", collected).Msg("pruning connection")
}
