// internal/vsync/source.go

package vsync

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/queues/linkedlistqueue"

	"vsyncd/internal/clock"
)

// Callback receives the timestamp of one tick.
type Callback func(timestamp int64)

// Source abstracts the timing generator feeding a Dispatcher.
//
// Implementations must deliver callbacks from their own goroutine, never
// synchronously from SetVsyncEnabled or SetPhaseOffset: the dispatcher calls
// those while holding the lock the callback needs.
type Source interface {
	// SetVsyncEnabled starts or stops ticks. Idempotent.
	SetVsyncEnabled(enable bool)
	// SetCallback registers the single callback, replacing any previous one.
	SetCallback(cb Callback)
	// SetPhaseOffset shifts the next tick by a signed offset in nanoseconds.
	// Ticks that are already scheduled are not affected.
	SetPhaseOffset(offset int64)
}

// HardwareSource forwards vsync timestamps reported by the display hardware.
// The display layer calls OnVsync on every hardware tick; ticks are dropped
// while the source is disabled.
type HardwareSource struct {
	mu      sync.Mutex
	cb      Callback
	enabled bool
	phase   int64

	// ticks held back by a positive phase, in tick order
	delayed  *linkedlistqueue.Queue
	draining bool

	delivered atomic.Int64
}

type delayedTick struct {
	due       time.Time
	timestamp int64
	cb        Callback
}

func NewHardwareSource() *HardwareSource {
	return &HardwareSource{delayed: linkedlistqueue.New()}
}

func (s *HardwareSource) SetVsyncEnabled(enable bool) {
	s.mu.Lock()
	s.enabled = enable
	s.mu.Unlock()
}

func (s *HardwareSource) SetCallback(cb Callback) {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
}

func (s *HardwareSource) SetPhaseOffset(offset int64) {
	s.mu.Lock()
	s.phase = offset
	s.mu.Unlock()
}

func (s *HardwareSource) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Delivered counts ticks handed to the callback.
func (s *HardwareSource) Delivered() int64 { return s.delivered.Load() }

// OnVsync reports a hardware vsync at timestamp. A positive phase offset
// delays the callback by that much; the reported timestamp is shifted by the
// offset either way. Callbacks are always made in tick order: while earlier
// ticks are still held back, later ones queue behind them even when the
// phase has since been lowered.
func (s *HardwareSource) OnVsync(timestamp int64) {
	s.mu.Lock()
	cb, phase := s.cb, s.phase
	if !s.enabled || cb == nil {
		s.mu.Unlock()
		return
	}
	if phase <= 0 && !s.draining {
		s.mu.Unlock()
		s.deliver(cb, timestamp+phase)
		return
	}
	s.delayed.Enqueue(delayedTick{
		due:       time.Now().Add(time.Duration(max(phase, 0))),
		timestamp: timestamp + phase,
		cb:        cb,
	})
	if !s.draining {
		s.draining = true
		go s.drain()
	}
	s.mu.Unlock()
}

// drain delivers held back ticks one by one until the queue is empty.
func (s *HardwareSource) drain() {
	for {
		s.mu.Lock()
		v, ok := s.delayed.Dequeue()
		if !ok {
			s.draining = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		tick := v.(delayedTick)
		if wait := time.Until(tick.due); wait > 0 {
			time.Sleep(wait)
		}
		s.deliver(tick.cb, tick.timestamp)
	}
}

func (s *HardwareSource) deliver(cb Callback, timestamp int64) {
	s.delivered.Add(1)
	cb(timestamp)
}

// SoftwareSource generates ticks from a timer. It stands in for hardware
// vsync when the panel is off or its signal is unavailable.
type SoftwareSource struct {
	period time.Duration
	clock  clock.Clock

	mu         sync.Mutex
	cb         Callback
	stop       chan struct{}
	phaseDelta int64
	phase      int64

	count atomic.Int64
}

// NewSoftwareSource creates a stopped source ticking every period.
func NewSoftwareSource(period time.Duration, clk clock.Clock) *SoftwareSource {
	if period <= 0 {
		period = 16666667 * time.Nanosecond
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &SoftwareSource{period: period, clock: clk}
}

func (s *SoftwareSource) SetCallback(cb Callback) {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
}

// SetPhaseOffset moves the next deadline by the difference to the previous
// offset; later ticks keep the regular period.
func (s *SoftwareSource) SetPhaseOffset(offset int64) {
	s.mu.Lock()
	s.phaseDelta += offset - s.phase
	s.phase = offset
	s.mu.Unlock()
}

// SetVsyncEnabled starts or stops the timer goroutine. Stopping does not wait
// for it, a tick that is already firing may still be delivered.
func (s *SoftwareSource) SetVsyncEnabled(enable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case enable && s.stop == nil:
		s.stop = make(chan struct{})
		go s.run(s.stop)
	case !enable && s.stop != nil:
		close(s.stop)
		s.stop = nil
	}
}

func (s *SoftwareSource) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

// Count returns the number of ticks emitted.
func (s *SoftwareSource) Count() int64 { return s.count.Load() }

func (s *SoftwareSource) run(stop <-chan struct{}) {
	s.mu.Lock()
	first := s.period + time.Duration(s.phaseDelta)
	s.phaseDelta = 0
	s.mu.Unlock()

	timer := time.NewTimer(max(first, 0))
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}
		select {
		case <-stop:
			return
		default:
		}

		s.mu.Lock()
		cb := s.cb
		next := s.period + time.Duration(s.phaseDelta)
		s.phaseDelta = 0
		s.mu.Unlock()

		s.count.Add(1)
		if cb != nil {
			cb(s.clock.Now())
		}
		timer.Reset(max(next, 0))
	}
}
