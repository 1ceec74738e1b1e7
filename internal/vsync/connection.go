// internal/vsync/connection.go

package vsync

import (
	"sync/atomic"

	"vsyncd/internal/tube"
)

// Connection is one client's subscription to a Dispatcher.
//
// The client owns the Connection; the dispatcher only keeps a weak
// reference. Dropping the last reference or calling Release ends the
// subscription and the dispatcher prunes it on its next pass.
type Connection struct {
	id         uint64
	dispatcher *Dispatcher
	channel    *tube.Tube
	released   atomic.Bool

	// guarded by dispatcher.mu
	//   count >= 1 : continuous event. count is the vsync rate
	//   count == 0 : one-shot event that has not fired
	//   count == -1: one-shot event that fired this round / disabled
	count int32
	// ticks left until the next continuous delivery
	shadow int32
}

func (c *Connection) ID() uint64 { return c.id }

// Cadence returns the current vsync rate.
func (c *Connection) Cadence() int32 {
	c.dispatcher.mu.Lock()
	defer c.dispatcher.mu.Unlock()
	return c.count
}

// ReceiveChannel hands the read end of the channel to the client. It can be
// taken once.
func (c *Connection) ReceiveChannel() (*Receiver, error) {
	r, err := c.channel.TakeReceiver()
	if err != nil {
		return nil, err
	}
	return &Receiver{r: r}, nil
}

// SetVsyncRate see Dispatcher.SetVsyncRate.
func (c *Connection) SetVsyncRate(count int32) error {
	return c.dispatcher.SetVsyncRate(count, c)
}

// RequestNextVsync see Dispatcher.RequestNextVsync.
func (c *Connection) RequestNextVsync() {
	c.dispatcher.RequestNextVsync(c)
}

// PostEvent writes one record to the channel.
func (c *Connection) PostEvent(ev Event) error {
	var b [EventSize]byte
	ev.put(b[:])
	return c.channel.Send(b[:])
}

// Release drops the client's handle: the channel closes and the dispatcher
// forgets the connection on its next pass. Idempotent.
func (c *Connection) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	_ = c.channel.Close()
	c.dispatcher.wake()
}

func (c *Connection) alive() bool { return !c.released.Load() }
