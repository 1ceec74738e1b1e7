// internal/vsync/receiver.go

package vsync

import (
	"time"

	"vsyncd/internal/tube"
)

// Receiver is the client side of a connection's channel.
type Receiver struct {
	r   *tube.Receiver
	buf [EventSize * 2]byte
}

// Next blocks for the next event. It returns tube.ErrClosed once the
// dispatcher side is gone.
func (r *Receiver) Next() (Event, error) {
	n, err := r.r.Read(r.buf[:])
	if err != nil {
		return Event{}, err
	}
	var ev Event
	if err := ev.UnmarshalBinary(r.buf[:n]); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// NextWithin is Next bounded by timeout.
func (r *Receiver) NextWithin(timeout time.Duration) (Event, error) {
	if err := r.r.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Event{}, err
	}
	defer r.r.SetReadDeadline(time.Time{})
	return r.Next()
}

func (r *Receiver) Close() error { return r.r.Close() }
