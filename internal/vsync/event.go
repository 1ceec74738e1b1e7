// internal/vsync/event.go

package vsync

import (
	"encoding/binary"
	"fmt"
)

// EventKind is the type of a record written to a connection's channel.
type EventKind uint32

const (
	EventVsync EventKind = iota + 1
	EventHotplug
)

func (k EventKind) String() string {
	switch k {
	case EventVsync:
		return "Vsync"
	case EventHotplug:
		return "Hotplug"
	default:
		return "Unknown"
	}
}

// DisplayType identifies the display an event belongs to.
type DisplayType uint32

const (
	DisplayPrimary DisplayType = iota
	DisplayExternal
)

func (t DisplayType) String() string {
	switch t {
	case DisplayPrimary:
		return "Primary"
	case DisplayExternal:
		return "External"
	default:
		return fmt.Sprintf("Display(%d)", uint32(t))
	}
}

// Event is immutable once queued; every recipient gets its own copy.
type Event struct {
	Kind      EventKind
	Display   DisplayType
	Timestamp int64  // monotonic nanoseconds
	Count     uint32 // vsync: hardware ticks seen so far
	Connected bool   // hotplug: display attached
}

// EventSize is the size of one record on the wire:
// kind u32 | display u32 | timestamp i64 | payload u32 | reserved u32.
const EventSize = 24

// MarshalBinary encodes e as one little endian record.
func (e Event) MarshalBinary() ([]byte, error) {
	b := make([]byte, EventSize)
	e.put(b)
	return b, nil
}

func (e Event) put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], uint32(e.Kind))
	binary.LittleEndian.PutUint32(b[4:], uint32(e.Display))
	binary.LittleEndian.PutUint64(b[8:], uint64(e.Timestamp))
	var payload uint32
	switch e.Kind {
	case EventVsync:
		payload = e.Count
	case EventHotplug:
		if e.Connected {
			payload = 1
		}
	}
	binary.LittleEndian.PutUint32(b[16:], payload)
	binary.LittleEndian.PutUint32(b[20:], 0)
}

// UnmarshalBinary decodes one record.
func (e *Event) UnmarshalBinary(b []byte) error {
	if len(b) != EventSize {
		return fmt.Errorf("event record is %d bytes, want %d", len(b), EventSize)
	}
	kind := EventKind(binary.LittleEndian.Uint32(b[0:]))
	if kind != EventVsync && kind != EventHotplug {
		return fmt.Errorf("unknown event kind %d", uint32(kind))
	}
	*e = Event{
		Kind:      kind,
		Display:   DisplayType(binary.LittleEndian.Uint32(b[4:])),
		Timestamp: int64(binary.LittleEndian.Uint64(b[8:])),
	}
	payload := binary.LittleEndian.Uint32(b[16:])
	if kind == EventVsync {
		e.Count = payload
	} else {
		e.Connected = payload != 0
	}
	return nil
}
