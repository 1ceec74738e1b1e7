// internal/trace/event.go

package trace

import (
	"time"
)

// Kind represents the type of client-side trace record
type Kind int

const (
	KindVsync Kind = iota
	KindHotplug
	KindRequest
	KindFrameDone
	KindFrameLate
	KindPolicy
)

// Record is emitted by clients and the rate policy as they see events
type Record struct {
	Time      time.Time
	Kind      Kind
	Client    string
	Timestamp int64 // vsync timestamp, ns
	Count     uint32
	Detail    string
}

func (k Kind) String() string {
	switch k {
	case KindVsync:
		return "Vsync"
	case KindHotplug:
		return "Hotplug"
	case KindRequest:
		return "Request"
	case KindFrameDone:
		return "FrameDone"
	case KindFrameLate:
		return "FrameLate"
	case KindPolicy:
		return "Policy"
	default:
		return "Unknown"
	}
}
