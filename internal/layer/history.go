// internal/layer/history.go

package layer

import (
	"github.com/emirpasic/gods/queues/circularbuffer"
)

// PresentTimeHistory keeps the most recent present (update) times of a layer.
// Once full, every insert evicts the oldest entry.
type PresentTimeHistory struct {
	elements *circularbuffer.Queue
	size     int
}

func NewPresentTimeHistory(size int) *PresentTimeHistory {
	return &PresentTimeHistory{elements: circularbuffer.New(size), size: size}
}

func (h *PresentTimeHistory) Insert(presentTime int64) {
	h.elements.Enqueue(presentTime)
}

// Values returns the window, oldest first.
func (h *PresentTimeHistory) Values() []int64 { return int64s(h.elements.Values()) }

func (h *PresentTimeHistory) Len() int { return h.elements.Size() }

// IsRelevant reports whether the layer published a full window of updates
// and the latest of them is newer than now-epsilon.
func (h *PresentTimeHistory) IsRelevant(now, epsilon int64) bool {
	if h.elements.Size() < h.size {
		return false
	}
	values := h.Values()
	return values[len(values)-1] > now-epsilon
}

// IsLowActivity reports whether fewer than buffers updates landed inside the
// last window nanoseconds.
func (h *PresentTimeHistory) IsLowActivity(now, window int64, buffers int) bool {
	values := h.Values()
	if len(values) < buffers {
		return true
	}
	for i := 0; i < buffers; i++ {
		if values[len(values)-1-i] < now-window {
			return true
		}
	}
	return false
}

func (h *PresentTimeHistory) Clear() { h.elements.Clear() }

// RefreshDurationHistory keeps the most recent intervals between presents.
type RefreshDurationHistory struct {
	elements           *circularbuffer.Queue
	size               int
	minRefreshDuration int64
}

func NewRefreshDurationHistory(size int, minRefreshDuration int64) *RefreshDurationHistory {
	return &RefreshDurationHistory{
		elements:           circularbuffer.New(size),
		size:               size,
		minRefreshDuration: minRefreshDuration,
	}
}

func (h *RefreshDurationHistory) Insert(refreshDuration int64) {
	h.elements.Enqueue(refreshDuration)
}

// Values returns the window, oldest first.
func (h *RefreshDurationHistory) Values() []int64 { return int64s(h.elements.Values()) }

func (h *RefreshDurationHistory) Len() int { return h.elements.Size() }

// AverageDuration is the mean of a full window. Until the window fills up it
// falls back to the minimum refresh duration, i.e. the layer's max rate.
func (h *RefreshDurationHistory) AverageDuration() int64 {
	if h.elements.Size() < h.size {
		return h.minRefreshDuration
	}
	var sum int64
	values := h.Values()
	for _, v := range values {
		sum += v
	}
	return sum / int64(len(values))
}

// AverageRate converts AverageDuration to Hz.
func (h *RefreshDurationHistory) AverageRate() float32 {
	d := h.AverageDuration()
	if d <= 0 {
		return 0
	}
	return 1e9 / float32(d)
}

func (h *RefreshDurationHistory) Clear() { h.elements.Clear() }

func int64s(values []interface{}) []int64 {
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = v.(int64)
	}
	return out
}
