// internal/layer/layerhistory.go

package layer

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"vsyncd/internal/clock"
)

// Handle identifies a layer registered with a History.
type Handle uint64

// Summary is what the rate policy reads back.
type Summary struct {
	DesiredRefreshRate float32 // max over visible, recently active layers; 0 if none
	HDR                bool    // any visible layer shows HDR content
	ActiveLayers       int
}

// History owns one Info per live surface and summarizes them for the
// refresh rate policy.
type History struct {
	cfg   Config
	clock clock.Clock
	log   zerolog.Logger

	mu       sync.Mutex
	nextID   Handle
	active   map[Handle]*Info
	inactive map[Handle]*Info
}

func NewHistory(cfg Config, clk clock.Clock, log zerolog.Logger) *History {
	cfg.clamp()
	if clk == nil {
		clk = clock.System{}
	}
	return &History{
		cfg:      cfg,
		clock:    clk,
		log:      log,
		active:   make(map[Handle]*Info),
		inactive: make(map[Handle]*Info),
	}
}

// Create registers a surface. It starts inactive until its first present.
func (h *History) Create(name string, maxRefreshRate float32) Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.inactive[h.nextID] = NewInfo(name, maxRefreshRate, h.cfg, h.clock)
	return h.nextID
}

// Destroy forgets a surface.
func (h *History) Destroy(id Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.active, id)
	delete(h.inactive, id)
}

func (h *History) lookupLocked(id Handle) (*Info, error) {
	if info, ok := h.active[id]; ok {
		return info, nil
	}
	if info, ok := h.inactive[id]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("no such layer %d", id)
}

// Insert records a present for the layer and marks it active.
func (h *History) Insert(id Handle, presentTime int64, isHDR bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	info, err := h.lookupLocked(id)
	if err != nil {
		return err
	}
	info.SetLastPresentTime(presentTime)
	info.SetHDRContent(isHDR)
	if _, ok := h.inactive[id]; ok {
		delete(h.inactive, id)
		h.active[id] = info
	}
	return nil
}

func (h *History) SetVisibility(id Handle, visible bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	info, err := h.lookupLocked(id)
	if err != nil {
		return err
	}
	info.SetVisibility(visible)
	return nil
}

// Info returns the tracker behind a handle.
func (h *History) Info(id Handle) (*Info, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	info, err := h.lookupLocked(id)
	return info, err == nil
}

// Summarize moves layers that have not updated within the obsolete epsilon
// to the inactive set, then picks the highest desired rate among visible,
// recently active layers.
func (h *History) Summarize() Summary {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	obsolete := now - h.cfg.obsoleteEpsilon()
	var s Summary
	for id, info := range h.active {
		if info.LastUpdatedTime() < obsolete {
			info.ClearHistory()
			delete(h.active, id)
			h.inactive[id] = info
			h.log.Debug().Str("layer", info.Name()).Msg("layer went inactive")
			continue
		}
		if !info.Visible() {
			continue
		}
		if info.HDRContent() {
			s.HDR = true
		}
		if !info.IsRecentlyActive() {
			continue
		}
		s.ActiveLayers++
		if rate := info.DesiredRefreshRate(); rate > s.DesiredRefreshRate {
			s.DesiredRefreshRate = rate
		}
	}
	return s
}
