package layer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresentTimeHistoryEvictsOldest(t *testing.T) {
	h := NewPresentTimeHistory(3)
	for i := int64(1); i <= 5; i++ {
		h.Insert(i)
	}
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, []int64{3, 4, 5}, h.Values())
}

func TestPresentTimeHistoryRelevance(t *testing.T) {
	h := NewPresentTimeHistory(2)
	h.Insert(100)
	assert.False(t, h.IsRelevant(150, 100), "window not full")
	h.Insert(120)
	assert.True(t, h.IsRelevant(150, 100))
	assert.False(t, h.IsRelevant(500, 100))
}

func TestRefreshDurationHistoryAverage(t *testing.T) {
	h := NewRefreshDurationHistory(4, 1000)
	h.Insert(2000)
	h.Insert(2000)
	assert.Equal(t, int64(1000), h.AverageDuration(), "partial window falls back to the floor")
	assert.InDelta(t, 1e6, h.AverageRate(), 1)

	h.Insert(4000)
	h.Insert(4000)
	assert.Equal(t, int64(3000), h.AverageDuration())

	h.Insert(4000)
	h.Insert(4000)
	assert.Equal(t, []int64{4000, 4000, 4000, 4000}, h.Values())
	assert.Equal(t, int64(4000), h.AverageDuration())

	h.Clear()
	assert.Zero(t, h.Len())
}
