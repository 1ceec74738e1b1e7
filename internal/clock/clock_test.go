package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSystemIsMonotonic(t *testing.T) {
	var c System
	a := c.Now()
	b := c.Now()
	assert.Positive(t, a)
	assert.GreaterOrEqual(t, b, a)
}

func TestManual(t *testing.T) {
	m := NewManual(1000)
	assert.Equal(t, int64(1000), m.Now())
	assert.Equal(t, int64(1500), m.Advance(500))
	m.Set(42)
	assert.Equal(t, int64(42), m.Now())
}
