package batch

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSizer_GrowsWhenFast(t *testing.T) {
	s := NewSizer(1, 5, 2, 0.5, time.Second, 4*time.Second)
	assert.Equal(t, 3, s.Observe(300*time.Millisecond, 3))
	assert.Equal(t, 4, s.Observe(300*time.Millisecond, 3))
	assert.Equal(t, 5, s.Observe(300*time.Millisecond, 3))
	assert.Equal(t, 5, s.Observe(300*time.Millisecond, 3), "capped at max")
}

func TestSizer_HalvesWhenSlow(t *testing.T) {
	s := NewSizer(1, 8, 8, 1, time.Second, 2*time.Second)
	assert.Equal(t, 4, s.Observe(80*time.Second, 8))
	assert.Equal(t, 2, s.Observe(40*time.Second, 4))
	assert.Equal(t, 1, s.Observe(20*time.Second, 2))
	assert.Equal(t, 1, s.Observe(20*time.Second, 1), "never below min")
}

func TestSizer_HoldsBetweenThresholds(t *testing.T) {
	s := NewSizer(1, 8, 3, 1, time.Second, 5*time.Second)
	assert.Equal(t, 3, s.Observe(6*time.Second, 2))
	assert.Equal(t, 3*time.Second, s.Average())
}

func TestSizer_PenalizeOnlyShrinks(t *testing.T) {
	s := NewSizer(1, 8, 4, 1, time.Second, 2*time.Second)
	assert.Equal(t, 4, s.Penalize(10*time.Millisecond, 4), "fast failures never grow the size")
	assert.Equal(t, 2, s.Penalize(40*time.Second, 4))
	assert.Equal(t, 10*time.Second, s.Average())
	assert.Equal(t, 1, s.Penalize(40*time.Second, 2))
	assert.Equal(t, 1, s.Penalize(40*time.Second, 1), "never below min")
}

func TestSizer_StaysInBounds(t *testing.T) {
	s := NewSizer(2, 6, 4, 0.3, 500*time.Millisecond, 2*time.Second)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		n := rng.Intn(6) + 1
		latency := time.Duration(rng.Int63n(int64(5 * time.Second)))
		got := s.Observe(latency, n)
		assert.GreaterOrEqual(t, got, 2)
		assert.LessOrEqual(t, got, 6)
	}
}

func TestNewSizer_NormalizesBounds(t *testing.T) {
	s := NewSizer(0, 0, 10, 0, time.Second, time.Second)
	lo, hi := s.Bounds()
	assert.Equal(t, 1, lo)
	assert.Equal(t, 1, hi)
	assert.Equal(t, 1, s.Current())
}
