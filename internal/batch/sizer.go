package batch

import (
	"sync"
	"time"
)

// Sizer adapts the batch size from an EWMA of per-item latency. Below the fast
// threshold the size grows by one; above the slow threshold it halves. The
// size always stays within [min, max] and min is at least 1.
type Sizer struct {
	mu       sync.Mutex
	current  int
	min, max int
	alpha    float64
	fast     time.Duration
	slow     time.Duration
	avg      float64
	observed bool
}

func NewSizer(min, max, initial int, alpha float64, fast, slow time.Duration) *Sizer {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	if slow < fast {
		slow = fast
	}
	return &Sizer{
		current: clamp(initial, min, max),
		min:     min,
		max:     max,
		alpha:   alpha,
		fast:    fast,
		slow:    slow,
	}
}

// Observe feeds the latency of a completed batch of n items and returns the
// new size.
func (s *Sizer) Observe(latency time.Duration, n int) int {
	if n <= 0 {
		n = 1
	}
	perItem := float64(latency) / float64(n)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.update(perItem)
	switch avg := time.Duration(s.avg); {
	case avg < s.fast:
		s.current = clamp(s.current+1, s.min, s.max)
	case avg > s.slow:
		s.current = clamp(s.current/2, s.min, s.max)
	}
	return s.current
}

// Penalize feeds the latency of the last attempt of a failed batch. It can
// only shrink the size: a fast failure says nothing about throughput.
func (s *Sizer) Penalize(latency time.Duration, n int) int {
	if n <= 0 {
		n = 1
	}
	perItem := float64(latency) / float64(n)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.update(perItem)
	if time.Duration(s.avg) > s.slow {
		s.current = clamp(s.current/2, s.min, s.max)
	}
	return s.current
}

func (s *Sizer) update(perItem float64) {
	if !s.observed {
		s.avg = perItem
		s.observed = true
		return
	}
	s.avg = s.alpha*perItem + (1-s.alpha)*s.avg
}

func (s *Sizer) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Sizer) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.avg)
}

func (s *Sizer) Bounds() (int, int) {
	return s.min, s.max
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
