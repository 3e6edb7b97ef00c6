package logger

import (
	"strconv"
	"strings"
	"sync"
)

// ratioSampler lets num out of every den events through, in a fixed
// pattern. A zero ratio lets everything through.
type ratioSampler struct {
	mu   sync.Mutex
	num  uint64
	den  uint64
	seen uint64
}

func newRatioSampler(num, den int) *ratioSampler {
	s := &ratioSampler{}
	s.Set(num, den)
	return s
}

func (s *ratioSampler) Set(num, den int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = 0
	if num <= 0 || den <= 0 {
		s.num, s.den = 0, 0
		return
	}
	s.num, s.den = uint64(min(num, den)), uint64(den)
}

func (s *ratioSampler) Allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.den == 0 {
		return true
	}
	pos := s.seen % s.den
	s.seen++
	return pos < s.num
}

// parseRatio reads "num/den" or "n" (meaning 1/n). ok is false when raw is
// empty or malformed. "0" parses to 0/0, which disables sampling.
func parseRatio(raw string) (num, den int, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, 0, false
	}
	if a, b, found := strings.Cut(raw, "/"); found {
		n, err1 := strconv.Atoi(strings.TrimSpace(a))
		d, err2 := strconv.Atoi(strings.TrimSpace(b))
		if err1 != nil || err2 != nil || n <= 0 || d <= 0 {
			return 0, 0, false
		}
		return n, d, true
	}
	v, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, 0, false
	case v <= 0:
		return 0, 0, true
	}
	return 1, v, true
}
