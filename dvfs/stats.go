package dvfs

import "time"

// stats counts transitions between table indices and how long the domain
// sat at each one.
type stats struct {
	total    uint64
	failures uint64
	lastErr  error
	trans    [][]uint64
	inState  []time.Duration
	cur      int
	since    time.Time
}

func (s *stats) init(n int, now time.Time) {
	s.trans = make([][]uint64, n)
	for i := range s.trans {
		s.trans[i] = make([]uint64, n)
	}
	s.inState = make([]time.Duration, n)
	s.cur = -1
	s.since = now
}

// track records the index the domain is at, if the table knows its
// frequency.
func (s *stats) track(i int, now time.Time) {
	if s.cur >= 0 {
		s.inState[s.cur] += now.Sub(s.since)
	}
	s.cur = i
	s.since = now
}

func (s *stats) moved(from, to int, now time.Time) {
	if s.cur != from {
		s.track(from, now)
	}
	s.track(to, now)
	s.trans[from][to]++
	s.total++
}

func (s *stats) failed(err error) {
	s.failures++
	s.lastErr = err
}

// TransitionStats is a copy of the controller's transition counters.
type TransitionStats struct {
	Total    uint64
	Failures uint64
	LastErr  error
	// Counts[i][j] is how often the domain went from index i to index j.
	Counts  [][]uint64
	InState []time.Duration
}

func (s *stats) snapshot(now time.Time) TransitionStats {
	ts := TransitionStats{
		Total:    s.total,
		Failures: s.failures,
		LastErr:  s.lastErr,
		Counts:   make([][]uint64, len(s.trans)),
		InState:  append([]time.Duration{}, s.inState...),
	}
	for i := range s.trans {
		ts.Counts[i] = append([]uint64{}, s.trans[i]...)
	}
	if s.cur >= 0 {
		ts.InState[s.cur] += now.Sub(s.since)
	}
	return ts
}
