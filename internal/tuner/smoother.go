package tuner

import "sort"

// median keeps the last few estimates and reports their median.
// A window of 1 passes estimates through unchanged.
type median struct {
	window  int
	history []float64
}

func newMedian(window int) *median {
	if window < 1 {
		window = 1
	}
	return &median{window: window, history: make([]float64, 0, window)}
}

func (m *median) Add(hz float64) float64 {
	if len(m.history) == m.window {
		copy(m.history, m.history[1:])
		m.history = m.history[:m.window-1]
	}
	m.history = append(m.history, hz)

	sorted := make([]float64, len(m.history))
	copy(sorted, m.history)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func (m *median) Reset() {
	m.history = m.history[:0]
}
