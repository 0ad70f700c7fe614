package upstream

// ErrorWindow tracks the outcome of the last N upstream calls. A burst of
// failures inside the window is treated as upstream anomaly detection rather
// than an outage.
type ErrorWindow struct {
	outcomes  []bool
	next      int
	filled    int
	threshold float64
}

func NewErrorWindow(size int, threshold float64) *ErrorWindow {
	if size <= 0 {
		size = 1
	}
	return &ErrorWindow{outcomes: make([]bool, size), threshold: threshold}
}

// Record adds one outcome and reports whether the failure rate now exceeds
// the threshold. The rate is only judged once half the window has filled.
func (w *ErrorWindow) Record(failed bool) bool {
	w.outcomes[w.next] = failed
	w.next = (w.next + 1) % len(w.outcomes)
	if w.filled < len(w.outcomes) {
		w.filled++
	}
	return w.Tripped()
}

func (w *ErrorWindow) Tripped() bool {
	if w.filled*2 < len(w.outcomes) {
		return false
	}
	return w.Rate() >= w.threshold
}

func (w *ErrorWindow) Rate() float64 {
	if w.filled == 0 {
		return 0
	}
	failures := 0
	for i := range w.filled {
		if w.outcomes[i] {
			failures++
		}
	}
	return float64(failures) / float64(w.filled)
}

func (w *ErrorWindow) Reset() {
	clear(w.outcomes)
	w.next, w.filled = 0, 0
}
