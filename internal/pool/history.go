package pool

import "time"

// history is a fixed-size ring of execution durations. The pool mutex
// guards it; it has no lock of its own.
type history struct {
	samples []time.Duration
	next    int
	full    bool
	sum     time.Duration
}

func newHistory(size int) *history {
	return &history{samples: make([]time.Duration, size)}
}

// add records d, evicting the oldest sample once the ring is full.
func (h *history) add(d time.Duration) {
	if h.full {
		h.sum -= h.samples[h.next]
	}
	h.samples[h.next] = d
	h.sum += d
	h.next++
	if h.next == len(h.samples) {
		h.next = 0
		h.full = true
	}
}

func (h *history) len() int {
	if h.full {
		return len(h.samples)
	}
	return h.next
}

func (h *history) average() time.Duration {
	n := h.len()
	if n == 0 {
		return 0
	}
	return h.sum / time.Duration(n)
}
