package monitor

import (
	"sync"
	"time"

	"codeberg.org/mutker/hwtelemetry/internal/telemetry"
)

const DefaultHistorySize = 120

// Sample is the subset of a record kept for rolling graphs.
type Sample struct {
	At       time.Time
	CPUUsage float32
	CPUTemp  float32
	GPULoad  float32
	GPUTemp  float32
	RAM      float32
	DownKBps float32
	UpKBps   float32
	PingMs   float32
}

func sampleOf(rec telemetry.Record, at time.Time) Sample {
	return Sample{
		At:       at,
		CPUUsage: rec.CPU.Usage,
		CPUTemp:  rec.CPU.Temp,
		GPULoad:  rec.GPU.Load,
		GPUTemp:  rec.GPU.Temp,
		RAM:      rec.RAM.Percent,
		DownKBps: rec.Network.DownKBps,
		UpKBps:   rec.Network.UpKBps,
		PingMs:   rec.Network.PingMs,
	}
}

// History is a fixed size ring of samples; the oldest is overwritten once
// full.
type History struct {
	mu    sync.RWMutex
	buf   []Sample
	start int
	n     int
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}

	return &History{buf: make([]Sample, size)}
}

func (h *History) Push(s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = s
		h.n++
		return
	}

	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.n
}

func (h *History) Cap() int {
	return len(h.buf)
}

// Samples returns a copy, oldest first.
func (h *History) Samples() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Sample, h.n)
	for i := range out {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}

	return out
}

// Average is the mean of a field over the samples where it was available.
func (h *History) Average(field func(Sample) float32) float32 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var sum float64
	var count int
	for i := 0; i < h.n; i++ {
		if v := field(h.buf[(h.start+i)%len(h.buf)]); v > 0 {
			sum += float64(v)
			count++
		}
	}
	if count == 0 {
		return 0
	}

	return float32(sum / float64(count))
}

// Peak is the largest value of a field in the window.
func (h *History) Peak(field func(Sample) float32) float32 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var peak float32
	for i := 0; i < h.n; i++ {
		peak = max(peak, field(h.buf[(h.start+i)%len(h.buf)]))
	}

	return peak
}
