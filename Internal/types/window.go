package types

import "sync"

// CandleWindow is a fixed-capacity ring of closed candles, oldest first
type CandleWindow struct {
	mu       sync.RWMutex
	buf      []Candle
	start    int
	size     int
	capacity int
}

func NewCandleWindow(capacity int) *CandleWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &CandleWindow{
		buf:      make([]Candle, capacity),
		capacity: capacity,
	}
}

// Push appends a candle, dropping the oldest one when the window is full
func (w *CandleWindow) Push(c Candle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.push(c)
}

func (w *CandleWindow) push(c Candle) {
	if w.size < w.capacity {
		w.buf[(w.start+w.size)%w.capacity] = c
		w.size++
		return
	}
	w.buf[w.start] = c
	w.start = (w.start + 1) % w.capacity
}

// Merge appends the candles that are strictly newer than the newest held one
// and returns the ones that were appended
func (w *CandleWindow) Merge(candles []Candle) []Candle {
	w.mu.Lock()
	defer w.mu.Unlock()

	var added []Candle
	for _, c := range candles {
		if w.size > 0 {
			last := w.buf[(w.start+w.size-1)%w.capacity]
			if !c.Timestamp.After(last.Timestamp) {
				continue
			}
		}
		w.push(c)
		added = append(added, c)
	}
	return added
}

// Candles returns an ordered copy of the window contents
func (w *CandleWindow) Candles() []Candle {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Candle, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.start+i)%w.capacity]
	}
	return out
}

func (w *CandleWindow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.size
}

func (w *CandleWindow) Capacity() int {
	return w.capacity
}

// Last returns the newest candle, false when the window is empty
func (w *CandleWindow) Last() (Candle, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.size == 0 {
		return Candle{}, false
	}
	return w.buf[(w.start+w.size-1)%w.capacity], true
}

// IsWarm reports whether the window holds at least min candles
func (w *CandleWindow) IsWarm(min int) bool {
	return w.Len() >= min
}
