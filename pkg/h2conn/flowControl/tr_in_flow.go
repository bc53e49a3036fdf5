package flowControl

import (
	"go.uber.org/atomic"
)

// TrInFlow decides when consumed inbound bytes are worth a WINDOW_UPDATE.
// OnData must be called by one goroutine at a time, GetSize is safe anywhere.
type TrInFlow struct {
	limit     uint32
	unacked   uint32
	threshold uint32
	window    atomic.Uint32
}

func NewTrInFlow(limit uint32) *TrInFlow {
	f := &TrInFlow{
		limit:     limit,
		threshold: limit / 4,
	}
	f.window.Store(limit)
	return f
}

// OnData records n consumed bytes. Once a quarter of the window is unacked it returns the
// increment to announce and starts over, otherwise zero.
func (f *TrInFlow) OnData(n uint32) uint32 {
	f.unacked += n
	if f.unacked < f.threshold {
		f.window.Store(f.limit - f.unacked)
		return 0
	}
	increment := f.unacked
	f.unacked = 0
	f.window.Store(f.limit)
	return increment
}

// GetSize returns the window the peer still has before the next update
func (f *TrInFlow) GetSize() uint32 {
	return f.window.Load()
}
