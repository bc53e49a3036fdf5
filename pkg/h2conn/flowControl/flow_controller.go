package flowControl

import (
	"math"
	"sync"
)

import (
	perrors "github.com/pkg/errors"
	h2 "golang.org/x/net/http2"
)

import (
	"github.com/dubbogo/h2handler/pkg/common"
)

const maxWindowSize = math.MaxInt32

// ErrFlowControlClosed is returned to writers blocked on quota when the controller closes
var ErrFlowControlClosed = perrors.New("h2 flow controller closed")

// ErrStreamNotOpen is returned to writers of a stream that is not open, or was closed while
// they waited for quota
var ErrStreamNotOpen = perrors.New("h2 stream is not open")

// H2FlowController keeps the send quota granted by the peer and decides when to grant the
// peer more quota for what this end has consumed.
// Per-stream state exists only between OpenStream and CloseStream.
type H2FlowController struct {
	// lock guards everything below, cond waits for send quota
	lock   sync.Mutex
	cond   *sync.Cond
	closed bool

	sendQuota          int64
	streamSendQuota    map[uint32]int64
	initialStreamQuota int64

	connInFlow    *TrInFlow
	streamInFlow  map[uint32]*TrInFlow
	streamInLimit uint32
}

// NewH2FlowController creates the controller of one connection, localStreamWindow is the
// INITIAL_WINDOW_SIZE this end advertised
func NewH2FlowController(localStreamWindow uint32) *H2FlowController {
	fc := &H2FlowController{
		sendQuota:          common.DefaultConnInitWindowSize,
		streamSendQuota:    make(map[uint32]int64),
		initialStreamQuota: common.DefaultInitialWindowSize,
		connInFlow:         NewTrInFlow(common.DefaultConnInitWindowSize),
		streamInFlow:       make(map[uint32]*TrInFlow),
		streamInLimit:      localStreamWindow,
	}
	fc.cond = sync.NewCond(&fc.lock)
	return fc
}

// OpenStream starts the windows of streamID in both directions, opening an open stream is a no-op
func (fc *H2FlowController) OpenStream(streamID uint32) {
	fc.lock.Lock()
	defer fc.lock.Unlock()
	if _, ok := fc.streamSendQuota[streamID]; ok {
		return
	}
	fc.streamSendQuota[streamID] = fc.initialStreamQuota
	fc.streamInFlow[streamID] = NewTrInFlow(fc.streamInLimit)
}

// CloseStream forgets streamID in both directions and fails writers waiting on it
func (fc *H2FlowController) CloseStream(streamID uint32) {
	fc.lock.Lock()
	delete(fc.streamSendQuota, streamID)
	delete(fc.streamInFlow, streamID)
	fc.cond.Broadcast()
	fc.lock.Unlock()
}

// OpenStreams returns how many streams currently hold windows
func (fc *H2FlowController) OpenStreams() int {
	fc.lock.Lock()
	defer fc.lock.Unlock()
	return len(fc.streamSendQuota)
}

// Acquire blocks until some quota is available on both the connection and streamID,
// and takes at most n bytes of it
func (fc *H2FlowController) Acquire(streamID uint32, n int) (int, error) {
	if n == 0 {
		return 0, nil
	}
	fc.lock.Lock()
	defer fc.lock.Unlock()
	for {
		if fc.closed {
			return 0, ErrFlowControlClosed
		}
		sq, ok := fc.streamSendQuota[streamID]
		if !ok {
			return 0, ErrStreamNotOpen
		}
		avail := fc.sendQuota
		if sq < avail {
			avail = sq
		}
		if avail > 0 {
			if int64(n) < avail {
				avail = int64(n)
			}
			fc.sendQuota -= avail
			fc.streamSendQuota[streamID] = sq - avail
			return int(avail), nil
		}
		fc.cond.Wait()
	}
}

// AddSendQuota applies a WINDOW_UPDATE from the peer, streamID 0 is the connection.
// Updates for streams that are not open are dropped.
func (fc *H2FlowController) AddSendQuota(streamID uint32, increment uint32) error {
	fc.lock.Lock()
	defer fc.lock.Unlock()
	if streamID == 0 {
		if fc.sendQuota+int64(increment) > maxWindowSize {
			return h2.ConnectionError(h2.ErrCodeFlowControl)
		}
		fc.sendQuota += int64(increment)
	} else {
		q, ok := fc.streamSendQuota[streamID]
		if !ok {
			return nil
		}
		if q+int64(increment) > maxWindowSize {
			return h2.StreamError{StreamID: streamID, Code: h2.ErrCodeFlowControl}
		}
		fc.streamSendQuota[streamID] = q + int64(increment)
	}
	fc.cond.Broadcast()
	return nil
}

// UpdateInitialWindowSize applies the peer's INITIAL_WINDOW_SIZE, open streams move by the delta
func (fc *H2FlowController) UpdateInitialWindowSize(size uint32) {
	fc.lock.Lock()
	defer fc.lock.Unlock()
	delta := int64(size) - fc.initialStreamQuota
	fc.initialStreamQuota = int64(size)
	for id, q := range fc.streamSendQuota {
		fc.streamSendQuota[id] = q + delta
	}
	fc.cond.Broadcast()
}

// OnConnData records n bytes received on the connection, whatever their stream, and returns
// the connection WINDOW_UPDATE increment due
func (fc *H2FlowController) OnConnData(n uint32) uint32 {
	fc.lock.Lock()
	defer fc.lock.Unlock()
	return fc.connInFlow.OnData(n)
}

// OnStreamData records n bytes received on an open stream and returns the stream
// WINDOW_UPDATE increment due, zero for streams that are not open
func (fc *H2FlowController) OnStreamData(streamID uint32, n uint32) uint32 {
	fc.lock.Lock()
	defer fc.lock.Unlock()
	in, ok := fc.streamInFlow[streamID]
	if !ok {
		return 0
	}
	return in.OnData(n)
}

// SendQuota returns the remaining connection send quota
func (fc *H2FlowController) SendQuota() int64 {
	fc.lock.Lock()
	defer fc.lock.Unlock()
	return fc.sendQuota
}

// Close wakes every blocked Acquire with ErrFlowControlClosed
func (fc *H2FlowController) Close() {
	fc.lock.Lock()
	fc.closed = true
	fc.cond.Broadcast()
	fc.lock.Unlock()
}
