package frameSize

import (
	"go.uber.org/atomic"
)

import (
	"github.com/dubbogo/h2handler/pkg/common"
)

// H2MaxFrameController splits big payloads into DATA frame sized pieces
type H2MaxFrameController struct {
	maxFrameSize atomic.Uint32
}

func NewH2MaxFrameController() *H2MaxFrameController {
	mfc := &H2MaxFrameController{}
	mfc.maxFrameSize.Store(common.DefaultMaxFrameSize)
	return mfc
}

// SendGeneralDataFrame splits data and hands each piece to f in order, only the final piece
// carries endStream. An empty payload still produces one piece so endStream is not lost.
// It stops at the first error of f.
func (mfc *H2MaxFrameController) SendGeneralDataFrame(streamID uint32, endStream bool, data []byte, f func(pkg common.DataPkg) error) error {
	maxFrameSize := int(mfc.maxFrameSize.Load())
	lenData := len(data)
	if lenData == 0 {
		return f(common.DataPkg{
			EndStream: endStream,
			StreamID:  streamID,
		})
	}
	for i := 0; i < lenData; i += maxFrameSize {
		if i+maxFrameSize >= lenData { // final frame
			return f(common.DataPkg{
				EndStream: endStream,
				Data:      data[i:lenData],
				StreamID:  streamID,
			})
		}
		if err := f(common.DataPkg{
			EndStream: false,
			Data:      data[i : i+maxFrameSize],
			StreamID:  streamID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// SetMaxFrameSize applies the MAX_FRAME_SIZE announced by the peer
func (mfc *H2MaxFrameController) SetMaxFrameSize(newMaxFrameSize uint32) {
	mfc.maxFrameSize.Store(newMaxFrameSize)
}

func (mfc *H2MaxFrameController) MaxFrameSize() uint32 {
	return mfc.maxFrameSize.Load()
}
