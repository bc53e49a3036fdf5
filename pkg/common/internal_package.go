package common

// DataPkg is one DATA frame worth of payload, produced by the frame size splitter
type DataPkg struct {
	Data      []byte
	EndStream bool
	StreamID  uint32
}
