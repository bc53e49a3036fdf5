package h2conn

import (
	h2 "golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

import (
	"github.com/dubbogo/h2handler/pkg/common"
)

// Encoder writes frames of one connection, safe for concurrent use
type Encoder interface {
	Session() *Session
	WritePreface() error
	WriteSettings(settings *common.Settings) error
	WriteSettingsAck() error
	WriteHeaders(streamID uint32, headers []hpack.HeaderField, endStream bool) error
	WriteData(streamID uint32, data []byte, endStream bool) error
	WriteRSTStream(streamID uint32, code h2.ErrCode) error
	WritePing(ack bool, data [8]byte) error
	WriteGoAway(lastStreamID uint32, code h2.ErrCode, debugData []byte) error
	WriteWindowUpdate(streamID uint32, increment uint32) error
	// RemoteSettings returns what the peer has announced so far
	RemoteSettings() *common.Settings
	Close() error
}

// Decoder reads frames of one connection and hands them to its FrameListener
type Decoder interface {
	Session() *Session
	FrameListener() FrameListener
	SetFrameListener(l FrameListener)
	// LocalSettings returns the settings this end announced
	LocalSettings() *common.Settings
	// Run reads until the transport fails or a connection error occurs
	Run() error
}
