package common

import "math"

type SessionState uint32

const (
	Reachable = SessionState(0)
	Draining  = SessionState(1)
	Closing   = SessionState(2)
)

func (s SessionState) String() string {
	switch s {
	case Reachable:
		return "reachable"
	case Draining:
		return "draining"
	case Closing:
		return "closing"
	}
	return "unknown"
}

// protocol defaults of the SETTINGS parameters, RFC 7540 6.5.2
const (
	DefaultEnablePush           = true
	DefaultHeaderTableSize      = 4096
	DefaultInitialWindowSize    = 65535
	DefaultMaxConcurrentStreams = math.MaxUint32
	DefaultMaxFrameSize         = 16384
	DefaultMaxHeaderListSize    = math.MaxUint32
)

const DefaultConnInitWindowSize = 65535

// DefaultMaxDecompressedBodySize bounds the body a client decodes per stream
const DefaultMaxDecompressedBodySize = 4 << 20

// url params read by NewSettingsOverrideFromURL and h2conn.NewConfigFromURL
const (
	SideKey                    = "side"
	ProviderSide               = "provider"
	CompressionKey             = "h2.compression"
	MaxDecompressedBodySizeKey = "h2.max-decompressed-body-size"
	EnablePushKey              = "h2.enable-push"
	HeaderTableSizeKey         = "h2.header-table-size"
	InitialWindowSizeKey       = "h2.initial-window-size"
	MaxConcurrentStreamsKey    = "h2.max-concurrent-streams"
	MaxFrameSizeKey            = "h2.max-frame-size"
	MaxHeaderListSizeKey       = "h2.max-header-list-size"
)

const (
	ContentEncodingHeader = "content-encoding"
	ContentLengthHeader   = "content-length"
	IdentityEncoding      = "identity"
)
