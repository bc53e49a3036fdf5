package h2conn

import (
	"net"
)

import (
	h2 "golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

import (
	"github.com/dubbogo/h2handler/pkg/common"
	"github.com/dubbogo/h2handler/pkg/h2conn/flowControl"
)

// Assembler is the role specific step of the codec pipeline. It is called exactly once, after
// the decoder, encoder and settings are final, and returns the handler together with the frame
// listener the pipeline installs on the decoder.
type Assembler interface {
	Assemble(decoder Decoder, encoder Encoder, settings *common.Settings) (*ConnectionHandler, FrameListener, error)
}

// codecBuilder is the generic part of Build: it owns the in-progress settings and turns a
// transport conn into a framer backed encoder/decoder pair
type codecBuilder struct {
	server          bool
	initialSettings *common.Settings
}

func newCodecBuilder(server bool) *codecBuilder {
	return &codecBuilder{
		server:          server,
		initialSettings: common.NewSettings(),
	}
}

// InitialSettings returns the in-progress settings, callers may change them before build
func (b *codecBuilder) InitialSettings() *common.Settings {
	return b.initialSettings
}

func (b *codecBuilder) build(conn net.Conn, assembler Assembler) (*ConnectionHandler, error) {
	settings := b.initialSettings
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	framer := h2.NewFramer(conn, conn)
	framer.SetMaxReadFrameSize(settings.MaxFrameSize())
	framer.ReadMetaHeaders = hpack.NewDecoder(settings.HeaderTableSize(), nil)
	if v, ok := settings.Value(h2.SettingMaxHeaderListSize); ok {
		framer.MaxHeaderListSize = v
	}

	flowController := flowControl.NewH2FlowController(settings.InitialWindowSize())
	session := newSession(conn, b.server, settings)
	session.OnStreamOpened(flowController.OpenStream)
	session.OnStreamClosed(flowController.CloseStream)
	encoder := newFramerEncoder(session, framer, flowController)
	decoder := newFramerDecoder(session, framer, encoder, flowController, settings)

	handler, listener, err := assembler.Assemble(decoder, encoder, settings)
	if err != nil {
		return nil, err
	}
	if listener == nil {
		return nil, common.ErrNilFrameListener
	}
	decoder.SetFrameListener(listener)
	return handler, nil
}
