/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package h2conn

import (
	"net"
)

import (
	"github.com/apache/dubbo-go/common/logger"
)

import (
	"github.com/dubbogo/h2handler/pkg/common"
)

// Config is everything Build needs. It is read once and never changed by Build.
type Config struct {
	// Server selects the server end of the protocol, the client end otherwise
	Server bool
	// Compression compresses outbound bodies on the server end and decompresses inbound
	// bodies on the client end, as selected by content-encoding
	Compression bool
	// MaxDecompressedBodySize bounds the body the client end decodes per stream, zero or less
	// selects common.DefaultMaxDecompressedBodySize
	MaxDecompressedBodySize int64
	// InitialSettings overrides the protocol defaults announced in the first SETTINGS, nil
	// keeps them all
	InitialSettings *common.SettingsOverride
	// ConnectionFactory creates the logical connection, once per Build
	ConnectionFactory ConnectionFactory
	// Registry is shared by all handlers, Build only passes it on
	Registry ConnectionRegistry
}

// Build creates the handler of conn.
//
// The settings in cfg.InitialSettings that differ from the protocol defaults are applied to the
// codec's settings first, ENABLE_PUSH only on the client end. The codec then creates the
// encoder and decoder and the role specific assembler wires compression and the frame listener:
// the server compresses through a CompressorEncoder and listens with the connection itself, the
// client keeps the plain encoder and listens through a DecompressorFrameListener.
//
// Build does not start the handler and does not touch cfg.Registry. Build it once per conn.
func Build(conn net.Conn, cfg Config) (*ConnectionHandler, error) {
	if conn == nil {
		return nil, common.ErrNilConn
	}
	if cfg.ConnectionFactory == nil {
		return nil, common.ErrNilConnectionFactory
	}
	if cfg.Registry == nil {
		return nil, common.ErrNilConnectionRegistry
	}
	if _, ok := cfg.Registry.Load(conn); ok {
		return nil, common.ErrConnectionExists
	}

	cb := newCodecBuilder(cfg.Server)
	reconcileSettings(cfg.Server, cfg.InitialSettings, cb.InitialSettings())
	logger.Debugf("build h2 connection handler, remote = %v, server = %v, compression = %v, settings = %s",
		conn.RemoteAddr(), cfg.Server, cfg.Compression, cb.InitialSettings())

	handler, err := cb.build(conn, newAssembler(cfg))
	if err != nil {
		logger.Errorf("build h2 connection handler error = %v", err)
		return nil, err
	}
	return handler, nil
}

// reconcileSettings copies into settings only what differs from the protocol defaults, so
// the codec keeps its own defaults for everything else
func reconcileSettings(server bool, override *common.SettingsOverride, settings *common.Settings) {
	if override == nil {
		return
	}
	// a server never announces ENABLE_PUSH
	if !server && override.PushEnabled != nil && *override.PushEnabled != common.DefaultEnablePush {
		settings.SetPushEnabled(*override.PushEnabled)
	}
	if override.HeaderTableSize != nil && *override.HeaderTableSize != common.DefaultHeaderTableSize {
		settings.SetHeaderTableSize(*override.HeaderTableSize)
	}
	if override.InitialWindowSize != nil && *override.InitialWindowSize != common.DefaultInitialWindowSize {
		settings.SetInitialWindowSize(*override.InitialWindowSize)
	}
	if override.MaxConcurrentStreams != nil && *override.MaxConcurrentStreams != common.DefaultMaxConcurrentStreams {
		settings.SetMaxConcurrentStreams(*override.MaxConcurrentStreams)
	}
	if override.MaxFrameSize != nil && *override.MaxFrameSize != common.DefaultMaxFrameSize {
		settings.SetMaxFrameSize(*override.MaxFrameSize)
	}
	if override.MaxHeaderListSize != nil && *override.MaxHeaderListSize != common.DefaultMaxHeaderListSize {
		settings.SetMaxHeaderListSize(*override.MaxHeaderListSize)
	}
}

func newAssembler(cfg Config) Assembler {
	if cfg.Server {
		return &serverAssembler{cfg: cfg}
	}
	return &clientAssembler{cfg: cfg}
}

type serverAssembler struct {
	cfg Config
}

func (a *serverAssembler) Assemble(decoder Decoder, encoder Encoder, settings *common.Settings) (*ConnectionHandler, FrameListener, error) {
	if a.cfg.Compression {
		ce := NewCompressorEncoder(encoder)
		encoder.Session().OnStreamReset(ce.ResetStream)
		encoder = ce
	}
	handler, err := newConnectionHandler(a.cfg.Registry, decoder, encoder, settings, a.cfg.ConnectionFactory)
	if err != nil {
		return nil, nil, err
	}
	return handler, handler.connection, nil
}

type clientAssembler struct {
	cfg Config
}

func (a *clientAssembler) Assemble(decoder Decoder, encoder Encoder, settings *common.Settings) (*ConnectionHandler, FrameListener, error) {
	handler, err := newConnectionHandler(a.cfg.Registry, decoder, encoder, settings, a.cfg.ConnectionFactory)
	if err != nil {
		return nil, nil, err
	}
	if a.cfg.Compression {
		dl := NewDecompressorFrameListener(handler.connection, a.cfg.MaxDecompressedBodySize)
		handler.Session().OnStreamReset(dl.ResetStream)
		return handler, dl, nil
	}
	return handler, handler.connection, nil
}
