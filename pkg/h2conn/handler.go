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
	"io"
	"sync"
)

import (
	"github.com/apache/dubbo-go/common/logger"
	perrors "github.com/pkg/errors"
	"go.uber.org/atomic"
	h2 "golang.org/x/net/http2"
)

import (
	"github.com/dubbogo/h2handler/pkg/common"
)

// ConnectionHandler binds one transport conn to its logical Connection.
// It is created by Build, Start puts it to work and Close (or the transport failing) ends it.
type ConnectionHandler struct {
	registry   ConnectionRegistry
	decoder    Decoder
	encoder    Encoder
	settings   *common.Settings
	connection Connection

	started   atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	errLock sync.Mutex
	err     error
}

// newConnectionHandler allocates the handler first so factory can capture it, then fills in the
// connection factory returned
func newConnectionHandler(registry ConnectionRegistry, decoder Decoder, encoder Encoder,
	settings *common.Settings, factory ConnectionFactory) (*ConnectionHandler, error) {
	h := &ConnectionHandler{
		registry: registry,
		decoder:  decoder,
		encoder:  encoder,
		settings: settings,
		done:     make(chan struct{}),
	}
	c, err := factory(h)
	if err != nil {
		return nil, perrors.WithMessage(err, "h2 connection factory")
	}
	if c == nil {
		return nil, common.ErrNilConnection
	}
	h.connection = c
	return h, nil
}

func (h *ConnectionHandler) Connection() Connection {
	return h.connection
}

func (h *ConnectionHandler) Encoder() Encoder {
	return h.encoder
}

func (h *ConnectionHandler) Decoder() Decoder {
	return h.decoder
}

func (h *ConnectionHandler) Registry() ConnectionRegistry {
	return h.registry
}

// Settings returns the initial settings this end announces
func (h *ConnectionHandler) Settings() *common.Settings {
	return h.settings.Copy()
}

func (h *ConnectionHandler) Session() *Session {
	return h.decoder.Session()
}

func (h *ConnectionHandler) IsServer() bool {
	return h.decoder.Session().IsServer()
}

func (h *ConnectionHandler) State() common.SessionState {
	return h.decoder.Session().State()
}

// NewStreamID reserves the next stream id of this end
func (h *ConnectionHandler) NewStreamID() uint32 {
	return h.decoder.Session().NextStreamID()
}

// Start registers the connection, starts reading frames and sends the client preface (client
// only) and the initial SETTINGS
func (h *ConnectionHandler) Start() error {
	if !h.started.CAS(false, true) {
		return common.ErrHandlerStarted
	}
	if h.closing.Load() {
		return common.ErrHandlerClosed
	}
	session := h.decoder.Session()
	h.registry.Store(session.Conn(), h.connection)
	go h.serve()

	if !session.IsServer() {
		if err := h.encoder.WritePreface(); err != nil {
			h.shutdown(err)
			return err
		}
	}
	if err := h.encoder.WriteSettings(h.settings); err != nil {
		h.shutdown(err)
		return perrors.WithMessage(err, "write initial settings")
	}
	logger.Debugf("h2 handler started, server = %v, settings = %s", session.IsServer(), h.settings)
	return nil
}

func (h *ConnectionHandler) serve() {
	h.shutdown(h.decoder.Run())
}

// Done is closed once the handler has shut down
func (h *ConnectionHandler) Done() <-chan struct{} {
	return h.done
}

// Err returns why the handler shut down, nil after Close or a clean EOF
func (h *ConnectionHandler) Err() error {
	h.errLock.Lock()
	defer h.errLock.Unlock()
	return h.err
}

// Close sends GOAWAY and closes the transport conn
func (h *ConnectionHandler) Close() error {
	if !h.closing.CAS(false, true) {
		<-h.done
		return nil
	}
	if h.started.Load() {
		if err := h.encoder.WriteGoAway(h.decoder.Session().LastPeerStreamID(), h2.ErrCodeNo, nil); err != nil {
			logger.Debugf("write goaway on close error = %v", err)
		}
	}
	h.shutdown(nil)
	return nil
}

func (h *ConnectionHandler) shutdown(err error) {
	h.closeOnce.Do(func() {
		session := h.decoder.Session()
		session.setState(common.Closing)
		h.registry.Delete(session.Conn())
		if cerr := h.encoder.Close(); cerr != nil {
			logger.Debugf("close h2 encoder error = %v", cerr)
		}
		if cerr := session.Conn().Close(); cerr != nil {
			logger.Debugf("close transport conn error = %v", cerr)
		}
		if err != nil && err != io.EOF && !h.closing.Load() {
			logger.Warnf("h2 connection closed with error = %v", err)
			h.errLock.Lock()
			h.err = err
			h.errLock.Unlock()
		}
		close(h.done)
	})
}
