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
	"bytes"
	"sync"
)

import (
	"github.com/apache/dubbo-go/common/logger"
	perrors "github.com/pkg/errors"
	"go.uber.org/atomic"
	h2 "golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

import (
	"github.com/dubbogo/h2handler/internal/codec"
	"github.com/dubbogo/h2handler/pkg/common"
	"github.com/dubbogo/h2handler/pkg/h2conn/flowControl"
	"github.com/dubbogo/h2handler/pkg/h2conn/frameSize"
)

// framerEncoder is the default Encoder, it writes through a golang h2.Framer
type framerEncoder struct {
	session *Session

	// writeLock serializes framer writes and hpack encoding, header blocks must reach the
	// wire in the order they were encoded
	writeLock sync.Mutex
	framer    *h2.Framer
	hpackBuf  bytes.Buffer
	hpackEnc  *hpack.Encoder

	// frameSizeController splits DATA by the peer's MAX_FRAME_SIZE
	frameSizeController *frameSize.H2MaxFrameController
	flowController      *flowControl.H2FlowController

	remoteLock     sync.Mutex
	remoteSettings *common.Settings

	closed atomic.Bool
}

func newFramerEncoder(session *Session, framer *h2.Framer, flowController *flowControl.H2FlowController) *framerEncoder {
	e := &framerEncoder{
		session:             session,
		framer:              framer,
		frameSizeController: frameSize.NewH2MaxFrameController(),
		flowController:      flowController,
		remoteSettings:      common.NewSettings(),
	}
	e.hpackEnc = hpack.NewEncoder(&e.hpackBuf)
	return e
}

func (e *framerEncoder) Session() *Session {
	return e.session
}

func (e *framerEncoder) WritePreface() error {
	e.writeLock.Lock()
	defer e.writeLock.Unlock()
	if _, err := e.session.Conn().Write([]byte(h2.ClientPreface)); err != nil {
		return perrors.WithMessage(err, "client write preface")
	}
	return nil
}

func (e *framerEncoder) WriteSettings(settings *common.Settings) error {
	e.writeLock.Lock()
	defer e.writeLock.Unlock()
	return e.framer.WriteSettings(settings.ToFrame()...)
}

func (e *framerEncoder) WriteSettingsAck() error {
	e.writeLock.Lock()
	defer e.writeLock.Unlock()
	return e.framer.WriteSettingsAck()
}

// WriteHeaders encodes headers and writes them as one HEADERS frame followed by as many
// CONTINUATION frames as the peer's MAX_FRAME_SIZE requires
func (e *framerEncoder) WriteHeaders(streamID uint32, headers []hpack.HeaderField, endStream bool) error {
	if e.closed.Load() {
		return common.ErrHandlerClosed
	}
	if err := e.session.onHeaders(streamID, true, endStream); err != nil {
		return err
	}

	e.writeLock.Lock()
	defer e.writeLock.Unlock()
	block, err := codec.EncodeHeaderBlock(e.hpackEnc, &e.hpackBuf, headers)
	if err != nil {
		return perrors.WithMessagef(err, "encode headers of stream %d", streamID)
	}
	first, rest := codec.SplitHeaderBlock(block, int(e.frameSizeController.MaxFrameSize()))
	if err := e.framer.WriteHeaders(h2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: first,
		EndStream:     endStream,
		EndHeaders:    len(rest) == 0,
	}); err != nil {
		return err
	}
	for i, fragment := range rest {
		if err := e.framer.WriteContinuation(streamID, i == len(rest)-1, fragment); err != nil {
			return err
		}
	}
	return nil
}

// WriteData splits data by MAX_FRAME_SIZE and waits for flow control quota before each frame
func (e *framerEncoder) WriteData(streamID uint32, data []byte, endStream bool) error {
	if e.closed.Load() {
		return common.ErrHandlerClosed
	}
	if err := e.frameSizeController.SendGeneralDataFrame(streamID, endStream, data, e.writeDataPkg); err != nil {
		return err
	}
	if endStream {
		e.session.onEndStream(streamID, true)
	}
	return nil
}

func (e *framerEncoder) writeDataPkg(pkg common.DataPkg) error {
	data := pkg.Data
	for {
		n, err := e.flowController.Acquire(pkg.StreamID, len(data))
		if err != nil {
			return err
		}
		last := n == len(data)
		e.writeLock.Lock()
		err = e.framer.WriteData(pkg.StreamID, pkg.EndStream && last, data[:n])
		e.writeLock.Unlock()
		if err != nil || last {
			return err
		}
		data = data[n:]
	}
}

func (e *framerEncoder) WriteRSTStream(streamID uint32, code h2.ErrCode) error {
	e.session.closeStream(streamID)
	e.writeLock.Lock()
	defer e.writeLock.Unlock()
	return e.framer.WriteRSTStream(streamID, code)
}

func (e *framerEncoder) WritePing(ack bool, data [8]byte) error {
	e.writeLock.Lock()
	defer e.writeLock.Unlock()
	return e.framer.WritePing(ack, data)
}

func (e *framerEncoder) WriteGoAway(lastStreamID uint32, code h2.ErrCode, debugData []byte) error {
	e.writeLock.Lock()
	defer e.writeLock.Unlock()
	return e.framer.WriteGoAway(lastStreamID, code, debugData)
}

func (e *framerEncoder) WriteWindowUpdate(streamID uint32, increment uint32) error {
	e.writeLock.Lock()
	defer e.writeLock.Unlock()
	return e.framer.WriteWindowUpdate(streamID, increment)
}

// applyRemoteSettings is called by the decoder for every SETTINGS the peer sends
func (e *framerEncoder) applyRemoteSettings(settings *common.Settings) {
	for _, s := range settings.ToFrame() {
		switch s.ID {
		case h2.SettingMaxFrameSize:
			e.frameSizeController.SetMaxFrameSize(s.Val)
		case h2.SettingHeaderTableSize:
			e.writeLock.Lock()
			e.hpackEnc.SetMaxDynamicTableSizeLimit(s.Val)
			e.writeLock.Unlock()
		case h2.SettingInitialWindowSize:
			e.flowController.UpdateInitialWindowSize(s.Val)
		case h2.SettingMaxConcurrentStreams:
			logger.Debugf("peer max concurrent streams = %d", s.Val)
			e.session.setMaxLocalActive(s.Val)
		}
	}
	e.remoteLock.Lock()
	for _, s := range settings.ToFrame() {
		e.remoteSettings.Set(s.ID, s.Val)
	}
	e.remoteLock.Unlock()
}

func (e *framerEncoder) RemoteSettings() *common.Settings {
	e.remoteLock.Lock()
	defer e.remoteLock.Unlock()
	return e.remoteSettings.Copy()
}

// Close unblocks writers waiting for flow control quota, the transport is closed by the handler
func (e *framerEncoder) Close() error {
	if e.closed.CAS(false, true) {
		e.flowController.Close()
	}
	return nil
}
