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
	"io"
)

import (
	"github.com/apache/dubbo-go/common/logger"
	perrors "github.com/pkg/errors"
	h2 "golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

import (
	"github.com/dubbogo/h2handler/pkg/common"
	"github.com/dubbogo/h2handler/pkg/h2conn/flowControl"
)

// framerDecoder is the default Decoder, it reads through the same h2.Framer the encoder writes to
type framerDecoder struct {
	session        *Session
	framer         *h2.Framer
	encoder        *framerEncoder
	flowController *flowControl.H2FlowController
	localSettings  *common.Settings
	listener       FrameListener
}

func newFramerDecoder(session *Session, framer *h2.Framer, encoder *framerEncoder,
	flowController *flowControl.H2FlowController, localSettings *common.Settings) *framerDecoder {
	return &framerDecoder{
		session:        session,
		framer:         framer,
		encoder:        encoder,
		flowController: flowController,
		localSettings:  localSettings,
	}
}

func (d *framerDecoder) Session() *Session {
	return d.session
}

func (d *framerDecoder) FrameListener() FrameListener {
	return d.listener
}

func (d *framerDecoder) SetFrameListener(l FrameListener) {
	d.listener = l
}

func (d *framerDecoder) LocalSettings() *common.Settings {
	return d.localSettings.Copy()
}

// Run checks the client preface on the server end, then reads frames until the transport fails.
// The first frame from the peer must be SETTINGS.
func (d *framerDecoder) Run() error {
	if d.listener == nil {
		return common.ErrNilFrameListener
	}
	if d.session.IsServer() {
		if err := d.readPreface(); err != nil {
			return err
		}
	}
	first := true
	for {
		fm, err := d.framer.ReadFrame()
		if err != nil {
			if se, ok := err.(h2.StreamError); ok {
				logger.Debugf("read frame stream error = %v", se)
				if err := d.encoder.WriteRSTStream(se.StreamID, se.Code); err != nil {
					return err
				}
				continue
			}
			if ce, ok := err.(h2.ConnectionError); ok {
				d.goAway(h2.ErrCode(ce))
			}
			return err
		}
		if first {
			if _, ok := fm.(*h2.SettingsFrame); !ok {
				d.goAway(h2.ErrCodeProtocol)
				return perrors.Errorf("first frame from peer is %s, not SETTINGS", fm.Header().Type)
			}
			first = false
		}
		if err := d.handleError(d.dispatch(fm)); err != nil {
			return err
		}
	}
}

func (d *framerDecoder) readPreface() error {
	preface := make([]byte, len(h2.ClientPreface))
	if _, err := io.ReadFull(d.session.Conn(), preface); err != nil {
		return perrors.WithMessage(err, "server read preface")
	}
	if !bytes.Equal(preface, []byte(h2.ClientPreface)) {
		logger.Errorf("server recv preface = %q, not as expected", preface)
		return perrors.Errorf("Preface Not Equal")
	}
	logger.Debug("server Preface check successful!")
	return nil
}

func (d *framerDecoder) dispatch(fm h2.Frame) error {
	switch fm := fm.(type) {
	case *h2.MetaHeadersFrame:
		return d.handleHeadersFrame(fm)
	case *h2.DataFrame:
		return d.handleDataFrame(fm)
	case *h2.SettingsFrame:
		return d.handleSettingFrame(fm)
	case *h2.PingFrame:
		return d.handlePingFrame(fm)
	case *h2.WindowUpdateFrame:
		if err := d.flowController.AddSendQuota(fm.StreamID, fm.Increment); err != nil {
			return err
		}
		return d.listener.OnWindowUpdateRead(fm.StreamID, fm.Increment)
	case *h2.RSTStreamFrame:
		d.session.closeStream(fm.StreamID)
		return d.listener.OnRSTStreamRead(fm.StreamID, fm.ErrCode)
	case *h2.GoAwayFrame:
		logger.Debugf("goaway : lastStreamID = %d, code = %v", fm.LastStreamID, fm.ErrCode)
		d.session.setState(common.Draining)
		return d.listener.OnGoAwayRead(fm.LastStreamID, fm.ErrCode, fm.DebugData())
	case *h2.PushPromiseFrame:
		// push is not supported, its header block would also corrupt the hpack state
		return h2.ConnectionError(h2.ErrCodeProtocol)
	default:
		// PRIORITY and unknown frame types are ignored
		return nil
	}
}

func (d *framerDecoder) handleHeadersFrame(fm *h2.MetaHeadersFrame) error {
	id := fm.StreamID
	if err := d.session.onHeaders(id, false, fm.StreamEnded()); err != nil {
		return err
	}
	fields := make([]hpack.HeaderField, len(fm.Fields))
	copy(fields, fm.Fields)
	return d.listener.OnHeadersRead(id, fields, fm.StreamEnded())
}

func (d *framerDecoder) handleDataFrame(fm *h2.DataFrame) error {
	id := fm.StreamID
	// the connection window counts every DATA frame, padding and closed streams included
	length := fm.Header().Length
	if increment := d.flowController.OnConnData(length); increment > 0 {
		if err := d.encoder.WriteWindowUpdate(0, increment); err != nil {
			return err
		}
	}
	state, ok := d.session.stateOf(id)
	if !ok || state == halfClosedRemote {
		return h2.StreamError{StreamID: id, Code: h2.ErrCodeStreamClosed}
	}
	if increment := d.flowController.OnStreamData(id, length); increment > 0 && !fm.StreamEnded() {
		if err := d.encoder.WriteWindowUpdate(id, increment); err != nil {
			return err
		}
	}
	data := make([]byte, len(fm.Data()))
	copy(data, fm.Data())
	if fm.StreamEnded() {
		d.session.onEndStream(id, false)
	}
	return d.listener.OnDataRead(id, data, fm.StreamEnded())
}

// handleSettingFrame applies the peer's settings to the encoder before acking them
func (d *framerDecoder) handleSettingFrame(fm *h2.SettingsFrame) error {
	if fm.IsAck() {
		return d.listener.OnSettingsAckRead()
	}
	settings, err := common.NewSettingsFromFrame(fm)
	if err != nil {
		logger.Errorf("handle setting frame error = %v", err)
		return err
	}
	d.encoder.applyRemoteSettings(settings)
	if err := d.encoder.WriteSettingsAck(); err != nil {
		return err
	}
	return d.listener.OnSettingsRead(settings)
}

func (d *framerDecoder) handlePingFrame(fm *h2.PingFrame) error {
	if !fm.IsAck() {
		if err := d.encoder.WritePing(true, fm.Data); err != nil {
			return err
		}
	}
	return d.listener.OnPingRead(fm.Data, fm.IsAck())
}

// handleError resets the stream for stream errors and swallows them, everything else is fatal
func (d *framerDecoder) handleError(err error) error {
	if err == nil {
		return nil
	}
	switch e := perrors.Cause(err).(type) {
	case h2.StreamError:
		logger.Debugf("reset stream %d, code = %v, cause = %v", e.StreamID, e.Code, e.Cause)
		return d.encoder.WriteRSTStream(e.StreamID, e.Code)
	case h2.ConnectionError:
		d.goAway(h2.ErrCode(e))
		return err
	default:
		d.goAway(h2.ErrCodeInternal)
		return err
	}
}

func (d *framerDecoder) goAway(code h2.ErrCode) {
	if err := d.encoder.WriteGoAway(d.session.LastPeerStreamID(), code, nil); err != nil {
		logger.Debugf("write goaway error = %v", err)
	}
}
