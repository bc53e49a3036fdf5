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
	h2 "golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

import (
	"github.com/dubbogo/h2handler/pkg/common"
)

// FrameListener receives the decoded frames of one h2 connection.
// All methods are called from the decoder goroutine, one frame at a time.
// Returning an h2.StreamError resets that stream, any other error tears the connection down.
type FrameListener interface {
	OnHeadersRead(streamID uint32, headers []hpack.HeaderField, endStream bool) error
	OnDataRead(streamID uint32, data []byte, endStream bool) error
	OnSettingsRead(settings *common.Settings) error
	OnSettingsAckRead() error
	OnPingRead(data [8]byte, ack bool) error
	OnRSTStreamRead(streamID uint32, code h2.ErrCode) error
	OnGoAwayRead(lastStreamID uint32, code h2.ErrCode, debugData []byte) error
	OnWindowUpdateRead(streamID uint32, increment uint32) error
}

// FrameAdapter ignores every frame, embed it to implement only what matters
type FrameAdapter struct{}

func (FrameAdapter) OnHeadersRead(uint32, []hpack.HeaderField, bool) error { return nil }
func (FrameAdapter) OnDataRead(uint32, []byte, bool) error                 { return nil }
func (FrameAdapter) OnSettingsRead(*common.Settings) error                 { return nil }
func (FrameAdapter) OnSettingsAckRead() error                              { return nil }
func (FrameAdapter) OnPingRead([8]byte, bool) error                        { return nil }
func (FrameAdapter) OnRSTStreamRead(uint32, h2.ErrCode) error              { return nil }
func (FrameAdapter) OnGoAwayRead(uint32, h2.ErrCode, []byte) error         { return nil }
func (FrameAdapter) OnWindowUpdateRead(uint32, uint32) error               { return nil }

// Connection is the logical connection exposed to application code. It is built on top of a
// ConnectionHandler and listens to its frames.
type Connection interface {
	FrameListener
}

// ConnectionFactory creates the Connection of h. It runs while h is still being assembled:
// keep the reference, but do not write through h before it is started.
type ConnectionFactory func(h *ConnectionHandler) (Connection, error)
