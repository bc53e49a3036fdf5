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
	"io/ioutil"
	"sync"
)

import (
	"github.com/apache/dubbo-go/common/logger"
	h2 "golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
	"google.golang.org/grpc/encoding"
)

import (
	"github.com/dubbogo/h2handler/internal/codec"
	"github.com/dubbogo/h2handler/pkg/common"
)

type decompressState struct {
	compressor encoding.Compressor
	buf        bytes.Buffer
}

// DecompressorFrameListener decodes the body of every inbound stream whose HEADERS carry a
// content-encoding with a registered compressor. The wrapped listener sees the headers without
// content-encoding and content-length, and the decoded body as one DATA read when the
// compressed body is complete.
//
// Neither the compressed nor the decoded body of a stream may exceed maxBodySize, the stream is
// reset with INTERNAL_ERROR otherwise. Register ResetStream with Session.OnStreamReset so
// resets written by this end drop the buffered body.
type DecompressorFrameListener struct {
	FrameListener

	maxBodySize int64

	lock    sync.Mutex
	streams map[uint32]*decompressState
}

// NewDecompressorFrameListener wraps delegate, maxBodySize <= 0 selects
// common.DefaultMaxDecompressedBodySize
func NewDecompressorFrameListener(delegate FrameListener, maxBodySize int64) *DecompressorFrameListener {
	if maxBodySize <= 0 {
		maxBodySize = common.DefaultMaxDecompressedBodySize
	}
	return &DecompressorFrameListener{
		FrameListener: delegate,
		maxBodySize:   maxBodySize,
		streams:       make(map[uint32]*decompressState),
	}
}

// Delegate returns the wrapped FrameListener
func (l *DecompressorFrameListener) Delegate() FrameListener {
	return l.FrameListener
}

// MaxBodySize returns the largest body a stream may carry
func (l *DecompressorFrameListener) MaxBodySize() int64 {
	return l.maxBodySize
}

func (l *DecompressorFrameListener) OnHeadersRead(streamID uint32, headers []hpack.HeaderField, endStream bool) error {
	if st := l.remove(streamID); st != nil {
		// trailers end the body
		if err := l.flush(streamID, st, false); err != nil {
			return err
		}
		return l.FrameListener.OnHeadersRead(streamID, headers, endStream)
	}
	if !endStream {
		if ce, ok := codec.HeaderValue(headers, common.ContentEncodingHeader); ok && !common.IsIdentityEncoding(ce) {
			if c, err := common.GetCompressor(ce); err == nil {
				l.lock.Lock()
				l.streams[streamID] = &decompressState{compressor: c}
				l.lock.Unlock()
				headers = codec.WithoutHeaders(headers, common.ContentEncodingHeader, common.ContentLengthHeader)
			} else {
				logger.Warnf("stream %d content-encoding %s is not supported, body is passed as is", streamID, ce)
			}
		}
	}
	return l.FrameListener.OnHeadersRead(streamID, headers, endStream)
}

func (l *DecompressorFrameListener) OnDataRead(streamID uint32, data []byte, endStream bool) error {
	l.lock.Lock()
	st, ok := l.streams[streamID]
	if !ok {
		l.lock.Unlock()
		return l.FrameListener.OnDataRead(streamID, data, endStream)
	}
	if int64(st.buf.Len())+int64(len(data)) > l.maxBodySize {
		delete(l.streams, streamID)
		l.lock.Unlock()
		logger.Warnf("stream %d compressed body exceeds %d bytes", streamID, l.maxBodySize)
		return h2.StreamError{StreamID: streamID, Code: h2.ErrCodeInternal, Cause: common.ErrBodyTooLarge}
	}
	st.buf.Write(data)
	if !endStream {
		l.lock.Unlock()
		return nil
	}
	delete(l.streams, streamID)
	l.lock.Unlock()
	return l.flush(streamID, st, true)
}

func (l *DecompressorFrameListener) OnRSTStreamRead(streamID uint32, code h2.ErrCode) error {
	l.ResetStream(streamID)
	return l.FrameListener.OnRSTStreamRead(streamID, code)
}

// ResetStream drops the buffered body of streamID, if any
func (l *DecompressorFrameListener) ResetStream(streamID uint32) {
	l.remove(streamID)
}

// ActiveStreams returns how many streams buffer a compressed body
func (l *DecompressorFrameListener) ActiveStreams() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.streams)
}

func (l *DecompressorFrameListener) remove(streamID uint32) *decompressState {
	l.lock.Lock()
	defer l.lock.Unlock()
	st, ok := l.streams[streamID]
	if !ok {
		return nil
	}
	delete(l.streams, streamID)
	return st
}

func (l *DecompressorFrameListener) flush(streamID uint32, st *decompressState, endStream bool) error {
	if st.buf.Len() == 0 {
		if !endStream {
			return nil
		}
		return l.FrameListener.OnDataRead(streamID, nil, true)
	}
	r, err := st.compressor.Decompress(&st.buf)
	if err != nil {
		return h2.StreamError{StreamID: streamID, Code: h2.ErrCodeInternal, Cause: err}
	}
	// one byte past the limit tells a body of exactly maxBodySize from a larger one
	body, err := ioutil.ReadAll(io.LimitReader(r, l.maxBodySize+1))
	if err != nil {
		return h2.StreamError{StreamID: streamID, Code: h2.ErrCodeInternal, Cause: err}
	}
	if int64(len(body)) > l.maxBodySize {
		logger.Warnf("stream %d decompressed body exceeds %d bytes", streamID, l.maxBodySize)
		return h2.StreamError{StreamID: streamID, Code: h2.ErrCodeInternal, Cause: common.ErrBodyTooLarge}
	}
	return l.FrameListener.OnDataRead(streamID, body, endStream)
}
