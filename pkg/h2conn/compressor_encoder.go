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
	"sync"
)

import (
	perrors "github.com/pkg/errors"
	h2 "golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

import (
	"github.com/dubbogo/h2handler/internal/codec"
	"github.com/dubbogo/h2handler/pkg/common"
)

type flusher interface {
	Flush() error
}

// compressState is the compressor of one stream. lock serializes the writer of the stream with
// a reset arriving from the decoder goroutine.
type compressState struct {
	lock sync.Mutex
	buf  bytes.Buffer
	w    io.WriteCloser
	done bool
}

func (st *compressState) take() []byte {
	out := make([]byte, st.buf.Len())
	copy(out, st.buf.Bytes())
	st.buf.Reset()
	return out
}

// release closes the compressor once, it returns the close error of the first call
func (st *compressState) release() error {
	st.lock.Lock()
	defer st.lock.Unlock()
	return st.releaseLocked()
}

func (st *compressState) releaseLocked() error {
	if st.done {
		return nil
	}
	st.done = true
	return st.w.Close()
}

// CompressorEncoder compresses the DATA of every stream whose HEADERS carry a content-encoding
// with a registered compressor. Other streams and frames go to the wrapped Encoder untouched.
// Register ResetStream with Session.OnStreamReset so resets from the peer release compressors.
type CompressorEncoder struct {
	Encoder

	lock    sync.Mutex
	streams map[uint32]*compressState
}

func NewCompressorEncoder(delegate Encoder) *CompressorEncoder {
	return &CompressorEncoder{
		Encoder: delegate,
		streams: make(map[uint32]*compressState),
	}
}

// Delegate returns the wrapped Encoder
func (e *CompressorEncoder) Delegate() Encoder {
	return e.Encoder
}

func (e *CompressorEncoder) WriteHeaders(streamID uint32, headers []hpack.HeaderField, endStream bool) error {
	if st := e.remove(streamID); st != nil {
		// trailers, the compressed body has to be complete before them
		if err := e.finish(streamID, st, false); err != nil {
			return err
		}
		return e.Encoder.WriteHeaders(streamID, headers, endStream)
	}
	if endStream {
		return e.Encoder.WriteHeaders(streamID, headers, endStream)
	}
	ce, ok := codec.HeaderValue(headers, common.ContentEncodingHeader)
	if !ok || common.IsIdentityEncoding(ce) {
		return e.Encoder.WriteHeaders(streamID, headers, endStream)
	}
	c, err := common.GetCompressor(ce)
	if err != nil {
		return e.Encoder.WriteHeaders(streamID, headers, endStream)
	}
	st := &compressState{}
	if st.w, err = c.Compress(&st.buf); err != nil {
		return perrors.WithMessagef(err, "create %s compressor of stream %d", ce, streamID)
	}
	// stored ahead of the write so a reset racing with it finds the compressor
	e.lock.Lock()
	e.streams[streamID] = st
	e.lock.Unlock()
	// the compressed length is unknown up front
	if err := e.Encoder.WriteHeaders(streamID, codec.WithoutHeaders(headers, common.ContentLengthHeader), false); err != nil {
		if st := e.remove(streamID); st != nil {
			_ = st.release()
		}
		return err
	}
	return nil
}

func (e *CompressorEncoder) WriteData(streamID uint32, data []byte, endStream bool) error {
	e.lock.Lock()
	st, ok := e.streams[streamID]
	e.lock.Unlock()
	if !ok {
		return e.Encoder.WriteData(streamID, data, endStream)
	}
	if endStream {
		e.remove(streamID)
		if err := e.write(streamID, st, data); err != nil {
			return err
		}
		return e.finish(streamID, st, true)
	}

	st.lock.Lock()
	if err := e.writeLocked(streamID, st, data); err != nil {
		st.lock.Unlock()
		return err
	}
	if f, ok := st.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			st.lock.Unlock()
			e.remove(streamID)
			_ = st.release()
			return perrors.WithMessagef(err, "flush compressor of stream %d", streamID)
		}
	}
	var out []byte
	if st.buf.Len() > 0 {
		out = st.take()
	}
	st.lock.Unlock()
	if out == nil {
		return nil
	}
	return e.Encoder.WriteData(streamID, out, false)
}

func (e *CompressorEncoder) write(streamID uint32, st *compressState, data []byte) error {
	st.lock.Lock()
	defer st.lock.Unlock()
	return e.writeLocked(streamID, st, data)
}

func (e *CompressorEncoder) writeLocked(streamID uint32, st *compressState, data []byte) error {
	if st.done {
		return h2.StreamError{StreamID: streamID, Code: h2.ErrCodeStreamClosed}
	}
	if _, err := st.w.Write(data); err != nil {
		e.remove(streamID)
		_ = st.releaseLocked()
		return perrors.WithMessagef(err, "compress data of stream %d", streamID)
	}
	return nil
}

func (e *CompressorEncoder) WriteRSTStream(streamID uint32, code h2.ErrCode) error {
	e.ResetStream(streamID)
	return e.Encoder.WriteRSTStream(streamID, code)
}

// ResetStream releases the compressor of streamID, if any
func (e *CompressorEncoder) ResetStream(streamID uint32) {
	if st := e.remove(streamID); st != nil {
		_ = st.release()
	}
}

// ActiveStreams returns how many streams hold a compressor
func (e *CompressorEncoder) ActiveStreams() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return len(e.streams)
}

func (e *CompressorEncoder) Close() error {
	e.lock.Lock()
	streams := e.streams
	e.streams = make(map[uint32]*compressState)
	e.lock.Unlock()
	for _, st := range streams {
		_ = st.release()
	}
	return e.Encoder.Close()
}

// finish closes the compressor and writes what is left of the body
func (e *CompressorEncoder) finish(streamID uint32, st *compressState, endStream bool) error {
	st.lock.Lock()
	if st.done {
		st.lock.Unlock()
		return h2.StreamError{StreamID: streamID, Code: h2.ErrCodeStreamClosed}
	}
	err := st.releaseLocked()
	out := st.take()
	st.lock.Unlock()
	if err != nil {
		return perrors.WithMessagef(err, "close compressor of stream %d", streamID)
	}
	if len(out) == 0 && !endStream {
		return nil
	}
	return e.Encoder.WriteData(streamID, out, endStream)
}

func (e *CompressorEncoder) remove(streamID uint32) *compressState {
	e.lock.Lock()
	defer e.lock.Unlock()
	st, ok := e.streams[streamID]
	if !ok {
		return nil
	}
	delete(e.streams, streamID)
	return st
}
