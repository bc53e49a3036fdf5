package h2conn

import (
	"bytes"
	"compress/gzip"
	"io/ioutil"
	"testing"
)

import (
	perrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	h2 "golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

import (
	"github.com/dubbogo/h2handler/internal/codec"
	"github.com/dubbogo/h2handler/pkg/common"
)

type recordedFrame struct {
	kind      string
	streamID  uint32
	headers   []hpack.HeaderField
	data      []byte
	endStream bool
}

// recordingEncoder keeps the frames written by a CompressorEncoder
type recordingEncoder struct {
	Encoder

	frames     []recordedFrame
	closed     bool
	headersErr error
}

func (e *recordingEncoder) WriteHeaders(streamID uint32, headers []hpack.HeaderField, endStream bool) error {
	if e.headersErr != nil {
		return e.headersErr
	}
	e.frames = append(e.frames, recordedFrame{kind: "headers", streamID: streamID, headers: headers, endStream: endStream})
	return nil
}

func (e *recordingEncoder) WriteData(streamID uint32, data []byte, endStream bool) error {
	e.frames = append(e.frames, recordedFrame{kind: "data", streamID: streamID, data: data, endStream: endStream})
	return nil
}

func (e *recordingEncoder) WriteRSTStream(streamID uint32, code h2.ErrCode) error {
	e.frames = append(e.frames, recordedFrame{kind: "rst", streamID: streamID})
	return nil
}

func (e *recordingEncoder) Close() error {
	e.closed = true
	return nil
}

func (e *recordingEncoder) body(streamID uint32) []byte {
	var b []byte
	for _, f := range e.frames {
		if f.kind == "data" && f.streamID == streamID {
			b = append(b, f.data...)
		}
	}
	return b
}

func responseHeaders(encoding string) []hpack.HeaderField {
	headers := []hpack.HeaderField{
		{Name: ":status", Value: "200"},
		{Name: common.ContentLengthHeader, Value: "11"},
	}
	if encoding != "" {
		headers = append(headers, hpack.HeaderField{Name: common.ContentEncodingHeader, Value: encoding})
	}
	return headers
}

func gunzip(t *testing.T, b []byte) []byte {
	r, err := gzip.NewReader(bytes.NewReader(b))
	assert.Nil(t, err)
	out, err := ioutil.ReadAll(r)
	assert.Nil(t, err)
	return out
}

func TestCompressorEncoderGzip(t *testing.T) {
	rec := &recordingEncoder{}
	e := NewCompressorEncoder(rec)

	assert.Nil(t, e.WriteHeaders(1, responseHeaders("gzip"), false))
	assert.Nil(t, e.WriteData(1, []byte("hello "), false))
	assert.Nil(t, e.WriteData(1, []byte("world"), true))

	assert.Equal(t, "headers", rec.frames[0].kind)
	_, ok := codec.HeaderValue(rec.frames[0].headers, common.ContentLengthHeader)
	assert.False(t, ok)
	ce, _ := codec.HeaderValue(rec.frames[0].headers, common.ContentEncodingHeader)
	assert.Equal(t, "gzip", ce)

	// the first chunk is flushed on its own frame
	assert.Equal(t, 3, len(rec.frames))
	assert.False(t, rec.frames[1].endStream)
	assert.True(t, rec.frames[2].endStream)
	assert.Equal(t, "hello world", string(gunzip(t, rec.body(1))))
	assert.Equal(t, 0, len(e.streams))
}

func TestCompressorEncoderPassThrough(t *testing.T) {
	for _, encoding := range []string{"", "identity", "br"} {
		rec := &recordingEncoder{}
		e := NewCompressorEncoder(rec)

		assert.Nil(t, e.WriteHeaders(3, responseHeaders(encoding), false))
		assert.Nil(t, e.WriteData(3, []byte("hello world"), true))

		cl, ok := codec.HeaderValue(rec.frames[0].headers, common.ContentLengthHeader)
		assert.True(t, ok, encoding)
		assert.Equal(t, "11", cl)
		assert.Equal(t, "hello world", string(rec.body(3)), encoding)
		assert.Equal(t, 0, len(e.streams), encoding)
	}
}

func TestCompressorEncoderHeadersOnly(t *testing.T) {
	rec := &recordingEncoder{}
	e := NewCompressorEncoder(rec)

	assert.Nil(t, e.WriteHeaders(1, responseHeaders("gzip"), true))
	assert.Equal(t, 0, len(e.streams))
	_, ok := codec.HeaderValue(rec.frames[0].headers, common.ContentLengthHeader)
	assert.True(t, ok)
}

func TestCompressorEncoderTrailers(t *testing.T) {
	rec := &recordingEncoder{}
	e := NewCompressorEncoder(rec)
	trailers := []hpack.HeaderField{{Name: "grpc-status", Value: "0"}}

	assert.Nil(t, e.WriteHeaders(1, responseHeaders("gzip"), false))
	assert.Nil(t, e.WriteData(1, []byte("hello world"), false))
	assert.Nil(t, e.WriteHeaders(1, trailers, true))

	last := rec.frames[len(rec.frames)-1]
	assert.Equal(t, "headers", last.kind)
	assert.True(t, last.endStream)
	assert.Equal(t, trailers, last.headers)
	for _, f := range rec.frames[:len(rec.frames)-1] {
		assert.False(t, f.endStream)
	}
	assert.Equal(t, "hello world", string(gunzip(t, rec.body(1))))
}

func TestCompressorEncoderResetAndClose(t *testing.T) {
	rec := &recordingEncoder{}
	e := NewCompressorEncoder(rec)

	assert.Nil(t, e.WriteHeaders(1, responseHeaders("gzip"), false))
	assert.Nil(t, e.WriteRSTStream(1, h2.ErrCodeCancel))
	assert.Equal(t, 0, len(e.streams))
	assert.Equal(t, "rst", rec.frames[1].kind)

	assert.Nil(t, e.WriteHeaders(3, responseHeaders("deflate"), false))
	assert.Equal(t, 1, len(e.streams))
	assert.Nil(t, e.Close())
	assert.Equal(t, 0, len(e.streams))
	assert.True(t, rec.closed)
}

func TestCompressorEncoderResetStream(t *testing.T) {
	rec := &recordingEncoder{}
	e := NewCompressorEncoder(rec)

	assert.Nil(t, e.WriteHeaders(1, responseHeaders("gzip"), false))
	assert.Nil(t, e.WriteData(1, []byte("hello"), false))
	assert.Equal(t, 1, e.ActiveStreams())
	e.ResetStream(1)
	e.ResetStream(1)
	assert.Equal(t, 0, e.ActiveStreams())
	// a reset read from the peer writes nothing
	for _, f := range rec.frames {
		assert.NotEqual(t, "rst", f.kind)
	}
}

func TestCompressorEncoderWriteAfterRelease(t *testing.T) {
	rec := &recordingEncoder{}
	e := NewCompressorEncoder(rec)

	assert.Nil(t, e.WriteHeaders(1, responseHeaders("gzip"), false))
	st := e.streams[1]
	e.ResetStream(1)
	err := e.write(1, st, []byte("late"))
	se, ok := err.(h2.StreamError)
	assert.True(t, ok)
	assert.Equal(t, h2.ErrCodeStreamClosed, se.Code)
	err = e.finish(1, st, true)
	assert.NotNil(t, err)
}

func TestCompressorEncoderHeadersWriteFails(t *testing.T) {
	writeErr := perrors.New("connection gone")
	rec := &recordingEncoder{headersErr: writeErr}
	e := NewCompressorEncoder(rec)

	err := e.WriteHeaders(1, responseHeaders("gzip"), false)
	assert.Equal(t, writeErr, err)
	assert.Equal(t, 0, e.ActiveStreams())
	assert.Equal(t, 0, len(rec.frames))
}
