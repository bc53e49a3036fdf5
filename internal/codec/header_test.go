package codec

import (
	"bytes"
	"testing"
)

import (
	"golang.org/x/net/http2/hpack"
	"gotest.tools/assert"
)

var testFields = []hpack.HeaderField{
	{Name: ":status", Value: "200"},
	{Name: "content-type", Value: "application/json"},
	{Name: "content-encoding", Value: "gzip"},
	{Name: "content-length", Value: "42"},
}

func TestHeaderValue(t *testing.T) {
	v, ok := HeaderValue(testFields, "content-encoding")
	assert.Assert(t, ok)
	assert.Equal(t, v, "gzip")

	_, ok = HeaderValue(testFields, "accept-encoding")
	assert.Assert(t, !ok)
}

func TestWithoutHeaders(t *testing.T) {
	out := WithoutHeaders(testFields, "content-encoding", "content-length")
	assert.Equal(t, len(out), 2)
	assert.Equal(t, out[0].Name, ":status")
	assert.Equal(t, out[1].Name, "content-type")
	// the input is left alone
	assert.Equal(t, len(testFields), 4)
}

func TestSetHeader(t *testing.T) {
	out := SetHeader(testFields, "content-encoding", "identity")
	v, _ := HeaderValue(out, "content-encoding")
	assert.Equal(t, v, "identity")
	assert.Equal(t, len(out), 4)
	assert.Assert(t, IsPseudoHeader(out[0]))
	assert.Assert(t, !IsPseudoHeader(out[1]))
}

func TestEncodeHeaderBlock(t *testing.T) {
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)
	block, err := EncodeHeaderBlock(enc, &buf, testFields)
	assert.NilError(t, err)
	assert.Equal(t, buf.Len(), 0)

	decoded, err := hpack.NewDecoder(4096, nil).DecodeFull(block)
	assert.NilError(t, err)
	assert.DeepEqual(t, decoded, testFields)
}

func TestSplitHeaderBlock(t *testing.T) {
	block := bytes.Repeat([]byte{'a'}, 25)

	first, rest := SplitHeaderBlock(block, 30)
	assert.Equal(t, len(first), 25)
	assert.Equal(t, len(rest), 0)

	first, rest = SplitHeaderBlock(block, 10)
	assert.Equal(t, len(first), 10)
	assert.Equal(t, len(rest), 2)
	assert.Equal(t, len(rest[0]), 10)
	assert.Equal(t, len(rest[1]), 5)

	first, rest = SplitHeaderBlock(block[:20], 10)
	assert.Equal(t, len(first), 10)
	assert.Equal(t, len(rest), 1)
	assert.Equal(t, len(rest[0]), 10)
}
