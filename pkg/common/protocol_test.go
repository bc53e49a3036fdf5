package common

import (
	"io"
	"reflect"
	"testing"
)

import (
	"google.golang.org/grpc/encoding"
	"gotest.tools/assert"
)

type testCompressor struct {
}

func (c *testCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return nil, nil
}

func (c *testCompressor) Decompress(r io.Reader) (io.Reader, error) {
	return r, nil
}

func (c *testCompressor) Name() string {
	return "test-encoding"
}

func newTestCompressor() encoding.Compressor {
	return &testCompressor{}
}

func TestSetAndGetCompressor(t *testing.T) {
	ori := newTestCompressor()
	SetCompressor("test-encoding", newTestCompressor)
	c, err := GetCompressor("test-encoding")
	assert.NilError(t, err)
	assert.Equal(t, reflect.TypeOf(c), reflect.TypeOf(ori))

	// content-encoding tokens are case insensitive
	c, err = GetCompressor(" Test-Encoding ")
	assert.NilError(t, err)
	assert.Equal(t, c.Name(), "test-encoding")
}

func TestGetUndefinedCompressor(t *testing.T) {
	_, err := GetCompressor("br-undefined")
	assert.ErrorContains(t, err, "br-undefined")
}

func TestIsIdentityEncoding(t *testing.T) {
	assert.Assert(t, IsIdentityEncoding(""))
	assert.Assert(t, IsIdentityEncoding("identity"))
	assert.Assert(t, IsIdentityEncoding("IDENTITY"))
	assert.Assert(t, !IsIdentityEncoding("gzip"))
}
