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

package codec

import (
	"io"
)

import (
	"github.com/klauspost/compress/zlib"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/encoding/gzip"
)

import (
	"github.com/dubbogo/h2handler/pkg/common"
)

const (
	// GZIP is the content-encoding token of the gzip codec registered by grpc
	GZIP     = gzip.Name
	XGZIP    = "x-gzip"
	DEFLATE  = "deflate"
	XDEFLATE = "x-deflate"
)

func init() {
	// grpc registers gzip in its own init, which has run before this one
	common.SetCompressor(GZIP, newGzipCompressor)
	common.SetCompressor(XGZIP, newXGzipCompressor)
	common.SetCompressor(DEFLATE, newDeflateCompressor)
	common.SetCompressor(XDEFLATE, newXDeflateCompressor)
}

func newGzipCompressor() encoding.Compressor {
	return encoding.GetCompressor(GZIP)
}

func newXGzipCompressor() encoding.Compressor {
	return &aliasCompressor{Compressor: encoding.GetCompressor(GZIP), name: XGZIP}
}

func newDeflateCompressor() encoding.Compressor {
	return &zlibCompressor{name: DEFLATE}
}

func newXDeflateCompressor() encoding.Compressor {
	return &zlibCompressor{name: XDEFLATE}
}

// aliasCompressor reuses a registered codec under another content-encoding token
type aliasCompressor struct {
	encoding.Compressor
	name string
}

func (a *aliasCompressor) Name() string {
	return a.name
}

// zlibCompressor implements the http "deflate" coding, which is the zlib format of RFC 1950
type zlibCompressor struct {
	name string
}

func (z *zlibCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return zlib.NewWriter(w), nil
}

func (z *zlibCompressor) Decompress(r io.Reader) (io.Reader, error) {
	return zlib.NewReader(r)
}

func (z *zlibCompressor) Name() string {
	return z.name
}
