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
	"bytes"
	"strings"
)

import (
	"golang.org/x/net/http2/hpack"
)

// HeaderValue returns the first value of name, header names are lower case on the h2 wire
func HeaderValue(fields []hpack.HeaderField, name string) (string, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// WithoutHeaders returns a copy of fields with every field named in names removed
func WithoutHeaders(fields []hpack.HeaderField, names ...string) []hpack.HeaderField {
	out := make([]hpack.HeaderField, 0, len(fields))
	for _, f := range fields {
		drop := false
		for _, n := range names {
			if f.Name == n {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, f)
		}
	}
	return out
}

// SetHeader returns a copy of fields where name has exactly one field with value
func SetHeader(fields []hpack.HeaderField, name, value string) []hpack.HeaderField {
	out := WithoutHeaders(fields, name)
	return append(out, hpack.HeaderField{Name: name, Value: value})
}

// IsPseudoHeader reports whether f is one of :method, :path, :status ...
func IsPseudoHeader(f hpack.HeaderField) bool {
	return strings.HasPrefix(f.Name, ":")
}

// EncodeHeaderBlock writes fields with enc and returns a copy of the block.
// buf must be the writer enc was created with.
func EncodeHeaderBlock(enc *hpack.Encoder, buf *bytes.Buffer, fields []hpack.HeaderField) ([]byte, error) {
	buf.Reset()
	for _, f := range fields {
		if err := enc.WriteField(f); err != nil {
			return nil, err
		}
	}
	block := make([]byte, buf.Len())
	copy(block, buf.Bytes())
	buf.Reset()
	return block, nil
}

// SplitHeaderBlock cuts block into the HEADERS fragment and the CONTINUATION fragments
func SplitHeaderBlock(block []byte, maxFrameSize int) (first []byte, rest [][]byte) {
	if len(block) <= maxFrameSize {
		return block, nil
	}
	first = block[:maxFrameSize]
	block = block[maxFrameSize:]
	for len(block) > maxFrameSize {
		rest = append(rest, block[:maxFrameSize])
		block = block[maxFrameSize:]
	}
	return first, append(rest, block)
}
