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

package common

import (
	"fmt"
	"strings"
	"sync"
)

import (
	"github.com/apache/dubbo-go/common/logger"
	perrors "github.com/pkg/errors"
	"google.golang.org/grpc/encoding"
)

// CompressorFactory returns the codec used for one content-encoding token
type CompressorFactory func() encoding.Compressor

var (
	compressorFactoryMap  = make(map[string]CompressorFactory, 8)
	compressorFactoryLock sync.RWMutex
)

// GetCompressor returns the compressor registered for contentEncoding, matched case-insensitively
func GetCompressor(contentEncoding string) (encoding.Compressor, error) {
	name := normalizeEncoding(contentEncoding)
	compressorFactoryLock.RLock()
	f, ok := compressorFactoryMap[name]
	compressorFactoryLock.RUnlock()
	if ok {
		return f(), nil
	}
	logger.Debugf("content-encoding %s compressor undefined", name)
	return nil, perrors.New(fmt.Sprintf("content-encoding %s compressor undefined!", name))
}

func SetCompressor(contentEncoding string, f CompressorFactory) {
	compressorFactoryLock.Lock()
	compressorFactoryMap[normalizeEncoding(contentEncoding)] = f
	compressorFactoryLock.Unlock()
}

// IsIdentityEncoding reports whether contentEncoding leaves the body untouched
func IsIdentityEncoding(contentEncoding string) bool {
	name := normalizeEncoding(contentEncoding)
	return name == "" || name == IdentityEncoding
}

func normalizeEncoding(contentEncoding string) string {
	return strings.ToLower(strings.TrimSpace(contentEncoding))
}
