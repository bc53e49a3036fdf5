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
	"strconv"
)

import (
	dubboCommon "github.com/apache/dubbo-go/common"
	perrors "github.com/pkg/errors"
)

// SettingsOverride carries the user supplied SETTINGS parameters, a nil field is unset
type SettingsOverride struct {
	PushEnabled          *bool
	HeaderTableSize      *uint32
	InitialWindowSize    *uint32
	MaxConcurrentStreams *uint32
	MaxFrameSize         *uint32
	MaxHeaderListSize    *uint32
}

func Bool(v bool) *bool {
	return &v
}

func Uint32(v uint32) *uint32 {
	return &v
}

// NewSettingsOverrideFromURL reads the h2.* params of url.
// It returns nil when url carries none of them.
func NewSettingsOverrideFromURL(url *dubboCommon.URL) (*SettingsOverride, error) {
	if url == nil {
		return nil, nil
	}
	o := &SettingsOverride{}
	found := false

	if v := url.GetParam(EnablePushKey, ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, perrors.Wrapf(err, "parse url param %s", EnablePushKey)
		}
		o.PushEnabled = &b
		found = true
	}

	uints := []struct {
		key   string
		field **uint32
	}{
		{HeaderTableSizeKey, &o.HeaderTableSize},
		{InitialWindowSizeKey, &o.InitialWindowSize},
		{MaxConcurrentStreamsKey, &o.MaxConcurrentStreams},
		{MaxFrameSizeKey, &o.MaxFrameSize},
		{MaxHeaderListSizeKey, &o.MaxHeaderListSize},
	}
	for _, u := range uints {
		v := url.GetParam(u.key, "")
		if v == "" {
			continue
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, perrors.Wrapf(err, "parse url param %s", u.key)
		}
		*u.field = Uint32(uint32(n))
		found = true
	}

	if !found {
		return nil, nil
	}
	return o, nil
}
