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
	"sort"
	"strings"
)

import (
	perrors "github.com/pkg/errors"
	h2 "golang.org/x/net/http2"
)

// Settings is a set of h2 SETTINGS parameters. Only explicitly set parameters are kept,
// the typed getters fall back to the protocol defaults for absent ones.
type Settings struct {
	values map[h2.SettingID]uint32
}

// NewSettings returns an empty Settings, which is what a codec sends when nothing deviates from
// the protocol defaults
func NewSettings() *Settings {
	return &Settings{
		values: make(map[h2.SettingID]uint32, 6),
	}
}

// NewSettingsFromFrame copies the parameters carried by a received SETTINGS frame
func NewSettingsFromFrame(fm *h2.SettingsFrame) (*Settings, error) {
	s := NewSettings()
	if err := fm.ForeachSetting(func(setting h2.Setting) error {
		if err := setting.Valid(); err != nil {
			return err
		}
		s.values[setting.ID] = setting.Val
		return nil
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Set(id h2.SettingID, val uint32) *Settings {
	s.values[id] = val
	return s
}

func (s *Settings) Value(id h2.SettingID) (uint32, bool) {
	v, ok := s.values[id]
	return v, ok
}

func (s *Settings) Len() int {
	return len(s.values)
}

func (s *Settings) SetPushEnabled(enabled bool) *Settings {
	if enabled {
		return s.Set(h2.SettingEnablePush, 1)
	}
	return s.Set(h2.SettingEnablePush, 0)
}

func (s *Settings) SetHeaderTableSize(size uint32) *Settings {
	return s.Set(h2.SettingHeaderTableSize, size)
}

func (s *Settings) SetInitialWindowSize(size uint32) *Settings {
	return s.Set(h2.SettingInitialWindowSize, size)
}

func (s *Settings) SetMaxConcurrentStreams(n uint32) *Settings {
	return s.Set(h2.SettingMaxConcurrentStreams, n)
}

func (s *Settings) SetMaxFrameSize(size uint32) *Settings {
	return s.Set(h2.SettingMaxFrameSize, size)
}

func (s *Settings) SetMaxHeaderListSize(size uint32) *Settings {
	return s.Set(h2.SettingMaxHeaderListSize, size)
}

func (s *Settings) PushEnabled() bool {
	if v, ok := s.values[h2.SettingEnablePush]; ok {
		return v == 1
	}
	return DefaultEnablePush
}

func (s *Settings) HeaderTableSize() uint32 {
	return s.valueOr(h2.SettingHeaderTableSize, DefaultHeaderTableSize)
}

func (s *Settings) InitialWindowSize() uint32 {
	return s.valueOr(h2.SettingInitialWindowSize, DefaultInitialWindowSize)
}

func (s *Settings) MaxConcurrentStreams() uint32 {
	return s.valueOr(h2.SettingMaxConcurrentStreams, DefaultMaxConcurrentStreams)
}

func (s *Settings) MaxFrameSize() uint32 {
	return s.valueOr(h2.SettingMaxFrameSize, DefaultMaxFrameSize)
}

func (s *Settings) MaxHeaderListSize() uint32 {
	return s.valueOr(h2.SettingMaxHeaderListSize, DefaultMaxHeaderListSize)
}

func (s *Settings) valueOr(id h2.SettingID, d uint32) uint32 {
	if v, ok := s.values[id]; ok {
		return v
	}
	return d
}

// Validate checks every parameter against the ranges of RFC 7540 6.5.2.
// The returned error wraps ErrInvalidSettings and keeps the h2.ConnectionError as message.
func (s *Settings) Validate() error {
	for _, setting := range s.ToFrame() {
		if err := setting.Valid(); err != nil {
			return perrors.Wrapf(ErrInvalidSettings, "%s: %v", setting, err)
		}
	}
	return nil
}

// ToFrame returns the parameters ordered by id, ready for Framer.WriteSettings
func (s *Settings) ToFrame() []h2.Setting {
	settings := make([]h2.Setting, 0, len(s.values))
	for id, val := range s.values {
		settings = append(settings, h2.Setting{ID: id, Val: val})
	}
	sort.Slice(settings, func(i, j int) bool {
		return settings[i].ID < settings[j].ID
	})
	return settings
}

func (s *Settings) Copy() *Settings {
	c := NewSettings()
	for id, val := range s.values {
		c.values[id] = val
	}
	return c
}

func (s *Settings) Equal(o *Settings) bool {
	if o == nil || len(s.values) != len(o.values) {
		return false
	}
	for id, val := range s.values {
		if ov, ok := o.values[id]; !ok || ov != val {
			return false
		}
	}
	return true
}

func (s *Settings) String() string {
	parts := make([]string, 0, len(s.values))
	for _, setting := range s.ToFrame() {
		parts = append(parts, fmt.Sprintf("%v=%d", setting.ID, setting.Val))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
