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
	"math"
	"net"
	"sync"
)

import (
	"github.com/apache/dubbo-go/common/logger"
	"go.uber.org/atomic"
	h2 "golang.org/x/net/http2"
)

import (
	"github.com/dubbogo/h2handler/pkg/common"
)

/////////////////////////////////stream state

type streamState uint32

const (
	open             = streamState(0)
	halfClosedLocal  = streamState(1)
	halfClosedRemote = streamState(2)
	closed           = streamState(3)
)

func (s streamState) String() string {
	switch s {
	case open:
		return "open"
	case halfClosedLocal:
		return "half-closed(local)"
	case halfClosedRemote:
		return "half-closed(remote)"
	}
	return "closed"
}

type stream struct {
	id    uint32
	local bool
	state streamState
}

// onEndStream moves the stream forward when END_STREAM is sent (local) or received
func (s *stream) onEndStream(local bool) streamState {
	switch {
	case s.state == open && local:
		s.state = halfClosedLocal
	case s.state == open:
		s.state = halfClosedRemote
	case s.state == halfClosedRemote && local, s.state == halfClosedLocal && !local:
		s.state = closed
	}
	return s.state
}

/////////////////////////////////session

// Session is the protocol level state shared by the encoder and decoder of one transport conn
type Session struct {
	conn   net.Conn
	server bool

	state            atomic.Uint32
	nextStreamID     atomic.Uint32
	lastPeerStreamID atomic.Uint32

	// streamLock guards streams and the active counters
	streamLock      sync.Mutex
	streams         map[uint32]*stream
	localActive     uint32
	remoteActive    uint32
	maxLocalActive  uint32
	maxRemoteActive uint32

	// hooks are registered while the handler is assembled and run under streamLock,
	// they must not call back into the Session
	openedHooks []func(streamID uint32)
	closedHooks []func(streamID uint32)
	resetHooks  []func(streamID uint32)
}

func newSession(conn net.Conn, server bool, localSettings *common.Settings) *Session {
	s := &Session{
		conn:            conn,
		server:          server,
		streams:         make(map[uint32]*stream),
		maxLocalActive:  math.MaxUint32,
		maxRemoteActive: localSettings.MaxConcurrentStreams(),
	}
	s.state.Store(uint32(common.Reachable))
	if server {
		s.nextStreamID.Store(2)
	} else {
		s.nextStreamID.Store(1)
	}
	return s
}

// OnStreamOpened registers f to run whenever a stream is created
func (s *Session) OnStreamOpened(f func(streamID uint32)) {
	s.openedHooks = append(s.openedHooks, f)
}

// OnStreamClosed registers f to run whenever a stream leaves the stream table,
// either by ending in both directions or by a reset
func (s *Session) OnStreamClosed(f func(streamID uint32)) {
	s.closedHooks = append(s.closedHooks, f)
}

// OnStreamReset registers f to run for every RST_STREAM sent or received
func (s *Session) OnStreamReset(f func(streamID uint32)) {
	s.resetHooks = append(s.resetHooks, f)
}

func (s *Session) Conn() net.Conn {
	return s.conn
}

func (s *Session) IsServer() bool {
	return s.server
}

func (s *Session) State() common.SessionState {
	return common.SessionState(s.state.Load())
}

func (s *Session) setState(state common.SessionState) {
	s.state.Store(uint32(state))
}

// NextStreamID reserves a stream id for this end, odd for clients and even for servers
func (s *Session) NextStreamID() uint32 {
	return s.nextStreamID.Add(2) - 2
}

// LastPeerStreamID is the highest stream id opened by the peer, as announced in GOAWAY
func (s *Session) LastPeerStreamID() uint32 {
	return s.lastPeerStreamID.Load()
}

func (s *Session) ActiveStreams() int {
	s.streamLock.Lock()
	defer s.streamLock.Unlock()
	return len(s.streams)
}

func (s *Session) isLocalStreamID(streamID uint32) bool {
	return (streamID%2 == 1) != s.server
}

func (s *Session) stateOf(streamID uint32) (streamState, bool) {
	s.streamLock.Lock()
	defer s.streamLock.Unlock()
	st, ok := s.streams[streamID]
	if !ok {
		return closed, false
	}
	return st.state, true
}

func (s *Session) setMaxLocalActive(n uint32) {
	s.streamLock.Lock()
	s.maxLocalActive = n
	s.streamLock.Unlock()
}

// onHeaders opens streamID on its first HEADERS, local tells whether this end sends them.
// A stream beyond the concurrency limit of the side that opens it is refused.
// onHeaders records HEADERS sent (local) or received on streamID, creating the stream when it
// is new. Peer HEADERS never reopen a closed stream: an id this end has not allocated is a
// connection PROTOCOL_ERROR, a closed one is STREAM_CLOSED.
func (s *Session) onHeaders(streamID uint32, local bool, endStream bool) error {
	s.streamLock.Lock()
	defer s.streamLock.Unlock()
	st, ok := s.streams[streamID]
	if !ok {
		initiatedLocally := s.isLocalStreamID(streamID)
		switch {
		case local && !initiatedLocally:
			// the peer's stream is gone, a response can not open it again
			return h2.StreamError{StreamID: streamID, Code: h2.ErrCodeStreamClosed}
		case !local && initiatedLocally && streamID >= s.nextStreamID.Load():
			logger.Warnf("peer opened stream %d with this end's parity", streamID)
			return h2.ConnectionError(h2.ErrCodeProtocol)
		case !local && (initiatedLocally || streamID <= s.lastPeerStreamID.Load()):
			// closed already, frames still in flight after a reset end up here
			return h2.StreamError{StreamID: streamID, Code: h2.ErrCodeStreamClosed}
		}
		if initiatedLocally {
			if s.localActive >= s.maxLocalActive {
				return h2.StreamError{StreamID: streamID, Code: h2.ErrCodeRefusedStream, Cause: common.ErrStreamLimit}
			}
			s.localActive++
		} else {
			if s.remoteActive >= s.maxRemoteActive {
				logger.Debugf("refuse peer stream %d, %d streams active", streamID, s.remoteActive)
				return h2.StreamError{StreamID: streamID, Code: h2.ErrCodeRefusedStream, Cause: common.ErrStreamLimit}
			}
			s.remoteActive++
			s.lastPeerStreamID.Store(streamID)
		}
		st = &stream{id: streamID, local: initiatedLocally, state: open}
		s.streams[streamID] = st
		for _, f := range s.openedHooks {
			f(streamID)
		}
	}
	if endStream {
		s.endStreamLocked(st, local)
	}
	return nil
}

func (s *Session) onEndStream(streamID uint32, local bool) {
	s.streamLock.Lock()
	defer s.streamLock.Unlock()
	if st, ok := s.streams[streamID]; ok {
		s.endStreamLocked(st, local)
	}
}

func (s *Session) endStreamLocked(st *stream, local bool) {
	if st.onEndStream(local) == closed {
		s.removeLocked(st)
	}
}

// closeStream resets streamID, the reset hooks run even when the stream is already gone
func (s *Session) closeStream(streamID uint32) {
	s.streamLock.Lock()
	defer s.streamLock.Unlock()
	for _, f := range s.resetHooks {
		f(streamID)
	}
	if st, ok := s.streams[streamID]; ok {
		st.state = closed
		s.removeLocked(st)
	}
}

func (s *Session) removeLocked(st *stream) {
	delete(s.streams, st.id)
	if st.local {
		s.localActive--
	} else {
		s.remoteActive--
	}
	for _, f := range s.closedHooks {
		f(st.id)
	}
}
