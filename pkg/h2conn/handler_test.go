package h2conn

import (
	"bytes"
	"net"
	"strconv"
	"testing"
	"time"
)

import (
	"github.com/stretchr/testify/assert"
	"golang.org/x/net/http2/hpack"
)

import (
	"github.com/dubbogo/h2handler/internal/codec"
	"github.com/dubbogo/h2handler/pkg/common"
)

const waitTimeout = 5 * time.Second

// echoConnection answers every request with its own body, gzip encoded when the server compresses
type echoConnection struct {
	FrameAdapter
	handler *ConnectionHandler
	bodies  map[uint32]*bytes.Buffer
}

func (c *echoConnection) OnHeadersRead(streamID uint32, headers []hpack.HeaderField, endStream bool) error {
	if _, ok := c.bodies[streamID]; !ok {
		c.bodies[streamID] = &bytes.Buffer{}
	}
	if endStream {
		c.respond(streamID)
	}
	return nil
}

func (c *echoConnection) OnDataRead(streamID uint32, data []byte, endStream bool) error {
	buf, ok := c.bodies[streamID]
	if !ok {
		buf = &bytes.Buffer{}
		c.bodies[streamID] = buf
	}
	buf.Write(data)
	if endStream {
		c.respond(streamID)
	}
	return nil
}

func (c *echoConnection) respond(streamID uint32) {
	body := c.bodies[streamID].Bytes()
	delete(c.bodies, streamID)
	// the decoder goroutine must keep reading window updates while the body is written
	go func() {
		enc := c.handler.Encoder()
		headers := []hpack.HeaderField{
			{Name: ":status", Value: "200"},
			{Name: common.ContentEncodingHeader, Value: "gzip"},
			{Name: common.ContentLengthHeader, Value: strconv.Itoa(len(body))},
		}
		if err := enc.WriteHeaders(streamID, headers, false); err != nil {
			return
		}
		_ = enc.WriteData(streamID, body, true)
	}()
}

type response struct {
	streamID uint32
	headers  []hpack.HeaderField
	body     []byte
}

type clientConnection struct {
	FrameAdapter
	headers   map[uint32][]hpack.HeaderField
	bodies    map[uint32]*bytes.Buffer
	responses chan response
	pings     chan [8]byte
	settings  chan *common.Settings
}

func newClientConnection() *clientConnection {
	return &clientConnection{
		headers:   make(map[uint32][]hpack.HeaderField),
		bodies:    make(map[uint32]*bytes.Buffer),
		responses: make(chan response, 16),
		pings:     make(chan [8]byte, 16),
		settings:  make(chan *common.Settings, 16),
	}
}

func (c *clientConnection) OnHeadersRead(streamID uint32, headers []hpack.HeaderField, endStream bool) error {
	c.headers[streamID] = headers
	c.bodies[streamID] = &bytes.Buffer{}
	if endStream {
		c.emit(streamID)
	}
	return nil
}

func (c *clientConnection) OnDataRead(streamID uint32, data []byte, endStream bool) error {
	c.bodies[streamID].Write(data)
	if endStream {
		c.emit(streamID)
	}
	return nil
}

func (c *clientConnection) emit(streamID uint32) {
	c.responses <- response{streamID: streamID, headers: c.headers[streamID], body: c.bodies[streamID].Bytes()}
	delete(c.headers, streamID)
	delete(c.bodies, streamID)
}

func (c *clientConnection) OnPingRead(data [8]byte, ack bool) error {
	if ack {
		c.pings <- data
	}
	return nil
}

func (c *clientConnection) OnSettingsRead(s *common.Settings) error {
	select {
	case c.settings <- s:
	default:
	}
	return nil
}

type h2Pair struct {
	server, client                 *ConnectionHandler
	serverConn, clientConn         net.Conn
	serverRegistry, clientRegistry *ConnectionMap
	recorder                       *clientConnection
}

func newH2Pair(t *testing.T, clientCompression bool, clientSettings *common.SettingsOverride) *h2Pair {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Nil(t, err)
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()
	cc, err := net.Dial("tcp", ln.Addr().String())
	assert.Nil(t, err)
	sc, ok := <-accepted
	assert.True(t, ok)

	p := &h2Pair{
		serverConn:     sc,
		clientConn:     cc,
		serverRegistry: NewConnectionMap(),
		clientRegistry: NewConnectionMap(),
		recorder:       newClientConnection(),
	}
	p.server, err = Build(sc, Config{
		Server:      true,
		Compression: true,
		ConnectionFactory: func(h *ConnectionHandler) (Connection, error) {
			return &echoConnection{handler: h, bodies: make(map[uint32]*bytes.Buffer)}, nil
		},
		Registry: p.serverRegistry,
	})
	assert.Nil(t, err)
	p.client, err = Build(cc, Config{
		Compression:     clientCompression,
		InitialSettings: clientSettings,
		ConnectionFactory: func(h *ConnectionHandler) (Connection, error) {
			return p.recorder, nil
		},
		Registry: p.clientRegistry,
	})
	assert.Nil(t, err)

	assert.Nil(t, p.server.Start())
	assert.Nil(t, p.client.Start())
	t.Cleanup(func() {
		p.client.Close()
		p.server.Close()
		ln.Close()
	})
	return p
}

func (p *h2Pair) post(t *testing.T, body []byte) uint32 {
	id := p.client.NewStreamID()
	headers := []hpack.HeaderField{
		{Name: ":method", Value: "POST"},
		{Name: ":scheme", Value: "http"},
		{Name: ":path", Value: "/echo"},
		{Name: ":authority", Value: p.clientConn.RemoteAddr().String()},
		{Name: common.ContentLengthHeader, Value: strconv.Itoa(len(body))},
	}
	assert.Nil(t, p.client.Encoder().WriteHeaders(id, headers, false))
	assert.Nil(t, p.client.Encoder().WriteData(id, body, true))
	return id
}

func (p *h2Pair) waitResponse(t *testing.T) response {
	select {
	case r := <-p.recorder.responses:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("no response from the echo server")
	}
	return response{}
}

func TestHandlerEchoDecompressedOnClient(t *testing.T) {
	p := newH2Pair(t, true, nil)
	body := []byte("hello h2 connection handler")

	id := p.post(t, body)
	assert.Equal(t, uint32(1), id)
	r := p.waitResponse(t)

	assert.Equal(t, id, r.streamID)
	status, _ := codec.HeaderValue(r.headers, ":status")
	assert.Equal(t, "200", status)
	_, ok := codec.HeaderValue(r.headers, common.ContentEncodingHeader)
	assert.False(t, ok)
	_, ok = codec.HeaderValue(r.headers, common.ContentLengthHeader)
	assert.False(t, ok)
	assert.Equal(t, body, r.body)
	assert.Eventually(t, func() bool {
		return p.client.Session().ActiveStreams() == 0 && p.server.Session().ActiveStreams() == 0
	}, waitTimeout, 10*time.Millisecond)
}

func TestHandlerEchoCompressedWithoutClientDecompression(t *testing.T) {
	p := newH2Pair(t, false, nil)
	body := []byte("hello h2 connection handler")

	p.post(t, body)
	r := p.waitResponse(t)

	ce, ok := codec.HeaderValue(r.headers, common.ContentEncodingHeader)
	assert.True(t, ok)
	assert.Equal(t, "gzip", ce)
	_, ok = codec.HeaderValue(r.headers, common.ContentLengthHeader)
	assert.False(t, ok)
	assert.Equal(t, body, gunzip(t, r.body))
}

func TestHandlerEchoBeyondInitialWindow(t *testing.T) {
	p := newH2Pair(t, true, &common.SettingsOverride{MaxFrameSize: common.Uint32(1 << 15)})
	body := bytes.Repeat([]byte("hello h2 "), 12000)

	p.post(t, body)
	p.post(t, body[:100])
	first := p.waitResponse(t)
	second := p.waitResponse(t)
	if first.streamID != 1 {
		first, second = second, first
	}
	assert.Equal(t, body, first.body)
	assert.Equal(t, body[:100], second.body)
}

func TestHandlerLifecycle(t *testing.T) {
	p := newH2Pair(t, true, &common.SettingsOverride{MaxConcurrentStreams: common.Uint32(10)})

	c, ok := p.clientRegistry.Load(p.clientConn)
	assert.True(t, ok)
	assert.Same(t, p.client.Connection(), c)
	_, ok = p.serverRegistry.Load(p.serverConn)
	assert.True(t, ok)
	assert.Equal(t, common.ErrHandlerStarted, p.client.Start())

	assert.Equal(t, uint32(10), p.client.Settings().MaxConcurrentStreams())
	assert.Eventually(t, func() bool {
		return p.server.Encoder().RemoteSettings().MaxConcurrentStreams() == 10
	}, waitTimeout, 10*time.Millisecond)

	ping := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	assert.Nil(t, p.client.Encoder().WritePing(false, ping))
	select {
	case got := <-p.recorder.pings:
		assert.Equal(t, ping, got)
	case <-time.After(waitTimeout):
		t.Fatal("no ping ack")
	}

	assert.Nil(t, p.client.Close())
	<-p.client.Done()
	assert.Nil(t, p.client.Err())
	assert.Equal(t, common.Closing, p.client.State())
	assert.Equal(t, 0, p.clientRegistry.Len())
	assert.Equal(t, common.ErrHandlerClosed, p.client.Encoder().WriteData(1, []byte("late"), true))

	select {
	case <-p.server.Done():
	case <-time.After(waitTimeout):
		t.Fatal("server handler still running")
	}
	assert.Equal(t, 0, p.serverRegistry.Len())
}

func TestHandlerStartAfterClose(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c2.Close()
	registry := NewConnectionMap()
	h, err := Build(c1, Config{ConnectionFactory: countingFactory(new(int)), Registry: registry})
	assert.Nil(t, err)

	assert.Nil(t, h.Close())
	<-h.Done()
	assert.Equal(t, common.ErrHandlerClosed, h.Start())
	assert.Equal(t, 0, registry.Len())
}
