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

package main

import (
	"bytes"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
)

import (
	"github.com/apache/dubbo-go/common"
	"github.com/apache/dubbo-go/common/logger"
	h2 "golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

import (
	h2common "github.com/dubbogo/h2handler/pkg/common"
	"github.com/dubbogo/h2handler/pkg/h2conn"
)

const loopbackAddress = "127.0.0.1"

var (
	port        = flag.String("port", "50051", "Localhost port to listen on.")
	compression = flag.Bool("compression", true, "Gzip encode the echoed bodies.")
	maxStreams  = flag.Uint("max_streams", 0, "MAX_CONCURRENT_STREAMS announced to clients, 0 keeps the protocol default.")
	testName    = flag.String("test_name", "server", "Name of the test used for creating profiles.")
)

// echoConnection writes every request body back on the same stream
type echoConnection struct {
	h2conn.FrameAdapter
	handler *h2conn.ConnectionHandler
	bodies  map[uint32]*bytes.Buffer
}

func newEchoConnection(h *h2conn.ConnectionHandler) (h2conn.Connection, error) {
	return &echoConnection{
		handler: h,
		bodies:  make(map[uint32]*bytes.Buffer),
	}, nil
}

func (c *echoConnection) OnHeadersRead(streamID uint32, _ []hpack.HeaderField, endStream bool) error {
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

func (c *echoConnection) OnRSTStreamRead(streamID uint32, _ h2.ErrCode) error {
	delete(c.bodies, streamID)
	return nil
}

func (c *echoConnection) respond(streamID uint32) {
	body := c.bodies[streamID].Bytes()
	delete(c.bodies, streamID)
	go func() {
		headers := []hpack.HeaderField{
			{Name: ":status", Value: "200"},
			{Name: "content-type", Value: "application/octet-stream"},
			{Name: h2common.ContentLengthHeader, Value: strconv.Itoa(len(body))},
		}
		if *compression {
			headers = append(headers, hpack.HeaderField{Name: h2common.ContentEncodingHeader, Value: "gzip"})
		}
		enc := c.handler.Encoder()
		if err := enc.WriteHeaders(streamID, headers, false); err != nil {
			logger.Errorf("write headers of stream %d error = %v", streamID, err)
			return
		}
		if err := enc.WriteData(streamID, body, true); err != nil {
			logger.Errorf("write data of stream %d error = %v", streamID, err)
		}
	}()
}

func main() {
	flag.Parse()
	if *testName == "" {
		logger.Error("test name not set")
		return
	}

	params := url.Values{}
	params.Set(h2common.SideKey, h2common.ProviderSide)
	params.Set(h2common.CompressionKey, strconv.FormatBool(*compression))
	if *maxStreams > 0 {
		params.Set(h2common.MaxConcurrentStreamsKey, strconv.FormatUint(uint64(*maxStreams), 10))
	}
	u := common.NewURLWithOptions(
		common.WithProtocol("h2c"),
		common.WithIp(loopbackAddress),
		common.WithPort(*port),
		common.WithParams(params))

	registry := h2conn.NewConnectionMap()
	cfg, err := h2conn.NewConfigFromURL(u, newEchoConnection, registry)
	if err != nil {
		logger.Errorf("load h2 config error = %v", err)
		return
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(loopbackAddress, *port))
	if err != nil {
		logger.Errorf("listen error = %v", err)
		return
	}

	cf, err := os.Create("/tmp/" + *testName + ".cpu")
	if err != nil {
		logger.Errorf("Failed to create file: %v", err)
		return
	}
	defer cf.Close()
	if err := pprof.StartCPUProfile(cf); err != nil {
		logger.Errorf("Failed to start cpu profile: %v", err)
	}

	go serve(ln, cfg)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	<-ch
	ln.Close()
	fmt.Println("Server connections:", registry.Len())
	registry.Range(func(_ net.Conn, c h2conn.Connection) bool {
		if ec, ok := c.(*echoConnection); ok {
			ec.handler.Close()
		}
		return true
	})

	pprof.StopCPUProfile()
	mf, err := os.Create("/tmp/" + *testName + ".mem")
	if err != nil {
		logger.Errorf("Failed to create file: %v", err)
		return
	}
	defer mf.Close()
	runtime.GC() // materialize all statistics
	if err := pprof.WriteHeapProfile(mf); err != nil {
		logger.Errorf("Failed to write memory profile: %v", err)
	}
	fmt.Println("Server CPU profile:", cf.Name())
	fmt.Println("Server Mem Profile:", mf.Name())
}

func serve(ln net.Listener, cfg h2conn.Config) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Infof("stop accepting, error = %v", err)
			return
		}
		h, err := h2conn.Build(conn, cfg)
		if err != nil {
			logger.Errorf("build h2 handler for %v error = %v", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}
		if err := h.Start(); err != nil {
			logger.Errorf("start h2 handler for %v error = %v", conn.RemoteAddr(), err)
		}
	}
}
