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
	"runtime"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"
)

import (
	"github.com/apache/dubbo-go/common"
	"github.com/apache/dubbo-go/common/logger"
	perrors "github.com/pkg/errors"
	h2 "golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
	"google.golang.org/grpc/benchmark/stats"
)

import (
	h2common "github.com/dubbogo/h2handler/pkg/common"
	"github.com/dubbogo/h2handler/pkg/h2conn"
)

const loopbackAddress = "127.0.0.1"

var (
	port        = flag.String("port", "50051", "Localhost port to connect to.")
	numRPC      = flag.Int("r", 1, "The number of concurrent streams on each connection.")
	numConn     = flag.Int("c", 1, "The number of parallel connections.")
	warmupDur   = flag.Int("w", 10, "Warm-up duration in seconds")
	duration    = flag.Int("d", 60, "Benchmark duration in seconds")
	rqSize      = flag.Int("req", 1, "Request body size in bytes.")
	compression = flag.Bool("compression", true, "Decode gzip encoded responses.")
	testName    = flag.String("test_name", "", "Name of the test used for creating profiles.")
	wg          sync.WaitGroup
	hopts       = stats.HistogramOptions{
		NumBuckets:     2495,
		GrowthFactor:   .01,
		BaseBucketSize: 1000,
		MinValue:       0,
	}
	mu    sync.Mutex
	hists []*stats.Histogram
)

var errConnectionClosed = perrors.New("h2 connection closed")

// benchConnection completes pending streams when their response ends
type benchConnection struct {
	h2conn.FrameAdapter
	// stream id -> chan error
	pending sync.Map
}

func (c *benchConnection) OnHeadersRead(streamID uint32, _ []hpack.HeaderField, endStream bool) error {
	if endStream {
		c.complete(streamID, nil)
	}
	return nil
}

func (c *benchConnection) OnDataRead(streamID uint32, _ []byte, endStream bool) error {
	if endStream {
		c.complete(streamID, nil)
	}
	return nil
}

func (c *benchConnection) OnRSTStreamRead(streamID uint32, code h2.ErrCode) error {
	c.complete(streamID, perrors.Errorf("stream %d reset, code = %v", streamID, code))
	return nil
}

func (c *benchConnection) complete(streamID uint32, err error) {
	if v, ok := c.pending.LoadAndDelete(streamID); ok {
		v.(chan error) <- err
	}
}

type benchClient struct {
	handler *h2conn.ConnectionHandler
	conn    *benchConnection
	// openLock keeps new streams on the wire in stream id order
	openLock  sync.Mutex
	authority string
}

func newBenchClient(u *common.URL, registry h2conn.ConnectionRegistry) (*benchClient, error) {
	cfg, err := h2conn.NewConfigFromURL(u, func(*h2conn.ConnectionHandler) (h2conn.Connection, error) {
		return &benchConnection{}, nil
	}, registry)
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(loopbackAddress, *port)
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, perrors.WithMessagef(err, "dial %s", addr)
	}
	h, err := h2conn.Build(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := h.Start(); err != nil {
		return nil, err
	}
	return &benchClient{
		handler:   h,
		conn:      h.Connection().(*benchConnection),
		authority: addr,
	}, nil
}

func (c *benchClient) call(body []byte) error {
	done := make(chan error, 1)
	headers := []hpack.HeaderField{
		{Name: ":method", Value: "POST"},
		{Name: ":scheme", Value: "http"},
		{Name: ":path", Value: "/echo"},
		{Name: ":authority", Value: c.authority},
		{Name: h2common.ContentLengthHeader, Value: strconv.Itoa(len(body))},
	}

	c.openLock.Lock()
	id := c.handler.NewStreamID()
	c.conn.pending.Store(id, done)
	err := c.handler.Encoder().WriteHeaders(id, headers, false)
	c.openLock.Unlock()
	if err != nil {
		c.conn.pending.Delete(id)
		return err
	}
	if err := c.handler.Encoder().WriteData(id, body, true); err != nil {
		c.conn.pending.Delete(id)
		return err
	}

	select {
	case err := <-done:
		return err
	case <-c.handler.Done():
		return errConnectionClosed
	}
}

func main() {
	flag.Parse()

	params := url.Values{}
	params.Set(h2common.SideKey, "consumer")
	params.Set(h2common.CompressionKey, strconv.FormatBool(*compression))
	u := common.NewURLWithOptions(
		common.WithProtocol("h2c"),
		common.WithIp(loopbackAddress),
		common.WithPort(*port),
		common.WithParams(params))

	registry := h2conn.NewConnectionMap()
	ctl := buildClients(u, registry)
	if len(ctl) == 0 {
		logger.Error("no client connected")
		return
	}
	body := bytes.Repeat([]byte{'a'}, *rqSize)

	warmDeadline := time.Now().Add(time.Duration(*warmupDur) * time.Second)
	endDeadline := warmDeadline.Add(time.Duration(*duration) * time.Second)
	cf, err := os.Create("/tmp/" + *testName + ".cpu")
	if err != nil {
		logger.Errorf("Error creating file: %v", err)
		return
	}
	defer cf.Close()
	if err := pprof.StartCPUProfile(cf); err != nil {
		logger.Errorf("Error starting cpu profile: %v", err)
	}
	start := time.Now()

	for _, ct := range ctl {
		runWithClient(ct, body, warmDeadline, endDeadline)
	}

	wg.Wait()
	elapsed := time.Since(start)
	pprof.StopCPUProfile()
	for _, ct := range ctl {
		ct.handler.Close()
	}
	mf, err := os.Create("/tmp/" + *testName + ".mem")
	if err != nil {
		logger.Errorf("Error creating file: %v", err)
		return
	}
	defer mf.Close()
	runtime.GC() // materialize all statistics
	if err := pprof.WriteHeapProfile(mf); err != nil {
		logger.Errorf("Error writing memory profile: %v", err)
	}
	hist := stats.NewHistogram(hopts)
	for _, h := range hists {
		hist.Merge(h)
	}
	parseHist(hist)
	fmt.Println("Client wall time:", elapsed)
	fmt.Println("Client CPU profile:", cf.Name())
	fmt.Println("Client Mem Profile:", mf.Name())
}

func runWithClient(ct *benchClient, body []byte, warmDeadline, endDeadline time.Time) {
	for i := 0; i < *numRPC; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			hist := stats.NewHistogram(hopts)
			for {
				start := time.Now()
				if start.After(endDeadline) {
					mu.Lock()
					hists = append(hists, hist)
					mu.Unlock()
					return
				}
				if err := ct.call(body); err != nil {
					logger.Errorf("call failed: %v", err)
					if err == errConnectionClosed {
						mu.Lock()
						hists = append(hists, hist)
						mu.Unlock()
						return
					}
				}
				elapsed := time.Since(start)
				if start.After(warmDeadline) {
					hist.Add(elapsed.Nanoseconds())
				}
			}
		}()
	}
}

func buildClients(u *common.URL, registry h2conn.ConnectionRegistry) []*benchClient {
	ccs := make([]*benchClient, 0, *numConn)
	for i := 0; i < *numConn; i++ {
		client, err := newBenchClient(u, registry)
		if err != nil {
			logger.Errorf("client %d init failed: %v", i, err)
			continue
		}
		ccs = append(ccs, client)
	}
	return ccs
}

func parseHist(hist *stats.Histogram) {
	fmt.Println("qps:", float64(hist.Count)/float64(*duration))
	fmt.Printf("Latency: (50/90/99 %%ile): %v/%v/%v\n",
		time.Duration(median(.5, hist)),
		time.Duration(median(.9, hist)),
		time.Duration(median(.99, hist)))
}

func median(percentile float64, h *stats.Histogram) int64 {
	need := int64(float64(h.Count) * percentile)
	have := int64(0)
	for _, bucket := range h.Buckets {
		count := bucket.Count
		if have+count >= need {
			percent := float64(need-have) / float64(count)
			return int64((1.0-percent)*bucket.LowBound + percent*bucket.LowBound*(1.0+hopts.GrowthFactor))
		}
		have += bucket.Count
	}
	panic("should have found a bound")
}
