package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmett/deskcap/internal/audio"
	"github.com/emmett/deskcap/internal/stream"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestNewServerRequiresHub(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestStreamSendsHelloThenBinaryChunks(t *testing.T) {
	hub := stream.NewHub()
	_, ts := newTestServer(t, Config{Hub: hub, Format: audio.SupportedFormat})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello StreamHello
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, StreamHello{Encoding: "f32le", SampleRate: 48000, Channels: 2, FrameSize: 8}, hello)

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	hub.Publish(audio.Chunk{Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}, Frames: 1, Seq: 1})

	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, data)

	hub.Close()
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestStreamClientLeavingUnsubscribes(t *testing.T) {
	hub := stream.NewHub()
	_, ts := newTestServer(t, Config{Hub: hub, Format: audio.SupportedFormat})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	conn.Close()
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestStreamRejectsForeignOrigin(t *testing.T) {
	hub := stream.NewHub()
	_, ts := newTestServer(t, Config{Hub: hub})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	hub := stream.NewHub()
	hub.Publish(audio.Chunk{Data: []byte{0}})
	_, ts := newTestServer(t, Config{Hub: hub, Status: func() any { return "running" }})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "running", body["capture"])
	assert.EqualValues(t, 0, body["subscribers"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "deskcap_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	_, ts := newTestServer(t, Config{Hub: stream.NewHub(), Gatherer: reg})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "deskcap_test_total 3")
}

func TestMetricsNotMountedWithoutGatherer(t *testing.T) {
	_, ts := newTestServer(t, Config{Hub: stream.NewHub()})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartStop(t *testing.T) {
	srv, err := NewServer(Config{Addr: "127.0.0.1:0", Hub: stream.NewHub()})
	require.NoError(t, err)
	require.NoError(t, srv.Start(t.Context()))

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop(t.Context()))
}

func TestStreamRefusedAfterStop(t *testing.T) {
	hub := stream.NewHub()
	srv, ts := newTestServer(t, Config{Hub: hub, Format: audio.SupportedFormat})
	require.NoError(t, srv.Stop(t.Context()))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Zero(t, hub.Subscribers())
}

func TestStopWhileClientsConnect(t *testing.T) {
	hub := stream.NewHub()
	srv, err := NewServer(Config{Addr: "127.0.0.1:0", Hub: hub, Format: audio.SupportedFormat})
	require.NoError(t, err)
	require.NoError(t, srv.Start(t.Context()))

	url := "ws://" + srv.Addr() + "/stream"
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}

	require.NoError(t, srv.Stop(t.Context()))
	wg.Wait()
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}
