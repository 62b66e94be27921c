package influx

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxlog/fluxlog/config"
)

// testServerConfig points a Config at a local httptest InfluxDB stand-in.
func testServerConfig(t *testing.T, ts *httptest.Server) config.Config {
	t.Helper()
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return config.Config{
		Host:     u.Hostname(),
		Port:     port,
		Database: "weblogs",
		Retries:  3,
	}
}

func newTestSink(t *testing.T, cfg config.Config) *Sink {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	s.backoff = time.Millisecond
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSink_Write(t *testing.T) {
	var writes int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/write", r.URL.Path)
		assert.Equal(t, "weblogs", r.URL.Query().Get("db"))
		atomic.AddInt32(&writes, 1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	s := newTestSink(t, testServerConfig(t, ts))
	err := s.Write(context.Background(), "response_log",
		map[string]string{"path": "/check", "method": "GET"},
		map[string]interface{}{"status_code": 200, "response_time": 1.5},
		time.Now().UTC())

	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&writes))
}

func TestSink_WriteRetriesUntilSuccess(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			http.Error(w, `{"error":"temporarily unavailable"}`, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	s := newTestSink(t, testServerConfig(t, ts))
	err := s.Write(context.Background(), "response_log",
		map[string]string{"path": "/check"},
		map[string]interface{}{"status_code": 200},
		time.Now().UTC())

	require.NoError(t, err, "the third attempt succeeds within the retry budget")
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestSink_WriteFailsAfterRetryBudget(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, `{"error":"write rejected"}`, http.StatusInternalServerError)
	}))
	defer ts.Close()

	cfg := testServerConfig(t, ts)
	cfg.Retries = 2
	s := newTestSink(t, cfg)
	err := s.Write(context.Background(), "response_log",
		map[string]string{"path": "/check"},
		map[string]interface{}{"status_code": 200},
		time.Now().UTC())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestSink_UDPTransport(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	cfg := config.Config{
		Host:     "127.0.0.1",
		Database: "weblogs",
		UseUDP:   true,
		UDPPort:  conn.LocalAddr().(*net.UDPAddr).Port,
		Retries:  1,
	}
	s, err := New(cfg)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write(context.Background(), "response_log",
		map[string]string{"method": "GET"},
		map[string]interface{}{"status_code": 200},
		time.Now().UTC()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 4096)
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err, "the point must arrive as a UDP datagram")
	line := string(buf[:n])
	assert.Contains(t, line, "response_log")
	assert.Contains(t, line, "method=GET")
}

func TestNew_InvalidProxy(t *testing.T) {
	cfg := config.Config{
		Host:     "localhost",
		Port:     8086,
		Database: "weblogs",
		Proxy:    "http://[::1]:namedport",
	}
	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proxy")
}
