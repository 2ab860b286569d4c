package status

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticSource Snapshot

func (s staticSource) StatusSnapshot() Snapshot { return Snapshot(s) }

func sampleSnapshot() Snapshot {
	return Snapshot{
		Version:           "0.8.0",
		ProtocolVersion:   9,
		Port:              2075,
		NumPlayers:        2,
		MaxPlayers:        32,
		Players:           []Player{{Index: 0, Username: "Jeb"}, {Index: 3, Username: "Bill"}},
		Information:       "Friendly server",
		UpdatesPerSecond:  10,
		InactiveShipLimit: 20,
		ScreenshotHeight:  270,
		ScreenshotSave:    false,
		ScreenshotBacklog: 4,
	}
}

func TestSnapshot_Text(t *testing.T) {
	want := "Version: 0.8.0\n" +
		"Port: 2075\n" +
		"Num Players: 2/32\n" +
		"Players: Jeb, Bill\n" +
		"Information: Friendly server\n" +
		"Updates per Second: 10\n" +
		"Inactive Ship Limit: 20\n" +
		"Screenshot Height: 270\n" +
		"Screenshot Save: false\n" +
		"Screenshot Backlog: 4\n"
	assert.Equal(t, want, sampleSnapshot().Text())
}

func TestSnapshot_TextFractionalUpdates(t *testing.T) {
	s := sampleSnapshot()
	s.UpdatesPerSecond = 0.5
	assert.Contains(t, s.Text(), "Updates per Second: 0.5\n")
}

func newTestServer(hostInfo bool) (*Server, *Metrics) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	return New(staticSource(sampleSnapshot()), reg, hostInfo, zerolog.Nop()), m
}

func TestRoutes(t *testing.T) {
	srv, metrics := newTestServer(false)
	metrics.Sessions.Set(2)
	metrics.Refusals.WithLabelValues("full").Inc()

	t.Run("text", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.HasPrefix(rec.Body.String(), "Version: 0.8.0\n"))
	})

	t.Run("json", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status.json", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var got Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, 2, got.NumPlayers)
		assert.Equal(t, "Bill", got.Players[1].Username)
		assert.Nil(t, got.Host)
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "klf_sessions 2")
		assert.Contains(t, body, `klf_refusals_total{reason="full"} 1`)
	})
}

func TestRoutes_JSONWithHostStats(t *testing.T) {
	srv, _ := newTestServer(true)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"host":`)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	srv, _ := newTestServer(false)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "Num Players: 2/32")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("status server did not stop")
	}
}
