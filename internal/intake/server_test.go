package intake

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qqbridge/internal/config"
	"qqbridge/internal/dispatch"
	"qqbridge/internal/eventbus"
	"qqbridge/internal/gateway"
	"qqbridge/pkg/logx"
)

func newTestServer(t *testing.T, cfg config.IntakeConfig, bus eventbus.Bus) *httptest.Server {
	t.Helper()
	sender := dispatch.NewSender(nil, logx.Nop(), nil, nil, nil)
	d := dispatch.New(sender, logx.Nop(), nil)
	g := gateway.New(sender, d, bus, logx.Nop(), nil)
	t.Cleanup(g.Shutdown)

	s := New(cfg, g, bus, logx.Nop(), nil)
	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, vs := range header {
		req.Header[k] = vs
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, config.IntakeConfig{}, eventbus.New())
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventsPublishesToBus(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	srv := newTestServer(t, config.IntakeConfig{}, bus)
	resp := post(t, srv.URL+"/events", `{"title":"T","text":"B","type":"download"}`, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case ev := <-ch:
		assert.Equal(t, eventbus.TypeNotice, ev.Type)
		data, ok := ev.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "T", data["title"])
		assert.Equal(t, "B", data["text"])
		assert.Equal(t, "download", data["type"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event reached the bus")
	}
}

func TestEventsRejectsBadJSON(t *testing.T) {
	srv := newTestServer(t, config.IntakeConfig{}, eventbus.New())
	resp := post(t, srv.URL+"/events", `{"title":`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBearerAuth(t *testing.T) {
	srv := newTestServer(t, config.IntakeConfig{AuthToken: "s3cret"}, eventbus.New())

	resp := post(t, srv.URL+"/events", `{"title":"T","text":"B"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	h := http.Header{"Authorization": {"Bearer wrong"}}
	resp = post(t, srv.URL+"/events", `{"title":"T","text":"B"}`, h)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	h = http.Header{"Authorization": {"Bearer s3cret"}}
	resp = post(t, srv.URL+"/events", `{"title":"T","text":"B"}`, h)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Health stays open regardless of the token.
	hres, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer hres.Body.Close()
	assert.Equal(t, http.StatusOK, hres.StatusCode)
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, config.IntakeConfig{RatePerSec: 2}, eventbus.New())

	var codes []int
	for i := 0; i < 5; i++ {
		resp := post(t, srv.URL+"/events", `{"title":"T","text":"B"}`, nil)
		codes = append(codes, resp.StatusCode)
	}
	// The bucket starts with a burst of 2; everything past it is throttled.
	assert.Equal(t, http.StatusAccepted, codes[0])
	assert.Equal(t, http.StatusAccepted, codes[1])
	assert.Contains(t, codes, http.StatusTooManyRequests)
}

func TestTestEndpointUnconfigured(t *testing.T) {
	srv := newTestServer(t, config.IntakeConfig{}, eventbus.New())
	resp := post(t, srv.URL+"/test", "", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var res gateway.TestResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "not fully configured")
}
