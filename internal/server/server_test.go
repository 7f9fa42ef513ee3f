package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakegate/lakegate/internal/buffer"
	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/internal/gateway"
	"github.com/lakegate/lakegate/internal/metrics"
	"github.com/lakegate/lakegate/internal/schema"
	"github.com/lakegate/lakegate/pkg/hlc"
)

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func tasksManager(t *testing.T) *schema.Manager {
	t.Helper()

	m, err := schema.NewManager(schema.TableSchema{
		Table: "tasks",
		Columns: []schema.Column{
			{Name: "title", Type: schema.TypeString},
			{Name: "owner", Type: schema.TypeString},
		},
		PrimaryKey: "id",
	})
	require.NoError(t, err)

	return m
}

func newTestGateway(t *testing.T, mutate func(*gateway.Config)) *gateway.Gateway {
	t.Helper()

	cfg := &gateway.Config{
		GatewayID: "gw-test",
		Buffer:    buffer.New(),
		Clock:     hlc.NewClock(0),
		Logger:    testLogger(t),
	}
	if mutate != nil {
		mutate(cfg)
	}
	g, err := gateway.New(cfg)
	require.NoError(t, err)

	return g
}

func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()

	cfg := &Config{
		Gateway: newTestGateway(t, nil),
		Logger:  testLogger(t),
	}
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)

	return s
}

func testDelta(table, rowID, clientID string, ts hlc.Timestamp, pairs ...string) delta.RowDelta {
	d := delta.RowDelta{
		Op:       delta.OpUpdate,
		Table:    table,
		RowID:    rowID,
		ClientID: clientID,
		HLC:      ts,
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		d.Columns = append(d.Columns, delta.ColumnValue{Column: pairs[i], Value: delta.String(pairs[i+1])})
	}

	return delta.WithFingerprint(d)
}

// doJSON runs one request through the router and records the response.
func doJSON(t *testing.T, s *Server, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body errorBody
	decodeJSON(t, rec, &body)

	return body.Code
}

// bearerToken builds an unsigned JWT-shaped token carrying the claims.
func bearerToken(t *testing.T, claims map[string]any) string {
	t.Helper()

	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	return "Bearer h." + base64.RawURLEncoding.EncodeToString(payload) + ".s"
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)

	_, err = New(&Config{})
	require.ErrorContains(t, err, "gateway")
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	rec := doJSON(t, s, http.MethodGet, "/healthz", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "gw-test", body["gatewayId"])
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	bundle := metrics.NewBundle()
	s := newTestServer(t, func(c *Config) {
		c.Metrics = bundle
	})

	rec := doJSON(t, s, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	bare := newTestServer(t, nil)
	rec = doJSON(t, bare, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDecodeClaims(t *testing.T) {
	t.Parallel()

	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"alice","org":"acme"}`))
	claims, err := decodeClaims("header." + payload + ".sig")
	require.NoError(t, err)
	assert.Equal(t, "alice", claims["sub"])
	assert.Equal(t, "acme", claims["org"])

	_, err = decodeClaims("not-a-jwt")
	require.ErrorContains(t, err, "segments")

	_, err = decodeClaims("a.!!!.c")
	require.Error(t, err)

	_, err = decodeClaims("a." + base64.RawURLEncoding.EncodeToString([]byte("[1,2]")) + ".c")
	require.Error(t, err)
}
