// Package testutil provides shared helpers for the e2e tests: a small
// JSON-over-HTTP client and an unsigned JWT builder for exercising the
// claims-based sync rules. Depends only on stdlib and testing.
package testutil

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"testing"
)

// PostJSON sends body as JSON to url with the given headers, decodes
// the response into out when out is non-nil, and returns the status
// code. Transport errors fail the test.
func PostJSON(t *testing.T, url string, headers map[string]string, body, out any) int {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encoding request body: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return do(t, req, out)
}

// GetJSON fetches url and decodes the response into out when out is
// non-nil, returning the status code.
func GetJSON(t *testing.T, url string, out any) int {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}

	return do(t, req, out)
}

// GetBytes fetches url and returns the raw body and status code.
func GetBytes(t *testing.T, url string) ([]byte, int) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}

	return data, resp.StatusCode
}

func do(t *testing.T, req *http.Request, out any) int {
	t.Helper()

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decoding response %q: %v", data, err)
		}
	}

	return resp.StatusCode
}

// UnsignedJWT builds a three-segment token whose payload carries the
// given claims. The signature segment is garbage: the gateway reads
// claims without verifying, matching its contract with the fronting
// proxy.
func UnsignedJWT(t *testing.T, claims map[string]any) string {
	t.Helper()

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("encoding claims: %v", err)
	}

	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".x"
}
