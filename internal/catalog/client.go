package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/lakegate/lakegate/internal/schema"
)

// Retry and backoff constants. Transport retries cover transient
// failures only; semantic retries (append conflict) belong to flush.
const (
	maxRetries     = 2
	baseBackoff    = 500 * time.Millisecond
	maxBackoff     = 5 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "lakegate/0.1"
)

// DataFile describes one object-store file registered with a table.
type DataFile struct {
	Path        string `json:"path"`
	SizeBytes   int64  `json:"sizeBytes"`
	RecordCount int64  `json:"recordCount"`
	Format      string `json:"format"`
}

// Client talks to an Iceberg-style REST catalogue. It handles request
// construction, bearer authentication, retry with exponential backoff,
// and error classification.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      oauth2.TokenSource
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Tests override it
	// to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a catalogue client. token may be nil for
// catalogues without authentication.
func NewClient(baseURL string, httpClient *http.Client, token oauth2.TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// NewClientCredentials builds a client authenticating with the OAuth2
// client-credentials flow.
func NewClientCredentials(baseURL, tokenURL, clientID, clientSecret string, logger *slog.Logger) *Client {
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}

	return NewClient(baseURL, nil, cfg.TokenSource(context.Background()), logger)
}

// CreateNamespace registers a namespace. Namespaces that already
// exist come back as ErrConflict.
func (c *Client) CreateNamespace(ctx context.Context, namespace []string) error {
	body := map[string]any{"namespace": namespace}

	return c.post(ctx, "/v1/namespaces", body)
}

// CreateTable registers a table under a namespace with its declared
// schema and partition columns.
func (c *Client) CreateTable(ctx context.Context, namespace []string, name string, ts schema.TableSchema, partitionSpec []string) error {
	body := map[string]any{
		"name":           name,
		"schema":         ts,
		"partition-spec": partitionSpec,
	}

	return c.post(ctx, "/v1/namespaces/"+namespacePath(namespace)+"/tables", body)
}

// AppendFiles commits data files to a table. A concurrent commit
// surfaces as ErrConflict; the caller retries once.
func (c *Client) AppendFiles(ctx context.Context, namespace []string, name string, files []DataFile) error {
	body := map[string]any{"data-files": files}

	path := "/v1/namespaces/" + namespacePath(namespace) + "/tables/" + url.PathEscape(name) + "/append"

	return c.post(ctx, path, body)
}

// namespacePath joins namespace levels with the unit separator, the
// multipart namespace form of the Iceberg REST spec.
func namespacePath(namespace []string) string {
	return url.PathEscape(strings.Join(namespace, "\x1f"))
}

// post executes a JSON POST with retry on transient failures and
// returns a classified *CatalogError on non-2xx.
func (c *Client) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("catalog: encode request: %w", err)
	}

	fullURL := c.baseURL + path

	var attempt int
	for {
		resp, err := c.doOnce(ctx, fullURL, payload)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("catalog: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return fmt.Errorf("catalog: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return fmt.Errorf("catalog: POST %s failed after %d retries: %w", path, maxRetries, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			// Drain so the connection can be reused.
			if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
				c.logger.Debug("draining response body failed", slog.String("error", drainErr.Error()))
			}
			resp.Body.Close()

			c.logger.Debug("catalogue call succeeded",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.calcBackoff(attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return fmt.Errorf("catalog: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return &CatalogError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("X-Request-Id"),
			Message:    strings.TrimSpace(string(errBody)),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// doOnce executes a single request (no retry).
func (c *Client) doOnce(ctx context.Context, fullURL string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	if c.token != nil {
		tok, err := c.token.Token()
		if err != nil {
			return nil, fmt.Errorf("obtaining token: %w", err)
		}
		tok.SetAuthHeader(req)
	}

	return c.httpClient.Do(req)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is
// canceled. It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
