package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

// newHTTPClient returns a pooled client without a global timeout; every
// request carries its own context deadline instead.
func newHTTPClient(poolSize int) *http.Client {
	if poolSize <= 0 {
		poolSize = 4
	}
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        poolSize,
			MaxIdleConnsPerHost: poolSize,
			MaxConnsPerHost:     poolSize * 2,
			IdleConnTimeout:     30 * time.Second,
		},
	}
}

// postJSON sends in as JSON and decodes a 200 response into out.
// Transport failures, timeouts, 429 and 5xx come back retryable.
func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return kberrors.EmbeddingError("marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return kberrors.EmbeddingError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return classifyTransportError(url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		e := kberrors.EmbeddingError(
			fmt.Sprintf("embedding backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil).
			WithDetail("url", url)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			e.Retryable = true
		}
		return e
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return kberrors.EmbeddingError("decode embedding response", err)
	}
	return nil
}

// probe issues a GET and reports whether it answered 2xx.
func probe(ctx context.Context, client *http.Client, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func classifyTransportError(url string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return kberrors.New(kberrors.ErrCodeEmbeddingTimeout, "embedding request timed out", err).
			WithDetail("url", url)
	default:
		return kberrors.New(kberrors.ErrCodeEmbedderUnavailable, "embedding backend unreachable", err).
			WithDetail("url", url).
			WithSuggestion("Check embedding.url or start the embedding service")
	}
}
