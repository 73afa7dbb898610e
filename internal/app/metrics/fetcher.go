// Package metrics implements MetricsFetcher: chunked retrieval of computed
// metrics for a completed scan (component + comma-joined metric keys as
// query params, a component.measures[] response shape), retried with
// cenkalti/backoff/v4 instead of hand-rolling a retry loop.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ahrav/commit-quality-orchestrator/pkg/common"
)

// chunkSize bounds how many metric keys are requested per HTTP call,
// mirroring the original's chunking to stay under the analysis server's URL
// length limits.
const chunkSize = 15

// measuresResponse mirrors the analysis server's
// /api/measures/component JSON shape.
type measuresResponse struct {
	Component struct {
		Measures []struct {
			Metric string `json:"metric"`
			Value  string `json:"value"`
		} `json:"measures"`
	} `json:"component"`
}

// PermanentError wraps a 4xx (other than 404, which is treated as
// not-ready-yet and retried up to the deadline) response, signaling the
// caller should not retry.
type PermanentError struct{ StatusCode int }

func (e *PermanentError) Error() string {
	return fmt.Sprintf("metrics fetch failed permanently: status %d", e.StatusCode)
}

// Fetcher retrieves computed metrics from an analysis server.
type Fetcher struct {
	client      *http.Client
	rateLimiter *common.RateLimiter
}

// New builds a Fetcher. rps/burst bound the outbound request rate against
// any single analysis server.
func New(rps float64, burst int) *Fetcher {
	return &Fetcher{
		client:      &http.Client{Timeout: 30 * time.Second},
		rateLimiter: common.NewRateLimiter(rps, burst),
	}
}

// Fetch retrieves metricKeys for componentKey from serverURL, chunking the
// request and retrying transient failures (5xx, 404-before-deadline,
// network errors) with exponential backoff for up to deadline.
func (f *Fetcher) Fetch(ctx context.Context, serverURL, token, componentKey string, metricKeys []string, deadline time.Duration) (map[string]string, error) {
	results := make(map[string]string, len(metricKeys))

	for i := 0; i < len(metricKeys); i += chunkSize {
		end := i + chunkSize
		if end > len(metricKeys) {
			end = len(metricKeys)
		}
		chunk, err := f.fetchChunk(ctx, serverURL, token, componentKey, metricKeys[i:end], deadline)
		if err != nil {
			return nil, err
		}
		for k, v := range chunk {
			results[k] = v
		}
	}
	return results, nil
}

func (f *Fetcher) fetchChunk(ctx context.Context, serverURL, token, componentKey string, keys []string, deadline time.Duration) (map[string]string, error) {
	var out map[string]string

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = deadline
	expBackoff.InitialInterval = 2 * time.Second

	operation := func() error {
		if err := f.rateLimiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		reqURL := serverURL + "/api/measures/component?" + url.Values{
			"component":  {componentKey},
			"metricKeys": {strings.Join(keys, ",")},
		}.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("building request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("requesting metrics: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var parsed measuresResponse
			if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
				return backoff.Permanent(fmt.Errorf("decoding metrics response: %w", err))
			}
			out = make(map[string]string, len(parsed.Component.Measures))
			for _, m := range parsed.Component.Measures {
				out[m.Metric] = m.Value
			}
			return nil
		case resp.StatusCode == http.StatusNotFound:
			// Analysis may not have finished indexing yet; retry until deadline.
			return fmt.Errorf("component %s not yet available (404)", componentKey)
		case resp.StatusCode >= 500:
			return fmt.Errorf("analysis server error: %d", resp.StatusCode)
		default:
			return backoff.Permanent(&PermanentError{StatusCode: resp.StatusCode})
		}
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, err
	}
	return out, nil
}
