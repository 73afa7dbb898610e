package scanner

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// HTTPExistenceChecker builds an ExistenceChecker backed by the analysis
// server's component-show endpoint: a 200 response means the component is
// already indexed, a 404 means it isn't, and anything else is treated as
// "unknown, proceed with submission" since a broken existence check
// shouldn't block a scan that would otherwise succeed.
func HTTPExistenceChecker(client *http.Client) ExistenceChecker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return func(ctx context.Context, componentKey, serverURL, token string) (bool, error) {
		reqURL := serverURL + "/api/components/show?" + url.Values{"component": {componentKey}}.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return false, err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := client.Do(req)
		if err != nil {
			return false, nil
		}
		defer resp.Body.Close()

		return resp.StatusCode == http.StatusOK, nil
	}
}
