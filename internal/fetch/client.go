// Package fetch provides the HTTP clients for the off-chain collaborators:
// the price oracle, the vault yield sheet and the swap router.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// Options configures one collaborator client
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// newRetryClient creates a new HTTP client with retry capabilities
func newRetryClient(timeout time.Duration) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	if timeout > 0 {
		c.HTTPClient.Timeout = timeout
	}
	c.Logger = nil
	return c
}

// StandardClient converts a retryablehttp.Client to a standard http.Client
func StandardClient(retryClient *retryablehttp.Client) *http.Client {
	return retryClient.StandardClient()
}

// getJSON performs req and decodes a 200 response into out
func getJSON(ctx context.Context, client *http.Client, req *http.Request, source string, out interface{}) error {
	logrus.Debugf("Fetching %s: %s", source, req.URL.Redacted())
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error fetching data from %s: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s API error: status %d, body: %s", source, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding %s response: %w", source, err)
	}
	return nil
}
