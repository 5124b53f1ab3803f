package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ratekeeper/internal/domain"
)

// maxFeedBody caps how much of a feed response is read.
const maxFeedBody = 8 << 20

// FeedClient performs GET requests against rate and gas feeds and decodes
// their JSON bodies. It implements domain.FeedFetcher.
type FeedClient struct {
	httpClient *http.Client
	userAgent  string
}

// NewFeedClient creates a client with the given request timeout.
func NewFeedClient(timeout time.Duration) *FeedClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FeedClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		userAgent: DefaultUserAgent,
	}
}

// FetchJSON issues a single GET. There is no retry here; the caller's next
// scheduled tick is the retry.
func (c *FeedClient) FetchJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.NewFatalNetworkError("build request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError("GET "+url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return domain.NewNetworkError("GET "+url, fmt.Errorf("%w: %d", domain.ErrUnexpectedStatus, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBody))
	if err != nil {
		return domain.NewNetworkError("read "+url, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %w: %v", url, domain.ErrDecode, err)
	}
	return nil
}
