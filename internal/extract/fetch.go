package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/groundplane/groundplane/internal/domain"
)

const (
	fetchUserAgent = "Mozilla/5.0 (compatible; GroundplaneBot/1.0)"
	maxFetchBytes  = 10 << 20 // 10 MB
)

// Fetcher downloads web pages for url-kind sources.
type Fetcher struct {
	client *http.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves the page body. Non-2xx responses are hard failures.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", domain.NewExtractionError("invalid url: "+url, err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", domain.NewExtractionError("failed to fetch "+url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", domain.NewExtractionError(
			fmt.Sprintf("fetch %s returned status %d", url, resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", domain.NewExtractionError("failed to read response from "+url, err)
	}
	return string(body), nil
}
