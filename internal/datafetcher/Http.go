package datafetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// getWithRetries performs a GET with a bounded retry budget and linear
// backoff, returning the body of the first 200 response.
func getWithRetries(ctx context.Context, client *http.Client, url string, log zerolog.Logger) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= MAX_RETRIES; attempt++ {
		log.Debug().
			Str("url", url).
			Int("attempt", attempt).
			Int("maxRetries", MAX_RETRIES).
			Msg("Making API request")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("HTTP request failed on attempt %d: %w", attempt, err)
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()

			switch {
			case readErr != nil:
				lastErr = fmt.Errorf("failed to read response body: %w", readErr)
			case resp.StatusCode != http.StatusOK:
				lastErr = fmt.Errorf("API returned status %d", resp.StatusCode)
			case len(body) == 0:
				lastErr = fmt.Errorf("empty response body")
			default:
				return body, nil
			}
		}

		log.Warn().
			Err(lastErr).
			Str("url", url).
			Int("attempt", attempt).
			Msg("Request failed, will retry if attempts remain")

		if attempt < MAX_RETRIES {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", MAX_RETRIES, lastErr)
}
