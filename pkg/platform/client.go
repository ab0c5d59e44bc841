package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type HTTPClient struct {
	Client  *http.Client
	Retries int
	Timeout time.Duration
	Logger  zerolog.Logger
	// MaxBytes bounds the body read by GetBytes; zero means 64MB.
	MaxBytes int64
}

// ErrBodyTooLarge is returned when a download exceeds its byte limit.
var ErrBodyTooLarge = errors.New("body exceeds size limit")

// ReadLimited reads all of r, failing instead of truncating when r holds
// more than limit bytes.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	return b, nil
}

func NewHTTPClient(retries int, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		Client: &http.Client{
			Timeout: timeout,
		},
		Retries: retries,
		Timeout: timeout,
		Logger:  log.Logger,
	}
}

// GetBytes downloads url, retrying transport errors and 5xx responses
// with exponential backoff.
func (c *HTTPClient) GetBytes(ctx context.Context, url string) ([]byte, error) {
	limit := c.MaxBytes
	if limit <= 0 {
		limit = 64 << 20
	}

	var lastErr error
	for i := 0; i <= c.Retries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.Client.Do(req)
		if err == nil {
			body, readErr := ReadLimited(resp.Body, limit)
			resp.Body.Close()
			switch {
			case errors.Is(readErr, ErrBodyTooLarge):
				return nil, fmt.Errorf("failed to download %s: %w", url, readErr)
			case readErr != nil:
				lastErr = readErr
			case resp.StatusCode >= 500:
				lastErr = fmt.Errorf("server error: %s", resp.Status)
			case resp.StatusCode >= 400:
				// Client errors are not retried.
				return nil, fmt.Errorf("request failed: %s", resp.Status)
			default:
				return body, nil
			}
		} else {
			lastErr = err
		}

		if i < c.Retries {
			c.Logger.Warn().Str("url", url).Int("attempt", i+1).Err(lastErr).Msg("HTTP request failed, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<i) * 200 * time.Millisecond):
			}
		}
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", c.Retries, lastErr)
}
