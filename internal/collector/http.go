package collector

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	maxResponseBytes = 10 << 20 // 10 MiB safety cap
	requestTimeout   = 30 * time.Second
	userAgent        = "shrike-collector/1.0"
)

func newHTTPClient(jar http.CookieJar) *http.Client {
	return &http.Client{
		Timeout: requestTimeout,
		Jar:     jar,
	}
}

// readLimited drains the response body under the global size cap and fails
// on non-2xx statuses with a short body excerpt for diagnostics.
func readLimited(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	limited := io.LimitReader(resp.Body, maxResponseBytes)
	content, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return content, nil
}

// parseSourceDate accepts the date spellings the sources are known to emit.
// The detection date always comes from source data, never from the clock.
func parseSourceDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	layouts := []string{
		"2006-01-02",
		"2006.01.02",
		"20060102",
		"2006-01-02 15:04:05",
		time.RFC3339,
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}
