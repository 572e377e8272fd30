package rulecache

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/you/gnasty-alerts/internal/core"
)

// HTTPFetcher loads channel configs from the configuration service over HTTP.
// The service answers GET <base>?channel=<name> with a ChannelAlertConfig
// JSON document.
type HTTPFetcher struct {
	baseURL string
	http    *http.Client
}

func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: strings.TrimSpace(baseURL),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, channel string) (*core.ChannelAlertConfig, error) {
	if f.baseURL == "" {
		return nil, errors.New("config service url not configured")
	}

	u, err := url.Parse(f.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse config url")
	}
	q := u.Query()
	q.Set("channel", channel)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create config request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "config request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read config response")
	}
	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("config status %s: %s", resp.Status, snippet(body))
	}

	var cfg core.ChannelAlertConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if cfg.Meta.Channel == "" {
		cfg.Meta.Channel = channel
	}
	return &cfg, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
