package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/wethinkt/go-timegrid/internal/api"
	"github.com/wethinkt/go-timegrid/internal/timeline"
	"github.com/wethinkt/go-timegrid/internal/tuilog"
)

// DefaultRate bounds requests per second to a remote server.
const DefaultRate = 50

// statusClientClosed is what timegrid serve answers when a fetch is
// cancelled under it.
const statusClientClosed = 499

// HTTPConfig configures an HTTP source.
type HTTPConfig struct {
	BaseURL string
	Token   string
	// Rate is the request rate limit per second; zero means DefaultRate,
	// negative disables limiting.
	Rate    float64
	Burst   int
	Timeout time.Duration
}

// HTTP reads buckets from a remote timegrid server. Concurrent fetches of
// the same bucket and filter share one request, which runs detached from
// the callers' contexts: a caller giving up returns at once without
// failing the others. The client timeout still bounds it.
type HTTP struct {
	base    *url.URL
	token   string
	client  *http.Client
	limiter *rate.Limiter
	group   singleflight.Group
	log     *tuilog.Logger
}

// NewHTTP returns a client for the server at cfg.BaseURL.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server url scheme %q", base.Scheme)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	switch {
	case cfg.Rate == 0:
		limit = rate.Limit(DefaultRate)
	case cfg.Rate > 0:
		limit = rate.Limit(cfg.Rate)
	}
	return &HTTP{
		base:    base,
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, max(cfg.Burst, 1)),
		log:     tuilog.Log.With("http-source"),
	}, nil
}

// BaseURL returns the server URL.
func (h *HTTP) BaseURL() string { return h.base.String() }

// ListBuckets fetches the bucket listing.
func (h *HTTP) ListBuckets(ctx context.Context, f timeline.Filter) ([]timeline.Bucket, error) {
	var resp api.BucketsResponse
	if err := h.get(ctx, "/buckets", f.Values(), &resp); err != nil {
		return nil, fmt.Errorf("listing buckets: %w", err)
	}
	if resp.Buckets == nil {
		return nil, fmt.Errorf("listing buckets: %w: missing buckets", timeline.ErrMalformedResponse)
	}
	for i, b := range resp.Buckets {
		key := timeline.NormalizeKey(string(b.Key))
		if !key.Valid() || b.Count < 0 {
			return nil, fmt.Errorf("listing buckets: %w: bad bucket %q", timeline.ErrMalformedResponse, b.Key)
		}
		resp.Buckets[i].Key = key
	}
	return resp.Buckets, nil
}

// FetchBucketItems fetches the items of one bucket.
func (h *HTTP) FetchBucketItems(ctx context.Context, key timeline.BucketKey, f timeline.Filter) ([]timeline.Item, error) {
	key = timeline.NormalizeKey(string(key))
	flight := string(key) + "?" + f.Key()

	shared := context.WithoutCancel(ctx)
	ch := h.group.DoChan(flight, func() (any, error) {
		var resp api.ItemsResponse
		if err := h.get(shared, "/buckets/"+string(key)+"/items", f.Values(), &resp); err != nil {
			return nil, err
		}
		if timeline.NormalizeKey(string(resp.Key)) != key {
			return nil, fmt.Errorf("%w: asked for %s, got %s", timeline.ErrMalformedResponse, key, resp.Key)
		}
		if resp.Items == nil {
			return nil, fmt.Errorf("%w: missing items", timeline.ErrMalformedResponse)
		}
		return resp.Items, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("bucket %s: %w", key, timeline.ErrFetchCancelled)
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, timeline.ErrFetchCancelled) {
				h.group.Forget(flight)
			}
			return nil, fmt.Errorf("bucket %s: %w", key, res.Err)
		}
		items := res.Val.([]timeline.Item)
		if res.Shared {
			items = append([]timeline.Item(nil), items...)
		}
		return items, nil
	}
}

// Info fetches the server description.
func (h *HTTP) Info(ctx context.Context) (api.InfoResponse, error) {
	var resp api.InfoResponse
	err := h.get(ctx, "/info", nil, &resp)
	return resp, err
}

// EventsURL returns the websocket URL of the server's event stream.
func (h *HTTP) EventsURL() string {
	u := *h.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + api.BasePath + "/events"
	return u.String()
}

// Token returns the bearer token sent with requests.
func (h *HTTP) Token() string { return h.token }

func (h *HTTP) get(ctx context.Context, path string, query url.Values, out any) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", timeline.ErrFetchCancelled, err)
	}

	u := *h.base
	u.Path = strings.TrimRight(u.Path, "/") + api.BasePath + path
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", timeline.ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", timeline.ErrFetchCancelled, err)
		}
		return fmt.Errorf("%w: %v", timeline.ErrFetchFailed, err)
	}
	defer resp.Body.Close()
	h.log.Debug("GET", "path", path, "status", resp.StatusCode, "took", time.Since(start))

	if resp.StatusCode == statusClientClosed {
		return fmt.Errorf("%w: server saw the request cancelled", timeline.ErrFetchCancelled)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%w: %s: %s (%s)", timeline.ErrFetchFailed, resp.Status, apiErr.Error, apiErr.Message)
		}
		return fmt.Errorf("%w: %s", timeline.ErrFetchFailed, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", timeline.ErrFetchCancelled, err)
		}
		return fmt.Errorf("%w: %v", timeline.ErrMalformedResponse, err)
	}
	return nil
}
