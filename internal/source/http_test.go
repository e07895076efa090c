package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wethinkt/go-timegrid/internal/api"
	"github.com/wethinkt/go-timegrid/internal/timeline"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newClient(t *testing.T, h http.Handler) *HTTP {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewHTTP(HTTPConfig{BaseURL: srv.URL, Token: "secret", Rate: -1})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestHTTPListBuckets(t *testing.T) {
	var gotAuth, gotQuery string
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/buckets" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		writeJSON(w, http.StatusOK, api.BucketsResponse{
			Buckets: []timeline.Bucket{{Key: "2024-03-02T00:00:00Z", Count: 4}, {Key: "2024-03-01", Count: 1}},
			Order:   "desc",
			Total:   5,
		})
	}))

	buckets, err := c.ListBuckets(context.Background(), timeline.Filter{Album: "trip"})
	if err != nil {
		t.Fatal(err)
	}
	if len(buckets) != 2 || buckets[0].Key != "2024-03-02" {
		t.Errorf("buckets = %v", buckets)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotQuery != "album=trip" {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestHTTPFetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: api.CodeFetchFailed, Message: "disk on fire"})
			},
			want: timeline.ErrFetchFailed,
		},
		{
			name: "cancelled upstream",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, 499, api.ErrorResponse{Error: api.CodeFetchFailed, Message: "context canceled"})
			},
			want: timeline.ErrFetchCancelled,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("{not json"))
			},
			want: timeline.ErrMalformedResponse,
		},
		{
			name: "wrong bucket",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, api.ItemsResponse{Key: "1999-01-01", Items: []timeline.Item{}})
			},
			want: timeline.ErrMalformedResponse,
		},
		{
			name: "missing items",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]string{"key": "2024-03-01"})
			},
			want: timeline.ErrMalformedResponse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, tt.handler)
			_, err := c.FetchBucketItems(context.Background(), "2024-03-01", timeline.Filter{})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHTTPFetchCancelled(t *testing.T) {
	release := make(chan struct{})
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	_, err := c.FetchBucketItems(ctx, "2024-03-01", timeline.Filter{})
	if !errors.Is(err, timeline.ErrFetchCancelled) {
		t.Errorf("err = %v, want ErrFetchCancelled", err)
	}
}

func TestHTTPFetchCancelledCallerLeavesOthers(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		writeJSON(w, http.StatusOK, api.ItemsResponse{
			Key:   "2024-03-01",
			Items: []timeline.Item{{ID: "x", TakenAt: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}},
		})
	}))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.FetchBucketItems(ctx, "2024-03-01", timeline.Filter{})
		first <- err
	}()
	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	second := make(chan []timeline.Item, 1)
	go func() {
		items, err := c.FetchBucketItems(context.Background(), "2024-03-01", timeline.Filter{})
		if err != nil {
			t.Errorf("second caller: %v", err)
		}
		second <- items
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-first; !errors.Is(err, timeline.ErrFetchCancelled) {
		t.Errorf("first caller err = %v, want ErrFetchCancelled", err)
	}
	close(release)

	select {
	case items := <-second:
		if len(items) != 1 || items[0].ID != "x" {
			t.Errorf("second caller items = %v", items)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("second caller never returned")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d requests, want 1", n)
	}
}

func TestHTTPFetchSharesConcurrentRequests(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		key := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/buckets/"), "/items")
		writeJSON(w, http.StatusOK, api.ItemsResponse{
			Key:   timeline.BucketKey(key),
			Items: []timeline.Item{{ID: "x", TakenAt: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}},
		})
	}))

	var wg sync.WaitGroup
	results := make([][]timeline.Item, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := c.FetchBucketItems(context.Background(), "2024-03-01", timeline.Filter{})
			if err != nil {
				t.Errorf("fetch %d: %v", i, err)
			}
			results[i] = items
		}()
	}
	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d requests, want 1", n)
	}
	for i, items := range results {
		if len(items) != 1 || items[0].ID != "x" {
			t.Errorf("result %d = %v", i, items)
		}
	}
	results[0][0].ID = "mutated"
	if results[1][0].ID != "x" {
		t.Error("shared results must not alias")
	}
}

func TestNewHTTPRejectsBadURL(t *testing.T) {
	if _, err := NewHTTP(HTTPConfig{BaseURL: "ftp://example.com"}); err == nil {
		t.Error("expected error for ftp scheme")
	}
}

func TestEventsURL(t *testing.T) {
	c, err := NewHTTP(HTTPConfig{BaseURL: "https://grid.example.com/base/"})
	if err != nil {
		t.Fatal(err)
	}
	if got := c.EventsURL(); got != "wss://grid.example.com/base/api/v1/events" {
		t.Errorf("EventsURL = %q", got)
	}
}
