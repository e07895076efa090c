package source

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/wethinkt/go-timegrid/internal/api"
	"github.com/wethinkt/go-timegrid/internal/tuilog"
)

const (
	maxReconnectDelay  = 30 * time.Second
	baseReconnectDelay = 1 * time.Second
)

// WatchEvents connects to a server's event socket and delivers library
// change events until ctx ends. It reconnects with exponential backoff.
func WatchEvents(ctx context.Context, wsURL, token string) <-chan api.Event {
	ch := make(chan api.Event, 16)
	go watchLoop(ctx, wsURL, token, ch)
	return ch
}

func watchLoop(ctx context.Context, wsURL, token string, ch chan<- api.Event) {
	defer close(ch)
	log := tuilog.Log.With("events")

	fails := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := watchOnce(ctx, wsURL, token, ch, func() { fails = 0 })
		if ctx.Err() != nil {
			return
		}
		fails++
		log.Warn("event stream disconnected", "error", err, "failures", fails)

		delay := time.Duration(float64(baseReconnectDelay) * math.Pow(2, float64(min(fails-1, 5))))
		delay = min(delay, maxReconnectDelay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func watchOnce(ctx context.Context, wsURL, token string, ch chan<- api.Event, connected func()) error {
	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return err
	}
	defer conn.CloseNow()
	connected()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var ev api.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			tuilog.Log.Debug("bad event frame", "error", err)
			continue
		}
		select {
		case ch <- ev:
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client closing")
			return ctx.Err()
		}
	}
}
