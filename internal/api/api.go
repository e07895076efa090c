// Package api defines the JSON wire types of the timegrid HTTP API.
package api

import (
	"time"

	"github.com/wethinkt/go-timegrid/internal/timeline"
)

// BasePath is the prefix of every API route.
const BasePath = "/api/v1"

// BucketsResponse lists day buckets in display order.
type BucketsResponse struct {
	Buckets []timeline.Bucket `json:"buckets"`
	Order   string            `json:"order"`
	Total   int               `json:"total"`
}

// ItemsResponse carries the items of one bucket.
type ItemsResponse struct {
	Key   timeline.BucketKey `json:"key"`
	Items []timeline.Item    `json:"items"`
}

// InfoResponse describes a running server.
type InfoResponse struct {
	Version  string `json:"version"`
	Library  string `json:"library,omitempty"`
	Buckets  int    `json:"buckets"`
	Items    int    `json:"items"`
	Watching bool   `json:"watching"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// EventType names a library change pushed over the events socket.
type EventType string

const (
	// EventBucketsChanged means bucket counts changed and listings are stale.
	EventBucketsChanged EventType = "buckets_changed"
	// EventItemRemoved means an item left the library.
	EventItemRemoved EventType = "item_removed"
	// EventHello is sent once when a client connects.
	EventHello EventType = "hello"
)

// Event is one message on the events socket.
type Event struct {
	Type EventType            `json:"type"`
	Keys []timeline.BucketKey `json:"keys,omitempty"`
	ID   string               `json:"id,omitempty"`
	At   time.Time            `json:"at"`
}

// Error codes used in ErrorResponse.Error.
const (
	CodeInvalidKey   = "invalid_key"
	CodeNotFound     = "not_found"
	CodeListFailed   = "list_buckets_failed"
	CodeFetchFailed  = "fetch_items_failed"
	CodeUnauthorized = "unauthorized"
)
