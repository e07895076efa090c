package timeline

import (
	"context"
	"errors"
	"fmt"
)

// Source is the collaborator that owns the media library.
type Source interface {
	// ListBuckets returns every bucket matching filter, in display order,
	// with authoritative item counts.
	ListBuckets(ctx context.Context, filter Filter) ([]Bucket, error)
	// FetchBucketItems returns all items of one bucket. Cancellation of ctx
	// must surface as an error matching ErrFetchCancelled.
	FetchBucketItems(ctx context.Context, key BucketKey, filter Filter) ([]Item, error)
}

var (
	// ErrFetchCancelled reports a fetch aborted by its caller. It is
	// expected and never logged as a fault.
	ErrFetchCancelled = errors.New("fetch cancelled")
	// ErrFetchFailed reports a genuine fetch failure.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrMalformedResponse reports a response of unexpected shape. It is
	// handled like ErrFetchFailed.
	ErrMalformedResponse = errors.New("malformed response")
)

// ResidencyState is the in-memory state of a bucket.
type ResidencyState int

const (
	StateAbsent ResidencyState = iota
	StateLoading
	StateResident
	// StateError is reported in change events for a failed fetch. The
	// stored state of a failed bucket is StateAbsent so it can be retried.
	StateError
)

func (s ResidencyState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateLoading:
		return "loading"
	case StateResident:
		return "resident"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome discriminates a FetchResult.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeCancelled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "failed"
}

// FetchResult is the typed result of fetching one bucket. Items is only
// meaningful when Outcome is OutcomeOK; Err only otherwise.
type FetchResult struct {
	Outcome Outcome
	Items   []Item
	Err     error
}

// OK reports whether the fetch produced items.
func (r FetchResult) OK() bool { return r.Outcome == OutcomeOK }

// ResultOf converts a source call into a FetchResult. Context errors count
// as cancellation whether or not the source wrapped them.
func ResultOf(items []Item, err error) FetchResult {
	switch {
	case err == nil:
		return FetchResult{Outcome: OutcomeOK, Items: items}
	case errors.Is(err, ErrFetchCancelled),
		errors.Is(err, context.Canceled):
		return FetchResult{Outcome: OutcomeCancelled, Err: err}
	default:
		return FetchResult{Outcome: OutcomeFailed, Err: err}
	}
}

// ValidateItems checks a bucket response and tags every item with key.
// An item without an id, or one claiming a different bucket, rejects the
// whole response.
func ValidateItems(key BucketKey, items []Item) ([]Item, error) {
	if items == nil {
		return nil, fmt.Errorf("bucket %s: nil item list: %w", key, ErrMalformedResponse)
	}
	out := make([]Item, len(items))
	for i, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("bucket %s: item %d has no id: %w", key, i, ErrMalformedResponse)
		}
		if it.Bucket != "" && NormalizeKey(string(it.Bucket)) != key {
			return nil, fmt.Errorf("bucket %s: item %s belongs to %s: %w", key, it.ID, it.Bucket, ErrMalformedResponse)
		}
		it.Bucket = key
		out[i] = it
	}
	return out, nil
}
