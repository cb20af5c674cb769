package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// PageToken is an opaque continuation cursor issued by the remote service.
// It is never parsed or built locally, only carried from one response to the
// next request. The zero value means "no more pages".
type PageToken struct {
	value string
}

// TokenOf wraps a token as decoded from a response. Nil and empty strings
// both yield the absent token.
func TokenOf(raw *string) PageToken {
	if raw == nil {
		return PageToken{}
	}
	return PageToken{value: *raw}
}

// NewToken wraps a raw token string.
func NewToken(raw string) PageToken {
	return PageToken{value: raw}
}

// Present reports whether the token points at another page.
func (t PageToken) Present() bool {
	return t.value != ""
}

// String returns the raw token value.
func (t PageToken) String() string {
	return t.value
}

// Pauser suspends the loop between two consecutive requests.
type Pauser interface {
	Pause(ctx context.Context, d time.Duration) error
}

// PauseFunc adapts a function to the Pauser interface.
type PauseFunc func(ctx context.Context, d time.Duration) error

// Pause calls f.
func (f PauseFunc) Pause(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// Sleep is the default Pauser: a timer that gives up early if ctx is done.
var Sleep Pauser = PauseFunc(func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
})

// Config holds loop configuration.
type Config struct {
	// Pause is the fixed delay between two consecutive requests.
	Pause time.Duration

	// Pauser performs the delay (default: Sleep).
	Pauser Pauser
}

func (c Config) pauser() Pauser {
	if c.Pauser == nil {
		return Sleep
	}
	return c.Pauser
}

// Page is one decoded response of a paged or batched call.
type Page[T any] struct {
	Items []T
	Next  PageToken

	// Malformed marks a response that lacked the expected result shape.
	Malformed bool
}

// Stats summarises a finished loop.
type Stats struct {
	// Pages counts responses whose items were handed to visit.
	Pages int

	// Items counts items handed to visit.
	Items int

	// SoftStops counts malformed responses. Walk stops at the first one,
	// WalkBatches skips the batch and moves on.
	SoftStops int
}

// FetchPageFunc fetches the page addressed by token (absent token = first page).
type FetchPageFunc[T any] func(ctx context.Context, token PageToken) (Page[T], error)

// VisitFunc consumes the items of one page or batch.
type VisitFunc[T any] func(ctx context.Context, items []T) error

// Walk follows continuation tokens until the listing is exhausted.
//
// Each page is fetched, handed to visit, and when it carries a next token the
// loop pauses once before requesting it. A malformed page ends the walk
// without error; everything visited before it stays visited.
func Walk[T any](ctx context.Context, cfg Config, fetch FetchPageFunc[T], visit VisitFunc[T]) (Stats, error) {
	var stats Stats
	start := time.Now()
	token := PageToken{}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		page, err := fetch(ctx, token)
		if err != nil {
			return stats, fmt.Errorf("fetch page %d: %w", stats.Pages+1, err)
		}

		if page.Malformed {
			stats.SoftStops++
			log.Warn().
				Int("page", stats.Pages+1).
				Int("items", stats.Items).
				Msg("Unexpected response shape - stopping with partial results")
			return stats, nil
		}

		if err := visit(ctx, page.Items); err != nil {
			return stats, err
		}
		stats.Pages++
		stats.Items += len(page.Items)

		log.Debug().
			Int("page", stats.Pages).
			Int("items", len(page.Items)).
			Int("total", stats.Items).
			Bool("has_next", page.Next.Present()).
			Msg("Page processed")

		if !page.Next.Present() {
			break
		}

		if err := cfg.pauser().Pause(ctx, cfg.Pause); err != nil {
			return stats, err
		}
		token = page.Next
	}

	log.Debug().
		Int("pages", stats.Pages).
		Int("items", stats.Items).
		Dur("duration", time.Since(start)).
		Msg("Walk complete")

	return stats, nil
}

// Batches splits items into consecutive chunks of at most size elements,
// preserving order. A non-positive size yields a single chunk.
func Batches[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(items)
	}

	batches := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}
	return batches
}

// FetchBatchFunc fetches the results for one batch of keys.
type FetchBatchFunc[K, T any] func(ctx context.Context, batch []K) (Page[T], error)

// WalkBatches fetches keys in chunks of size, one request per chunk, pausing
// between chunks but not after the last one. Malformed responses are skipped.
func WalkBatches[K, T any](ctx context.Context, cfg Config, keys []K, size int, fetch FetchBatchFunc[K, T], visit VisitFunc[T]) (Stats, error) {
	var stats Stats
	batches := Batches(keys, size)

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		page, err := fetch(ctx, batch)
		if err != nil {
			return stats, fmt.Errorf("fetch batch %d/%d: %w", i+1, len(batches), err)
		}

		if page.Malformed {
			stats.SoftStops++
			log.Warn().
				Int("batch", i+1).
				Int("size", len(batch)).
				Msg("Unexpected response shape - skipping batch")
		} else {
			if err := visit(ctx, page.Items); err != nil {
				return stats, err
			}
			stats.Pages++
			stats.Items += len(page.Items)

			log.Debug().
				Int("batch", i+1).
				Int("requested", len(batch)).
				Int("found", len(page.Items)).
				Msg("Batch processed")
		}

		if i < len(batches)-1 {
			if err := cfg.pauser().Pause(ctx, cfg.Pause); err != nil {
				return stats, err
			}
		}
	}

	return stats, nil
}
