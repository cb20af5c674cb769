// Package pagination drives the sequential fetch loops of the price exporter.
//
// The partner API pages its listings with an opaque continuation token: every
// response may carry a nextPageToken which must be sent back verbatim to get
// the following page, and an absent token means the listing is exhausted.
// Lookups by explicit identifiers are not paged at all; the caller splits the
// identifier list into fixed-size batches instead.
//
// Example usage:
//
//	cfg := pagination.Config{Pause: 100 * time.Millisecond}
//	stats, err := pagination.Walk(ctx, cfg, fetchPage, func(ctx context.Context, offers []market.Offer) error {
//		return writeBlock(ctx, offers)
//	})
//
// Walk and WalkBatches:
//   - Run strictly one request at a time
//   - Pause for a fixed duration between requests, never after the last one
//   - Forward continuation tokens untouched
//   - Treat a malformed page as a soft stop (Walk) or a skipped batch (WalkBatches)
//   - Stop on the first fetch or visit error, keeping whatever was already visited
package pagination
