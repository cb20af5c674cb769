// Package export implements the price exporter operations: the full catalog
// export, the targeted export by offer identifiers, the campaign listing and
// the connectivity check.
//
// Every operation that writes runs the same way: optionally take the sheet
// lock, prepare the sheet, stream rows into it from row 2 downward, write the
// summary cells and flush the sink. Errors abort the run without rollback;
// rows written before the failure stay in place.
package export

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/market-price-exporter/pkg/client"
	"github.com/Sternrassler/market-price-exporter/pkg/logging"
	"github.com/Sternrassler/market-price-exporter/pkg/market"
	"github.com/Sternrassler/market-price-exporter/pkg/pagination"
	"github.com/Sternrassler/market-price-exporter/pkg/sink"
)

// Prometheus metrics for export runs.
var (
	exportRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "export_runs_total",
		Help: "Total export runs by operation and outcome",
	}, []string{"operation", "outcome"})

	exportPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "export_pages_total",
		Help: "Total pages or batches processed by operation",
	}, []string{"operation"})

	exportRowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "export_rows_written_total",
		Help: "Total data rows written by sheet",
	}, []string{"sheet"})

	exportSoftStops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "export_soft_stops_total",
		Help: "Total responses without an offers list by operation",
	}, []string{"operation"})
)

// Operation names used in logs, metrics and reports.
const (
	OpExportAll      = "export_all"
	OpExportSpecific = "export_specific"
	OpCampaigns      = "campaigns"
	OpCheck          = "check"
)

// Header colors of the sheets.
const (
	PriceHeaderColor    = "#e8f5e8"
	CampaignHeaderColor = "#e1f5fe"
)

// API is the subset of the partner API client used by the exporter.
type API interface {
	OfferPrices(ctx context.Context, token pagination.PageToken, limit int) (*market.OfferPricesResponse, error)
	OfferPricesByIDs(ctx context.Context, offerIDs []string) (*market.OfferPricesResponse, error)
	Campaigns(ctx context.Context) (*market.CampaignsResponse, error)
	Ping(ctx context.Context) (*client.ConnectionStatus, error)
}

// Locker serializes runs writing the same sheet. Acquire returns a release
// function, or an error when the sheet is busy.
type Locker interface {
	Acquire(ctx context.Context, name string) (func(context.Context) error, error)
}

// DefaultTimezone renders timestamps unless Options.Location is set.
const DefaultTimezone = "Europe/Moscow"

// NoPause disables a pause. A zero pause in Options means the default.
const NoPause time.Duration = -1

// Options configures the exporter.
type Options struct {
	// PageLimit is the listing page size.
	PageLimit int

	// BatchSize is the number of identifiers per lookup call.
	BatchSize int

	// PagePause is the delay between listing pages (NoPause to disable).
	PagePause time.Duration

	// BatchPause is the delay between lookup batches (NoPause to disable).
	BatchPause time.Duration

	// Location renders timestamps (default: DefaultTimezone).
	Location *time.Location

	// Sheet names.
	PriceSheet    string
	SpecificSheet string
	CampaignSheet string

	// SourceSheet holds identifiers in column A for a targeted export
	// started without identifiers. Empty disables the lookup.
	SourceSheet string
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		PageLimit:     client.DefaultPageLimit,
		BatchSize:     500,
		PagePause:     100 * time.Millisecond,
		BatchPause:    200 * time.Millisecond,
		Location:      defaultLocation(),
		PriceSheet:    "Offer Prices",
		SpecificSheet: "Specific Prices",
		CampaignSheet: "Campaigns",
	}
}

func defaultLocation() *time.Location {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Exporter runs export operations against one API and one sink.
type Exporter struct {
	api    API
	sink   sink.Sink
	opts   Options
	pauser pagination.Pauser
	locker Locker
	now    func() time.Time
	logger zerolog.Logger
}

// Option customizes an Exporter.
type Option func(*Exporter)

// WithPauser replaces the pause between requests (default: pagination.Sleep).
func WithPauser(p pagination.Pauser) Option {
	return func(e *Exporter) { e.pauser = p }
}

// WithLocker guards every writing run with l.
func WithLocker(l Locker) Option {
	return func(e *Exporter) { e.locker = l }
}

// WithClock replaces the clock used for summary timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

// New creates an Exporter. Zero-valued options fall back to DefaultOptions.
func New(api API, s sink.Sink, opts Options, options ...Option) *Exporter {
	def := DefaultOptions()
	if opts.PageLimit <= 0 {
		opts.PageLimit = def.PageLimit
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.PagePause == 0 {
		opts.PagePause = def.PagePause
	}
	if opts.BatchPause == 0 {
		opts.BatchPause = def.BatchPause
	}
	if opts.Location == nil {
		opts.Location = def.Location
	}
	if opts.PriceSheet == "" {
		opts.PriceSheet = def.PriceSheet
	}
	if opts.SpecificSheet == "" {
		opts.SpecificSheet = def.SpecificSheet
	}
	if opts.CampaignSheet == "" {
		opts.CampaignSheet = def.CampaignSheet
	}

	e := &Exporter{
		api:    api,
		sink:   s,
		opts:   opts,
		pauser: pagination.Sleep,
		now:    time.Now,
		logger: logging.NewLogger("exporter"),
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Options returns the effective options.
func (e *Exporter) Options() Options {
	return e.opts
}

func priceLayout(name string) sink.Layout {
	return sink.Layout{Name: name, Header: market.PriceHeader, HeaderColor: PriceHeaderColor}
}

func campaignLayout(name string) sink.Layout {
	return sink.Layout{Name: name, Header: market.CampaignHeader, HeaderColor: CampaignHeaderColor}
}

// runFunc is the body of one writing run.
type runFunc func(ctx context.Context, logger zerolog.Logger, report *Report) error

// run wraps a writing operation with locking, logging, flushing and metrics.
// The report is returned even on failure and carries the partial counts.
func (e *Exporter) run(ctx context.Context, op, sheet string, fn runFunc) (*Report, error) {
	logger, runID := logging.WithRun(e.logger, op, sheet)
	report := &Report{Operation: op, Sheet: sheet, RunID: runID}

	if e.locker != nil {
		release, err := e.locker.Acquire(ctx, sheet)
		if err != nil {
			exportRunsTotal.WithLabelValues(op, "locked").Inc()
			logger.Warn().Err(err).Msg("Sheet is busy")
			return report, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn().Err(err).Msg("Failed to release sheet lock")
			}
		}()
	}

	start := time.Now()
	logger.Info().Msg("Export started")

	err := fn(ctx, logger, report)
	if ferr := e.sink.Flush(context.WithoutCancel(ctx)); ferr != nil && err == nil {
		err = fmt.Errorf("flush sink: %w", ferr)
	}

	if err != nil {
		exportRunsTotal.WithLabelValues(op, "error").Inc()
		logger.Error().
			Err(err).
			Int("processed", report.Processed).
			Dur("duration", time.Since(start)).
			Msg("Export failed")
		return report, err
	}

	exportRunsTotal.WithLabelValues(op, "success").Inc()
	logger.Info().
		Int("processed", report.Processed).
		Int("pages", report.Pages).
		Int("soft_stops", report.SoftStops).
		Dur("duration", time.Since(start)).
		Msg("Export complete")
	return report, nil
}

// rowCursor appends row blocks to a sheet from row 2 downward.
type rowCursor struct {
	sink  sink.Sink
	sheet string
	next  int
}

func newRowCursor(s sink.Sink, sheet string) *rowCursor {
	return &rowCursor{sink: s, sheet: sheet, next: 2}
}

func (c *rowCursor) append(ctx context.Context, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	if err := c.sink.WriteRows(ctx, c.sheet, c.next, rows); err != nil {
		return err
	}
	c.next += len(rows)
	exportRowsWritten.WithLabelValues(c.sheet).Add(float64(len(rows)))
	return nil
}

// writeSummary fills I1:J2 with the update time and the row count.
func (e *Exporter) writeSummary(ctx context.Context, report *Report, countLabel string) error {
	report.UpdatedAt = e.now().In(e.opts.Location)

	cells := []struct {
		ref   string
		value any
	}{
		{"I1", "Updated:"},
		{"J1", report.UpdatedAt.Format(market.UpdatedAtLayout)},
		{"I2", countLabel},
		{"J2", report.Processed},
	}
	for _, c := range cells {
		if err := e.sink.WriteCell(ctx, report.Sheet, c.ref, c.value); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return nil
}

func (r *Report) record(op string, stats pagination.Stats) {
	r.Pages += stats.Pages
	r.SoftStops += stats.SoftStops
	exportPagesTotal.WithLabelValues(op).Add(float64(stats.Pages))
	if stats.SoftStops > 0 {
		exportSoftStops.WithLabelValues(op).Add(float64(stats.SoftStops))
	}
}
