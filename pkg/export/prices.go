package export

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/market-price-exporter/pkg/market"
	"github.com/Sternrassler/market-price-exporter/pkg/pagination"
)

// ExportAll writes every offer price of the campaign to the price sheet,
// following continuation tokens until the listing is exhausted.
//
// A page without an offers list ends the export early; the rows written so
// far are kept and the report counts the soft stop.
func (e *Exporter) ExportAll(ctx context.Context) (*Report, error) {
	return e.run(ctx, OpExportAll, e.opts.PriceSheet, func(ctx context.Context, logger zerolog.Logger, report *Report) error {
		if err := e.sink.Prepare(ctx, priceLayout(report.Sheet)); err != nil {
			return fmt.Errorf("prepare sheet: %w", err)
		}

		cursor := newRowCursor(e.sink, report.Sheet)

		fetch := func(ctx context.Context, token pagination.PageToken) (pagination.Page[market.Offer], error) {
			resp, err := e.api.OfferPrices(ctx, token, e.opts.PageLimit)
			if err != nil {
				return pagination.Page[market.Offer]{}, err
			}
			return resp.Page(), nil
		}

		visit := func(ctx context.Context, offers []market.Offer) error {
			if err := cursor.append(ctx, market.PriceRows(offers, market.PreferID, e.opts.Location)); err != nil {
				return err
			}
			report.Processed += len(offers)
			logger.Info().
				Int("offers", len(offers)).
				Int("total", report.Processed).
				Msg("Page exported")
			return nil
		}

		stats, err := pagination.Walk(ctx, pagination.Config{Pause: e.opts.PagePause, Pauser: e.pauser}, fetch, visit)
		report.record(OpExportAll, stats)
		if err != nil {
			return err
		}

		return e.writeSummary(ctx, report, "Total offers:")
	})
}

// ExportSpecific writes the prices of the given offer identifiers to the
// specific-prices sheet, in batches of Options.BatchSize.
//
// When ids is empty the identifiers are read from the configured source
// sheet. When there are still none, the report carries a notice and nothing
// is written.
func (e *Exporter) ExportSpecific(ctx context.Context, ids []string) (*Report, error) {
	if len(ids) == 0 && e.opts.SourceSheet != "" {
		return e.ExportSpecificFromSheet(ctx, e.opts.SourceSheet)
	}
	return e.exportSpecific(ctx, ids)
}

// ExportSpecificFromSheet reads identifiers from column A of sheet, starting
// at row 2 and skipping empty cells, then exports them like ExportSpecific.
func (e *Exporter) ExportSpecificFromSheet(ctx context.Context, sheet string) (*Report, error) {
	ids, err := e.sink.ReadColumn(ctx, sheet, "A", 2)
	if err != nil {
		exportRunsTotal.WithLabelValues(OpExportSpecific, "error").Inc()
		return nil, fmt.Errorf("read identifiers from %q: %w", sheet, err)
	}
	e.logger.Debug().Str("sheet", sheet).Int("ids", len(ids)).Msg("Loaded identifiers from sheet")
	return e.exportSpecific(ctx, ids)
}

func (e *Exporter) exportSpecific(ctx context.Context, ids []string) (*Report, error) {
	if len(ids) == 0 {
		exportRunsTotal.WithLabelValues(OpExportSpecific, "empty").Inc()
		e.logger.Info().Msg("No offer identifiers to export")
		return &Report{
			Operation: OpExportSpecific,
			Sheet:     e.opts.SpecificSheet,
			Notice:    NoticeNoOfferIDs,
		}, nil
	}

	return e.run(ctx, OpExportSpecific, e.opts.SpecificSheet, func(ctx context.Context, logger zerolog.Logger, report *Report) error {
		report.Requested = len(ids)

		if err := e.sink.Prepare(ctx, priceLayout(report.Sheet)); err != nil {
			return fmt.Errorf("prepare sheet: %w", err)
		}

		cursor := newRowCursor(e.sink, report.Sheet)

		fetch := func(ctx context.Context, batch []string) (pagination.Page[market.Offer], error) {
			resp, err := e.api.OfferPricesByIDs(ctx, batch)
			if err != nil {
				return pagination.Page[market.Offer]{}, err
			}
			return resp.Page(), nil
		}

		visit := func(ctx context.Context, offers []market.Offer) error {
			if err := cursor.append(ctx, market.PriceRows(offers, market.PreferOfferID, e.opts.Location)); err != nil {
				return err
			}
			report.Processed += len(offers)
			logger.Info().
				Int("offers", len(offers)).
				Int("total", report.Processed).
				Msg("Batch exported")
			return nil
		}

		stats, err := pagination.WalkBatches(ctx, pagination.Config{Pause: e.opts.BatchPause, Pauser: e.pauser}, ids, e.opts.BatchSize, fetch, visit)
		report.record(OpExportSpecific, stats)
		if err != nil {
			return err
		}

		return e.writeSummary(ctx, report, "Found offers:")
	})
}
