package export

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/market-price-exporter/pkg/client"
	"github.com/Sternrassler/market-price-exporter/pkg/logging"
	"github.com/Sternrassler/market-price-exporter/pkg/market"
)

// ListCampaigns writes the campaigns visible to the credential to the
// campaign sheet. The sheet is only touched after the API call succeeds.
func (e *Exporter) ListCampaigns(ctx context.Context) (*Report, error) {
	return e.run(ctx, OpCampaigns, e.opts.CampaignSheet, func(ctx context.Context, logger zerolog.Logger, report *Report) error {
		resp, err := e.api.Campaigns(ctx)
		if err != nil {
			return err
		}

		if err := e.sink.Prepare(ctx, campaignLayout(report.Sheet)); err != nil {
			return fmt.Errorf("prepare sheet: %w", err)
		}

		if len(resp.Campaigns) == 0 {
			report.Notice = NoticeNoCampaigns
			logger.Warn().Msg("No campaigns visible to the credential")
			return nil
		}

		rows := make([][]any, 0, len(resp.Campaigns))
		for _, c := range resp.Campaigns {
			rows = append(rows, market.CampaignRow(c))
		}
		if err := newRowCursor(e.sink, report.Sheet).append(ctx, rows); err != nil {
			return err
		}
		report.Processed = len(rows)
		report.Pages = 1
		report.UpdatedAt = e.now().In(e.opts.Location)

		return e.sink.AutoResize(ctx, report.Sheet, len(market.CampaignHeader))
	})
}

// CheckConnection verifies that the partner API accepts the credential. A
// rejected credential is reported in Report.Connection, not as an error.
func (e *Exporter) CheckConnection(ctx context.Context) (*Report, error) {
	logger, runID := logging.WithRun(e.logger, OpCheck, "")
	start := time.Now()

	status, err := e.api.Ping(ctx)
	if err != nil {
		exportRunsTotal.WithLabelValues(OpCheck, "error").Inc()
		logger.Error().Err(err).Msg("Connectivity check failed")
		return nil, err
	}

	outcome := "success"
	if !status.OK {
		outcome = "rejected"
	}
	exportRunsTotal.WithLabelValues(OpCheck, outcome).Inc()
	logger.Info().
		Bool("ok", status.OK).
		Int("status", status.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Connectivity check complete")

	return &Report{
		Operation:  OpCheck,
		RunID:      runID,
		Connection: status,
		UpdatedAt:  e.now().In(e.opts.Location),
	}, nil
}

var _ API = (*client.Client)(nil)
