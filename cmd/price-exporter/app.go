package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/Sternrassler/market-price-exporter/internal/config"
	"github.com/Sternrassler/market-price-exporter/pkg/client"
	"github.com/Sternrassler/market-price-exporter/pkg/export"
	"github.com/Sternrassler/market-price-exporter/pkg/guard"
	"github.com/Sternrassler/market-price-exporter/pkg/logging"
	"github.com/Sternrassler/market-price-exporter/pkg/sink"
)

// app holds the wired components of one process.
type app struct {
	cfg      *config.Config
	exporter *export.Exporter
	closers  []func() error
}

// newApp wires the client, and unless apiOnly, the sink and the optional
// Redis guard.
func newApp(ctx context.Context, cfg *config.Config, apiOnly bool) (*app, error) {
	if err := cfg.ValidateAPI(); err != nil {
		return nil, err
	}

	c, err := client.New(cfg.ClientConfig())
	if err != nil {
		return nil, fmt.Errorf("create API client: %w", err)
	}

	a := &app{cfg: cfg}
	if apiOnly {
		a.exporter = export.New(c, nil, cfg.ExportOptions())
		return a, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := a.openSink(ctx)
	if err != nil {
		return nil, err
	}

	var opts []export.Option
	if cfg.Redis.URL != "" {
		rdb, err := guard.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		opts = append(opts, export.WithLocker(newGuard(rdb, cfg)))
	}

	a.exporter = export.New(c, s, cfg.ExportOptions(), opts...)
	return a, nil
}

func newGuard(rdb *redis.Client, cfg *config.Config) *guard.Guard {
	return guard.New(rdb, cfg.Redis.LockTTL, logging.NewLogger("guard"))
}

func (a *app) openSink(ctx context.Context) (sink.Sink, error) {
	switch a.cfg.Sink.Kind {
	case config.SinkXLSX:
		x, err := sink.OpenXLSX(a.cfg.Sink.XLSXPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, x.Close)
		return x, nil

	default:
		opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
		if path := a.cfg.Sink.CredentialsFile; path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read sheets credentials: %w", err)
			}
			opts = append(opts, option.WithCredentialsJSON(data))
		}
		return sink.NewSheets(ctx, a.cfg.Sink.SpreadsheetID, opts...)
	}
}

// Close releases the sink and Redis connections.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
