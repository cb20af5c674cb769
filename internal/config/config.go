// Package config loads the exporter configuration from the environment, an
// optional .env file and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Sternrassler/market-price-exporter/pkg/client"
	"github.com/Sternrassler/market-price-exporter/pkg/export"
	"github.com/Sternrassler/market-price-exporter/pkg/logging"
)

// Sink kinds.
const (
	SinkSheets = "sheets"
	SinkXLSX   = "xlsx"
)

// Config is the complete exporter configuration. It is built once at start-up
// and passed explicitly.
type Config struct {
	Market Market `mapstructure:",squash"`
	Export Export `mapstructure:",squash"`
	Sink   Sink   `mapstructure:",squash"`
	Redis  Redis  `mapstructure:",squash"`
	Server Server `mapstructure:",squash"`
	Log    Log    `mapstructure:",squash"`
}

type Market struct {
	APIToken      string        `mapstructure:"market_api_token"`
	CampaignID    string        `mapstructure:"market_campaign_id"`
	UseAPIKey     bool          `mapstructure:"market_use_api_key"`
	OAuthClientID string        `mapstructure:"market_oauth_client_id"`
	BaseURL       string        `mapstructure:"market_base_url"`
	Timeout       time.Duration `mapstructure:"market_timeout"`
}

type Export struct {
	PageLimit  int           `mapstructure:"page_limit"`
	BatchSize  int           `mapstructure:"batch_size"`
	PagePause  time.Duration `mapstructure:"page_pause"`
	BatchPause time.Duration `mapstructure:"batch_pause"`
	Timezone   string        `mapstructure:"timezone"`

	Location *time.Location `mapstructure:"-"`
}

type Sink struct {
	Kind            string `mapstructure:"sink"`
	SpreadsheetID   string `mapstructure:"sheets_spreadsheet_id"`
	CredentialsFile string `mapstructure:"sheets_credentials_file"`
	XLSXPath        string `mapstructure:"xlsx_path"`
	SourceSheet     string `mapstructure:"source_sheet"`
}

type Redis struct {
	URL     string        `mapstructure:"redis_url"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type Server struct {
	Addr string `mapstructure:"http_addr"`
}

type Log struct {
	Level  string `mapstructure:"log_level"`
	Pretty bool   `mapstructure:"log_pretty"`
}

// SetDefaults registers every key with its default. Keys without a default
// are registered empty so that AutomaticEnv picks them up on Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("MARKET_API_TOKEN", "")
	v.SetDefault("MARKET_CAMPAIGN_ID", "")
	v.SetDefault("MARKET_USE_API_KEY", true)
	v.SetDefault("MARKET_OAUTH_CLIENT_ID", "")
	v.SetDefault("MARKET_BASE_URL", client.DefaultBaseURL)
	v.SetDefault("MARKET_TIMEOUT", 30*time.Second)

	v.SetDefault("PAGE_LIMIT", client.DefaultPageLimit)
	v.SetDefault("BATCH_SIZE", 500)
	v.SetDefault("PAGE_PAUSE", 100*time.Millisecond)
	v.SetDefault("BATCH_PAUSE", 200*time.Millisecond)
	v.SetDefault("TIMEZONE", export.DefaultTimezone)

	v.SetDefault("SINK", SinkSheets)
	v.SetDefault("SHEETS_SPREADSHEET_ID", "")
	v.SetDefault("SHEETS_CREDENTIALS_FILE", "")
	v.SetDefault("XLSX_PATH", "prices.xlsx")
	v.SetDefault("SOURCE_SHEET", "")

	v.SetDefault("REDIS_URL", "")
	v.SetDefault("LOCK_TTL", 10*time.Minute)

	v.SetDefault("HTTP_ADDR", ":8080")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
}

// LoadEnvFiles loads .env style files into the process environment. Variables
// already set are not overridden. Missing files are ignored.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the configuration from v. Flags bound to v take precedence over
// environment variables, which take precedence over defaults.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Sink.Kind = strings.ToLower(strings.TrimSpace(cfg.Sink.Kind))

	loc, err := time.LoadLocation(cfg.Export.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Export.Timezone, err)
	}
	cfg.Export.Location = loc

	return cfg, nil
}

// Validate reports every missing or invalid setting needed to talk to the
// API and to the configured sink.
func (c *Config) Validate() error {
	return errors.Join(c.ValidateAPI(), c.validateSink())
}

// ValidateAPI checks only the settings used to call the partner API.
func (c *Config) ValidateAPI() error {
	var errs []error

	if c.Market.APIToken == "" {
		errs = append(errs, errors.New("MARKET_API_TOKEN is required"))
	}
	if !c.Market.UseAPIKey && c.Market.OAuthClientID == "" {
		errs = append(errs, errors.New("MARKET_OAUTH_CLIENT_ID is required when MARKET_USE_API_KEY=false"))
	}
	if c.Export.PageLimit <= 0 {
		errs = append(errs, fmt.Errorf("PAGE_LIMIT must be positive (got %d)", c.Export.PageLimit))
	}
	if c.Export.BatchSize <= 0 || c.Export.BatchSize > 500 {
		errs = append(errs, fmt.Errorf("BATCH_SIZE must be between 1 and 500 (got %d)", c.Export.BatchSize))
	}
	if c.Export.PagePause < 0 || c.Export.BatchPause < 0 {
		errs = append(errs, errors.New("PAGE_PAUSE and BATCH_PAUSE must not be negative"))
	}
	if _, err := logging.ParseLevel(logging.LogLevel(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Config) validateSink() error {
	switch c.Sink.Kind {
	case SinkSheets:
		if c.Sink.SpreadsheetID == "" {
			return errors.New("SHEETS_SPREADSHEET_ID is required for the sheets sink")
		}
	case SinkXLSX:
		if c.Sink.XLSXPath == "" {
			return errors.New("XLSX_PATH is required for the xlsx sink")
		}
	default:
		return fmt.Errorf("SINK must be %q or %q (got %q)", SinkSheets, SinkXLSX, c.Sink.Kind)
	}
	return nil
}

// RequireCampaign reports a missing campaign id; every offer-price
// operation needs one.
func (c *Config) RequireCampaign() error {
	if c.Market.CampaignID == "" {
		return fmt.Errorf("MARKET_CAMPAIGN_ID is required: %w", client.ErrMissingCampaign)
	}
	return nil
}

// Credential builds the API credential.
func (c *Config) Credential() client.Credential {
	return client.Credential{
		Token:     c.Market.APIToken,
		UseAPIKey: c.Market.UseAPIKey,
		ClientID:  c.Market.OAuthClientID,
	}
}

// ClientConfig builds the API client configuration.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.Credential(), c.Market.CampaignID)
	if c.Market.BaseURL != "" {
		cfg.BaseURL = c.Market.BaseURL
	}
	if c.Market.Timeout > 0 {
		cfg.Timeout = c.Market.Timeout
	}
	return cfg
}

// ExportOptions builds the exporter options.
func (c *Config) ExportOptions() export.Options {
	opts := export.DefaultOptions()
	opts.PageLimit = c.Export.PageLimit
	opts.BatchSize = c.Export.BatchSize
	opts.PagePause = pause(c.Export.PagePause)
	opts.BatchPause = pause(c.Export.BatchPause)
	opts.Location = c.Export.Location
	opts.SourceSheet = c.Sink.SourceSheet
	return opts
}

// pause maps a configured zero pause to export.NoPause.
func pause(d time.Duration) time.Duration {
	if d == 0 {
		return export.NoPause
	}
	return d
}

// LoggingConfig builds the logger configuration.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:    logging.LogLevel(strings.ToLower(c.Log.Level)),
		Pretty:   c.Log.Pretty,
		Output:   os.Stderr,
		Campaign: c.Market.CampaignID,
	}
}
