package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sternrassler/market-price-exporter/internal/config"
	"github.com/Sternrassler/market-price-exporter/pkg/export"
	"github.com/Sternrassler/market-price-exporter/pkg/logging"
)

const (
	commandRoot           = "price-exporter"
	commandCampaigns      = "campaigns"
	commandCheck          = "check"
	commandExportAll      = "export-all"
	commandExportSpecific = "export-specific"
	commandServe          = "serve"
)

// boundFlags maps configuration keys to the persistent flags that set them.
var boundFlags = map[string]string{
	"log_level":             "log-level",
	"log_pretty":            "log-pretty",
	"market_campaign_id":    "campaign-id",
	"sink":                  "sink",
	"sheets_spreadsheet_id": "spreadsheet-id",
	"xlsx_path":             "xlsx-path",
}

// bindFlags binds the persistent flags of cmd into v.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for key, name := range boundFlags {
		if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}
	return nil
}

// cli carries state shared by the sub-commands.
type cli struct {
	v       *viper.Viper
	envFile string
	cfg     *config.Config
}

// newRootCommand builds the command tree. Flags are bound into viper, so each
// one can also be set through its environment variable.
func newRootCommand() *cobra.Command {
	c := &cli{v: viper.New()}

	cmd := &cobra.Command{
		Use:           commandRoot,
		Short:         "Export marketplace offer prices into a spreadsheet.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(c.v, cmd.Root()); err != nil {
				return err
			}
			return c.load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&c.envFile, "env-file", ".env", "Load environment variables from this file when it exists")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.Bool("log-pretty", false, "Human-readable console logs instead of JSON")
	flags.String("campaign-id", "", "Campaign id (MARKET_CAMPAIGN_ID)")
	flags.String("sink", config.SinkSheets, "Destination: sheets or xlsx")
	flags.String("spreadsheet-id", "", "Google Sheets spreadsheet id (SHEETS_SPREADSHEET_ID)")
	flags.String("xlsx-path", "prices.xlsx", "Workbook path for the xlsx sink")

	cmd.AddCommand(
		c.newCampaignsCommand(),
		c.newCheckCommand(),
		c.newExportAllCommand(),
		c.newExportSpecificCommand(),
		c.newServeCommand(),
	)
	return cmd
}

// load reads the configuration once flags are parsed and sets up logging.
func (c *cli) load() error {
	if err := config.LoadEnvFiles(c.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(c.v)
	if err != nil {
		return err
	}
	logging.Setup(cfg.LoggingConfig())
	c.cfg = cfg
	return nil
}

// operation is the body of a one-shot command.
type operation func(ctx context.Context, e *export.Exporter) (*export.Report, error)

// runOnce wires the app, runs op and prints its message.
func (c *cli) runOnce(cmd *cobra.Command, name string, apiOnly, needsCampaign bool, op operation) error {
	ctx := cmd.Context()

	if needsCampaign {
		if err := c.cfg.RequireCampaign(); err != nil {
			return err
		}
	}

	a, err := newApp(ctx, c.cfg, apiOnly)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := op(ctx, a.exporter)
	if err != nil {
		log.Error().Err(err).Str("command", name).Msg("Command failed")
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), report.Message())
	return nil
}

func (c *cli) newCampaignsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   commandCampaigns,
		Short: "List the campaigns visible to the token into the campaign sheet.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runOnce(cmd, commandCampaigns, false, false, func(ctx context.Context, e *export.Exporter) (*export.Report, error) {
				return e.ListCampaigns(ctx)
			})
		},
	}
}

func (c *cli) newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   commandCheck,
		Short: "Check that the partner API accepts the configured token.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runOnce(cmd, commandCheck, true, false, func(ctx context.Context, e *export.Exporter) (*export.Report, error) {
				return e.CheckConnection(ctx)
			})
		},
	}
}

func (c *cli) newExportAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   commandExportAll,
		Short: "Export every offer price of the campaign.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runOnce(cmd, commandExportAll, false, true, func(ctx context.Context, e *export.Exporter) (*export.Report, error) {
				return e.ExportAll(ctx)
			})
		},
	}
}

func (c *cli) newExportSpecificCommand() *cobra.Command {
	var fromSheet, idsFile string

	cmd := &cobra.Command{
		Use:   commandExportSpecific + " [offer-id...]",
		Short: "Export the prices of specific offers.",
		Long: "Export the prices of specific offers. Identifiers come from the arguments, " +
			"from a CSV file with an offerId column (--ids-file), or from column A of a sheet " +
			"(--from-sheet, default SOURCE_SHEET).",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := args
			if idsFile != "" {
				fileIDs, err := readIDsFile(idsFile)
				if err != nil {
					return err
				}
				ids = append(ids, fileIDs...)
			}

			return c.runOnce(cmd, commandExportSpecific, false, true, func(ctx context.Context, e *export.Exporter) (*export.Report, error) {
				if len(ids) == 0 && fromSheet != "" {
					return e.ExportSpecificFromSheet(ctx, fromSheet)
				}
				return e.ExportSpecific(ctx, ids)
			})
		},
	}

	cmd.Flags().StringVar(&fromSheet, "from-sheet", "", "Read identifiers from column A of this sheet")
	cmd.Flags().StringVar(&idsFile, "ids-file", "", "Read identifiers from a CSV file with an offerId column")
	return cmd
}

func readIDsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open identifier file: %w", err)
	}
	defer f.Close()
	return export.LoadOfferIDs(f)
}

func (c *cli) newServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   commandServe,
		Short: "Serve the export operations over HTTP.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.RequireCampaign(); err != nil {
				return err
			}
			if addr != "" {
				c.cfg.Server.Addr = addr
			}

			a, err := newApp(cmd.Context(), c.cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			return serve(cmd.Context(), c.cfg.Server.Addr, a.exporter)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (HTTP_ADDR)")
	return cmd
}
