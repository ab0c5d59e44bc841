// spc - composition statistical process control for fiber production
//
// Usage:
//
//	spc analyze --workbook plant.xlsx --product E-glass [--window last_90] [--sigma 2.5]
//	spc item --workbook plant.xlsx --product E-glass --item SiO2 --window date_range --from 2024-01-01 --to 2024-01-31
//	spc ingest --workbook plant.xlsx --target clickhouse
//	spc serve --source clickhouse
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"composition-spc/analysis/report"
	"composition-spc/db/clickhouse"
	"composition-spc/db/postgres"
	"composition-spc/ingest"
	"composition-spc/pkg/platform"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "spc",
		Usage:   "Composition SPC - control limits, capability and mix deviation for fiber products",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML config file",
				EnvVars: []string{"SPC_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"SPC_LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:    "log-console",
				Usage:   "Human readable log output",
				EnvVars: []string{"SPC_LOG_CONSOLE"},
			},
			&cli.StringFlag{
				Name:    "source",
				Value:   "workbook",
				Usage:   "Measurement source (workbook, clickhouse, postgres)",
				EnvVars: []string{"SPC_SOURCE"},
			},
			&cli.StringFlag{
				Name:    "workbook",
				Aliases: []string{"w"},
				Usage:   "Path to an .xlsx workbook (one sheet per product) or a .csv file",
				EnvVars: []string{"SPC_WORKBOOK"},
			},
			&cli.StringFlag{
				Name:    "workbook-url",
				Usage:   "HTTP(S) URL of an .xlsx workbook",
				EnvVars: []string{"SPC_WORKBOOK_URL"},
			},
			&cli.StringFlag{
				Name:    "s3-bucket",
				Usage:   "S3 bucket holding the workbook",
				EnvVars: []string{"SPC_S3_BUCKET"},
			},
			&cli.StringFlag{
				Name:    "s3-key",
				Usage:   "S3 key of the workbook",
				EnvVars: []string{"SPC_S3_KEY"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-host",
				Value:   "localhost",
				Usage:   "ClickHouse host",
				EnvVars: []string{"CLICKHOUSE_HOST"},
			},
			&cli.IntFlag{
				Name:    "clickhouse-port",
				Value:   9000,
				Usage:   "ClickHouse native port",
				EnvVars: []string{"CLICKHOUSE_PORT"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-database",
				Value:   "spc",
				Usage:   "ClickHouse database",
				EnvVars: []string{"CLICKHOUSE_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-user",
				Value:   "default",
				Usage:   "ClickHouse user",
				EnvVars: []string{"CLICKHOUSE_USER"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-password",
				Usage:   "ClickHouse password",
				EnvVars: []string{"CLICKHOUSE_PASSWORD"},
			},
			&cli.StringFlag{
				Name:    "postgres-dsn",
				Usage:   "PostgreSQL DSN",
				EnvVars: []string{"POSTGRES_DSN"},
			},
		},

		Commands: []*cli.Command{
			analyzeCommand(),
			itemCommand(),
			productsCommand(),
			ingestCommand(),
			serveCommand(),
		},
	}
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// loadSettings reads the config file and environment, then applies any flag
// the user set explicitly. It also initialises the global logger.
func loadSettings(c *cli.Context) (*platform.Config, zerolog.Logger, error) {
	cfg, err := platform.LoadConfig(c.String("config"))
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	str := func(flag string, dst *string) {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}
	str("log-level", &cfg.LogLevel)
	str("source", &cfg.Source.Kind)
	str("workbook", &cfg.Source.Workbook)
	str("workbook-url", &cfg.Source.WorkbookURL)
	str("s3-bucket", &cfg.Source.S3Bucket)
	str("s3-key", &cfg.Source.S3Key)
	str("clickhouse-host", &cfg.ClickHouse.Host)
	str("clickhouse-database", &cfg.ClickHouse.Database)
	str("clickhouse-user", &cfg.ClickHouse.User)
	str("clickhouse-password", &cfg.ClickHouse.Password)
	str("postgres-dsn", &cfg.Postgres.DSN)
	if c.IsSet("clickhouse-port") {
		cfg.ClickHouse.Port = c.Int("clickhouse-port")
	}
	if c.IsSet("log-console") {
		cfg.Console = c.Bool("log-console")
	}

	logger := platform.InitLogger(cfg.LogLevel, cfg.Console)
	return cfg, logger, nil
}

// source is an opened measurement source
type source struct {
	tables report.TableSource
	pinger interface {
		Ping(ctx context.Context) error
	}
	close func() error
}

func openSource(ctx context.Context, cfg *platform.Config, logger zerolog.Logger) (*source, error) {
	switch strings.ToLower(cfg.Source.Kind) {
	case "", "workbook":
		wb, err := loadWorkbook(ctx, cfg.Source, logger)
		if err != nil {
			return nil, err
		}
		return &source{tables: wb, close: func() error { return nil }}, nil

	case "clickhouse":
		store, err := openClickHouse(cfg)
		if err != nil {
			return nil, err
		}
		return &source{tables: store, pinger: store, close: store.Close}, nil

	case "postgres":
		store, err := postgres.NewStore(cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		return &source{tables: store, pinger: store, close: store.Close}, nil

	default:
		return nil, fmt.Errorf("unknown source %q (expected workbook, clickhouse or postgres)", cfg.Source.Kind)
	}
}

func openClickHouse(cfg *platform.Config) (*clickhouse.Store, error) {
	return clickhouse.NewStore(&clickhouse.Config{
		Host:     cfg.ClickHouse.Host,
		Port:     cfg.ClickHouse.Port,
		Database: cfg.ClickHouse.Database,
		Username: cfg.ClickHouse.User,
		Password: cfg.ClickHouse.Password,
	})
}

// loadWorkbook reads the workbook from a local path, a URL or S3, in that order.
func loadWorkbook(ctx context.Context, src platform.SourceConfig, logger zerolog.Logger) (*ingest.Workbook, error) {
	var (
		data []byte
		name string
		err  error
	)

	switch {
	case src.Workbook != "":
		name = src.Workbook
		if strings.EqualFold(filepath.Ext(name), ".csv") {
			return loadCSV(name, logger)
		}
		data, err = os.ReadFile(name)
	case src.WorkbookURL != "":
		name = src.WorkbookURL
		data, err = ingest.FetchHTTP(ctx, src.WorkbookURL)
	case src.S3Bucket != "" && src.S3Key != "":
		name = fmt.Sprintf("s3://%s/%s", src.S3Bucket, src.S3Key)
		data, err = ingest.FetchS3(ctx, src.S3Bucket, src.S3Key)
	default:
		return nil, fmt.Errorf("no workbook given: use --workbook, --workbook-url or --s3-bucket/--s3-key")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook %s: %w", name, err)
	}

	wb, err := ingest.ParseWorkbookBytes(data)
	if err != nil {
		return nil, err
	}
	wb.LogSummary(logger)
	return wb, nil
}

// loadCSV treats the file name (without extension) as the product.
func loadCSV(path string, logger zerolog.Logger) (*ingest.Workbook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	product := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	table, stats, err := ingest.ParseCSV(product, f)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("product", product).Int("rows", stats.Rows).Int("kept", stats.Kept).Msg("CSV loaded")
	return ingest.FromTables(table), nil
}
