package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"composition-spc/analysis/report"
	"composition-spc/api"
	"composition-spc/db/ingestion"
	"composition-spc/db/postgres"
	apitypes "composition-spc/pkg/api"
	"composition-spc/pkg/platform"
)

func windowFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "window",
			Usage: "Analysis window (last_30, last_90, all, date_range); defaults to the configured window",
		},
		&cli.StringFlag{
			Name:  "from",
			Usage: "Start date YYYY-MM-DD (date_range)",
		},
		&cli.StringFlag{
			Name:  "to",
			Usage: "End date YYYY-MM-DD (date_range)",
		},
		&cli.Float64Flag{
			Name:  "sigma",
			Usage: "Control limit multiplier k (> 0); defaults to the configured sigma",
		},
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Value:   "table",
			Usage:   "Output format (table, json, markdown)",
		},
	}
}

// analyzeRequest builds the wire request from flags over configured defaults.
func analyzeRequest(c *cli.Context, cfg *platform.Config) apitypes.AnalyzeRequest {
	req := apitypes.AnalyzeRequest{
		Window: cfg.Analysis.Window,
		From:   c.String("from"),
		To:     c.String("to"),
		Items:  c.StringSlice("items"),
	}
	if c.IsSet("window") {
		req.Window = c.String("window")
	}
	sigma := cfg.Analysis.Sigma
	if c.IsSet("sigma") {
		sigma = c.Float64("sigma")
	}
	req.Sigma = &sigma
	return req
}

// =============================================================================
// ANALYZE COMMAND
// =============================================================================

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:  "analyze",
		Usage: "Analyze every item of a product and list anomalies",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "product",
				Aliases:  []string{"p"},
				Usage:    "Product (workbook sheet) to analyze",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "items",
				Usage: "Restrict the analysis to these items",
			},
		}, windowFlags()...),
		Action: runAnalyze,
	}
}

func runAnalyze(c *cli.Context) error {
	ctx := c.Context
	cfg, logger, err := loadSettings(c)
	if err != nil {
		return err
	}

	src, err := openSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer src.close()

	req, err := analyzeRequest(c, cfg).Report(c.String("product"))
	if err != nil {
		return err
	}

	engine := report.NewEngine(src.tables, logger)
	result, err := engine.Analyze(ctx, req)
	if err != nil {
		return err
	}

	resp := apitypes.NewAnalyzeResponse(result)
	switch c.String("format") {
	case "json":
		return writeJSON(c.App.Writer, resp)
	case "markdown", "md":
		return writeAnalyzeMarkdown(c.App.Writer, resp)
	default:
		return writeAnalyzeTable(c.App.Writer, resp)
	}
}

// =============================================================================
// ITEM COMMAND
// =============================================================================

func itemCommand() *cli.Command {
	return &cli.Command{
		Name:  "item",
		Usage: "Drill down into one item: limits, capability, deviation test and points",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "product",
				Aliases:  []string{"p"},
				Usage:    "Product (workbook sheet)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "item",
				Aliases:  []string{"i"},
				Usage:    "Item to analyze",
				Required: true,
			},
		}, windowFlags()...),
		Action: runItem,
	}
}

func runItem(c *cli.Context) error {
	ctx := c.Context
	cfg, logger, err := loadSettings(c)
	if err != nil {
		return err
	}

	src, err := openSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer src.close()

	product := c.String("product")
	req, err := analyzeRequest(c, cfg).Report(product)
	if err != nil {
		return err
	}

	engine := report.NewEngine(src.tables, logger)
	ia, warnings, err := engine.ItemDetail(ctx, product, c.String("item"), req.Selection, req.Sigma)
	if err != nil {
		return err
	}

	switch c.String("format") {
	case "json":
		return writeJSON(c.App.Writer, api.ItemDetailResponse{
			Product:  product,
			Summary:  apitypes.NewItemSummary(*ia),
			Points:   ia.Points,
			Warnings: warnings,
		})
	case "markdown", "md":
		return writeItemMarkdown(c.App.Writer, product, ia, warnings)
	default:
		return writeItemTable(c.App.Writer, product, ia, warnings)
	}
}

// =============================================================================
// PRODUCTS COMMAND
// =============================================================================

func productsCommand() *cli.Command {
	return &cli.Command{
		Name:  "products",
		Usage: "List products available from the source",
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadSettings(c)
			if err != nil {
				return err
			}
			src, err := openSource(c.Context, cfg, logger)
			if err != nil {
				return err
			}
			defer src.close()

			products, err := src.tables.Products(c.Context)
			if err != nil {
				return err
			}
			for _, p := range products {
				fmt.Fprintln(c.App.Writer, p)
			}
			return nil
		},
	}
}

// =============================================================================
// INGEST COMMAND
// =============================================================================

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Load a workbook into ClickHouse or PostgreSQL as a new batch per product",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "target",
				Value: "clickhouse",
				Usage: "Destination store (clickhouse, postgres)",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Value: ingestion.DefaultBatchSize,
				Usage: "Rows per insert",
			},
		},
		Action: runIngest,
	}
}

// schemaWriter is a store the loader can write to
type schemaWriter interface {
	ingestion.Writer
	EnsureSchema(ctx context.Context) error
	Close() error
}

func runIngest(c *cli.Context) error {
	ctx := c.Context
	cfg, logger, err := loadSettings(c)
	if err != nil {
		return err
	}

	wb, err := loadWorkbook(ctx, cfg.Source, logger)
	if err != nil {
		return err
	}

	var store schemaWriter
	switch c.String("target") {
	case "clickhouse":
		store, err = openClickHouse(cfg)
	case "postgres":
		store, err = postgres.NewStore(cfg.Postgres.DSN)
	default:
		return fmt.Errorf("unknown target %q (expected clickhouse or postgres)", c.String("target"))
	}
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	source := cfg.Source.Workbook
	if source == "" {
		source = cfg.Source.WorkbookURL
	}
	if source == "" {
		source = fmt.Sprintf("s3://%s/%s", cfg.Source.S3Bucket, cfg.Source.S3Key)
	}

	loader := ingestion.NewLoader(store, logger).WithBatchSize(c.Int("batch-size"))
	result, err := loader.Load(ctx, source, wb.Tables())
	if err != nil {
		return err
	}

	for _, p := range result.Products {
		fmt.Fprintf(c.App.Writer, "%-20s %6d rows  batch %s\n", p.Product, p.Rows, p.BatchID)
	}
	if invalid := wb.Invalid(); len(invalid) > 0 {
		fmt.Fprintf(c.App.Writer, "skipped sheets: %v\n", invalid)
	}
	fmt.Fprintf(c.App.Writer, "loaded %d rows in %s\n", result.Rows, result.Duration.Round(time.Millisecond))
	return nil
}

// =============================================================================
// SERVE COMMAND
// =============================================================================

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Value:   8080,
				Usage:   "HTTP port",
				EnvVars: []string{"SPC_PORT"},
			},
			&cli.StringSliceFlag{
				Name:    "cors-origins",
				Usage:   "Allowed CORS origins",
				EnvVars: []string{"SPC_CORS_ORIGINS"},
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadSettings(c)
	if err != nil {
		return err
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	if c.IsSet("cors-origins") {
		cfg.Server.CORSOrigins = c.StringSlice("cors-origins")
	}

	src, err := openSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer src.close()

	serverCfg := api.DefaultConfig()
	serverCfg.Port = cfg.Server.Port
	serverCfg.CORSOrigins = cfg.Server.CORSOrigins

	engine := report.NewEngine(src.tables, logger)
	server := api.NewServer(engine, src.pinger, serverCfg, logger).
		WithAuthorizer(platform.AuthorizerFromEnv())

	return server.StartWithGracefulShutdown()
}
