package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	billing "condo-water/internal/billing/domain"
	billingstore "condo-water/internal/billing/infrastructure/docstore"
	"condo-water/internal/docstore"
	pgstore "condo-water/internal/docstore/postgres"
	historyapp "condo-water/internal/history/application"
	historystore "condo-water/internal/history/infrastructure/docstore"
	"condo-water/internal/logging"
)

type config struct {
	dbURL    string
	condoID  string
	dryRun   bool
	logLevel string
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	db, err := sql.Open("pgx", cfg.dbURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db open:", err)
		os.Exit(2)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := run(ctx, pgstore.NewStore(db), cfg, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
}

// run replays the closed readings of one condo and prints one line per period.
// Without dryRun the derived history replaces the stored one.
func run(ctx context.Context, store docstore.Store, cfg config, out io.Writer) error {
	logger, err := logging.NewLogger(cfg.logLevel, "console", "condo-water-replay")
	if err != nil {
		return err
	}
	readings, err := billingstore.NewReadingRepository(store)
	if err != nil {
		return err
	}
	closed, err := readings.ListClosed(ctx, cfg.condoID)
	if err != nil {
		return err
	}
	units, condos, err := historyapp.Replay(closed)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "READING\tDATE\tUNITS\tCONSUMPTION\tCOMMON AREA\tTOTAL COST")
	for _, entry := range condos {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			entry.ReadingID,
			entry.Date.Format("2006-01-02"),
			entry.UnitCount,
			entry.TotalConsumption.String(),
			entry.CommonAreaConsumption.String(),
			entry.TotalCost.StringFixed(billing.MoneyScale),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if cfg.dryRun {
		fmt.Fprintf(out, "dry run: %d readings, %d unit entries for condo %s (nothing written)\n", len(condos), len(units), cfg.condoID)
		return nil
	}
	rebuilder, err := historyapp.NewRebuilder(readings, historystore.NewRepository(store), nil, logger)
	if err != nil {
		return err
	}
	result, err := rebuilder.RebuildCondo(ctx, cfg.condoID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "rebuilt condo %s: %d readings, %d unit entries\n", result.CondoID, result.Readings, result.UnitEntries)
	return nil
}

func parseFlags() (config, error) {
	var cfg config
	flag.StringVar(&cfg.dbURL, "db", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN")
	flag.StringVar(&cfg.condoID, "condo", "", "condominium id")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "print the replayed history without writing it")
	flag.StringVar(&cfg.logLevel, "log-level", getenvDefault("LOG_LEVEL", "warn"), "log level")
	flag.Parse()

	if cfg.dbURL == "" {
		return cfg, errors.New("missing --db or DATABASE_URL/PG_DSN")
	}
	if cfg.condoID == "" {
		return cfg, errors.New("missing --condo")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
