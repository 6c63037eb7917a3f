package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/discourse/discourse-sub052/reviewable/claimstore"
	"github.com/discourse/discourse-sub052/reviewable/store"
	"github.com/discourse/discourse-sub052/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "reviewd",
		Usage:   "moderation review queue daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string for reviewables, scores and history",
			Value:   "sqlite://data/reviewd/reviewd.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"REVIEWD_MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.BoolFlag{
			Name:    "db-tracing",
			Usage:   "emit otel spans for database queries",
			EnvVars: []string{"REVIEWD_DB_TRACING"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"REVIEWD_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format: json or text",
			EnvVars: []string{"REVIEWD_LOG_FMT"},
		},
	}

	app.Commands = []*cli.Command{
		serveCmd,
		migrateCmd,
		seedCmd,
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context) (*slog.Logger, error) {
	return cliutil.SetupSlog(cliutil.LogOptions{
		LogLevel:  cctx.String("log-level"),
		LogFormat: cctx.String("log-format"),
	})
}

func openDatabase(cctx *cli.Context, logger *slog.Logger) (*gorm.DB, error) {
	db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"), logger)
	if err != nil {
		return nil, err
	}
	if cctx.Bool("db-tracing") {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// migrate creates or updates every table reviewd owns.
func migrate(db *gorm.DB) error {
	if err := store.NewGormStore(db).Migrate(); err != nil {
		return fmt.Errorf("migrating reviewables: %w", err)
	}
	if err := claimstore.NewGormClaimStore(db).Migrate(); err != nil {
		return fmt.Errorf("migrating claims: %w", err)
	}
	return nil
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "create or update database tables",
	Action: func(cctx *cli.Context) error {
		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}
		db, err := openDatabase(cctx, logger)
		if err != nil {
			return err
		}
		if err := migrate(db); err != nil {
			return err
		}
		logger.Info("database migrated")
		return nil
	},
}
