package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/eeSquared/musicleague-bot/internal/config"
	"github.com/eeSquared/musicleague-bot/internal/db"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}

	app := &cli.App{
		Name:  "migrate",
		Usage: "apply the embedded Postgres migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Postgres connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply all pending migrations",
				Action: func(c *cli.Context) error {
					return withMigrator(c, func(m *migrate.Migrate) error {
						if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
							return fmt.Errorf("database migration failed: %w", err)
						}
						log.Println("database migrations applied")
						return nil
					})
				},
			},
			{
				Name:  "down",
				Usage: "roll back the given number of migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "steps", Value: 1, Usage: "migrations to roll back"},
				},
				Action: func(c *cli.Context) error {
					steps := c.Int("steps")
					if steps < 1 {
						return errors.New("steps must be at least 1")
					}
					return withMigrator(c, func(m *migrate.Migrate) error {
						if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
							return fmt.Errorf("rollback failed: %w", err)
						}
						log.Printf("rolled back %d migration(s)", steps)
						return nil
					})
				},
			},
			{
				Name:  "version",
				Usage: "print the current schema version",
				Action: func(c *cli.Context) error {
					return withMigrator(c, func(m *migrate.Migrate) error {
						version, dirty, err := m.Version()
						if errors.Is(err, migrate.ErrNilVersion) {
							fmt.Println("no migrations applied")
							return nil
						}
						if err != nil {
							return err
						}
						fmt.Printf("version %d (dirty: %v)\n", version, dirty)
						return nil
					})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func withMigrator(c *cli.Context, run func(m *migrate.Migrate) error) error {
	dsn := c.String("database-url")
	if dsn == "" {
		return errors.New("DATABASE_URL is not set")
	}
	if !db.IsPostgresDSN(dsn) {
		return errors.New("SQL migrations target Postgres; SQLite databases are migrated by the bot on startup")
	}
	source, err := iofs.New(db.Migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("migration setup failed: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Printf("close migrator: %v %v", srcErr, dbErr)
		}
	}()
	return run(m)
}
