package infra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/welthee/qcaller/internal/config"
)

const (
	postgresMaxOpenConns    = 4
	postgresMaxIdleConns    = 2
	postgresConnMaxLifetime = 15 * time.Minute
)

func PostgresConnString(cfg config.PostgreSQLConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User,
		cfg.Password, cfg.DatabaseName)
}

func NewPostgresClient(cfg config.PostgreSQLConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", PostgresConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("open connection to %s: %w", config.AnnouncerKindPostgres, err)
	}

	db.SetMaxOpenConns(postgresMaxOpenConns)
	db.SetMaxIdleConns(postgresMaxIdleConns)
	db.SetConnMaxLifetime(postgresConnMaxLifetime)

	return db, nil
}

func ExecutePostgresMigrations(db *sql.DB, cfg config.PostgreSQLConfig) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("get %s migration driver: %w", config.AnnouncerKindPostgres, err)
	}

	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationsDir, cfg.DatabaseName, driver)
	if err != nil {
		return fmt.Errorf("create a database migrator: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("%s migrations: %w", config.AnnouncerKindPostgres, err)
		}
	}

	return nil
}

func PostgresHealthcheckFn(db *sql.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}
