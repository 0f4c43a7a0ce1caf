package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	billingdomain "github.com/smallbiznis/mediaforge/internal/billing/domain"
	dispatchdomain "github.com/smallbiznis/mediaforge/internal/dispatch/domain"
	generationdomain "github.com/smallbiznis/mediaforge/internal/generation/domain"
	refunddomain "github.com/smallbiznis/mediaforge/internal/refund/domain"
	subjectdomain "github.com/smallbiznis/mediaforge/internal/subject/domain"
	usagedomain "github.com/smallbiznis/mediaforge/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table the schema owns, in dependency order.
func Models() []any {
	return []any{
		&usagedomain.Subscription{},
		&subjectdomain.Subject{},
		&generationdomain.Task{},
		&generationdomain.Output{},
		&refunddomain.CreditRefund{},
		&dispatchdomain.QueueEntry{},
		&billingdomain.EventRecord{},
	}
}

// Run brings the schema up to date. Postgres uses the versioned SQL files;
// sqlite and mysql development setups fall back to gorm AutoMigrate.
func Run(conn *gorm.DB, log *zap.Logger) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	dialect := conn.Dialector.Name()
	if dialect != "postgres" {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate %s: %w", dialect, err)
		}
		log.Info("schema auto-migrated", zap.String("dialect", dialect))
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Info("schema migrations applied", zap.String("dialect", dialect))
	return nil
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "mediaforge_schema_migrations"})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Closing the migrator would close the shared *sql.DB.

	return nil
}
