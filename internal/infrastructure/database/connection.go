package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/seatrade/cruisesync-go/internal/adapters/persistence"
	"github.com/seatrade/cruisesync-go/internal/infrastructure/config"
)

// NewConnection creates a new database connection from configuration
func NewConnection(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Type {
	case "postgres":
		// Use URL if provided, otherwise build DSN from individual fields
		var dsn string
		if cfg.URL != "" {
			dsn = cfg.URL
		} else {
			dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
				cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)
		}
		dialector = postgres.Open(dsn)

	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		dialector = sqlite.Open(path)

	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool (only for PostgreSQL)
	if cfg.Type == "postgres" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpen)
		sqlDB.SetMaxIdleConns(cfg.Pool.MaxIdle)
		sqlDB.SetConnMaxLifetime(cfg.Pool.MaxLifetime)
	}

	return db, nil
}

// NewTestConnection creates an in-memory SQLite database for testing
func NewTestConnection() (*gorm.DB, error) {
	cfg := &config.DatabaseConfig{
		Type: "sqlite",
		Path: ":memory:",
	}

	db, err := NewConnection(cfg)
	if err != nil {
		return nil, err
	}

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate test database: %w", err)
	}

	return db, nil
}

// AutoMigrate creates/updates all tables and, on PostgreSQL, installs the
// cheapest-price trigger that re-derives cheapest_price and
// cheapest_cabin_type whenever a category price changes.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(persistence.AllModels()...); err != nil {
		return err
	}
	if db.Dialector.Name() == "postgres" {
		return installCheapestPriceTrigger(db)
	}
	return nil
}

// installCheapestPriceTrigger enforces the cheapest-price invariant at the
// database layer: the minimum positive category price wins, ties resolved
// interior < oceanview < balcony < suite. On SQLite (tests) the repository's
// Go-side derivation provides the same guarantee.
func installCheapestPriceTrigger(db *gorm.DB) error {
	const fn = `
CREATE OR REPLACE FUNCTION derive_cheapest_price() RETURNS trigger AS $$
BEGIN
    SELECT price, cabin_type INTO NEW.cheapest_price, NEW.cheapest_cabin_type
    FROM (VALUES
        (NEW.interior_price,  'interior',  1),
        (NEW.oceanview_price, 'oceanview', 2),
        (NEW.balcony_price,   'balcony',   3),
        (NEW.suite_price,     'suite',     4)
    ) AS categories(price, cabin_type, tie_order)
    WHERE price IS NOT NULL AND price > 0
    ORDER BY price ASC, tie_order ASC
    LIMIT 1;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;`

	const trigger = `
DROP TRIGGER IF EXISTS cruises_derive_cheapest ON cruises;
CREATE TRIGGER cruises_derive_cheapest
    BEFORE INSERT OR UPDATE OF interior_price, oceanview_price, balcony_price, suite_price
    ON cruises
    FOR EACH ROW
    EXECUTE FUNCTION derive_cheapest_price();`

	if err := db.Exec(fn).Error; err != nil {
		return fmt.Errorf("failed to create cheapest price function: %w", err)
	}
	if err := db.Exec(trigger).Error; err != nil {
		return fmt.Errorf("failed to create cheapest price trigger: %w", err)
	}
	return nil
}

// Close closes the database connection
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
