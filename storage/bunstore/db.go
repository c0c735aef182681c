package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-store-cache/schema"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/extra/bundebug"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config describes a database connection and the transaction runner.
type Config struct {
	Driver       string             `yaml:"driver" json:"driver"`
	DSN          string             `yaml:"dsn" json:"dsn"`
	Debug        bool               `yaml:"debug" json:"debug"`
	MaxOpenConns int                `yaml:"max_open_conns" json:"max_open_conns"`
	Isolation    sql.IsolationLevel `yaml:"isolation" json:"isolation"`
	// Retries is how many times a step is run again after a serialization
	// conflict.
	Retries int `yaml:"retries" json:"retries"`
	// RetryDelay is the pause before each retry.
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// DefaultConfig returns an in-memory SQLite configuration with foreign keys
// enforced.
func DefaultConfig() Config {
	return Config{
		Driver:       DriverSQLite,
		DSN:          "file::memory:?cache=shared&_foreign_keys=on",
		MaxOpenConns: 1,
		Isolation:    sql.LevelSerializable,
		Retries:      3,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.MaxOpenConns, validation.Min(0)),
		validation.Field(&c.Retries, validation.Min(0)),
		validation.Field(&c.RetryDelay, validation.Min(time.Duration(0))),
	)
}

// Open connects to the configured database.
func Open(cfg Config) (*bun.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("bunstore: invalid config: %w", err)
	}

	sqldb, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("bunstore: open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	var db *bun.DB
	switch cfg.Driver {
	case DriverSQLite:
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case DriverPostgres:
		db = bun.NewDB(sqldb, pgdialect.New())
	}
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db, nil
}

// CreateTables creates one table per class on a fresh database, in flush
// order. SQLite accepts references to tables created later; on PostgreSQL
// those foreign keys are added once every table exists. Plain columns are
// untyped on SQLite and TEXT on PostgreSQL; real deployments are expected to
// manage their tables with migrations.
func CreateTables(ctx context.Context, db bun.IDB, s *schema.Schema) error {
	name := db.Dialect().Name()
	created := make(map[schema.ClassID]bool)
	var alters []string

	for _, id := range s.Order() {
		cls := s.Class(id)
		cols := []string{fmt.Sprintf("%q TEXT PRIMARY KEY", schema.IDColumn)}

		for _, field := range cls.Fields {
			if cls.IsRelation(field) {
				continue
			}
			cols = append(cols, plainColumn(name, cls.Column(field)))
		}
		for _, fk := range cls.ForeignKeys {
			col := fmt.Sprintf("%q TEXT", fk.Column)
			if !fk.Nullable {
				col += " NOT NULL"
			}
			target := s.Class(fk.TargetID()).Table
			if name == dialect.PG && !created[fk.TargetID()] && fk.TargetID() != id {
				alters = append(alters, fmt.Sprintf("ALTER TABLE %q ADD FOREIGN KEY (%q) REFERENCES %q (%q)",
					cls.Table, fk.Column, target, schema.IDColumn))
			} else {
				col += fmt.Sprintf(" REFERENCES %q (%q)", target, schema.IDColumn)
			}
			cols = append(cols, col)
		}

		stmt := fmt.Sprintf("CREATE TABLE %q (%s)", cls.Table, strings.Join(cols, ", "))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bunstore: create table %s: %w", cls.Table, err)
		}
		created[id] = true
	}

	for _, stmt := range alters {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bunstore: add foreign key: %w", err)
		}
	}
	return nil
}

func plainColumn(d dialect.Name, col string) string {
	if d == dialect.PG {
		return fmt.Sprintf("%q TEXT", col)
	}
	return fmt.Sprintf("%q", col)
}

// IsSerializationFailure reports whether err is a conflict that goes away
// when the transaction is run again: PostgreSQL serialization failures and
// deadlocks, SQLite busy and locked errors.
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}
