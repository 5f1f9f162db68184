package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"
)

//go:embed migrations
var migrations embed.FS

// Set is one forward-only migration directory owned by a single service.
type Set struct {
	Name  string // directory under migrations/
	Table string // version table tracking this set
}

var (
	ReaderSet = Set{Name: "reader", Table: "reader_schema_migrations"}
	SolarSet  = Set{Name: "solar", Table: "solar_schema_migrations"}
)

// Sets lists every migration set in the repository.
var Sets = []Set{ReaderSet, SolarSet}

// Migrate applies every pending migration of set. Already-applied versions are
// skipped, so calling it on every start-up is safe.
func Migrate(dsn string, set Set) error {
	src, err := iofs.New(migrations, "migrations/"+set.Name)
	if err != nil {
		return fmt.Errorf("open %s migrations: %w", set.Name, err)
	}

	// A dedicated handle so the caller's pool is never closed underneath it.
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	drv, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{MigrationsTable: set.Table})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", drv)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("init migrator: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Warn().AnErr("source", srcErr).AnErr("database", dbErr).Str("set", set.Name).Msg("closing migrator")
		}
		_ = db.Close()
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug().Str("set", set.Name).Msg("schema up to date")
			return nil
		}
		return fmt.Errorf("apply %s migrations: %w", set.Name, err)
	}

	version, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("read %s schema version: %w", set.Name, err)
	}
	log.Info().Str("set", set.Name).Uint("version", version).Msg("migrations applied")
	return nil
}

// MigrationFiles returns the raw SQL of every file in set, in apply order.
func MigrationFiles(set Set) ([]string, error) {
	dir := "migrations/" + set.Name
	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		b, err := fs.ReadFile(migrations, dir+"/"+e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, string(b))
	}
	return out, nil
}
