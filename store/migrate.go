package store

import (
	"database/sql"
	"embed"
	"path/filepath"
	"sort"
	"strings"

	"github.com/teranos/scbe/errs"
	"github.com/teranos/scbe/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// migrate applies every pending migration in migrations/, tracked by a
// schema_migrations table the 000 migration creates. Idempotent: safe
// to call on every process start.
func migrate(db *sql.DB) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return errs.Wrap(err, "read migrations")
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, filename := range files {
		version := strings.Split(filename, "_")[0]

		var exists bool
		err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
		if err != nil && version != "000" {
			return errs.Newf("schema_migrations table missing, but migration is not 000: %s", filename)
		}
		if err == nil && exists {
			continue
		}

		sqlBytes, err := migrations.ReadFile(filepath.Join("migrations", filename))
		if err != nil {
			return errs.Wrapf(err, "read %s", filename)
		}

		tx, err := db.Begin()
		if err != nil {
			return errs.Wrapf(err, "begin tx for %s", filename)
		}

		if _, err := tx.Exec(string(sqlBytes)); err != nil {
			tx.Rollback()
			return errs.Wrapf(err, "execute %s", filename)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return errs.Wrapf(err, "record %s", filename)
		}
		if err := tx.Commit(); err != nil {
			return errs.Wrapf(err, "commit %s", filename)
		}
		logger.Infow("applied migration", "migration", filename)
	}

	return nil
}
