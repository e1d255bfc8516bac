package introspect

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"schemasync/internal/dialect"
)

// Open dials the target database for the given backend and sets pool limits
// suited to short-lived sync runs.
func Open(d dialect.Dialect, dsn string) (*sql.DB, error) {
	var driver string
	switch d {
	case dialect.Postgres:
		driver = "pgx"
	case dialect.MySQL:
		if _, err := mysql.ParseDSN(dsn); err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		driver = "mysql"
	case dialect.SQLite:
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported backend %q", d)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(2 * time.Minute)
	return db, nil
}
