// Package mysql stores workflow aggregates as JSON documents in a MySQL table.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/go-sql-driver/mysql"

	"github.com/drblury/procflow/internal/runtime/jsoncodec"
	"github.com/drblury/procflow/repository"
)

// DriverName is the database/sql driver registered by go-sql-driver/mysql.
const DriverName = "mysql"

// mysqlErrTableExists is the MySQL error code for CREATE TABLE on an existing table.
//
// https://dev.mysql.com/doc/refman/8.0/en/server-error-reference.html#error_er_table_exists_error
const mysqlErrTableExists = 1050

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// ErrInvalidTableName is returned for table names that cannot be used unquoted.
var ErrInvalidTableName = errors.New("procflow: invalid mysql table name")

// Open connects using a go-sql-driver DSN such as "user:pass@tcp(host)/db".
func Open(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("procflow: parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return sql.Open(DriverName, cfg.FormatDSN())
}

// Store persists aggregates of type A in one table.
type Store[A any] struct {
	db       *sql.DB
	table    string
	identity repository.Identity[A]
}

// New returns a store backed by table. Call CreateSchema once before use.
func New[A any](db *sql.DB, table string, identity repository.Identity[A]) (*Store[A], error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTableName, table)
	}
	return &Store[A]{db: db, table: table, identity: identity}, nil
}

// CreateSchema creates the aggregate table. An existing table is left as is.
func (s *Store[A]) CreateSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE %s (
			id         VARBINARY(255) NOT NULL PRIMARY KEY,
			data       LONGBLOB NOT NULL,
			updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6)
		) ENGINE=InnoDB`, s.table))

	var merr *mysql.MySQLError
	if errors.As(err, &merr) && merr.Number == mysqlErrTableExists {
		return nil
	}
	return err
}

// DropSchema removes the aggregate table.
func (s *Store[A]) DropSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.table))
	return err
}

func (s *Store[A]) FindByID(ctx context.Context, id string) (A, bool, error) {
	var (
		zero A
		raw  []byte
	)
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, s.table), id)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, false, nil
		}
		return zero, false, err
	}

	var out A
	if err := jsoncodec.Unmarshal(raw, &out); err != nil {
		return zero, false, err
	}
	return out, true, nil
}

func (s *Store[A]) Save(ctx context.Context, aggregate A) (A, error) {
	aggregate, id, err := s.identity.Ensure(aggregate)
	if err != nil {
		return aggregate, err
	}
	raw, err := jsoncodec.Marshal(aggregate)
	if err != nil {
		return aggregate, err
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, data) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE data = VALUES(data)`, s.table),
		id, raw,
	)
	return aggregate, err
}

func (s *Store[A]) ID(aggregate A) (string, error) {
	return s.identity.ID(aggregate)
}
