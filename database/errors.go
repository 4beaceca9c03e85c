package database

import (
	"errors"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// ErrorKind groups driver errors by what the caller can do about them.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	// KindUniqueViolation: a unique or primary key constraint rejected a write.
	KindUniqueViolation
	// KindForeignKeyViolation: a referenced row is missing.
	KindForeignKeyViolation
	// KindCheckViolation: a CHECK constraint rejected a value.
	KindCheckViolation
	// KindSerialization: deadlock, serialization failure or lock timeout; retryable.
	KindSerialization
)

func (k ErrorKind) String() string {
	switch k {
	case KindUniqueViolation:
		return "unique_violation"
	case KindForeignKeyViolation:
		return "foreign_key_violation"
	case KindCheckViolation:
		return "check_violation"
	case KindSerialization:
		return "serialization"
	default:
		return "other"
	}
}

// Classify maps PostgreSQL, MySQL and SQLite driver errors, as well as
// gorm's translated errors, to an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindOther
	}

	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return KindUniqueViolation
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return KindForeignKeyViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return KindUniqueViolation
		case "23503":
			return KindForeignKeyViolation
		case "23514":
			return KindCheckViolation
		case "40001", "40P01", "55P03":
			return KindSerialization
		}
		return KindOther
	}

	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062:
			return KindUniqueViolation
		case 1451, 1452:
			return KindForeignKeyViolation
		case 3819:
			return KindCheckViolation
		case 1205, 1213:
			return KindSerialization
		}
		return KindOther
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return KindUniqueViolation
		case sqlite3.ErrConstraintForeignKey:
			return KindForeignKeyViolation
		case sqlite3.ErrConstraintCheck:
			return KindCheckViolation
		}
		switch liteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return KindSerialization
		}
		return KindOther
	}

	return KindOther
}
