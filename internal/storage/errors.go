package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects a write
	ErrDuplicate = errors.New("duplicate")
	// ErrReferenceMissing is returned when a foreign key target does not exist
	ErrReferenceMissing = errors.New("referenced row does not exist")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgInvalidText         = "22P02"
)

// translatePgError maps constraint violations to storage sentinels
func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return errors.Join(ErrDuplicate, err)
	case pgForeignKeyViolation:
		return errors.Join(ErrReferenceMissing, err)
	case pgInvalidText:
		// malformed uuid in a lookup
		return errors.Join(ErrNotFound, err)
	}
	return err
}
