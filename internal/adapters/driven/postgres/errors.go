package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

// Postgres SQLSTATE codes
const (
	codeUniqueViolation     pq.ErrorCode = "23505"
	codeForeignKeyViolation pq.ErrorCode = "23503"
	codeCheckViolation      pq.ErrorCode = "23514"
)

// mapError translates driver errors into domain sentinels. what names the
// operation for the wrapped message.
func mapError(what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w: %s", what, domain.ErrAlreadyExists, pqErr.Constraint)
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %w: %s", what, domain.ErrNotFound, pqErr.Constraint)
		case codeCheckViolation:
			return fmt.Errorf("%s: %w: %s", what, domain.ErrInvalidInput, pqErr.Constraint)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}
