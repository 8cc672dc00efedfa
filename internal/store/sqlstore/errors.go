package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pliu/nwitter/internal/apperr"
)

// classify maps driver errors onto apperr kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.E(apperr.NotFound, op, err)
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrConstraint:
			if se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
				return apperr.E(apperr.Conflict, op, err)
			}
			return apperr.E(apperr.Invalid, op, err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return apperr.E(apperr.Transient, op, err)
		}
	}

	var pe *pq.Error
	if errors.As(err, &pe) {
		switch pe.Code.Class() {
		case "23":
			if pe.Code == "23505" {
				return apperr.E(apperr.Conflict, op, err)
			}
			return apperr.E(apperr.Invalid, op, err)
		case "08", "40", "53", "57":
			return apperr.E(apperr.Transient, op, err)
		}
	}

	var ne net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &ne) {
		return apperr.E(apperr.Transient, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return apperr.E(apperr.Transient, op, err)
	}
	return apperr.E(apperr.Fatal, op, err)
}
