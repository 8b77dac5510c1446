package retry

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

// Class is the retry disposition of an error.
type Class int

const (
	// Fatal errors are returned to the caller.
	Fatal Class = iota
	// Transient errors are retried once.
	Transient
	// AlreadyApplied errors mean the side effect exists; they count as success.
	AlreadyApplied
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case AlreadyApplied:
		return "already_applied"
	default:
		return "fatal"
	}
}

// Classifier decides how an operation error is handled.
type Classifier func(err error) Class

// Postgres SQLSTATE codes.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgAdminShutdown        = "57P01"
	pgConnectionClass      = "08"
)

type transientError interface{ Transient() bool }

// Classify is the default Classifier.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}

	if errors.Is(err, berr.ErrAlreadyApplied) || isUniqueViolation(err) {
		return AlreadyApplied
	}

	if errors.Is(err, berr.ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}

	var te transientError
	if errors.As(err, &te) && te.Transient() {
		return Transient
	}

	if isTransientPostgres(err) {
		return Transient
	}

	return Fatal
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isTransientPostgres(err error) bool {
	if pgconn.SafeToRetry(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}

	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected, pgAdminShutdown:
		return true
	}

	return strings.HasPrefix(pgErr.Code, pgConnectionClass)
}
