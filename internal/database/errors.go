package database

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// Constraint names shared by the SQL migrations and CreateSchema.
const (
	TurnCodeConstraint    = "turns_code_key"
	TurnLiveConstraint    = "turns_live_idx"
	StudentCodeConstraint = "users_student_code_key"
)

const pqUniqueViolation = "23505"

// SQLite reports the violated columns instead of the index name.
var sqliteUniqueColumns = map[string]string{
	"turns.code":         TurnCodeConstraint,
	"turns.user_id":      TurnLiveConstraint,
	"users.student_code": StudentCodeConstraint,
}

// UniqueViolation returns the name of the unique constraint err violated, if any.
func UniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code != pqUniqueViolation {
			return "", false
		}
		return pqErr.Constraint, true
	}

	msg := err.Error()
	idx := strings.Index(msg, "UNIQUE constraint failed: ")
	if idx < 0 {
		return "", false
	}
	cols := msg[idx+len("UNIQUE constraint failed: "):]
	for prefix, name := range sqliteUniqueColumns {
		if strings.HasPrefix(cols, prefix) {
			return name, true
		}
	}
	return cols, true
}

// IsUniqueViolation reports whether err violated the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	name, ok := UniqueViolation(err)
	return ok && name == constraint
}
