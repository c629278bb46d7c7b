package observability

import (
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ObserveDB times fn under a "<table>.<action>" op name, e.g.
// "users.create" or "reset_tokens.consume". A nil *Prom just runs fn.
func (p *Prom) ObserveDB(op string, fn func() error) error {
	if p == nil {
		return fn()
	}

	table, action := splitDBOp(op)

	start := time.Now()
	err := fn()

	status := "ok"

	if err != nil {
		status = "error"
		p.DbErrorsTotal.WithLabelValues(table, action, classifyDBErr(err)).Inc()
	}
	p.DbQueryDuration.WithLabelValues(table, action, status).Observe(time.Since(start).Seconds())
	return err
}

func splitDBOp(op string) (table, action string) {
	table, action, ok := strings.Cut(op, ".")
	if !ok || table == "" || action == "" {
		return "other", op
	}
	return table, action
}

func classifyDBErr(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if pgErr.ConstraintName == "users_email_key" {
				return "email_taken"
			}
			return "unique_violation"
		case "23503":
			// reset token recorded for a user deleted meanwhile
			return "fk_violation"
		case "22P02":
			return "invalid_input"
		case "40001":
			return "serialization_failure"
		case "57014":
			return "query_canceled"
		default:
			return "pg_" + pgErr.Code
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "connection"):
		return "connection"
	default:
		return "unknown"
	}
}
