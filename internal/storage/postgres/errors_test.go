package postgres

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/xenking/commerce-core/internal/domain"
)

func TestMapTxError(t *testing.T) {
	storeDown := errors.New("dial tcp: connection refused")

	tests := []struct {
		name     string
		err      error
		conflict bool
	}{
		{name: "nil", err: nil},
		{name: "deadline on read", err: errors.Wrap(context.DeadlineExceeded, "select ticket"), conflict: true},
		{name: "unique violation", err: &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "enrollments_live_key"}, conflict: true},
		{name: "serialization failure", err: errors.Wrap(&pgconn.PgError{Code: codeSerializationFailure}, "commit"), conflict: true},
		{name: "statement timeout", err: &pgconn.PgError{Code: codeQueryCanceled}, conflict: true},
		{name: "check violation", err: &pgconn.PgError{Code: "23514"}},
		{name: "store down", err: storeDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapTxError(tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			assert.Equal(t, tt.conflict, errors.Is(got, domain.ErrConflict))
			if !tt.conflict {
				assert.Equal(t, tt.err, got)
			}
		})
	}
}
