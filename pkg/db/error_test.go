package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: documents.doc_key")))
	assert.False(t, IsDuplicateKeyErr(errors.New("boom")))
}

func TestIsConnectionErr(t *testing.T) {
	assert.True(t, IsConnectionErr(&pgconn.PgError{Code: "08006"}))
	assert.True(t, IsConnectionErr(&pgconn.PgError{Code: "57P01"}))
	assert.False(t, IsConnectionErr(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsConnectionErr(errors.New("boom")))
}
