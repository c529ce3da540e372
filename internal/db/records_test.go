package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/medresearch/internal/models"
)

func TestRecordInt(t *testing.T) {
	tests := []struct {
		name    string
		id      any
		want    int64
		wantErr bool
	}{
		{"uint64", uint64(42), 42, false},
		{"int64", int64(7), 7, false},
		{"int", 3, 3, false},
		{"float", float64(9), 9, false},
		{"string", "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := recordInt(surrealmodels.RecordID{Table: "dialog", ID: tt.id})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRowToModel(t *testing.T) {
	d, err := dialogRow{ID: surrealmodels.RecordID{Table: "dialog", ID: uint64(5)}, UserID: 2, Title: "T"}.toModel()
	require.NoError(t, err)
	assert.Equal(t, int64(5), d.ID)
	assert.NotNil(t, d.ChatHistory, "nil history should become empty")

	f, err := findingRow{ID: surrealmodels.RecordID{Table: "finding", ID: uint64(9)}, Status: "new"}.toModel()
	require.NoError(t, err)
	assert.Equal(t, models.FindingStatusNew, f.Status)
	assert.NotNil(t, f.NewsLinks)
	assert.NotNil(t, f.PaperLinks)

	_, err = userRow{ID: surrealmodels.RecordID{Table: "app_user", ID: "x"}}.toModel()
	assert.Error(t, err)
}

func TestWrapQueryError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique index", &surrealdb.QueryError{Message: "Database index `app_user_email` already contains 'a@b.c'"}, ErrAlreadyExists},
		{"record exists", &surrealdb.QueryError{Message: "Database record `dialog:1` already exists"}, ErrAlreadyExists},
		{"conflict", &surrealdb.QueryError{Message: "Transaction conflict: Resource busy"}, ErrTransactionConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, wrapQueryError(tt.err), tt.want)
		})
	}

	plain := errors.New("boom")
	assert.Equal(t, plain, wrapQueryError(plain))
	assert.NoError(t, wrapQueryError(nil))
}
