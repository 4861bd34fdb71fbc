package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_Empty(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "draws", []string{"id"}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCopyFrom_SchemaQualified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"archive", "draws"}, []string{"id"}).WillReturnResult(1)

	n, err := CopyFrom(context.Background(), mock, "archive.draws", []string{"id"}, [][]any{{"a"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"draws"}, []string{"id"}).WillReturnError(fmt.Errorf("conn reset"))

	_, err = CopyFrom(context.Background(), mock, "draws", []string{"id"}, [][]any{{"a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: COPY INTO draws")
}
