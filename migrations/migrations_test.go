//go:build integration

package migrations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-finsight/pkg/testhelpers"
)

func Test_001_QueryLogColumns(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	rows, err := testDB.DB.Query(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_name = 'finsight_query_log'`)
	require.NoError(t, err)
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		columns = append(columns, name)
	}
	require.NoError(t, rows.Err())

	for _, want := range []string{"client_id", "question", "sql_text", "execution_time_ms", "bytes_processed", "from_precalc", "created_at"} {
		assert.Contains(t, columns, want)
	}
}

func Test_002_BusinessConfigPrimaryKey(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	_, err := testDB.DB.Exec(ctx, `
		INSERT INTO finsight_business_configs (client_id, dataset_id, document)
		VALUES ('pk_test', 'finance', '{}'::jsonb)
		ON CONFLICT (client_id, dataset_id) DO NOTHING`)
	require.NoError(t, err)

	_, err = testDB.DB.Exec(ctx, `
		INSERT INTO finsight_business_configs (client_id, dataset_id, document)
		VALUES ('pk_test', 'finance', '{}'::jsonb)`)
	assert.Error(t, err, "duplicate tenant key should be rejected")
}
