package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedDirLayout(t *testing.T) {
	dir := SeedDir("/repo/pkg", "base")
	assert.Equal(t, "/repo/pkg/.devac/seed/base", dir)
	assert.Equal(t, "/repo/pkg/.devac/seed/base/nodes.parquet", ParquetPath("/repo/pkg", "base", TableNodes))
}

func TestDedupKeyPerTable(t *testing.T) {
	tables := []string{TableNodes, TableEdges, TableExternalRefs, TableEffects}
	for _, tbl := range tables {
		key, err := DedupKey(tbl)
		require.NoError(t, err)
		assert.NotEmpty(t, key)
	}

	_, err := DedupKey("bogus")
	assert.Error(t, err)
}

func TestUnifiedViewSQL_BothPartitions(t *testing.T) {
	sql, err := UnifiedViewSQL(TableNodes, true, true)
	require.NoError(t, err)
	assert.Contains(t, sql, "UNION ALL")
	assert.Contains(t, sql, "NOT EXISTS")
	assert.Contains(t, sql, "branch.entity_id = base.entity_id")
}

func TestUnifiedViewSQL_DegeneratesToSurvivor(t *testing.T) {
	branchOnly, err := UnifiedViewSQL(TableEdges, false, true)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM branch WHERE NOT is_deleted", branchOnly)

	baseOnly, err := UnifiedViewSQL(TableEdges, true, false)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM base WHERE NOT is_deleted", baseOnly)
}

func TestUnifiedViewSQL_NeitherPartitionIsEmpty(t *testing.T) {
	sql, err := UnifiedViewSQL(TableNodes, false, false)
	require.NoError(t, err)
	assert.Contains(t, sql, "0=1")
}
