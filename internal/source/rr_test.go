package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renalreg/timeline-sync/internal/identity"
)

func TestMssqlArgs(t *testing.T) {
	placeholders, args := mssqlArgs([]int64{10, 20, 30})
	assert.Equal(t, "@p1, @p2, @p3", placeholders)
	assert.Equal(t, []any{int64(10), int64(20), int64(30)}, args)

	placeholders, args = mssqlArgs([]string{"a"})
	assert.Equal(t, "@p1", placeholders)
	assert.Equal(t, []any{"a"}, args)
}

func TestChunked(t *testing.T) {
	values := []int64{1, 2, 3, 4, 5}

	chunks := chunked(values, 2)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int64{1, 2}, chunks[0])
	assert.Equal(t, []int64{5}, chunks[2])

	assert.Len(t, chunked(values, 5), 1)
	assert.Len(t, chunked(values, 1000), 1)
	assert.Nil(t, chunked([]int64{}, 10))
}

func TestRegistryColumn(t *testing.T) {
	col, err := registryColumn(identity.KindNHS)
	require.NoError(t, err)
	assert.Equal(t, "NEW_NHS_NO", col)

	col, err = registryColumn(identity.KindCHI)
	require.NoError(t, err)
	assert.Equal(t, "CHI_NO", col)

	col, err = registryColumn(identity.KindHSC)
	require.NoError(t, err)
	assert.Equal(t, "HSC_NO", col)

	_, err = registryColumn(identity.IdentifierKind(99))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no registry column")
}
