package ai

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultClassTable(t *testing.T) {
	table := DefaultClassTable()

	assert.Equal(t, 80, table.Len())
	assert.Equal(t, "person", table.Name(0))
	assert.Equal(t, "toothbrush", table.Name(79))
	assert.Equal(t, "80", table.Name(80))
	assert.Equal(t, Color{255, 255, 255}, table.Color(-1))
}

func TestClassTable_PaletteIsStable(t *testing.T) {
	a := DefaultClassTable()
	b := DefaultClassTable()

	for i := 0; i < a.Len(); i++ {
		assert.Equal(t, a.Color(i), b.Color(i), "class %d", i)
	}
}

func TestLoadClassTable(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/models/dota.names", []byte("# DOTA v1\nplane\nship\n\nstorage tank\n"), 0644))

	table, err := LoadClassTable(fs, "/models/dota.names")
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())
	assert.Equal(t, "storage tank", table.Name(2))
}

func TestLoadClassTable_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := LoadClassTable(fs, "/missing.names")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/empty.names", []byte("\n# nothing\n"), 0644))
	_, err = LoadClassTable(fs, "/empty.names")
	assert.ErrorContains(t, err, "empty")
}
