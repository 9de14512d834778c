package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/plotter"
)

func TestProfilePoints(t *testing.T) {
	d := testData(t)

	pts, err := ProfilePoints(d, 0)
	require.NoError(t, err)
	assert.Equal(t, plotter.XYs{{X: 0, Y: -60}, {X: 0.5, Y: -58}}, pts)

	_, err = ProfilePoints(d, 2)
	assert.Error(t, err)
}

func TestProfileRow(t *testing.T) {
	d := testData(t)

	assert.Equal(t, 1, ProfileRow(d, -1))
	assert.Equal(t, 0, ProfileRow(d, 0))
	assert.Equal(t, 0, ProfileRow(&FieldData{}, -1))
}

func TestSaveProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.png")

	require.NoError(t, SaveProfile(path, testData(t), 1))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
