package app

import (
	"flag"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs_Defaults(t *testing.T) {
	c, err := ParseArgs([]string{"-in", "data/scan.json", "-o", "out/map"}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "data/scan.json", c.Input)
	assert.Equal(t, LayerCombined, c.Layer)
	assert.Equal(t, ImageFormat(ImagePNG), c.Format)
	assert.Equal(t, PlasmaTheme, c.Theme)
	assert.Equal(t, "out/map.png", c.OutputFile)
	assert.Equal(t, defaultScale, c.Scale)
	assert.Equal(t, -1, c.ProfileRow)
	assert.Nil(t, c.MinPower)
	assert.Nil(t, c.MaxPower)
}

func TestParseArgs_Archive(t *testing.T) {
	c, err := ParseArgs([]string{
		"-db", "scan.sqlite", "-run", "3", "-layer", "ANGLE", "-f", "JPEG", "-theme", "Thermal",
		"-min-power", "-80", "-max-power", "-30.5", "-o", "angle",
	}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, int64(3), c.RunID)
	assert.Equal(t, LayerAngle, c.Layer)
	assert.Equal(t, ImageFormat(ImageJPEG), c.Format)
	assert.Equal(t, ThermalTheme, c.Theme)
	assert.Equal(t, "angle.jpeg", c.OutputFile)
	require.NotNil(t, c.MinPower)
	require.NotNil(t, c.MaxPower)
	assert.Equal(t, -80.0, *c.MinPower)
	assert.Equal(t, -30.5, *c.MaxPower)
}

func TestParseArgs_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no source", []string{"-o", "x"}},
		{"both sources", []string{"-in", "a.json", "-db", "a.sqlite", "-o", "x"}},
		{"no output", []string{"-in", "a.json"}},
		{"bad format", []string{"-in", "a.json", "-o", "x", "-f", "gif"}},
		{"bad layer", []string{"-in", "a.json", "-o", "x", "-layer", "30"}},
		{"bad theme", []string{"-in", "a.json", "-o", "x", "-theme", "neon"}},
		{"zero scale", []string{"-in", "a.json", "-o", "x", "-scale", "0"}},
		{"negative run", []string{"-db", "a.sqlite", "-run", "-1", "-o", "x"}},
		{"inverted range", []string{"-in", "a.json", "-o", "x", "-min-power", "-20", "-max-power", "-40"}},
		{"unknown flag", []string{"-in", "a.json", "-o", "x", "-session", "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArgs(tt.args, io.Discard)
			assert.Error(t, err)
		})
	}
}

func TestParseArgs_Help(t *testing.T) {
	_, err := ParseArgs([]string{"-h"}, io.Discard)
	assert.ErrorIs(t, err, flag.ErrHelp)
}
