package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	ImagePNG  = "png"
	ImageJPEG = "jpeg"
)

type ImageFormat string

// Layer selects which map of a scan is rendered.
type Layer string

const (
	Layer0        Layer = "0"
	Layer45       Layer = "45"
	Layer90       Layer = "90"
	LayerCombined Layer = "combined"
	LayerAngle    Layer = "angle"
)

const defaultScale = 40 // pixels per grid cell

type Config struct {
	Input         string // artifact base name, e.g. data/scan.json
	DBPath        string
	RunID         int64
	Layer         Layer
	OutputFile    string
	Format        ImageFormat
	Theme         ColorTheme
	MaxPower      *float64
	MinPower      *float64
	Scale         int
	Overlay       string // board photo blended under the map
	ProfileFile   string
	ProfileRow    int // -1 selects the row holding the peak
	Resynthesize  bool
	Verbose       bool
	NoAnnotations bool
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

var validLayers = map[Layer]struct{}{
	Layer0:        {},
	Layer45:       {},
	Layer90:       {},
	LayerCombined: {},
	LayerAngle:    {},
}

func NewConfig() *Config {
	return &Config{
		Layer:      LayerCombined,
		Format:     ImagePNG,
		Theme:      PlasmaTheme,
		Scale:      defaultScale,
		ProfileRow: -1,
	}
}

// NewConfigFromCLI parses the process arguments.
func NewConfigFromCLI() (*Config, error) {
	return ParseArgs(os.Args[1:], os.Stderr)
}

// ParseArgs parses command line arguments into a validated Config.
// Usage is written to usage when the arguments are rejected.
func ParseArgs(args []string, usage io.Writer) (*Config, error) {
	c := NewConfig()
	fs := flag.NewFlagSet("fieldmap", flag.ContinueOnError)
	fs.SetOutput(usage)

	var imageFormat, layer, theme string
	var minPower, maxPower float64
	fs.StringVar(&c.Input, "in", "", "Artifact base name written by the scanner, e.g. data/scan.json")
	fs.StringVar(&c.DBPath, "db", "", "Path to the run archive, used instead of -in")
	fs.Int64Var(&c.RunID, "run", 0, "Run ID in the archive, the latest run when omitted")
	fs.StringVar(&layer, "layer", string(LayerCombined), "Map to render. [0, 45, 90, combined, angle]")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the output file, without extension")
	fs.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.StringVar(&theme, "theme", string(PlasmaTheme), "Colour theme. [plasma, classic, grayscale, jungle, thermal, marine]")
	fs.Float64Var(&minPower, "min-power", 0, "Define a manual minimum power (format nn.n)")
	fs.Float64Var(&maxPower, "max-power", 0, "Define a manual maximum power (format nn.n)")
	fs.IntVar(&c.Scale, "scale", defaultScale, "Pixels per grid cell")
	fs.StringVar(&c.Overlay, "overlay", "", "Board photo (png or jpeg) drawn under the map")
	fs.StringVar(&c.ProfileFile, "profile", "", "Write a row profile plot to this PNG file")
	fs.IntVar(&c.ProfileRow, "profile-row", -1, "Row of the profile plot, the peak row when negative")
	fs.BoolVar(&c.Resynthesize, "resynthesize", false, "Recombine the 0°, 90° and 45° scans instead of reading the stored combined map")
	fs.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")
	fs.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable annotations such as scales and the info bar")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	imageFormat = strings.ToLower(imageFormat)

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "min-power" {
			c.MinPower = &minPower
		}
		if f.Name == "max-power" {
			c.MaxPower = &maxPower
		}
	})

	var err error
	c.Theme, err = ParseColorTheme(theme)
	if err == nil {
		err = c.validate(ImageFormat(imageFormat), Layer(strings.ToLower(layer)))
	}
	if err != nil {
		fs.Usage()
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	c.Layer = Layer(strings.ToLower(layer))
	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}

func (c *Config) validate(format ImageFormat, layer Layer) error {
	switch {
	case c.Input == "" && c.DBPath == "":
		return errors.New("either -in or -db is required")
	case c.Input != "" && c.DBPath != "":
		return errors.New("-in and -db are mutually exclusive")
	case c.RunID < 0:
		return errors.New("run id must not be negative")
	case c.OutputFile == "":
		return errors.New("output file is required")
	case c.Scale <= 0:
		return fmt.Errorf("invalid scale: %d", c.Scale)
	case c.MinPower != nil && c.MaxPower != nil && *c.MinPower >= *c.MaxPower:
		return fmt.Errorf("min power %.1f must be below max power %.1f", *c.MinPower, *c.MaxPower)
	}

	if _, ok := validImageFormats[format]; !ok {
		return fmt.Errorf("invalid image format: %s", format)
	}
	if _, ok := validLayers[layer]; !ok {
		return fmt.Errorf("invalid layer: %s", layer)
	}
	return nil
}
