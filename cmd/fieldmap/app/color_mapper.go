package app

import (
	"fmt"
	"image/color"
	"math"
	"strings"
)

// ColorTheme represents a predefined color scheme for field strength maps.
type ColorTheme string

const (
	PlasmaTheme    ColorTheme = "plasma"    // Dark violet to magenta to yellow
	ClassicTheme   ColorTheme = "classic"   // Blue to red transition
	GrayscaleTheme ColorTheme = "grayscale" // Black to white transition
	JungleTheme    ColorTheme = "jungle"    // Dark green to yellow transition
	ThermalTheme   ColorTheme = "thermal"   // Black to red to yellow to white
	MarineTheme    ColorTheme = "marine"    // Deep blue to cyan to white

	DefaultColorMapSize = 256
)

// absentColor marks cells without a reading.
var absentColor = color.RGBA{R: 0xc8, G: 0xc8, B: 0xc8, A: 0xff}

var colorThemes = []ColorTheme{PlasmaTheme, ClassicTheme, GrayscaleTheme, JungleTheme, ThermalTheme, MarineTheme}

// ParseColorTheme resolves a theme name, case-insensitively.
func ParseColorTheme(name string) (ColorTheme, error) {
	for _, t := range colorThemes {
		if strings.EqualFold(name, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown colour theme: %s", name)
}

// ColorMapper maps values within PowerBounds onto a pre-computed gradient.
type ColorMapper struct {
	colorMap      []color.Color
	theme         func(float64) color.Color
	themeName     ColorTheme
	size          int
	powerPerIndex float64
	boundsMin     float64
	boundsRange   float64
}

// NewColorMapper creates a new color mapper with the default size.
func NewColorMapper(theme ColorTheme, bounds PowerBounds) *ColorMapper {
	return NewColorMapperWithSize(theme, bounds, DefaultColorMapSize)
}

// NewColorMapperWithSize creates a new color mapper with size pre-computed colors.
func NewColorMapperWithSize(theme ColorTheme, bounds PowerBounds, size int) *ColorMapper {
	if size <= 1 {
		size = DefaultColorMapSize
	}

	cm := &ColorMapper{
		colorMap:  make([]color.Color, size),
		theme:     getColorTheme(theme),
		themeName: theme,
		size:      size,
	}
	for i := 0; i < cm.size; i++ {
		cm.colorMap[i] = cm.theme(float64(i) / float64(cm.size-1))
	}
	cm.UpdateBounds(bounds)
	return cm
}

// UpdateBounds changes the value range covered by the gradient.
func (cm *ColorMapper) UpdateBounds(bounds PowerBounds) {
	cm.boundsMin = bounds.Min
	cm.boundsRange = bounds.Max - bounds.Min
	if cm.boundsRange <= 0 {
		cm.boundsRange = 1
	}
	cm.powerPerIndex = cm.boundsRange / float64(cm.size-1)
}

// GetColor returns the color for a value. A nil value yields the absent color.
func (cm *ColorMapper) GetColor(power *float64) color.Color {
	if power == nil {
		return absentColor
	}

	index := int(math.Round((*power - cm.boundsMin) / cm.powerPerIndex))
	if index < 0 {
		return cm.colorMap[0]
	}
	if index >= cm.size {
		return cm.colorMap[cm.size-1]
	}
	return cm.colorMap[index]
}

// At returns the gradient color at the normalized position t in [0, 1].
func (cm *ColorMapper) At(t float64) color.Color {
	i := int(math.Round(math.Max(0, math.Min(1, t)) * float64(cm.size-1)))
	return cm.colorMap[i]
}

func (cm *ColorMapper) ThemeName() ColorTheme {
	return cm.themeName
}

func (cm *ColorMapper) Size() int {
	return cm.size
}

// HSV is a color in hue (degrees), saturation and value, the latter two in [0, 1].
type HSV struct {
	H, S, V float64
}

// RGB converts to an opaque RGBA color.
func (hsv HSV) RGB() color.Color {
	c := hsv.V * hsv.S
	h := math.Mod(math.Mod(hsv.H, 360)+360, 360) / 60
	x := c * (1 - math.Abs(math.Mod(h, 2)-1))

	var r, g, b float64
	switch int(h) {
	case 0:
		r, g = c, x
	case 1:
		r, g = x, c
	case 2:
		g, b = c, x
	case 3:
		g, b = x, c
	case 4:
		r, b = x, c
	default:
		r, b = c, x
	}

	m := hsv.V - c
	return color.RGBA{R: channel(r + m), G: channel(g + m), B: channel(b + m), A: 255}
}

func channel(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, v*255)))
}

// gradient interpolates linearly between evenly spaced stops.
func gradient(stops ...color.RGBA) func(float64) color.Color {
	return func(t float64) color.Color {
		pos := math.Max(0, math.Min(1, t)) * float64(len(stops)-1)
		i := int(pos)
		if i >= len(stops)-1 {
			return stops[len(stops)-1]
		}

		f := pos - float64(i)
		mix := func(x, y uint8) uint8 {
			return uint8(math.Round(float64(x) + (float64(y)-float64(x))*f))
		}
		a, b := stops[i], stops[i+1]
		return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 255}
	}
}

var themeFuncs = map[ColorTheme]func(float64) color.Color{
	PlasmaTheme: gradient(
		color.RGBA{R: 13, G: 8, B: 135, A: 255},
		color.RGBA{R: 126, G: 3, B: 168, A: 255},
		color.RGBA{R: 204, G: 71, B: 120, A: 255},
		color.RGBA{R: 248, G: 149, B: 64, A: 255},
		color.RGBA{R: 240, G: 249, B: 33, A: 255},
	),
	ClassicTheme: func(t float64) color.Color {
		return HSV{H: 240 * (1 - t), S: 0.9 + 0.1*t, V: math.Pow(t, 0.7)}.RGB()
	},
	GrayscaleTheme: func(t float64) color.Color {
		return HSV{V: math.Pow(t, 0.7)}.RGB()
	},
	JungleTheme: func(t float64) color.Color {
		return HSV{H: 120 - 60*t, S: 1, V: 0.3 + 0.7*math.Pow(t, 0.6)}.RGB()
	},
	ThermalTheme: gradient(
		color.RGBA{A: 255},
		color.RGBA{R: 255, A: 255},
		color.RGBA{R: 255, G: 255, A: 255},
		color.RGBA{R: 255, G: 255, B: 255, A: 255},
	),
	MarineTheme: func(t float64) color.Color {
		return HSV{H: 240 - 60*t, S: 1 - 0.8*t, V: 0.3 + 0.7*math.Pow(t, 0.6)}.RGB()
	},
}

func getColorTheme(theme ColorTheme) func(float64) color.Color {
	if fn, ok := themeFuncs[theme]; ok {
		return fn
	}
	return themeFuncs[PlasmaTheme]
}
