package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
)

const (
	dpi            = 72.0
	fontSize       = 11.0
	tickMarkLength = 5
	pixelsPerLabel = 80
	colorBarWidth  = 16
	colorBarGap    = 10

	// heat map opacity over a board photo, about 65%
	overlayAlpha = 0xa6

	defaultTopBorder    = 30
	defaultLeftBorder   = 60
	defaultBottomBorder = 60
	defaultRightBorder  = 100
)

// BorderConfig defines the sizes of white space around the map
type BorderConfig struct {
	Top    int // title
	Left   int // Y scale
	Bottom int // X scale and information bar
	Right  int // colour bar
}

type RenderConfig struct {
	FontSize      float64
	ColorTheme    ColorTheme
	Scale         int         // pixels per grid cell
	Overlay       image.Image // optional board photo stretched under the map
	NoAnnotations bool
	BorderConfig  BorderConfig
}

// FieldRenderer draws a FieldData grid as a heat map.
type FieldRenderer struct {
	config RenderConfig
}

func NewFieldRenderer(config RenderConfig) (*FieldRenderer, error) {
	if config.Scale <= 0 {
		config.Scale = defaultScale
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.ColorTheme == "" {
		config.ColorTheme = PlasmaTheme
	}

	if config.NoAnnotations {
		config.BorderConfig = BorderConfig{}
	} else {
		if config.BorderConfig.Top == 0 {
			config.BorderConfig.Top = defaultTopBorder
		}
		if config.BorderConfig.Left == 0 {
			config.BorderConfig.Left = defaultLeftBorder
		}
		if config.BorderConfig.Bottom == 0 {
			config.BorderConfig.Bottom = defaultBottomBorder
		}
		if config.BorderConfig.Right == 0 {
			config.BorderConfig.Right = defaultRightBorder
		}
	}

	return &FieldRenderer{config: config}, nil
}

// MapArea returns the rectangle covered by grid cells for data.
func (r *FieldRenderer) MapArea(data *FieldData) image.Rectangle {
	b := r.config.BorderConfig
	return image.Rect(b.Left, b.Top, b.Left+data.Cols()*r.config.Scale, b.Top+data.Rows()*r.config.Scale)
}

// Render creates an image of the field with annotations.
func (r *FieldRenderer) Render(data *FieldData, bounds PowerBounds) (*image.RGBA, error) {
	if data.Cols() == 0 || data.Rows() == 0 {
		return nil, fmt.Errorf("rendering %q: empty grid", data.Title)
	}

	area := r.MapArea(data)
	full := image.Rect(0, 0, area.Max.X+r.config.BorderConfig.Right, area.Max.Y+r.config.BorderConfig.Bottom)
	img := image.NewRGBA(full)
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	colorMap := NewColorMapper(r.config.ColorTheme, bounds)

	if r.config.Overlay != nil {
		xdraw.BiLinear.Scale(img, area, r.config.Overlay, r.config.Overlay.Bounds(), xdraw.Src, nil)
	}
	r.renderField(img, area, data, colorMap)

	if r.config.NoAnnotations {
		return img, nil
	}

	ann, err := newAnnotator(annotatorConfig{
		FontSize: r.config.FontSize,
		Scale:    r.config.Scale,
		Borders:  r.config.BorderConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()

	if err = ann.annotate(img, area, data, bounds, colorMap); err != nil {
		return nil, fmt.Errorf("drawing annotations: %w", err)
	}
	return img, nil
}

// renderField paints one block per cell, row 0 at the bottom edge.
func (r *FieldRenderer) renderField(img *image.RGBA, area image.Rectangle, data *FieldData, colorMap *ColorMapper) {
	scale := r.config.Scale
	mask := image.NewUniform(color.Alpha{A: overlayAlpha})

	for row, values := range data.Values {
		y0 := area.Max.Y - (row+1)*scale
		for col, v := range values {
			x0 := area.Min.X + col*scale
			rect := image.Rect(x0, y0, x0+scale, y0+scale)

			switch {
			case r.config.Overlay == nil:
				draw.Draw(img, rect, image.NewUniform(colorMap.GetColor(v)), image.Point{}, draw.Src)
			case v != nil:
				draw.DrawMask(img, rect, image.NewUniform(colorMap.GetColor(v)), image.Point{}, mask, image.Point{}, draw.Over)
			}
		}
	}
}

type annotatorConfig struct {
	FontSize float64
	Scale    int
	Borders  BorderConfig
}

type annotator struct {
	context  *freetype.Context
	config   annotatorConfig
	fontFace font.Face
}

func newAnnotator(config annotatorConfig) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(gomono.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, area image.Rectangle, data *FieldData, bounds PowerBounds, colorMap *ColorMapper) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func() error
	}{
		{"drawing title", func() error { return a.drawTitle(area, data) }},
		{"drawing X scale", func() error { return a.drawXScale(img, area, data) }},
		{"drawing Y scale", func() error { return a.drawYScale(img, area, data) }},
		{"drawing colour bar", func() error { return a.drawColorBar(img, area, data, bounds, colorMap) }},
		{"drawing info bar", func() error { return a.drawInfoBar(img, data) }},
	}
	for _, op := range ops {
		if err := op.fn(); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}
	return nil
}

func (a *annotator) fontHeight() int {
	metrics := a.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

func (a *annotator) drawString(label string, x, y int) error {
	_, err := a.context.DrawString(label, freetype.Pt(x, y))
	return err
}

func (a *annotator) drawTitle(area image.Rectangle, data *FieldData) error {
	textY := a.config.Borders.Top - (a.config.Borders.Top-a.fontHeight())/2 - a.fontFace.Metrics().Descent.Round()
	return a.drawString(data.Title, area.Min.X, textY)
}

// labelStep returns how many cells apart scale labels are placed.
func (a *annotator) labelStep() int {
	return max(1, int(math.Ceil(float64(pixelsPerLabel)/float64(a.config.Scale))))
}

func (a *annotator) drawXScale(img *image.RGBA, area image.Rectangle, data *FieldData) error {
	textY := area.Max.Y + tickMarkLength + a.fontHeight()

	for col := 0; col < data.Cols(); col += a.labelStep() {
		x := area.Min.X + col*a.config.Scale + a.config.Scale/2

		for y := area.Max.Y; y < area.Max.Y+tickMarkLength; y++ {
			img.Set(x, y, color.Black)
		}

		label := fmt.Sprintf("%.2f", data.X[col])
		width := font.MeasureString(a.fontFace, label).Round()
		if err := a.drawString(label, x-width/2, textY); err != nil {
			return fmt.Errorf("drawing X label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawYScale(img *image.RGBA, area image.Rectangle, data *FieldData) error {
	metrics := a.fontFace.Metrics()

	for row := 0; row < data.Rows(); row += a.labelStep() {
		y := area.Max.Y - row*a.config.Scale - a.config.Scale/2

		for x := area.Min.X - tickMarkLength; x < area.Min.X; x++ {
			img.Set(x, y, color.Black)
		}

		label := fmt.Sprintf("%.2f", data.Y[row])
		width := font.MeasureString(a.fontFace, label).Round()
		textY := y + a.fontHeight()/2 - metrics.Descent.Round()
		if err := a.drawString(label, area.Min.X-tickMarkLength-2-width, textY); err != nil {
			return fmt.Errorf("drawing Y label: %w", err)
		}
	}
	return nil
}

// drawColorBar draws the gradient to the right of the map, maximum on top.
func (a *annotator) drawColorBar(img *image.RGBA, area image.Rectangle, data *FieldData, bounds PowerBounds, colorMap *ColorMapper) error {
	x0 := area.Max.X + colorBarGap
	height := area.Dy()

	for y := 0; y < height; y++ {
		t := 1 - float64(y)/float64(max(1, height-1))
		c := colorMap.At(t)
		for x := x0; x < x0+colorBarWidth; x++ {
			img.Set(x, area.Min.Y+y, c)
		}
	}

	type barLabel struct {
		value float64
		y     int
	}
	labels := []barLabel{
		{bounds.Max, area.Min.Y + a.fontHeight()/2},
		{bounds.Min, area.Max.Y},
	}
	if height >= 4*a.fontHeight() {
		labels = append(labels, barLabel{(bounds.Min + bounds.Max) / 2, area.Min.Y + height/2 + a.fontHeight()/2})
	}

	for _, l := range labels {
		label := fmt.Sprintf("%.1f %s", l.value, data.Unit)
		if err := a.drawString(label, x0+colorBarWidth+4, l.y); err != nil {
			return fmt.Errorf("drawing colour bar label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, data *FieldData) error {
	md := data.Metadata
	parts := []string{
		fmt.Sprintf("Freq: %s", humanize.SIWithDigits(md.CenterFrequency, 2, "Hz")),
		fmt.Sprintf("BW: %s", humanize.SIWithDigits(md.Bandwidth, 2, "Hz")),
		fmt.Sprintf("Board: %.2f x %.2f cm", md.BoardSize[0], md.BoardSize[1]),
		fmt.Sprintf("%g pt/cm", md.Resolution),
	}
	if md.Averages > 0 {
		parts = append(parts, fmt.Sprintf("%d avg", md.Averages))
	}

	metrics := a.fontFace.Metrics()
	textY := img.Bounds().Max.Y - (a.config.Borders.Bottom/2-a.fontHeight())/2 - metrics.Descent.Round()
	if err := a.drawString(strings.Join(parts, "; "), 4, textY); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}
	return nil
}
