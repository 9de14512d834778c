package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	src, err := openSource(ctx, config, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	data, err := loadLayer(ctx, src, config, logger)
	if err != nil {
		return err
	}

	bounds := ComputeBounds(data.Present())
	if config.Layer == LayerAngle {
		bounds = angleBounds()
	}
	bounds = bounds.Override(config.MinPower, config.MaxPower)

	logger.Info("loaded field",
		slog.String("layer", string(config.Layer)),
		slog.Group("stats",
			slog.Int("cols", data.Cols()),
			slog.Int("rows", data.Rows()),
			slog.Int("valid", len(data.Present())),
			slog.String("min", fmt.Sprintf("%0.2f%s", bounds.Min, data.Unit)),
			slog.String("max", fmt.Sprintf("%0.2f%s", bounds.Max, data.Unit)),
		))

	var overlay image.Image
	if config.Overlay != "" {
		if overlay, err = loadImage(config.Overlay); err != nil {
			return fmt.Errorf("loading overlay: %w", err)
		}
	}

	renderer, err := NewFieldRenderer(RenderConfig{
		ColorTheme:    config.Theme,
		Scale:         config.Scale,
		Overlay:       overlay,
		NoAnnotations: config.NoAnnotations,
	})
	if err != nil {
		return fmt.Errorf("creating field renderer: %w", err)
	}

	img, err := renderer.Render(data, bounds)
	if err != nil {
		return fmt.Errorf("rendering field: %w", err)
	}

	logger.Info("writing field map",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.String("theme", string(config.Theme)),
			slog.Int("width", img.Bounds().Dx()),
			slog.Int("height", img.Bounds().Dy()),
		))

	if err = writeImage(config.OutputFile, config.Format, img); err != nil {
		return err
	}

	if config.ProfileFile != "" {
		row := ProfileRow(data, config.ProfileRow)
		if err = SaveProfile(config.ProfileFile, data, row); err != nil {
			return err
		}
		logger.Info("wrote row profile", slog.String("destination", config.ProfileFile), slog.Int("row", row))
	}

	return nil
}

func openSource(ctx context.Context, config *Config, logger *slog.Logger) (Source, error) {
	if config.DBPath != "" {
		src, err := newArchiveSource(ctx, config.DBPath, config.RunID, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("reading archived run",
			slog.Int64("run", src.run.ID),
			slog.String("uuid", src.run.UUID),
			slog.String("baseName", src.run.BaseName))
		return src, nil
	}
	return newArtifactSource(config.Input), nil
}

func loadLayer(ctx context.Context, src Source, config *Config, logger *slog.Logger) (*FieldData, error) {
	switch config.Layer {
	case Layer0, Layer45, Layer90:
		o, err := parseLayerOrientation(config.Layer)
		if err != nil {
			return nil, err
		}
		scan, err := src.Orientation(ctx, o)
		if err != nil {
			return nil, err
		}
		logger.Debug("orientation scan", slog.Any("summary", field.Summarize(scan.Measurements)))
		return FromOrientation(scan)
	}

	var cf *field.CombinedField
	var err error
	if config.Resynthesize {
		cf, err = resynthesize(ctx, src, logger)
	} else {
		cf, err = src.Combined(ctx)
	}
	if err != nil {
		return nil, err
	}

	if config.Layer == LayerAngle {
		return FromAngle(cf)
	}
	return FromCombined(cf)
}

func parseLayerOrientation(l Layer) (field.Orientation, error) {
	switch l {
	case Layer0:
		return field.Orientation0, nil
	case Layer45:
		return field.Orientation45, nil
	case Layer90:
		return field.Orientation90, nil
	}
	return 0, fmt.Errorf("layer %s is not an orientation", l)
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}

func writeImage(path string, format ImageFormat, img image.Image) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	switch format {
	case ImagePNG:
		err = png.Encode(out, img)

	case ImageJPEG:
		err = jpeg.Encode(out, img, &jpeg.Options{
			Quality: 98,
		})
	}
	return err
}
