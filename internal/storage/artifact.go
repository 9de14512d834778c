package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
)

// Paths derives artifact file names from a base name: "scan.json" yields
// "scan_0d.json", "scan_45d.json", "scan_90d.json" and "scan_combined.json".
type Paths struct {
	stem string
	ext  string
}

// NewPaths splits base into stem and extension, defaulting to ".json".
func NewPaths(base string) Paths {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = ".json"
	}
	return Paths{stem: stem, ext: ext}
}

// Orientation returns the artifact path of one orientation pass.
func (p Paths) Orientation(o field.Orientation) string {
	return p.stem + "_" + o.Suffix() + p.ext
}

// Combined returns the artifact path of the synthesized field.
func (p Paths) Combined() string {
	return p.stem + "_combined" + p.ext
}

type document struct {
	Metadata field.Metadata `json:"metadata"`
	Results  []result       `json:"results"`
}

type result struct {
	X             float64        `json:"x"` // metres
	Y             float64        `json:"y"` // metres
	FieldStrength field.Reading  `json:"field_strength"`
	Angle         *field.Reading `json:"angle,omitempty"`
}

func cmToMetres(v float64) float64 {
	return v / 100
}

// metresToCM rounds away the drift of the metre round trip so scans saved
// from the same grid stay aligned.
func metresToCM(v float64) float64 {
	return math.Round(v*100*1e9) / 1e9
}

// SaveOrientation writes an orientation scan to path.
func SaveOrientation(path string, s *field.OrientationScan) error {
	if s == nil {
		return errors.New("saving orientation scan: nil scan")
	}

	doc := document{
		Metadata: s.Metadata,
		Results:  make([]result, len(s.Measurements)),
	}
	doc.Metadata.Orientation = s.Orientation

	for i, m := range s.Measurements {
		doc.Results[i] = result{
			X:             cmToMetres(m.X),
			Y:             cmToMetres(m.Y),
			FieldStrength: m.Reading,
		}
	}

	return writeJSON(path, &doc)
}

// LoadOrientation reads an orientation scan written by SaveOrientation.
func LoadOrientation(path string) (*field.OrientationScan, error) {
	var doc document
	if err := readJSON(path, &doc); err != nil {
		return nil, err
	}

	s := field.OrientationScan{
		Orientation:  doc.Metadata.Orientation,
		Metadata:     doc.Metadata,
		Measurements: make([]field.Measurement, len(doc.Results)),
	}
	for i, r := range doc.Results {
		s.Measurements[i] = field.Measurement{
			X:       metresToCM(r.X),
			Y:       metresToCM(r.Y),
			Reading: r.FieldStrength,
		}
	}

	return &s, nil
}

// SaveCombined writes a synthesized field to path. Angles are included only
// when the field carries them.
func SaveCombined(path string, cf *field.CombinedField) error {
	if cf == nil {
		return errors.New("saving combined field: nil field")
	}

	doc := document{
		Metadata: cf.Metadata,
		Results:  make([]result, len(cf.Cells)),
	}

	for i, c := range cf.Cells {
		doc.Results[i] = result{
			X:             cmToMetres(c.X),
			Y:             cmToMetres(c.Y),
			FieldStrength: c.Intensity,
		}
		if cf.HasAngle {
			angle := c.Angle
			doc.Results[i].Angle = &angle
		}
	}

	return writeJSON(path, &doc)
}

// LoadCombined reads a synthesized field written by SaveCombined.
func LoadCombined(path string) (*field.CombinedField, error) {
	var doc document
	if err := readJSON(path, &doc); err != nil {
		return nil, err
	}

	cf := field.CombinedField{
		Metadata: doc.Metadata,
		Cells:    make([]field.CombinedCell, len(doc.Results)),
	}
	for i, r := range doc.Results {
		cf.Cells[i] = field.CombinedCell{
			X:         metresToCM(r.X),
			Y:         metresToCM(r.Y),
			Intensity: r.FieldStrength,
		}
		if r.Angle != nil {
			cf.Cells[i].Angle = *r.Angle
			cf.HasAngle = true
		}
	}

	return &cf, nil
}

// writeJSON writes v next to path and renames it into place, so a reader
// never sees a partially written artifact.
func writeJSON(path string, v any) (err error) {
	dir := filepath.Dir(path)

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")

	if err = enc.Encode(v); err != nil {
		_ = f.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err = os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if err = json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
