package field

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Reading is a single power measurement in dBm that is either present or absent.
// The zero value is Absent, so a cell that was never measured can not be mistaken for 0 dBm.
type Reading struct {
	value float64
	ok    bool
}

// Present returns a Reading holding v dBm. NaN and infinities are treated as Absent.
func Present(v float64) Reading {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Reading{}
	}
	return Reading{value: v, ok: true}
}

// Absent returns a Reading without a value.
func Absent() Reading {
	return Reading{}
}

// Value returns the dBm value and whether it is present.
func (r Reading) Value() (float64, bool) {
	return r.value, r.ok
}

// IsPresent reports whether the reading carries a value.
func (r Reading) IsPresent() bool {
	return r.ok
}

// Ptr returns a pointer to the value, nil if absent.
func (r Reading) Ptr() *float64 {
	if !r.ok {
		return nil
	}
	v := r.value
	return &v
}

// FromPtr is the inverse of Ptr.
func FromPtr(p *float64) Reading {
	if p == nil {
		return Absent()
	}
	return Present(*p)
}

func (r Reading) String() string {
	if !r.ok {
		return "absent"
	}
	return fmt.Sprintf("%.2f dBm", r.value)
}

func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.ok {
		return []byte("null"), nil
	}
	return json.Marshal(r.value)
}

func (r *Reading) UnmarshalJSON(b []byte) error {
	var p *float64
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("field.Reading: %w", err)
	}
	*r = FromPtr(p)
	return nil
}

// Orientation is the probe rotation relative to the board, in degrees.
type Orientation int

const (
	Orientation0  Orientation = 0
	Orientation45 Orientation = 45
	Orientation90 Orientation = 90
)

var validOrientations = map[Orientation]struct{}{
	Orientation0:  {},
	Orientation45: {},
	Orientation90: {},
}

// ParseOrientation converts degrees into an Orientation.
func ParseOrientation(deg int) (Orientation, error) {
	o := Orientation(deg)
	if _, ok := validOrientations[o]; !ok {
		return 0, fmt.Errorf("field.Orientation: unsupported angle %d, must be one of 0, 45, 90", deg)
	}
	return o, nil
}

// Suffix is the artifact suffix used for per-orientation files, e.g. "45d".
func (o Orientation) Suffix() string {
	return fmt.Sprintf("%dd", int(o))
}

func (o Orientation) String() string {
	return fmt.Sprintf("%d°", int(o))
}

// Point is a grid coordinate in board-local centimetres.
type Point struct {
	X float64
	Y float64
}

// Measurement is a reading taken at one grid cell.
type Measurement struct {
	X       float64 // cm
	Y       float64 // cm
	Reading Reading
}

// Metadata describes how an orientation scan was acquired.
type Metadata struct {
	BoardSize       [2]float64  `json:"PCB_SIZE"`               // Board width and height in cm
	Resolution      float64     `json:"resolution"`             // Points per cm
	CenterFrequency float64     `json:"center_freq"`            // Hz
	Bandwidth       float64     `json:"BW"`                     // Hz
	Averages        int         `json:"nb_average"`             // Buffers averaged per reading
	Gain            float64     `json:"gain"`                   // Receiver gain in dB
	Orientation     Orientation `json:"orientation"`            // Probe rotation in degrees
	StartedAt       time.Time   `json:"started_at"`             // When the pass began
	CompletedAt     *time.Time  `json:"completed_at,omitempty"` // When the pass ended, nil if it never did
	Interrupted     bool        `json:"interrupted,omitempty"`  // Set when the pass was aborted
}

// OrientationScan holds the ordered measurements of one raster pass.
type OrientationScan struct {
	Orientation  Orientation
	Metadata     Metadata
	Measurements []Measurement
}

// Len returns the number of measured cells.
func (s *OrientationScan) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Measurements)
}

// Valid returns the number of cells with a present reading.
func (s *OrientationScan) Valid() int {
	var n int
	for _, m := range s.Measurements {
		if m.Reading.IsPresent() {
			n++
		}
	}
	return n
}

// Rows splits the measurements into rows of cols cells. The last row may be short.
func (s *OrientationScan) Rows(cols int) [][]Measurement {
	if cols <= 0 || len(s.Measurements) == 0 {
		return nil
	}

	rows := make([][]Measurement, 0, (len(s.Measurements)+cols-1)/cols)
	for i := 0; i < len(s.Measurements); i += cols {
		rows = append(rows, s.Measurements[i:min(i+cols, len(s.Measurements))])
	}
	return rows
}

// CombinedCell is one cell of a synthesized field.
type CombinedCell struct {
	X         float64 // cm
	Y         float64 // cm
	Intensity Reading // dBm
	Angle     Reading // radians, advisory
}

// CombinedField is the result of fusing orthogonal orientation scans.
type CombinedField struct {
	Metadata Metadata
	Cells    []CombinedCell
	HasAngle bool
}
