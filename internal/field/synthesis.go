package field

import (
	"errors"
	"fmt"
	"math"
)

const coordinateTolerance = 1e-9

// ErrGridMismatch is returned when orientation scans do not cover the same coordinates.
var ErrGridMismatch = errors.New("orientation scans cover different grids")

// Combine fuses the 0° and 90° scans into a single intensity map.
//
// Intensity is the vector magnitude of the two linear powers,
// 10*log10(sqrt(P0² + P90²)). When s45 is aligned with the other two scans
// an orientation angle atan2(P90-P0, P45) is estimated per cell. The angle is
// a heuristic indicator, not a physically normalised field direction.
//
// A cell absent in either required scan is absent in the result.
func Combine(s0, s90, s45 *OrientationScan) (*CombinedField, error) {
	if s0 == nil || s90 == nil {
		return nil, errors.New("combine: 0° and 90° scans are required")
	}
	if err := checkAligned(s0, s90); err != nil {
		return nil, fmt.Errorf("combine 0° with 90°: %w", err)
	}

	withAngle := s45 != nil && checkAligned(s0, s45) == nil

	cf := CombinedField{
		Metadata: s0.Metadata,
		Cells:    make([]CombinedCell, len(s0.Measurements)),
		HasAngle: withAngle,
	}

	for i, m0 := range s0.Measurements {
		m90 := s90.Measurements[i]
		cell := CombinedCell{X: m0.X, Y: m0.Y}

		p0, ok0 := linear(m0.Reading)
		p90, ok90 := linear(m90.Reading)
		if ok0 && ok90 {
			cell.Intensity = Present(10 * math.Log10(math.Hypot(p0, p90)))

			if withAngle {
				if p45, ok := linear(s45.Measurements[i].Reading); ok {
					cell.Angle = Present(math.Atan2(p90-p0, p45))
				}
			}
		}

		cf.Cells[i] = cell
	}

	return &cf, nil
}

// checkAligned verifies both scans visit the same coordinates in the same order.
func checkAligned(a, b *OrientationScan) error {
	if len(a.Measurements) != len(b.Measurements) {
		return fmt.Errorf("%w: %d cells vs %d cells", ErrGridMismatch, len(a.Measurements), len(b.Measurements))
	}
	for i := range a.Measurements {
		ma, mb := a.Measurements[i], b.Measurements[i]
		if math.Abs(ma.X-mb.X) > coordinateTolerance || math.Abs(ma.Y-mb.Y) > coordinateTolerance {
			return fmt.Errorf("%w: cell %d at (%.4f, %.4f) vs (%.4f, %.4f)", ErrGridMismatch, i, ma.X, ma.Y, mb.X, mb.Y)
		}
	}
	return nil
}

// linear converts a dBm reading to linear power (mW).
func linear(r Reading) (float64, bool) {
	v, ok := r.Value()
	if !ok {
		return 0, false
	}
	return math.Pow(10, v/10), true
}
