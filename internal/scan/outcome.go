package scan

import "github.com/roman-kulish/nearfield-scanner/internal/field"

// Result classifies a finished orientation scan for reporting.
type Result int

const (
	Complete Result = iota // every cell visited
	Partial                // interrupted or aborted with some valid readings
	Empty                  // no valid reading at all
)

func (r Result) String() string {
	switch r {
	case Complete:
		return "complete"
	case Partial:
		return "partial"
	default:
		return "empty"
	}
}

// Outcome classifies s. A nil scan is Empty.
func Outcome(s *field.OrientationScan) Result {
	switch {
	case s == nil || s.Valid() == 0:
		return Empty
	case s.Metadata.Interrupted || s.Metadata.CompletedAt == nil:
		return Partial
	default:
		return Complete
	}
}
