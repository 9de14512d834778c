package field

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary holds advisory statistics over a set of measurements.
type Summary struct {
	Total int
	Valid int
	Mean  Reading // linear-domain mean, in dBm
	Min   Reading
	Max   Reading
}

// Summarize computes statistics over the present readings in ms.
func Summarize(ms []Measurement) Summary {
	s := Summary{Total: len(ms)}

	values := make([]float64, 0, len(ms))
	for _, m := range ms {
		if v, ok := m.Reading.Value(); ok {
			values = append(values, v)
		}
	}

	s.Valid = len(values)
	if s.Valid == 0 {
		return s
	}

	s.Min = Present(floats.Min(values))
	s.Max = Present(floats.Max(values))

	s.Mean = MeanDBm(values)

	return s
}

// MeanDBm averages dBm values in the linear domain. An empty set is Absent.
func MeanDBm(values []float64) Reading {
	if len(values) == 0 {
		return Absent()
	}

	lin := make([]float64, len(values))
	for i, v := range values {
		lin[i] = math.Pow(10, v/10)
	}
	return Present(10 * math.Log10(stat.Mean(lin, nil)))
}

// AllAbsent reports whether no cell carried a reading.
func (s Summary) AllAbsent() bool {
	return s.Total > 0 && s.Valid == 0
}

// LogValue renders the summary as a slog group.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("total", s.Total),
		slog.Int("valid", s.Valid),
		slog.String("mean", s.Mean.String()),
		slog.String("min", s.Min.String()),
		slog.String("max", s.Max.String()),
	)
}
