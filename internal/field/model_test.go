package field

import (
	"encoding/json"
	"math"
	"testing"
)

func TestReading_ZeroValueIsAbsent(t *testing.T) {
	var r Reading
	if r.IsPresent() {
		t.Fatal("Expected zero Reading to be absent")
	}
	if r.Ptr() != nil {
		t.Errorf("Expected nil pointer for absent reading")
	}
}

func TestReading_NonFiniteIsAbsent(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if Present(v).IsPresent() {
			t.Errorf("Expected Present(%v) to be absent", v)
		}
	}
}

func TestReading_JSON(t *testing.T) {
	tests := []struct {
		name string
		in   Reading
		want string
	}{
		{"present", Present(-42.5), "-42.5"},
		{"absent", Absent(), "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.in)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(b) != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, b)
			}

			var back Reading
			if err = json.Unmarshal(b, &back); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if back != tt.in {
				t.Errorf("Expected %v, got %v", tt.in, back)
			}
		})
	}
}

func TestParseOrientation(t *testing.T) {
	for _, deg := range []int{0, 45, 90} {
		o, err := ParseOrientation(deg)
		if err != nil {
			t.Errorf("Unexpected error for %d: %v", deg, err)
		}
		if int(o) != deg {
			t.Errorf("Expected %d, got %d", deg, o)
		}
	}

	if _, err := ParseOrientation(30); err == nil {
		t.Error("Expected error for 30 degrees")
	}

	if got := Orientation45.Suffix(); got != "45d" {
		t.Errorf("Expected suffix 45d, got %s", got)
	}
}

func TestOrientationScan_Rows(t *testing.T) {
	s := OrientationScan{Measurements: make([]Measurement, 7)}

	rows := s.Rows(3)
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(rows))
	}
	if len(rows[2]) != 1 {
		t.Errorf("Expected short last row of 1, got %d", len(rows[2]))
	}
	if s.Rows(0) != nil {
		t.Errorf("Expected nil rows for zero columns")
	}
}
