// internal/model/measurement.go
package model

// Quantity is a numeric value tagged with a physical unit. Unit conversion
// is the caller's business; drivers only carry the tag through.
type Quantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Waveform is one channel's capture as a pair of same-length, unit-tagged
// sequences. X is derived from the sample index, so it is monotonically
// increasing by construction.
type Waveform struct {
	X     []float64 `json:"x"`
	Y     []float64 `json:"y"`
	XUnit string    `json:"x_unit"`
	YUnit string    `json:"y_unit"`
}

// Len returns the number of samples in the waveform.
func (w *Waveform) Len() int {
	return len(w.Y)
}

// MeasurementStats is a snapshot of one scope measurement slot's rolling
// statistics. The five unitful fields come from a single combined query and
// therefore share one unit and one statistical window; NSamps is read in a
// second round-trip and may lag by a window update.
type MeasurementStats struct {
	Value   Quantity `json:"value"`
	Mean    Quantity `json:"mean"`
	StdDev  Quantity `json:"stddev"`
	Minimum Quantity `json:"minimum"`
	Maximum Quantity `json:"maximum"`
	NSamps  uint     `json:"nsamps"`
}
