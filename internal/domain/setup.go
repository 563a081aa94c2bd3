package domain

import "time"

// Setup is a locally detected entry candidate. Stop and Target are hints in
// price terms; the lifecycle manager re-anchors them to the live quote when
// the position opens.
type Setup struct {
	Instrument string    `json:"instrument"`
	Kind       string    `json:"kind"`
	Direction  Direction `json:"direction"`
	Price      float64   `json:"price"`
	Stop       float64   `json:"stop"`
	Target     float64   `json:"target"`
	Confidence float64   `json:"confidence"`
	DetectedAt time.Time `json:"detected_at"`
	Notes      string    `json:"notes,omitempty"`
}

// Valid reports whether stop and target sit on the correct sides of price
// for the setup's direction.
func (s Setup) Valid() bool {
	if s.Price <= 0 {
		return false
	}
	if s.Direction == Short {
		return s.Stop > s.Price && s.Target < s.Price && s.Target > 0
	}
	return s.Stop < s.Price && s.Stop > 0 && s.Target > s.Price
}
