package models

import "encoding/json"

// BoundingBox locates a detected violation within the image.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Violation is one detection returned by the remote service.
type Violation struct {
	Category    string       `json:"category"`
	Confidence  float64      `json:"confidence"`
	BoundingBox *BoundingBox `json:"boundingBox,omitempty"`
}

// Coordinates is a WGS84 point resolved by the detection service.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Location wraps the optional coordinates block of a detection response.
type Location struct {
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// DetectionResult is the parsed payload of a successful submission,
// optionally augmented with satellite enrichment data.
type DetectionResult struct {
	Success    bool            `json:"success"`
	Violations []Violation     `json:"violations"`
	Location   *Location       `json:"location,omitempty"`
	Enrichment json.RawMessage `json:"enrichment,omitempty"`
}

// ResolvedCoordinates returns the payload's coordinates, if any.
func (r *DetectionResult) ResolvedCoordinates() (Coordinates, bool) {
	if r == nil || r.Location == nil || r.Location.Coordinates == nil {
		return Coordinates{}, false
	}
	return *r.Location.Coordinates, true
}
