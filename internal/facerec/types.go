// Package facerec provides the face recognition provider abstraction and
// matching pipeline. Three backends implement the same Provider contract: a
// local dlib-based detector, a stateless AWS Rekognition comparator and a
// stateful Azure Face person-group comparator.
package facerec

// Box is a face bounding box in source-image pixel coordinates.
type Box struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Area returns the box area in pixels.
func (b Box) Area() int {
	w := b.Right - b.Left
	h := b.Bottom - b.Top
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Encoding represents one detected face: a backend-defined feature vector
// plus provenance metadata. Vectors from different backends live in
// different spaces and are never compared to one another.
type Encoding struct {
	Vector     []float32 `json:"vector"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence,omitempty"` // detector certainty, 0-1, 0 when unknown
	Box        *Box      `json:"bounding_box,omitempty"`

	// remoteID is a short-lived service-side face handle set by backends
	// that identify faces remotely. Never cached.
	remoteID string
}

// Match is the verdict for one detected face compared against the loaded
// reference set.
type Match struct {
	IsMatch    bool    `json:"is_match"`
	Confidence float64 `json:"confidence"` // 0-1, backend-normalized
	Distance   float64 `json:"distance"`   // lower = more similar; 1-confidence for similarity-only backends
	Matched    *Encoding
}

// ReferenceSet holds the encodings built from the reference photos of the
// target person. It is built once per provider instantiation (or loaded
// from the cache) and treated as read-only afterwards.
type ReferenceSet struct {
	Provider    string     `json:"provider"`
	Fingerprint string     `json:"fingerprint"`
	Encodings   []Encoding `json:"encodings"`
}

// Count returns the number of reference encodings.
func (r *ReferenceSet) Count() int {
	if r == nil {
		return 0
	}
	return len(r.Encodings)
}

// Vectors returns the raw reference vectors in order.
func (r *ReferenceSet) Vectors() [][]float32 {
	out := make([][]float32, len(r.Encodings))
	for i := range r.Encodings {
		out[i] = r.Encodings[i].Vector
	}
	return out
}
