package facerec

import (
	"context"

	"github.com/pvondra/facefinder/internal/metrics"
)

// Provider defines the contract shared by all face recognition backends.
//
// A Provider instance is not safe for concurrent use; workers that process
// photos in parallel must each hold their own instance. The ReferenceSet a
// provider builds is read-only after LoadReferences returns.
type Provider interface {
	// Name returns the stable backend identifier used for cache
	// fingerprinting and logging ("local", "aws", "azure").
	Name() string

	// ValidateConfig checks required credentials, paths and parameter
	// ranges without making a billed API call where avoidable. It returns
	// a *ConfigError describing the first invalid field.
	ValidateConfig() error

	// LoadReferences decodes each reference photo, detects and encodes the
	// most prominent face and appends it to the reference set. Photos that
	// fail to decode or contain no face are logged and skipped; the call
	// fails with ErrNoReferenceFaces only when the resulting set is empty.
	// Returns the number of faces loaded. May consult or populate the
	// encoding cache.
	LoadReferences(ctx context.Context, paths []string) (int, error)

	// DetectFaces runs pure detection on an image. An image with no faces
	// yields an empty slice, not an error.
	DetectFaces(ctx context.Context, image []byte, source string) ([]Encoding, error)

	// CompareFaces compares one detected encoding against the loaded
	// reference set using the backend's native metric. Backends that can
	// only compare whole images (the stateless remote comparator) document
	// this as a no-op; for those, comparison happens inside FindMatches.
	CompareFaces(enc Encoding, tolerance float64) (Match, error)

	// FindMatches detects every face in the image and compares each one
	// against the reference set. Returns the matches and the total number
	// of faces detected. This is the per-photo entry point orchestrators
	// call.
	FindMatches(ctx context.Context, image []byte, source string, tolerance float64) ([]Match, int, error)

	// ReferenceCount reports the number of loaded reference faces.
	ReferenceCount() int

	// Usage returns the provider's API call and cost counters.
	Usage() *metrics.Usage
}

// findMatches is the shared detect-then-compare composition used by
// backends whose CompareFaces works on single encodings.
func findMatches(ctx context.Context, p Provider, image []byte, source string, tolerance float64) ([]Match, int, error) {
	detected, err := p.DetectFaces(ctx, image, source)
	if err != nil {
		return nil, 0, err
	}

	var matches []Match
	for _, enc := range detected {
		m, err := p.CompareFaces(enc, tolerance)
		if err != nil {
			return nil, len(detected), err
		}
		if m.IsMatch {
			matches = append(matches, m)
		}
	}

	return matches, len(detected), nil
}
