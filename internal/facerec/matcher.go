package facerec

import "math"

// VotePolicy decides how many reference encodings must fall within
// tolerance for a face to count as a match. Fraction 0 keeps the default
// behavior: any single reference within tolerance suffices. The policy
// deliberately counts per-reference votes instead of averaging distances,
// which would wash out legitimate variation across angles and lighting.
type VotePolicy struct {
	Fraction float64
}

// RequiredVotes returns the number of references that must match for the
// given reference count. Always at least 1 and never more than the total.
func (p VotePolicy) RequiredVotes(totalRefs int) int {
	if totalRefs <= 0 {
		return 0
	}
	need := int(math.Ceil(p.Fraction * float64(totalRefs)))
	if need < 1 {
		need = 1
	}
	if need > totalRefs {
		need = totalRefs
	}
	return need
}

// Matcher applies the tolerance/vote decision to a detected encoding and a
// reference set. It is used by backends that expose client-side vectors.
type Matcher struct {
	policy VotePolicy
}

// NewMatcher creates a matcher with the given vote fraction.
func NewMatcher(voteFraction float64) *Matcher {
	return &Matcher{policy: VotePolicy{Fraction: voteFraction}}
}

// EuclideanDistance returns the L2 distance between two vectors, or +Inf
// when the dimensions differ (vectors from different backends must never
// be compared).
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Match compares one detected encoding against every reference encoding
// and produces a single verdict. References within tolerance count as
// votes; the verdict is a match when the vote count meets the policy's
// requirement. The closest reference is recorded regardless of which
// references voted.
func (m *Matcher) Match(enc Encoding, refs *ReferenceSet, tolerance float64) Match {
	if refs.Count() == 0 {
		return Match{IsMatch: false, Confidence: 0, Distance: 1}
	}

	votes := 0
	bestIdx := -1
	bestDistance := math.Inf(1)

	for i := range refs.Encodings {
		d := EuclideanDistance(refs.Encodings[i].Vector, enc.Vector)
		if d <= tolerance {
			votes++
		}
		if d < bestDistance {
			bestDistance = d
			bestIdx = i
		}
	}

	isMatch := votes >= m.policy.RequiredVotes(refs.Count())

	match := Match{
		IsMatch:    isMatch,
		Distance:   bestDistance,
		Confidence: math.Max(0, 1-bestDistance),
	}
	if isMatch && bestIdx >= 0 {
		match.Matched = &refs.Encodings[bestIdx]
	}
	return match
}
