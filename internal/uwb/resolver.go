// Package uwb implements 2D multilateration of a tracked subject from
// UWB anchor range measurements.
package uwb

import "math"

// Confidence constants for degenerate geometries. These are fixed floors
// rather than fit-derived scores: with two anchors or a singular system
// there is no meaningful residual to score against.
const (
	// ConfidenceTwoAnchorApprox is assigned when two range circles do not
	// meaningfully intersect and the estimate is a weighted midpoint.
	ConfidenceTwoAnchorApprox = 0.3

	// ConfidenceTwoAnchor is assigned to the two-anchor intersection foot
	// point. The two symmetric intersection candidates are not
	// disambiguated; a third anchor is required for that.
	ConfidenceTwoAnchor = 0.5

	// ConfidenceCentroidFallback is assigned when the least-squares system
	// is singular (collinear anchors) and the estimate degrades to the
	// anchor centroid.
	ConfidenceCentroidFallback = 0.2

	// ResidualDecayCm controls how fast confidence decays with mean
	// absolute range residual: exp(-err/50) gives ~0.37 at 50cm error.
	ResidualDecayCm = 50.0

	// minDeterminant is the singularity threshold for the 2x2 normal
	// equations system.
	minDeterminant = 1e-10
)

// RangeSample is one anchor-distance observation: the known anchor
// position and the measured distance to the subject, all in centimetres.
type RangeSample struct {
	AnchorX    float64
	AnchorY    float64
	DistanceCM float64
}

// Fix is a resolved 2D position with a goodness-of-fit confidence.
type Fix struct {
	X           float64
	Y           float64
	Confidence  float64 // always in [0,1]
	AnchorsUsed int
}

// Resolve estimates the subject position from anchor range samples.
// It returns ok=false for fewer than two samples (insufficient data, not
// an error). Every other input, however degenerate, yields a defined fix:
//   - exactly 2 samples: circle-intersection foot point, or a weighted
//     midpoint when the circles do not intersect
//   - 3+ samples: linear least-squares multilateration with a centroid
//     fallback for singular geometry
func Resolve(samples []RangeSample) (Fix, bool) {
	if len(samples) < 2 {
		return Fix{}, false
	}

	if len(samples) == 2 {
		return twoAnchorFix(samples[0], samples[1]), true
	}

	return multilaterate(samples), true
}

// twoAnchorFix estimates a position from exactly two range circles.
//
// When the circles intersect, the returned point is the foot of the
// chord connecting the two intersection points, projected onto the
// anchor-to-anchor line. The symmetric ambiguity (which side of the
// line the subject is on) is intentionally left unresolved.
func twoAnchorFix(s1, s2 RangeSample) Fix {
	r1, r2 := s1.DistanceCM, s2.DistanceCM
	dx := s2.AnchorX - s1.AnchorX
	dy := s2.AnchorY - s1.AnchorY
	d := math.Hypot(dx, dy)

	// Circles that are too far apart or nested do not intersect; fall
	// back to an inverse-distance-weighted midpoint.
	if d == 0 || d > r1+r2 || d < math.Abs(r1-r2) {
		total := r1 + r2
		if total == 0 {
			// Both ranges zero: nothing to weight by, split the difference.
			return Fix{
				X:           (s1.AnchorX + s2.AnchorX) / 2,
				Y:           (s1.AnchorY + s2.AnchorY) / 2,
				Confidence:  ConfidenceTwoAnchorApprox,
				AnchorsUsed: 2,
			}
		}
		return Fix{
			X:           (s1.AnchorX*r2 + s2.AnchorX*r1) / total,
			Y:           (s1.AnchorY*r2 + s2.AnchorY*r1) / total,
			Confidence:  ConfidenceTwoAnchorApprox,
			AnchorsUsed: 2,
		}
	}

	// Distance from anchor 1 to the chord foot point along the baseline.
	a := (r1*r1 - r2*r2 + d*d) / (2 * d)

	return Fix{
		X:           s1.AnchorX + a*dx/d,
		Y:           s1.AnchorY + a*dy/d,
		Confidence:  ConfidenceTwoAnchor,
		AnchorsUsed: 2,
	}
}

// multilaterate solves the 3+ anchor case with linear least squares.
//
// Subtracting the reference anchor's circle equation from every other
// eliminates the quadratic terms and leaves an overdetermined linear
// system A[x y]' = b, solved through the 2x2 normal equations in closed
// form.
func multilaterate(samples []RangeSample) Fix {
	n := len(samples)
	ref := samples[0]

	// Normal equations accumulators: ATA (2x2 symmetric) and ATb (2x1).
	var ata00, ata01, ata11 float64
	var atb0, atb1 float64

	for i := 1; i < n; i++ {
		s := samples[i]
		ai0 := 2 * (s.AnchorX - ref.AnchorX)
		ai1 := 2 * (s.AnchorY - ref.AnchorY)
		bi := s.AnchorX*s.AnchorX - ref.AnchorX*ref.AnchorX +
			s.AnchorY*s.AnchorY - ref.AnchorY*ref.AnchorY -
			s.DistanceCM*s.DistanceCM + ref.DistanceCM*ref.DistanceCM

		ata00 += ai0 * ai0
		ata01 += ai0 * ai1
		ata11 += ai1 * ai1
		atb0 += ai0 * bi
		atb1 += ai1 * bi
	}

	det := ata00*ata11 - ata01*ata01
	if math.Abs(det) < minDeterminant {
		// Collinear anchors: the normal equations are singular.
		return centroidFix(samples)
	}

	x := (ata11*atb0 - ata01*atb1) / det
	y := (ata00*atb1 - ata01*atb0) / det

	return Fix{
		X:           x,
		Y:           y,
		Confidence:  fitConfidence(x, y, samples),
		AnchorsUsed: n,
	}
}

// centroidFix returns the anchor centroid with low fixed confidence.
func centroidFix(samples []RangeSample) Fix {
	var sx, sy float64
	for _, s := range samples {
		sx += s.AnchorX
		sy += s.AnchorY
	}
	n := float64(len(samples))
	return Fix{
		X:           sx / n,
		Y:           sy / n,
		Confidence:  ConfidenceCentroidFallback,
		AnchorsUsed: len(samples),
	}
}

// fitConfidence scores how well a fitted point explains the measured
// ranges. The mean absolute residual between implied and measured
// distances maps through exponential decay, so confidence is monotone
// with goodness of fit and clamped to [0,1].
func fitConfidence(x, y float64, samples []RangeSample) float64 {
	var sum float64
	for _, s := range samples {
		implied := math.Hypot(x-s.AnchorX, y-s.AnchorY)
		sum += math.Abs(implied - s.DistanceCM)
	}
	meanErr := sum / float64(len(samples))

	confidence := math.Exp(-meanErr / ResidualDecayCm)
	return math.Min(1.0, math.Max(0.0, confidence))
}
