// Package cvss derives scores from CVSS v2 and v3 vectors.
//
// Vector parsing and validation is delegated to the claircore toolkit; this
// package adds the base score and the impact and exploitability sub-scores that
// the advisory records carry.
package cvss

import (
	"math"
	"strings"

	tkcvss "github.com/quay/claircore/toolkit/types/cvss"
)

// SchemaVersion identifies which CVSS specification a Result was computed
// under.
type SchemaVersion uint8

//go:generate go tool stringer -type=SchemaVersion -linecomment

// Supported schema versions.
const (
	V2 SchemaVersion = iota + 2 // CVSSv2
	V3                          // CVSSv3
)

// Result is a scored vector.
type Result struct {
	Version                SchemaVersion
	Vector                 string
	BaseScore              float64
	ImpactSubScore         float64
	ExploitabilitySubScore float64
}

// Score parses the vector and computes its scores.
//
// The reported bool is false if the vector is blank, malformed, or of a version
// this package does not score (v4.0 and later).
func Score(vec string) (Result, bool) {
	vec = strings.TrimSpace(vec)
	if vec == "" {
		return Result{}, false
	}
	switch tkcvss.Version(vec) {
	case 3:
		return scoreV3(vec)
	case 2:
		if !strings.HasPrefix(vec, "CVSS:") {
			return scoreV2(strings.Trim(vec, "()"))
		}
		// Only an explicit 2.0 header is accepted; other headers are versions
		// newer than this package knows about.
		if rest, ok := strings.CutPrefix(vec, "CVSS:2.0/"); ok {
			return scoreV2(rest)
		}
	}
	return Result{}, false
}

// Qualitative reports the rating band for a base score.
//
// CVSS v2 defines no bands of its own, so the v3 bands are used for all
// versions. Out-of-range scores are reported as "Unknown".
func Qualitative(score float64) string {
	switch {
	case score < 0 || score > 10:
		return "Unknown"
	case score == 0:
		return "None"
	case score < 4:
		return "Low"
	case score < 7:
		return "Medium"
	case score < 9:
		return "High"
	}
	return "Critical"
}

// Weight looks up the weight for metric value b. The values string lists the
// abbreviated metric values in the same order as ws.
func weight(values string, ws []float64, b byte) float64 {
	i := strings.IndexByte(values, b)
	if i == -1 {
		panic("programmer error: unvalidated metric value")
	}
	return ws[i]
}

// Round1 rounds half-up to one decimal place.
func round1(f float64) float64 {
	return math.Floor(f*10+0.5) / 10
}
