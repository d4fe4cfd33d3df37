package cvss

import (
	"math"
	"strings"

	tkcvss "github.com/quay/claircore/toolkit/types/cvss"
)

// Base metric weights from the CVSS v3.1 specification, section 7.4. The v3.0
// weights are identical.
var (
	v3AV  = []float64{0.85, 0.62, 0.55, 0.2} // NALP
	v3AC  = []float64{0.77, 0.44}            // LH
	v3PR  = []float64{0.85, 0.62, 0.27}      // NLH
	v3PRC = []float64{0.85, 0.68, 0.50}      // NLH, scope changed
	v3UI  = []float64{0.85, 0.62}            // NR
	v3CIA = []float64{0.56, 0.22, 0}         // HLN
)

func scoreV3(vec string) (Result, bool) {
	v, err := tkcvss.ParseV3(vec)
	if err != nil {
		return Result{}, false
	}
	get := func(m tkcvss.V3Metric) byte {
		return byte(v.Get(m))
	}
	for _, m := range []tkcvss.V3Metric{
		tkcvss.V3AttackVector, tkcvss.V3AttackComplexity, tkcvss.V3PrivilegesRequired,
		tkcvss.V3UserInteraction, tkcvss.V3Scope,
		tkcvss.V3Confidentiality, tkcvss.V3Integrity, tkcvss.V3Availability,
	} {
		switch v.Get(m) {
		case tkcvss.ValueUnset, tkcvss.ValueInvalid:
			return Result{}, false
		}
	}

	roundup := v31Roundup
	if strings.HasPrefix(vec, "CVSS:3.0/") {
		roundup = v30Roundup
	}
	changed := get(tkcvss.V3Scope) == 'C'
	pr := v3PR
	if changed {
		pr = v3PRC
	}

	c := weight("HLN", v3CIA, get(tkcvss.V3Confidentiality))
	i := weight("HLN", v3CIA, get(tkcvss.V3Integrity))
	a := weight("HLN", v3CIA, get(tkcvss.V3Availability))
	iss := 1 - (1-c)*(1-i)*(1-a)
	var impact float64
	if changed {
		impact = 7.52*(iss-0.029) - 3.25*math.Pow(iss-0.02, 15)
	} else {
		impact = 6.42 * iss
	}
	exploitability := 8.22 *
		weight("NALP", v3AV, get(tkcvss.V3AttackVector)) *
		weight("LH", v3AC, get(tkcvss.V3AttackComplexity)) *
		weight("NLH", pr, get(tkcvss.V3PrivilegesRequired)) *
		weight("NR", v3UI, get(tkcvss.V3UserInteraction))

	var base float64
	switch {
	case impact <= 0:
	case changed:
		base = roundup(math.Min(1.08*(impact+exploitability), 10))
	default:
		base = roundup(math.Min(impact+exploitability, 10))
	}

	return Result{
		Version:                V3,
		Vector:                 v.String(),
		BaseScore:              base,
		ImpactSubScore:         round1(impact),
		ExploitabilitySubScore: round1(exploitability),
	}, true
}

func v30Roundup(f float64) float64 {
	return math.Ceil(f*10) / 10
}

// V31Roundup is the "Roundup" function from CVSS v3.1 Appendix A, which avoids
// floating point surprises by working in integers.
func v31Roundup(f float64) float64 {
	i := int(math.Round(f * 100_000))
	if i%10_000 == 0 {
		return float64(i) / 100_000
	}
	return float64(i/10_000+1) / 10
}
