package cvss

import (
	tkcvss "github.com/quay/claircore/toolkit/types/cvss"
)

// Base metric weights from the CVSS v2.0 guide, section 3.2.1.
var (
	v2AV  = []float64{0.395, 0.646, 1.0} // LAN
	v2AC  = []float64{0.35, 0.61, 0.71}  // HML
	v2Au  = []float64{0.45, 0.56, 0.704} // MSN
	v2CIA = []float64{0.0, 0.275, 0.660} // NPC
)

func scoreV2(vec string) (Result, bool) {
	v, err := tkcvss.ParseV2(vec)
	if err != nil {
		return Result{}, false
	}
	get := func(m tkcvss.V2Metric) byte {
		return byte(v.Get(m))
	}
	for _, m := range []tkcvss.V2Metric{
		tkcvss.V2AccessVector, tkcvss.V2AccessComplexity, tkcvss.V2Authentication,
		tkcvss.V2Confidentiality, tkcvss.V2Integrity, tkcvss.V2Availability,
	} {
		switch v.Get(m) {
		case tkcvss.ValueUnset, tkcvss.ValueInvalid:
			return Result{}, false
		}
	}

	c := weight("NPC", v2CIA, get(tkcvss.V2Confidentiality))
	i := weight("NPC", v2CIA, get(tkcvss.V2Integrity))
	a := weight("NPC", v2CIA, get(tkcvss.V2Availability))
	impact := 10.41 * (1 - (1-c)*(1-i)*(1-a))
	exploitability := 20 *
		weight("LAN", v2AV, get(tkcvss.V2AccessVector)) *
		weight("HML", v2AC, get(tkcvss.V2AccessComplexity)) *
		weight("MSN", v2Au, get(tkcvss.V2Authentication))
	f := 1.176
	if impact == 0 {
		f = 0
	}
	base := round1(((0.6 * impact) + (0.4 * exploitability) - 1.5) * f)

	return Result{
		Version:                V2,
		Vector:                 v.String(),
		BaseScore:              base,
		ImpactSubScore:         round1(impact),
		ExploitabilitySubScore: round1(exploitability),
	}, true
}
