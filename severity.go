package nspmirror

import (
	"bytes"
	"database/sql/driver"
	"fmt"
)

// Severity is the normalized qualitative severity of a Vulnerability.
type Severity uint

//go:generate go tool stringer -type=Severity

// These are the qualitative ratings shared by CVSS v3.x and v4.0. CVSS v2 has
// no defined mapping, so the v3 bands are used for it as well.
const (
	Unknown Severity = iota
	None
	Low
	Medium
	High
	Critical
)

// SeverityFromScore maps a CVSS base score onto the qualitative bands.
func SeverityFromScore(s float64) Severity {
	switch {
	case s < 0 || s > 10:
		return Unknown
	case s == 0:
		return None
	case s < 4:
		return Low
	case s < 7:
		return Medium
	case s < 9:
		return High
	default:
		return Critical
	}
}

func (s *Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	// This depends on the contents of severity_string.go.
	i := bytes.Index([]byte(_Severity_name), b)
	if i == -1 || len(b) == 0 {
		return fmt.Errorf("unknown severity %q", string(b))
	}
	idx := uint8(i)
	for n, off := range _Severity_index[:len(_Severity_index)-1] {
		if idx == off && int(_Severity_index[n+1]) == i+len(b) {
			*s = Severity(n)
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", string(b))
}

func (s Severity) Value() (driver.Value, error) {
	return s.String(), nil
}

func (s *Severity) Scan(i interface{}) error {
	switch v := i.(type) {
	case []byte:
		return s.UnmarshalText(v)
	case string:
		return s.UnmarshalText([]byte(v))
	case int64:
		if v < 0 || v >= int64(len(_Severity_index)-1) {
			return fmt.Errorf("unable to scan Severity from enum %d", v)
		}
		*s = Severity(v)
	case nil:
		*s = Unknown
	default:
		return fmt.Errorf("unable to scan Severity from type %T", i)
	}
	return nil
}
