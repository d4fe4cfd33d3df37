// Package nspmirror holds the domain types shared by the advisory mirror: the
// normalized vulnerability record, its CVSS data, and the error domain.
package nspmirror

import (
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver"
)

// Source identifies the feed a Vulnerability was mirrored from.
type Source string

// SourceNSP is the tag for records from the Node Security Platform advisory
// feed.
const SourceNSP Source = "NSP"

// RecordType names the record type in reindex notifications.
const RecordType = "vulnerability"

// CVSS is the scoring information for one CVSS schema version.
type CVSS struct {
	Vector                 string  `json:"vector"`
	BaseScore              float64 `json:"base_score"`
	ImpactSubScore         float64 `json:"impact_subscore"`
	ExploitabilitySubScore float64 `json:"exploitability_subscore"`
}

// Vulnerability is the canonical record produced from one advisory.
//
// The identity of a Vulnerability is the (Source, VulnID) pair. At most one of
// CVSSv2 and CVSSv3 is populated. A zero time.Time means the corresponding
// date was absent from the advisory.
type Vulnerability struct {
	Source      Source `json:"source"`
	VulnID      string `json:"vuln_id"`
	Title       string `json:"title"`
	SubTitle    string `json:"subtitle"`
	Description string `json:"description"`

	Created   time.Time `json:"created"`
	Published time.Time `json:"published"`
	Updated   time.Time `json:"updated"`

	CVSSv2 *CVSS `json:"cvss_v2,omitempty"`
	CVSSv3 *CVSS `json:"cvss_v3,omitempty"`

	Credits            string   `json:"credits"`
	Recommendation     string   `json:"recommendation"`
	References         string   `json:"references"`
	VulnerableVersions string   `json:"vulnerable_versions"`
	PatchedVersions    string   `json:"patched_versions"`
	CVEs               []string `json:"cves,omitempty"`
	// PackageURL is the purl of the affected package, if one could be built.
	PackageURL string `json:"package_url,omitempty"`
}

// Key reports the identity of the Vulnerability.
func (v *Vulnerability) Key() string {
	return string(v.Source) + "/" + v.VulnID
}

// Severity reports the qualitative severity of the most recent CVSS version
// present.
func (v *Vulnerability) Severity() Severity {
	switch {
	case v.CVSSv3 != nil:
		return SeverityFromScore(v.CVSSv3.BaseScore)
	case v.CVSSv2 != nil:
		return SeverityFromScore(v.CVSSv2.BaseScore)
	}
	return Unknown
}

// Affects reports whether the provided version is inside VulnerableVersions
// and not inside PatchedVersions.
//
// Both fields use npm range syntax.
func (v *Vulnerability) Affects(version string) (bool, error) {
	ver, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("nspmirror: bad version %q: %w", version, err)
	}
	vuln, err := ParseRange(v.VulnerableVersions)
	if err != nil {
		return false, err
	}
	if !vuln.Check(ver) {
		return false, nil
	}
	if strings.TrimSpace(v.PatchedVersions) == "" {
		return true, nil
	}
	fixed, err := ParseRange(v.PatchedVersions)
	if err != nil {
		return false, err
	}
	return !fixed.Check(ver), nil
}

// ParseRange parses an npm-style version range.
//
// Npm separates comparators in a set with whitespace where the semver package
// expects commas, so each "||" alternative is rewritten before parsing.
// Hyphen ranges are left for the semver package to handle.
func ParseRange(r string) (*semver.Constraints, error) {
	r = strings.TrimSpace(r)
	if r == "" {
		return nil, fmt.Errorf("nspmirror: empty version range")
	}
	alts := strings.Split(r, "||")
	for i, alt := range alts {
		alt = strings.TrimSpace(alt)
		if alt == "" || strings.Contains(alt, " - ") {
			alts[i] = alt
			continue
		}
		var set []string
		var op string
		for _, f := range strings.Fields(alt) {
			if strings.Trim(f, "<>=~^!") == "" {
				op += f
				continue
			}
			set = append(set, op+f)
			op = ""
		}
		if op != "" {
			return nil, fmt.Errorf("nspmirror: dangling operator in range %q", r)
		}
		alts[i] = strings.Join(set, ",")
	}
	c, err := semver.NewConstraint(strings.Join(alts, "||"))
	if err != nil {
		return nil, fmt.Errorf("nspmirror: bad version range %q: %w", r, err)
	}
	return c, nil
}
