package nsp

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/quay/claircore/toolkit/log"

	"github.com/quay/nspmirror"
	"github.com/quay/nspmirror/cvss"
)

// ToVulnerability maps an advisory onto the canonical record.
//
// Problems with individual fields (unparseable dates or CVSS vectors, odd
// version ranges) are logged and leave the affected field unset; they never
// cause the advisory to be dropped.
func ToVulnerability(ctx context.Context, a *Advisory) *nspmirror.Vulnerability {
	ctx = log.With(ctx, "advisory", a.ID)
	v := nspmirror.Vulnerability{
		Source:             nspmirror.SourceNSP,
		VulnID:             strconv.Itoa(a.ID),
		Title:              a.Title,
		SubTitle:           a.ModuleName,
		Description:        a.Overview,
		Created:            parseDate(ctx, "created_at", a.CreatedAt),
		Published:          parseDate(ctx, "publish_date", a.PublishDate),
		Updated:            parseDate(ctx, "updated_at", a.UpdatedAt),
		Credits:            a.Author,
		Recommendation:     a.Recommendation,
		References:         a.References,
		VulnerableVersions: a.VulnerableVersions,
		PatchedVersions:    a.PatchedVersions,
		CVEs:               slices.Clone(a.CVEs),
	}

	if vec := strings.TrimSpace(a.CVSSVector); vec != "" {
		r, ok := cvss.Score(vec)
		switch {
		case !ok:
			slog.WarnContext(ctx, "unable to score CVSS vector", "vector", vec)
		case r.Version == cvss.V2:
			v.CVSSv2 = toCVSS(&r)
		case r.Version == cvss.V3:
			v.CVSSv3 = toCVSS(&r)
		}
	}

	if p, err := PackageURL(a.ModuleName); err == nil {
		v.PackageURL = p.ToString()
	} else {
		slog.DebugContext(ctx, "no package URL", "reason", err)
	}
	if r := strings.TrimSpace(a.VulnerableVersions); r != "" {
		if _, err := nspmirror.ParseRange(r); err != nil {
			slog.DebugContext(ctx, "unparseable vulnerable version range", "range", r, "reason", err)
		}
	}
	return &v
}

func toCVSS(r *cvss.Result) *nspmirror.CVSS {
	return &nspmirror.CVSS{
		Vector:                 r.Vector,
		BaseScore:              r.BaseScore,
		ImpactSubScore:         r.ImpactSubScore,
		ExploitabilitySubScore: r.ExploitabilitySubScore,
	}
}

// ParseDate parses an offset-aware timestamp, reporting the zero Time for blank
// or malformed input.
func parseDate(ctx context.Context, field, s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		slog.WarnContext(ctx, "unable to parse date",
			"field", field,
			"value", s,
			"reason", err)
		return time.Time{}
	}
	return t.UTC()
}
